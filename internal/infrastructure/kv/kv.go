// Package kv provides the durable key-value storage the sync engine persists
// its queue, cache and session into. Every backend replaces a value as a whole:
// a reader sees either the previous value or the new one, never a partial write.
package kv

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("kv store closed")

// Store is a durable string-keyed blob store with read-your-writes semantics.
type Store interface {
	// Get returns found=false and a nil error when the key does not exist.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

package queue

import "context"

// Storage is the durable key-value collaborator the queue persists into.
// Defined here, implemented in infrastructure/kv.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

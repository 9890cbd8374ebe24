package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the durable FIFO of pending mutations. Every operation is a
// read-modify-write of the whole persisted list under one mutex, so a
// completed call is on disk before it returns.
type Store struct {
	storage Storage
	logger  *slog.Logger
	now     func() time.Time
	newID   func() (string, error)

	mu sync.Mutex
}

type Option func(*Store)

// WithClock overrides the time source used for CreatedAt and NextEligibleAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

func NewStore(storage Storage, opts ...Option) *Store {
	s := &Store{
		storage: storage,
		logger:  slog.Default(),
		now:     time.Now,
		newID:   newRecordID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newRecordID returns a time-ordered UUIDv7, unique even within one millisecond.
func newRecordID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Enqueue appends a record and persists the queue before returning it.
func (s *Store) Enqueue(ctx context.Context, n NewRecord) (Record, error) {
	if err := n.Validate(); err != nil {
		return Record{}, err
	}

	id, err := s.newID()
	if err != nil {
		return Record{}, fmt.Errorf("failed to generate record id: %w", err)
	}

	now := s.now().UTC()
	rec := Record{
		ID:             id,
		Method:         n.Method,
		URL:            n.URL,
		Payload:        n.Payload,
		CreatedAt:      now,
		RetryCount:     0,
		NextEligibleAt: now,
		Meta:           n.Meta,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load(ctx, QueueKey)
	if err != nil {
		return Record{}, err
	}
	records = append(records, rec)
	if err := s.save(ctx, QueueKey, records); err != nil {
		return Record{}, err
	}

	s.logger.Debug("mutation queued",
		"record_id", rec.ID,
		"method", rec.Method,
		"url", rec.URL,
		"entity", rec.EntityKind,
		"action", rec.ActionKind,
		"depth", len(records),
	)
	return rec, nil
}

// ListAll returns the queue in insertion order.
func (s *Store) ListAll(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.load(ctx, QueueKey)
}

func (s *Store) Len(ctx context.Context) (int, error) {
	records, err := s.ListAll(ctx)
	return len(records), err
}

// RemoveByID removes the record with id. A missing id is a no-op.
func (s *Store) RemoveByID(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load(ctx, QueueKey)
	if err != nil {
		return err
	}

	idx := indexOf(records, id)
	if idx < 0 {
		return nil
	}
	records = append(records[:idx], records[idx+1:]...)
	return s.save(ctx, QueueKey, records)
}

// UpdateByID rewrites retry bookkeeping in place without moving the record.
func (s *Store) UpdateByID(ctx context.Context, id string, p Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load(ctx, QueueKey)
	if err != nil {
		return err
	}

	idx := indexOf(records, id)
	if idx < 0 {
		return ErrRecordNotFound
	}
	records[idx].RetryCount = p.RetryCount
	records[idx].NextEligibleAt = p.NextEligibleAt.UTC()
	records[idx].LastError = p.LastError
	return s.save(ctx, QueueKey, records)
}

// RemapEntity points every queued record that targets tempID at serverID.
// It returns the number of records rewritten.
func (s *Store) RemapEntity(ctx context.Context, tempID, serverID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load(ctx, QueueKey)
	if err != nil {
		return 0, err
	}

	n := 0
	for i := range records {
		if rec, ok := records[i].Remapped(tempID, serverID); ok {
			records[i] = rec
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	if err := s.save(ctx, QueueKey, records); err != nil {
		return 0, err
	}

	s.logger.Debug("queued records remapped", "temp_id", tempID, "server_id", serverID, "count", n)
	return n, nil
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.storage.Delete(ctx, QueueKey); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	return nil
}

// DeadLetter moves a record out of the queue into the dead-letter list.
// The dead letter is written first: a crash in between leaves the record in
// both lists rather than in neither.
func (s *Store) DeadLetter(ctx context.Context, rec Record, reason string) (DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dl := DeadLetter{Record: rec, DroppedAt: s.now().UTC(), Reason: reason}

	letters, err := s.loadDeadLetters(ctx)
	if err != nil {
		return DeadLetter{}, err
	}
	letters = append(letters, dl)
	if err := s.saveDeadLetters(ctx, letters); err != nil {
		return DeadLetter{}, err
	}

	records, err := s.load(ctx, QueueKey)
	if err != nil {
		return dl, err
	}
	if idx := indexOf(records, rec.ID); idx >= 0 {
		records = append(records[:idx], records[idx+1:]...)
		if err := s.save(ctx, QueueKey, records); err != nil {
			return dl, err
		}
	}
	return dl, nil
}

func (s *Store) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loadDeadLetters(ctx)
}

// Requeue moves a dead letter back to the tail of the queue with a fresh
// retry budget. The record keeps its id.
func (s *Store) Requeue(ctx context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	letters, err := s.loadDeadLetters(ctx)
	if err != nil {
		return Record{}, err
	}

	idx := -1
	for i := range letters {
		if letters[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Record{}, ErrRecordNotFound
	}

	rec := letters[idx].Record
	rec.RetryCount = 0
	rec.NextEligibleAt = s.now().UTC()
	rec.LastError = ""

	records, err := s.load(ctx, QueueKey)
	if err != nil {
		return Record{}, err
	}
	if indexOf(records, rec.ID) < 0 {
		records = append(records, rec)
		if err := s.save(ctx, QueueKey, records); err != nil {
			return Record{}, err
		}
	}

	letters = append(letters[:idx], letters[idx+1:]...)
	if err := s.saveDeadLetters(ctx, letters); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *Store) DiscardDeadLetter(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	letters, err := s.loadDeadLetters(ctx)
	if err != nil {
		return err
	}
	for i := range letters {
		if letters[i].ID == id {
			letters = append(letters[:i], letters[i+1:]...)
			return s.saveDeadLetters(ctx, letters)
		}
	}
	return ErrRecordNotFound
}

func indexOf(records []Record, id string) int {
	for i := range records {
		if records[i].ID == id {
			return i
		}
	}
	return -1
}

// load reads the persisted queue.
func (s *Store) load(ctx context.Context, key string) ([]Record, error) {
	return readList[Record](ctx, s, key)
}

func (s *Store) save(ctx context.Context, key string, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	return s.write(ctx, key, records)
}

func (s *Store) loadDeadLetters(ctx context.Context) ([]DeadLetter, error) {
	return readList[DeadLetter](ctx, s, DeadLetterKey)
}

func (s *Store) saveDeadLetters(ctx context.Context, letters []DeadLetter) error {
	if letters == nil {
		letters = []DeadLetter{}
	}
	return s.write(ctx, DeadLetterKey, letters)
}

// readList decodes a persisted list. An unreadable blob is quarantined under
// key+".corrupt" and the list is treated as empty.
func readList[T any](ctx context.Context, s *Store, key string) ([]T, error) {
	data, found, err := s.storage.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if !found || len(data) == 0 {
		return nil, nil
	}

	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		s.logger.Error("discarding unreadable queue data",
			"key", key,
			"error", errors.Join(ErrQueueCorrupt, err),
		)
		if qerr := s.storage.Set(ctx, key+corruptSuffix, data); qerr != nil {
			s.logger.Error("failed to quarantine unreadable queue data", "key", key, "error", qerr)
		}
		if derr := s.storage.Delete(ctx, key); derr != nil {
			return nil, fmt.Errorf("failed to reset %s: %w", key, derr)
		}
		return nil, nil
	}
	return out, nil
}

func (s *Store) write(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := s.storage.Set(ctx, key, data); err != nil {
		return fmt.Errorf("failed to persist %s: %w", key, err)
	}
	return nil
}

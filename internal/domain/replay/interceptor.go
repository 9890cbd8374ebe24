package replay

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"expensync/internal/domain/queue"
	"expensync/internal/infrastructure/api"
)

// Enqueuer persists a mutation for later replay.
type Enqueuer interface {
	Enqueue(ctx context.Context, n queue.NewRecord) (queue.Record, error)
}

// Checker answers whether the backend is reachable right now.
type Checker interface {
	CheckNow(ctx context.Context) bool
}

// Interceptor wraps the transport. Mutations that fail retryably, or are
// attempted while offline, are queued and resolve with the synthetic
// offline response. Terminal failures reach the caller unchanged.
type Interceptor struct {
	next    api.Sender
	queue   Enqueuer
	conn    Checker
	trigger func()
	logger  *slog.Logger
}

// Ensure Interceptor implements api.Sender
var _ api.Sender = (*Interceptor)(nil)

// NewInterceptor wires the queueing layer. trigger is called after every
// enqueue and must not block; it may be nil.
func NewInterceptor(next api.Sender, q Enqueuer, conn Checker, trigger func(), logger *slog.Logger) *Interceptor {
	if logger == nil {
		logger = slog.Default()
	}
	if trigger == nil {
		trigger = func() {}
	}
	return &Interceptor{next: next, queue: q, conn: conn, trigger: trigger, logger: logger}
}

func (i *Interceptor) Send(ctx context.Context, req api.Request) (*api.Response, error) {
	if req.Replay || !queue.IsMutating(req.Method) {
		return i.next.Send(ctx, req)
	}

	if i.conn != nil && !i.conn.CheckNow(ctx) {
		return i.enqueue(ctx, req, "offline")
	}

	resp, err := i.next.Send(ctx, req)
	if err == nil {
		return resp, nil
	}
	if !IsRetryable(err) {
		return nil, err
	}
	return i.enqueue(ctx, req, err.Error())
}

func (i *Interceptor) enqueue(ctx context.Context, req api.Request, reason string) (*api.Response, error) {
	rec, err := i.queue.Enqueue(ctx, queue.NewRecord{
		Method:  req.Method,
		URL:     req.Path,
		Payload: req.Body,
		Meta:    req.Meta,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to queue mutation: %w", err)
	}

	queuedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("entity", string(req.Meta.EntityKind))))
	i.logger.Info("mutation queued for sync",
		"record_id", rec.ID,
		"method", rec.Method,
		"url", rec.URL,
		"local_id", rec.LocalEntityID,
		"reason", reason,
	)

	i.trigger()
	return api.OfflineResponse(), nil
}

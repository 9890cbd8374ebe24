// Package replay drains the offline mutation queue against the backend and
// decides which failed mutations are queued in the first place.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"expensync/internal/domain/queue"
	"expensync/internal/infrastructure/api"
)

var (
	replayTracer    = otel.Tracer("expensync/replay")
	replayMeter     = otel.Meter("expensync/replay")
	replayTotal, _  = replayMeter.Int64Counter("replay.record.total", metric.WithDescription("Replayed records by outcome"))
	droppedTotal, _ = replayMeter.Int64Counter("replay.dropped", metric.WithDescription("Records dropped after exhausting retries"))
	queuedTotal, _  = replayMeter.Int64Counter("replay.queued", metric.WithDescription("Mutations diverted into the offline queue"))
	runDuration, _  = replayMeter.Float64Histogram("replay.run.duration", metric.WithDescription("Drain pass duration in seconds"), metric.WithUnit("s"))
	queueDepth, _   = replayMeter.Int64Gauge("replay.queue.depth", metric.WithDescription("Records left in the queue after a pass"))
)

var (
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
	ErrRunInProgress      = errors.New("replay run already in progress")
)

// Queue is the durable store the processor drains.
type Queue interface {
	ListAll(ctx context.Context) ([]queue.Record, error)
	RemoveByID(ctx context.Context, id string) error
	UpdateByID(ctx context.Context, id string, p queue.Patch) error
	DeadLetter(ctx context.Context, rec queue.Record, reason string) (queue.DeadLetter, error)
	RemapEntity(ctx context.Context, tempID, serverID string) (int, error)
}

// Connectivity is the reachability monitor as seen by the processor.
type Connectivity interface {
	Checker
	OnChange(fn func(online bool)) (unsubscribe func())
}

// Reconciler maps a succeeded mutation onto the local cache.
type Reconciler interface {
	Reconcile(ctx context.Context, meta queue.Meta, serverID string)
	MarkPending(ctx context.Context, owner, id string)
}

type Config struct {
	MaxRetries   int
	BaseDelay    time.Duration
	Interval     time.Duration
	RunOnStartup bool
	// ReplayRate caps replays per second; 0 disables pacing.
	ReplayRate float64
}

// RunResult summarises one drain pass.
type RunResult struct {
	Offline   bool `json:"offline"`
	Attempted int  `json:"attempted"`
	Succeeded int  `json:"succeeded"`
	Failed    int  `json:"failed"`
	Dropped   int  `json:"dropped"`
	Skipped   int  `json:"skipped"`
	Remaining int  `json:"remaining"`
}

// Backoff is the wait before the next replay after retryCount failures:
// base * 2^retryCount.
func Backoff(base time.Duration, retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 30 {
		retryCount = 30
	}
	return base << retryCount
}

// Processor replays eligible queue records once per run, in queue order.
type Processor struct {
	queue      Queue
	sender     api.Sender
	conn       Connectivity
	reconciler Reconciler
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
	onDrop     func(queue.DeadLetter, error)
	limiter    *rate.Limiter

	running atomic.Bool
	trigger chan struct{}

	mu          sync.Mutex
	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup
}

type Option func(*Processor)

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

// WithOnDrop registers a hook called for every record dropped after
// exhausting its retries.
func WithOnDrop(fn func(queue.DeadLetter, error)) Option {
	return func(p *Processor) { p.onDrop = fn }
}

func NewProcessor(q Queue, sender api.Sender, conn Connectivity, reconciler Reconciler, cfg Config, opts ...Option) *Processor {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}

	p := &Processor{
		queue:      q,
		sender:     sender,
		conn:       conn,
		reconciler: reconciler,
		cfg:        cfg,
		logger:     slog.Default(),
		now:        time.Now,
		trigger:    make(chan struct{}, 1),
	}
	if cfg.ReplayRate > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.ReplayRate), 1)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run performs one pass: check connectivity, then attempt every eligible
// record at most once. Records for one entity replay in queue order: once
// an entity's record is held back or fails, its later records wait for a
// later pass. A run started while another is in flight returns
// ErrRunInProgress without touching the queue.
func (p *Processor) Run(ctx context.Context) (RunResult, error) {
	if !p.running.CompareAndSwap(false, true) {
		return RunResult{}, ErrRunInProgress
	}
	defer p.running.Store(false)

	ctx, span := replayTracer.Start(ctx, "replay.run")
	defer span.End()

	start := time.Now()
	defer func() {
		runDuration.Record(ctx, time.Since(start).Seconds())
	}()

	var result RunResult
	if !p.conn.CheckNow(ctx) {
		result.Offline = true
		span.SetAttributes(attribute.Bool("replay.offline", true))
		return result, nil
	}

	records, err := p.queue.ListAll(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, fmt.Errorf("failed to list queue: %w", err)
	}

	blocked := make(map[string]bool)
	remapped := make(map[string]string)
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		if to, ok := remapped[rec.LocalEntityID]; ok {
			rec, _ = rec.Remapped(rec.LocalEntityID, to)
		}

		entity := rec.LocalEntityID
		if blocked[entity] {
			result.Skipped++
			continue
		}
		if !rec.Eligible(p.now()) {
			result.Skipped++
			if entity != "" {
				blocked[entity] = true
			}
			continue
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				break
			}
		}

		result.Attempted++
		serverID, ok := p.replay(ctx, rec, &result)
		if entity == "" {
			continue
		}
		switch {
		case !ok:
			blocked[entity] = true
		case serverID != "":
			remapped[entity] = serverID
		}
	}

	result.Remaining = len(records) - result.Succeeded - result.Dropped
	queueDepth.Record(ctx, int64(result.Remaining))
	span.SetAttributes(
		attribute.Int("replay.attempted", result.Attempted),
		attribute.Int("replay.succeeded", result.Succeeded),
		attribute.Int("replay.dropped", result.Dropped),
	)

	if result.Attempted > 0 {
		p.logger.Info("replay pass finished",
			"attempted", result.Attempted,
			"succeeded", result.Succeeded,
			"failed", result.Failed,
			"dropped", result.Dropped,
			"skipped", result.Skipped,
			"remaining", result.Remaining,
		)
	}
	return result, nil
}

// replay sends rec once. On success it reports true and, when an add was
// assigned a new server id, that id.
func (p *Processor) replay(ctx context.Context, rec queue.Record, result *RunResult) (string, bool) {
	ctx, span := replayTracer.Start(ctx, "replay.record", trace.WithAttributes(
		attribute.String("record.id", rec.ID),
		attribute.String("record.method", rec.Method),
		attribute.String("record.url", rec.URL),
		attribute.Int("record.retry_count", rec.RetryCount),
	))
	defer span.End()

	resp, err := p.sender.Send(ctx, api.Request{
		Method: rec.Method,
		Path:   rec.URL,
		Body:   rec.Payload,
		Meta:   rec.Meta,
		Replay: true,
	})

	if err == nil {
		serverID := ""
		if resp != nil {
			serverID = resp.ID
		}
		if p.reconciler != nil {
			p.reconciler.Reconcile(ctx, rec.Meta, serverID)
		}

		remapTo := ""
		if rec.ActionKind == queue.ActionAdd && serverID != "" && serverID != rec.LocalEntityID {
			remapTo = serverID
			p.remap(ctx, rec, serverID)
		}

		if err := p.queue.RemoveByID(ctx, rec.ID); err != nil {
			p.logger.Error("failed to remove replayed record", "record_id", rec.ID, "error", err)
		}
		replayTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "success")))
		result.Succeeded++
		return remapTo, true
	}

	// Interrupted by shutdown: leave the record as it was.
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		result.Skipped++
		result.Attempted--
		return "", false
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	replayTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "error")))
	result.Failed++

	retries := rec.RetryCount + 1
	if retries >= p.cfg.MaxRetries {
		p.drop(ctx, rec, retries, err)
		result.Dropped++
		return "", false
	}

	next := p.now().Add(Backoff(p.cfg.BaseDelay, retries))
	patch := queue.Patch{RetryCount: retries, NextEligibleAt: next, LastError: err.Error()}
	if uerr := p.queue.UpdateByID(ctx, rec.ID, patch); uerr != nil {
		p.logger.Error("failed to reschedule record", "record_id", rec.ID, "error", uerr)
		return "", false
	}

	p.logger.Warn("replay failed, backing off",
		"record_id", rec.ID,
		"url", rec.URL,
		"retry_count", retries,
		"next_attempt", next,
		"error", err,
	)
	return "", false
}

// remap points the entity's later queued records at the server id. The
// cached entry stays pending while any of them remain.
func (p *Processor) remap(ctx context.Context, rec queue.Record, serverID string) {
	n, err := p.queue.RemapEntity(ctx, rec.LocalEntityID, serverID)
	if err != nil {
		p.logger.Error("failed to remap queued records",
			"record_id", rec.ID,
			"temp_id", rec.LocalEntityID,
			"server_id", serverID,
			"error", err,
		)
		return
	}
	// n includes the add itself.
	if n > 1 && p.reconciler != nil {
		p.reconciler.MarkPending(ctx, rec.OwnerUserID, serverID)
	}
}

func (p *Processor) drop(ctx context.Context, rec queue.Record, retries int, cause error) {
	dropErr := fmt.Errorf("%w after %d attempts: %v", ErrMaxRetriesExceeded, retries, cause)

	rec.RetryCount = retries
	rec.LastError = cause.Error()

	dl, err := p.queue.DeadLetter(ctx, rec, dropErr.Error())
	if err != nil {
		p.logger.Error("failed to dead-letter record", "record_id", rec.ID, "error", err)
	}

	droppedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("entity", string(rec.EntityKind))))
	p.logger.Error("dropping mutation after max retries",
		"record_id", rec.ID,
		"method", rec.Method,
		"url", rec.URL,
		"local_id", rec.LocalEntityID,
		"retry_count", retries,
		"error", dropErr,
	)

	if p.onDrop != nil {
		p.onDrop(dl, dropErr)
	}
}

// Trigger requests a run without blocking. Requests made while one is
// already pending collapse into it.
func (p *Processor) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Start runs the background loop: a run on every trigger, on every
// offline-to-online transition, and every Interval as a fallback for
// backed-off records.
func (p *Processor) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, p.cancel = context.WithCancel(ctx)
	p.unsubscribe = p.conn.OnChange(func(online bool) {
		if online {
			p.Trigger()
		}
	})

	if p.cfg.RunOnStartup {
		p.Trigger()
	}

	p.wg.Add(1)
	go p.loop(ctx)

	p.logger.Info("replay processor started",
		"max_retries", p.cfg.MaxRetries,
		"base_delay", p.cfg.BaseDelay,
		"interval", p.cfg.Interval,
	)
}

func (p *Processor) loop(ctx context.Context) {
	defer p.wg.Done()

	var tick <-chan time.Time
	if p.cfg.Interval > 0 {
		ticker := time.NewTicker(p.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.trigger:
		case <-tick:
		}

		if _, err := p.Run(ctx); err != nil && !errors.Is(err, ErrRunInProgress) {
			p.logger.Error("replay pass failed", "error", err)
		}
	}
}

// Shutdown stops the loop and waits up to timeout for an in-flight run.
func (p *Processor) Shutdown(timeout time.Duration) {
	p.mu.Lock()
	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("replay processor stopped")
	case <-time.After(timeout):
		p.logger.Warn("replay processor shutdown timed out", "timeout", timeout)
	}
}

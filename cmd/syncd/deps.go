package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"expensync/internal/domain/expense"
	"expensync/internal/domain/ledger"
	"expensync/internal/domain/queue"
	"expensync/internal/domain/replay"
	"expensync/internal/infrastructure/api"
	"expensync/internal/infrastructure/classifier"
	"expensync/internal/infrastructure/crypto"
	"expensync/internal/infrastructure/kv"
	"expensync/internal/infrastructure/netstate"
	httphandlers "expensync/internal/interfaces/http"
	"expensync/internal/shared/auth"
	"expensync/internal/shared/config"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	Storage kv.Store

	Queue     *queue.Store
	Ledger    *ledger.Cache
	Session   *auth.Session
	Monitor   *netstate.Monitor
	Processor *replay.Processor
	Expenses  *expense.Service

	// Handlers
	HealthHandler  *httphandlers.HealthHandler
	QueueHandler   *httphandlers.QueueHandler
	ExpenseHandler *httphandlers.ExpenseHandler
	SessionHandler *httphandlers.SessionHandler
}

// NewDependencies opens storage, restores persisted state and wires the
// sync pipeline: transport, reachability, interceptor and processor.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	storage, err := kv.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Backend, err)
	}
	logger.Info("storage opened", "backend", cfg.Storage.Backend)

	deps, err := wire(ctx, cfg, storage, logger)
	if err != nil {
		storage.Close()
		return nil, err
	}
	return deps, nil
}

func wire(ctx context.Context, cfg *config.Config, storage kv.Store, logger *slog.Logger) (*Dependencies, error) {
	var encryptor *crypto.Encryptor
	if cfg.Session.Key != "" {
		var err error
		encryptor, err = crypto.NewEncryptor(cfg.Session.Key)
		if err != nil {
			return nil, err
		}
	}

	session := auth.NewSession(storage, encryptor, logger)
	if err := session.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	cache := ledger.NewCache(storage, logger)
	if err := cache.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load ledger cache: %w", err)
	}

	queueStore := queue.NewStore(storage, queue.WithLogger(logger))
	if n, err := queueStore.Len(ctx); err != nil {
		logger.Warn("offline queue unreadable at startup", "error", err)
	} else {
		logger.Info("offline queue restored", "pending", n)
	}

	client := api.NewClient(cfg.API.BaseURL, cfg.API.Timeout, session, logger)
	monitor := netstate.NewMonitor(newProber(cfg.Reachability), cfg.Reachability.Interval, cfg.Reachability.Timeout, logger)

	processor := replay.NewProcessor(queueStore, client, monitor, cache, replay.Config{
		MaxRetries:   cfg.Sync.MaxRetries,
		BaseDelay:    cfg.Sync.BaseDelay,
		Interval:     cfg.Sync.Interval,
		RunOnStartup: cfg.Sync.RunOnStartup,
		ReplayRate:   cfg.Sync.ReplayRate,
	},
		replay.WithLogger(logger),
		replay.WithOnDrop(func(dl queue.DeadLetter, err error) {
			logger.Error("mutation abandoned",
				"record_id", dl.ID,
				"method", dl.Method,
				"url", dl.URL,
				"retries", dl.RetryCount,
				"error", err,
			)
		}),
	)

	interceptor := replay.NewInterceptor(client, queueStore, monitor, processor.Trigger, logger)
	categories := classifier.NewClient(cfg.Classifier.URL, cfg.Classifier.Timeout, logger)
	expenses := expense.NewService(cache, interceptor, categories, logger)

	return &Dependencies{
		Storage:        storage,
		Queue:          queueStore,
		Ledger:         cache,
		Session:        session,
		Monitor:        monitor,
		Processor:      processor,
		Expenses:       expenses,
		HealthHandler:  httphandlers.NewHealthHandler(monitor, queueStore, logger),
		QueueHandler:   httphandlers.NewQueueHandler(queueStore, processor, logger),
		ExpenseHandler: httphandlers.NewExpenseHandler(expenses, cache, logger),
		SessionHandler: httphandlers.NewSessionHandler(session, logger),
	}, nil
}

// newProber prefers a TCP dial when REACHABILITY_PROBE_ADDR is set and
// falls back to an HTTP GET of the probe URL.
func newProber(cfg config.ReachabilityConfig) netstate.Prober {
	if cfg.ProbeAddr != "" {
		return netstate.NewDialProber(cfg.ProbeAddr)
	}
	return netstate.NewHTTPProber(cfg.ProbeURL)
}

// Start launches the background reachability poller and replay loop.
func (d *Dependencies) Start(ctx context.Context) {
	d.Monitor.Start(ctx)
	d.Processor.Start(ctx)
}

// Close stops background work and releases storage.
func (d *Dependencies) Close(timeout time.Duration) {
	if d.Processor != nil {
		d.Processor.Shutdown(timeout)
	}
	if d.Monitor != nil {
		d.Monitor.Stop()
	}
	if d.Storage != nil {
		d.Storage.Close()
	}
}

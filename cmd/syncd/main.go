// Command syncd runs the offline sync agent: it restores the mutation queue
// and ledger cache, replays queued mutations whenever the backend is
// reachable, and serves a loopback control API for the UI shell.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"expensync/internal/shared/config"
	"expensync/internal/shared/logger"
	"expensync/internal/shared/telemetry"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	lg := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var telemetryShutdown func(context.Context) error
	if cfg.Telemetry.Enabled {
		telemetryShutdown, err = telemetry.Init(ctx, cfg.Telemetry, lg)
		if err != nil {
			return err
		}
		lg.Info("telemetry enabled", "otlp_endpoint", cfg.Telemetry.OTLPEndpoint, "metrics_port", cfg.Telemetry.MetricsPort)
	}

	deps, err := NewDependencies(ctx, cfg, lg)
	if err != nil {
		if telemetryShutdown != nil {
			telemetryShutdown(context.Background())
		}
		return err
	}

	// Background loops outlive the signal context so shutdown can drain them.
	deps.Start(context.WithoutCancel(ctx))

	srv, errc := StartServer(cfg.Status.Addr, SetupRoutes(deps, cfg, lg), lg)

	select {
	case <-ctx.Done():
	case err = <-errc:
		lg.Error("control API failed", "error", err)
	}

	GracefulShutdown(srv, deps, telemetryShutdown, shutdownTimeout, lg)
	return err
}

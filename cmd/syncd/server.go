package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// StartServer starts the control API in the background. A listen failure
// is reported on the returned channel.
func StartServer(addr string, handler http.Handler, logger *slog.Logger) (*http.Server, <-chan error) {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("control API starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	return srv, errc
}

// GracefulShutdown stops the control API first so no new mutations arrive,
// then drains background work.
func GracefulShutdown(srv *http.Server, deps *Dependencies, telemetryShutdown func(context.Context) error, timeout time.Duration, logger *slog.Logger) {
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("error shutting down control API", "error", err)
	}

	deps.Close(timeout)

	if telemetryShutdown != nil {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("error shutting down telemetry", "error", err)
		}
	}

	logger.Info("stopped")
}

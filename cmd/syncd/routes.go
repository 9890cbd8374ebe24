package main

import (
	"log/slog"
	"net/http"

	"expensync/internal/shared/config"
	"expensync/internal/shared/middleware"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, cfg *config.Config, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", deps.HealthHandler.HandleHealth)

	// Session
	mux.HandleFunc("GET /api/session", deps.SessionHandler.HandleGet)
	mux.HandleFunc("POST /api/session", deps.SessionHandler.HandleInstall)
	mux.HandleFunc("DELETE /api/session", deps.SessionHandler.HandleClear)

	// Own expenses
	mux.HandleFunc("GET /api/expenses", deps.ExpenseHandler.HandleList)
	mux.HandleFunc("POST /api/expenses", deps.ExpenseHandler.HandleCreate)
	mux.HandleFunc("POST /api/expenses/refresh", deps.ExpenseHandler.HandleRefresh)
	mux.HandleFunc("PATCH /api/expenses/{id}", deps.ExpenseHandler.HandleEdit)
	mux.HandleFunc("DELETE /api/expenses/{id}", deps.ExpenseHandler.HandleDelete)
	mux.HandleFunc("POST /api/reports", deps.ExpenseHandler.HandleReport)

	// Admin-managed users
	mux.HandleFunc("GET /api/managed", deps.ExpenseHandler.HandleListManaged)
	mux.HandleFunc("GET /api/managed/{userId}/expenses", deps.ExpenseHandler.HandleListManagedExpenses)
	mux.HandleFunc("POST /api/managed/{userId}/expenses/refresh", deps.ExpenseHandler.HandleRefreshManaged)
	mux.HandleFunc("POST /api/managed/{userId}/balance", deps.ExpenseHandler.HandleAssignBalance)
	mux.HandleFunc("PATCH /api/managed/{userId}/expenses/{id}", deps.ExpenseHandler.HandleEditManaged)
	mux.HandleFunc("DELETE /api/managed/{userId}/expenses/{id}", deps.ExpenseHandler.HandleDeleteManaged)

	// Offline queue
	mux.HandleFunc("GET /api/queue", deps.QueueHandler.HandleList)
	mux.HandleFunc("POST /api/queue/sync", deps.QueueHandler.HandleSync)
	mux.HandleFunc("GET /api/queue/dead-letters", deps.QueueHandler.HandleListDeadLetters)
	mux.HandleFunc("POST /api/queue/dead-letters/{id}/requeue", deps.QueueHandler.HandleRequeue)
	mux.HandleFunc("DELETE /api/queue/dead-letters/{id}", deps.QueueHandler.HandleDiscardDeadLetter)

	// Tracing wraps the mux directly so r.Pattern is set when it names the span.
	var handler http.Handler = middleware.Tracing(mux)
	handler = middleware.Telemetry("control-api")(handler)
	handler = middleware.HostGuard(cfg.Status.AllowedHosts)(handler)
	handler = middleware.CORS(cfg.Status.AllowedOrigins)(handler)
	handler = middleware.Logging(logger)(handler)

	return handler
}

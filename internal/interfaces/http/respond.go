// Package http is the loopback control API a UI shell uses to drive the
// sync agent.
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"expensync/internal/domain/expense"
	"expensync/internal/domain/ledger"
	"expensync/internal/domain/queue"
	"expensync/internal/infrastructure/api"
	"expensync/internal/shared/auth"
)

const dateLayout = "2006-01-02"

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

// parseDate accepts YYYY-MM-DD or RFC 3339; empty means zero.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// writeError maps a domain or upstream error onto a status. Backend 4xx
// pass through so the UI can show them; backend 5xx become 502.
func writeError(w http.ResponseWriter, logger *slog.Logger, msg string, err error) {
	var se *api.StatusError
	switch {
	case errors.As(err, &se) && se.IsClientError():
		text := se.Message
		if text == "" {
			text = http.StatusText(se.Code)
		}
		http.Error(w, text, se.Code)
	case errors.As(err, &se):
		logger.Error(msg, "error", err)
		http.Error(w, "Upstream error", http.StatusBadGateway)
	case errors.Is(err, expense.ErrInvalidDraft),
		errors.Is(err, api.ErrInvalidInput),
		errors.Is(err, ledger.ErrInvalidEntry),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidKind),
		errors.Is(err, auth.ErrInvalidToken):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, api.ErrAuthExpired):
		http.Error(w, "Session expired", http.StatusUnauthorized)
	case errors.Is(err, ledger.ErrEntryNotFound), errors.Is(err, queue.ErrRecordNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, api.ErrNetworkUnreachable), errors.Is(err, api.ErrTimeout):
		http.Error(w, "Backend unreachable", http.StatusServiceUnavailable)
	default:
		logger.Error(msg, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

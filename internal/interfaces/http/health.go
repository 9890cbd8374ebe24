package http

import (
	"context"
	"log/slog"
	"net/http"
)

// ConnectivityState reports the last observed reachability.
type ConnectivityState interface {
	Online() bool
}

// QueueCounter reports how many mutations wait for sync.
type QueueCounter interface {
	Len(ctx context.Context) (int, error)
}

type HealthHandler struct {
	conn   ConnectivityState
	queue  QueueCounter
	logger *slog.Logger
}

func NewHealthHandler(conn ConnectivityState, q QueueCounter, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandler{conn: conn, queue: q, logger: logger}
}

type healthResponse struct {
	Status     string `json:"status"`
	Online     bool   `json:"online"`
	QueueDepth int    `json:"queueDepth"`
}

// HandleHealth always answers 200 while the agent runs; "degraded" means
// the queue could not be read.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Online: h.conn.Online()}

	n, err := h.queue.Len(r.Context())
	if err != nil {
		h.logger.Warn("health check could not read queue", "error", err)
		resp.Status = "degraded"
	}
	resp.QueueDepth = n

	writeJSON(w, http.StatusOK, resp)
}

package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"expensync/internal/domain/queue"
	"expensync/internal/domain/replay"
)

// QueueStore is the part of the durable queue exposed to operators.
type QueueStore interface {
	ListAll(ctx context.Context) ([]queue.Record, error)
	DeadLetters(ctx context.Context) ([]queue.DeadLetter, error)
	Requeue(ctx context.Context, id string) (queue.Record, error)
	DiscardDeadLetter(ctx context.Context, id string) error
}

// SyncRunner drives the replay processor.
type SyncRunner interface {
	Run(ctx context.Context) (replay.RunResult, error)
	Trigger()
}

type QueueHandler struct {
	store  QueueStore
	runner SyncRunner
	logger *slog.Logger
}

func NewQueueHandler(store QueueStore, runner SyncRunner, logger *slog.Logger) *QueueHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueHandler{store: store, runner: runner, logger: logger}
}

type queueResponse struct {
	Records []queue.Record `json:"records"`
	Count   int            `json:"count"`
}

type deadLetterResponse struct {
	DeadLetters []queue.DeadLetter `json:"deadLetters"`
	Count       int                `json:"count"`
}

// HandleList returns the pending mutations in replay order.
func (h *QueueHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.ListAll(r.Context())
	if err != nil {
		writeError(w, h.logger, "failed to list queue", err)
		return
	}
	if records == nil {
		records = []queue.Record{}
	}
	writeJSON(w, http.StatusOK, queueResponse{Records: records, Count: len(records)})
}

// HandleSync runs one drain pass and returns its outcome. A pass already
// in flight answers 409.
func (h *QueueHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.runner.Run(r.Context())
	if errors.Is(err, replay.ErrRunInProgress) {
		http.Error(w, "Sync already in progress", http.StatusConflict)
		return
	}
	if err != nil {
		writeError(w, h.logger, "sync run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *QueueHandler) HandleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	letters, err := h.store.DeadLetters(r.Context())
	if err != nil {
		writeError(w, h.logger, "failed to list dead letters", err)
		return
	}
	if letters == nil {
		letters = []queue.DeadLetter{}
	}
	writeJSON(w, http.StatusOK, deadLetterResponse{DeadLetters: letters, Count: len(letters)})
}

// HandleRequeue moves a dead letter back to the tail of the queue with a
// fresh retry budget and schedules a pass.
func (h *QueueHandler) HandleRequeue(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.Requeue(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, "failed to requeue dead letter", err)
		return
	}

	h.logger.Info("dead letter requeued", "record_id", rec.ID, "url", rec.URL)
	h.runner.Trigger()
	writeJSON(w, http.StatusOK, rec)
}

func (h *QueueHandler) HandleDiscardDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.store.DiscardDeadLetter(r.Context(), id); err != nil {
		writeError(w, h.logger, "failed to discard dead letter", err)
		return
	}

	h.logger.Info("dead letter discarded", "record_id", id)
	w.WriteHeader(http.StatusNoContent)
}

package api

import (
	"encoding/json"

	"expensync/internal/domain/queue"
)

// Request is a single backend call. Path is relative to the API root.
type Request struct {
	Method string
	Path   string
	Body   json.RawMessage
	// Meta travels out-of-band for queue reconciliation; it is never sent.
	Meta queue.Meta
	// Replay marks a request that must not be redirected into the offline
	// queue: replays of queued records and fire-and-forget calls.
	Replay bool
}

// Response is a backend reply, or the synthetic marker returned when a
// mutation was accepted into the offline queue.
type Response struct {
	StatusCode int
	Body       json.RawMessage
	// ID is the server-assigned id found in the body, if any.
	ID      string
	Offline bool
}

// OfflineResponse is the "accepted, pending sync" marker.
func OfflineResponse() *Response {
	return &Response{Offline: true}
}

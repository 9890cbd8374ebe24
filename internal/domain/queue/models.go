package queue

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Storage keys.
const (
	QueueKey      = "@offline_api_queue"
	DeadLetterKey = "@offline_api_dead_letter"
	corruptSuffix = ".corrupt"
)

// Domain errors
var (
	ErrQueueCorrupt   = errors.New("persisted queue is unreadable")
	ErrRecordNotFound = errors.New("queue record not found")
	ErrInvalidMethod  = errors.New("only POST, PUT, PATCH and DELETE can be queued")
	ErrInvalidURL     = errors.New("record URL is required")
	ErrInvalidPayload = errors.New("record payload must be valid JSON")
)

// EntityKind names the kind of entity a mutation touches.
type EntityKind string

const (
	EntityExpense      EntityKind = "expense"
	EntityAdminExpense EntityKind = "admin_expense"
	EntityAdminBalance EntityKind = "admin_balance"
	EntityOther        EntityKind = "other"
)

type ActionKind string

const (
	ActionAdd    ActionKind = "add"
	ActionEdit   ActionKind = "edit"
	ActionDelete ActionKind = "delete"
	ActionOther  ActionKind = "other"
)

// Meta is the reconciliation metadata carried alongside a mutation.
type Meta struct {
	LocalEntityID string     `json:"localEntityId,omitempty"`
	OwnerUserID   string     `json:"ownerUserId,omitempty"`
	EntityKind    EntityKind `json:"entityKind,omitempty"`
	ActionKind    ActionKind `json:"actionKind,omitempty"`
}

// Record is a durably queued write intent.
type Record struct {
	ID             string          `json:"id"`
	Method         string          `json:"method"`
	URL            string          `json:"url"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	RetryCount     int             `json:"retryCount"`
	NextEligibleAt time.Time       `json:"nextEligibleAt"`
	LastError      string          `json:"lastError,omitempty"`
	Meta
}

// Eligible reports whether the record may be replayed at now.
func (r Record) Eligible(now time.Time) bool {
	return !now.Before(r.NextEligibleAt)
}

// Remapped rewrites a record that targets tempID to target serverID
// instead: the local entity id and the final URL path segment. It reports
// whether anything changed.
func (r Record) Remapped(tempID, serverID string) (Record, bool) {
	if tempID == "" || serverID == "" || tempID == serverID {
		return r, false
	}

	changed := false
	if r.LocalEntityID == tempID {
		r.LocalEntityID = serverID
		changed = true
	}

	path, query, hasQuery := strings.Cut(r.URL, "?")
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		last := path[i+1:]
		if last == tempID || last == url.PathEscape(tempID) {
			path = path[:i+1] + url.PathEscape(serverID)
			if hasQuery {
				path += "?" + query
			}
			r.URL = path
			changed = true
		}
	}
	return r, changed
}

// Patch carries the fields a failed replay rewrites in place.
type Patch struct {
	RetryCount     int
	NextEligibleAt time.Time
	LastError      string
}

// DeadLetter is a record dropped after exhausting its retries.
type DeadLetter struct {
	Record
	DroppedAt time.Time `json:"droppedAt"`
	Reason    string    `json:"reason"`
}

// NewRecord describes a mutation to enqueue. The store assigns identity and timing.
type NewRecord struct {
	Method  string
	URL     string
	Payload json.RawMessage
	Meta    Meta
}

// IsMutating reports whether method is one of the queueable HTTP methods.
func IsMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func (n NewRecord) Validate() error {
	if !IsMutating(n.Method) {
		return ErrInvalidMethod
	}
	if n.URL == "" {
		return ErrInvalidURL
	}
	if len(n.Payload) > 0 && !json.Valid(n.Payload) {
		return ErrInvalidPayload
	}
	return nil
}

package api

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNetworkUnreachable means the request never produced an HTTP status.
// ErrAuthExpired means a 401 could not be cured by a credential refresh.
var (
	ErrNetworkUnreachable = errors.New("network unreachable")
	ErrTimeout            = errors.New("request timed out")
	ErrAuthExpired        = errors.New("session expired")
	ErrInvalidInput       = errors.New("invalid input")
)

// ErrorResponse is the error body shape returned by the backend.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d %s", e.Code, http.StatusText(e.Code))
}

func (e *StatusError) IsServerError() bool { return e.Code >= 500 && e.Code <= 599 }

func (e *StatusError) IsClientError() bool { return e.Code >= 400 && e.Code <= 499 }

// StatusCode extracts the HTTP status from err, or 0 when there is none.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

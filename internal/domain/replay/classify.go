package replay

import (
	"context"
	"errors"
	"net/http"

	"expensync/internal/infrastructure/api"
)

// IsRetryable reports whether a failed mutation should be absorbed into the
// offline queue: no HTTP status at all (network failure or timeout), or a
// 404, 408 or any 5xx. Every other status is terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, api.ErrAuthExpired) {
		return false
	}

	code := api.StatusCode(err)
	if code == 0 {
		return errors.Is(err, api.ErrNetworkUnreachable) || errors.Is(err, api.ErrTimeout)
	}

	switch {
	case code == http.StatusNotFound, code == http.StatusRequestTimeout:
		return true
	case code >= 500 && code <= 599:
		return true
	default:
		return false
	}
}

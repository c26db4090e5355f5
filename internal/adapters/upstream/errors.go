package upstream

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnavailable is returned when the upstream could not be reached or did not answer in time
var ErrUnavailable = errors.New("upstream unavailable")

// ErrRedirectRefused is wrapped by redirect policies that refuse to follow a redirect. Such requests
// are never retried.
var ErrRedirectRefused = errors.New("redirect refused")

// RejectedError is returned when the upstream answered with a status we don't treat as success.
// These are never retried.
type RejectedError struct {
	StatusCode int
	Header     http.Header
	// Possibly truncated
	Body []byte
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("upstream rejected request with status %d", e.StatusCode)
}

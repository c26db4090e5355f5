package mediaproxy

import (
	"errors"
	"fmt"
)

// ErrOriginUnavailable is returned when the media origin could not be reached or stalled mid-stream
var ErrOriginUnavailable = errors.New("media origin unavailable")

// OriginRejectedError carries the status of a media origin response we don't pass through as success
type OriginRejectedError struct {
	StatusCode int
}

func (e *OriginRejectedError) Error() string {
	return fmt.Sprintf("media origin rejected request with status %d", e.StatusCode)
}

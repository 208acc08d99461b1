package aio

import (
	"errors"
	"fmt"
)

var (
	// ErrCreateFailed is returned when a group or feed could not be created.
	ErrCreateFailed = errors.New("aio: create failed")
	// ErrRateLimited is returned when a batch write was throttled (429).
	ErrRateLimited = errors.New("aio: rate limited")
	// ErrWriteFailed is returned for any other rejected batch write.
	ErrWriteFailed = errors.New("aio: write failed")
	// ErrListFailed is returned when existing groups could not be fetched.
	ErrListFailed = errors.New("aio: list failed")
)

// StatusError carries an unexpected response. It unwraps to one of the
// sentinel errors above.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
	kind       error
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	return e.kind
}

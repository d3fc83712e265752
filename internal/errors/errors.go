// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrInvalidDateRange is returned when the end of a date range lies before its start.
var ErrInvalidDateRange = errors.New("invalid date range: end is before start")

// ErrInvalidRepoFormat is returned when a repository string is not in 'owner/name' format.
type ErrInvalidRepoFormat struct {
	Repo string
}

func (e *ErrInvalidRepoFormat) Error() string {
	return fmt.Sprintf("invalid repository format: %q, expected 'owner/name'", e.Repo)
}

// APIError is returned when a remote API keeps answering with an unexpected status.
// It is terminal: the client that returns it has already retried as often as it will.
type APIError struct {
	Op         string
	Attempts   int
	StatusCode int // last HTTP status seen, 0 if no response was received
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: giving up after %d attempt(s), last status %d: %v", e.Op, e.Attempts, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: giving up after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

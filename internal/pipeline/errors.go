package pipeline

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("pipeline closed")

type tooBusyError struct{ depth int }

func (e tooBusyError) Error() string {
	return fmt.Sprintf("pipeline too busy: %d jobs queued", e.depth)
}

// ErrTooBusy returns an error for a submission rejected by a full queue.
func ErrTooBusy(depth int) error { return tooBusyError{depth: depth} }

// IsTooBusy reports whether err is a queue-full rejection.
func IsTooBusy(err error) bool {
	var e tooBusyError
	return errors.As(err, &e)
}

type jobNotFoundError struct{ id string }

func (e jobNotFoundError) Error() string { return fmt.Sprintf("job %q not found", e.id) }

// ErrJobNotFound returns an error for an unknown or purged job id.
func ErrJobNotFound(id string) error { return jobNotFoundError{id: id} }

func IsJobNotFound(err error) bool {
	var e jobNotFoundError
	return errors.As(err, &e)
}

// ValidationError rejects a malformed job request.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid job: " + e.Msg
	}
	return fmt.Sprintf("invalid job: %s: %s", e.Field, e.Msg)
}

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

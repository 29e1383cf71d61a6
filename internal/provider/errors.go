package provider

import (
	"errors"
	"fmt"

	"modelpilot/internal/catalog"
)

// ModelLoadError reports missing weights, an unknown model or a rejected
// load that is not about memory.
type ModelLoadError struct {
	Provider catalog.ProviderKind
	Ref      string
	Msg      string
	Err      error
}

func (e *ModelLoadError) Error() string { return format("load", e.Provider, e.Ref, e.Msg, e.Err) }
func (e *ModelLoadError) Unwrap() error { return e.Err }

// ResourceError reports that the provider itself refused for lack of memory.
type ResourceError struct {
	Provider catalog.ProviderKind
	Ref      string
	Msg      string
	Err      error
}

func (e *ResourceError) Error() string { return format("resources", e.Provider, e.Ref, e.Msg, e.Err) }
func (e *ResourceError) Unwrap() error { return e.Err }

// NetworkError reports a transport or download failure.
type NetworkError struct {
	Provider catalog.ProviderKind
	Ref      string
	Msg      string
	Err      error
}

func (e *NetworkError) Error() string { return format("network", e.Provider, e.Ref, e.Msg, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// InferenceError reports a failed inference call or malformed output.
// It is never retried.
type InferenceError struct {
	Provider catalog.ProviderKind
	Ref      string
	Msg      string
	Err      error
}

func (e *InferenceError) Error() string { return format("inference", e.Provider, e.Ref, e.Msg, e.Err) }
func (e *InferenceError) Unwrap() error { return e.Err }

// TimeoutError reports that a caller-supplied deadline expired.
type TimeoutError struct {
	Op  string
	Ref string
	Err error
}

func (e *TimeoutError) Error() string {
	msg := "timeout: " + e.Op
	if e.Ref != "" {
		msg += " " + e.Ref
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}
func (e *TimeoutError) Unwrap() error { return e.Err }

func format(kind string, p catalog.ProviderKind, ref, msg string, err error) string {
	s := fmt.Sprintf("%s error [%s %s]", kind, p, ref)
	if msg != "" {
		s += ": " + msg
	}
	if err != nil {
		s += ": " + err.Error()
	}
	return s
}

func IsModelLoadError(err error) bool {
	var e *ModelLoadError
	return errors.As(err, &e)
}

func IsResourceError(err error) bool {
	var e *ResourceError
	return errors.As(err, &e)
}

func IsNetworkError(err error) bool {
	var e *NetworkError
	return errors.As(err, &e)
}

func IsInferenceError(err error) bool {
	var e *InferenceError
	return errors.As(err, &e)
}

func IsTimeoutError(err error) bool {
	var e *TimeoutError
	return errors.As(err, &e)
}

// Retryable reports whether err may succeed on another attempt.
func Retryable(err error) bool {
	return IsModelLoadError(err) || IsNetworkError(err)
}

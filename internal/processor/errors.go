package processor

import (
	"context"
	"errors"
	"fmt"

	"modelpilot/internal/catalog"
	"modelpilot/internal/config"
	"modelpilot/internal/manager"
	"modelpilot/internal/provider"
)

// UnsupportedFormatError rejects input that fails validation.
type UnsupportedFormatError struct {
	Modality catalog.Modality
	Reason   string
}

func (e *UnsupportedFormatError) Error() string {
	if e.Modality == "" {
		return "unsupported input: " + e.Reason
	}
	return fmt.Sprintf("unsupported %s input: %s", e.Modality, e.Reason)
}

func unsupported(m catalog.Modality, reason string) error {
	return &UnsupportedFormatError{Modality: m, Reason: reason}
}

// ModelUnavailableError wraps a manager failure to provide a model.
type ModelUnavailableError struct {
	Err error
}

func (e *ModelUnavailableError) Error() string { return "model unavailable: " + e.Err.Error() }
func (e *ModelUnavailableError) Unwrap() error { return e.Err }

// InferenceError is a failed or malformed provider call.
type InferenceError struct {
	ModelID string
	Msg     string
	Err     error
}

func (e *InferenceError) Error() string {
	s := "inference failed"
	if e.ModelID != "" {
		s += " (" + e.ModelID + ")"
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *InferenceError) Unwrap() error { return e.Err }

// TimeoutError is a Process call or model load that ran out of time.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string { return "timed out: " + e.Err.Error() }
func (e *TimeoutError) Unwrap() error { return e.Err }

type cancelledError struct{}

func (cancelledError) Error() string { return "cancelled" }

// ErrCancelled marks work stopped by the caller's cancel signal.
var ErrCancelled error = cancelledError{}

func IsUnsupportedFormat(err error) bool {
	var e *UnsupportedFormatError
	return errors.As(err, &e)
}

func IsModelUnavailable(err error) bool {
	var e *ModelUnavailableError
	return errors.As(err, &e)
}

func IsInferenceError(err error) bool {
	var e *InferenceError
	return errors.As(err, &e)
}

func IsTimeout(err error) bool {
	var e *TimeoutError
	return errors.As(err, &e)
}

func IsCancelled(err error) bool { return errors.Is(err, ErrCancelled) }

// classify maps manager, provider and context errors onto the processor
// taxonomy.
func classify(err error) (ErrorKind, error) {
	switch {
	case IsUnsupportedFormat(err):
		return KindUnsupportedFormat, err
	case IsCancelled(err), errors.Is(err, context.Canceled):
		return KindCancelled, err
	case config.IsConfigurationError(err):
		return KindConfiguration, err
	case IsTimeout(err):
		return KindTimeout, err
	case provider.IsTimeoutError(err), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout, &TimeoutError{Err: err}
	case IsModelUnavailable(err):
		return KindModelUnavailable, err
	case manager.IsInsufficientResources(err), manager.IsNoCandidates(err),
		manager.IsModelNotFound(err), manager.IsShuttingDown(err):
		return KindModelUnavailable, &ModelUnavailableError{Err: err}
	case IsInferenceError(err):
		return KindInference, err
	default:
		return KindInference, &InferenceError{Err: err}
	}
}

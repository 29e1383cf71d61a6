package config

import (
	"errors"
	"fmt"
)

// ConfigurationError reports a bad configuration value, catalog entry or
// missing credential. It is fatal at startup and aborts a job when it
// surfaces at runtime.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := "configuration error"
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ErrConfiguration constructs a ConfigurationError for field.
func ErrConfiguration(field, reason string) error {
	return &ConfigurationError{Field: field, Reason: reason}
}

// IsConfigurationError reports whether err (or anything it wraps) is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

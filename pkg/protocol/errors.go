package protocol

import (
	"errors"
	"fmt"
)

// TransientError marks a dispatch failure worth retrying: network trouble,
// upstream 5xx, a full queue. The engine backs off and retries.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient dispatch error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as retryable.
func NewTransientError(err error) *TransientError {
	return &TransientError{Err: err}
}

// ConfigError marks a dispatch failure that retrying cannot fix: unknown
// action name, malformed parameters. The engine fails the node immediately.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("dispatch configuration error: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError wraps an error as non-retryable.
func NewConfigError(err error) *ConfigError {
	return &ConfigError{Err: err}
}

// IsTransient reports whether the error chain contains a TransientError.
func IsTransient(err error) bool {
	var transient *TransientError

	return errors.As(err, &transient)
}

// IsConfigError reports whether the error chain contains a ConfigError.
func IsConfigError(err error) bool {
	var config *ConfigError

	return errors.As(err, &config)
}

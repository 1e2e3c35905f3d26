package tools

import (
	"context"
	"errors"
	"fmt"
)

// ErrToolNotFound is returned when a tool name is not registered
var ErrToolNotFound = errors.New("tool not found")

// TransientError wraps a failure that is worth retrying once with identical
// arguments: timeouts, connection resets, temporarily unavailable backends.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient tool failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient marks an error as retryable
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether an error should be retried. Classification is
// by error type, never by message content. Deadline expiry counts as
// transient because a second attempt may complete within its own timeout.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

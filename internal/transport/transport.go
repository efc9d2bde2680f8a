// Package transport delivers direct messages to the social platform and
// classifies delivery failures so the dispatcher can decide whether a retry
// is worth anything.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/ignite/dmflow/internal/channels"
)

// ErrClass partitions send failures for the retry policy.
type ErrClass string

const (
	// ClassTransient covers network errors, timeouts, and platform-side
	// throttling or server errors. Worth retrying with backoff.
	ClassTransient ErrClass = "transient"
	// ClassPermanent covers recipient-side and policy failures (blocked,
	// messaging window closed, token revoked). Retrying cannot help.
	ClassPermanent ErrClass = "permanent"
)

// SendError is a classified delivery failure.
type SendError struct {
	Class  ErrClass
	Reason string
	Err    error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("send %s: %s: %v", e.Class, e.Reason, e.Err)
	}
	return fmt.Sprintf("send %s: %s", e.Class, e.Reason)
}

func (e *SendError) Unwrap() error { return e.Err }

// Transient creates a retryable send error.
func Transient(reason string, err error) *SendError {
	return &SendError{Class: ClassTransient, Reason: reason, Err: err}
}

// Permanent creates a non-retryable send error.
func Permanent(reason string, err error) *SendError {
	return &SendError{Class: ClassPermanent, Reason: reason, Err: err}
}

// IsTransient reports whether err is a retryable delivery failure. Unknown
// errors count as transient so a platform hiccup gets its retries.
func IsTransient(err error) bool {
	var se *SendError
	if errors.As(err, &se) {
		return se.Class == ClassTransient
	}
	return true
}

// Reason extracts the operator-facing failure reason from a send error.
func Reason(err error) string {
	var se *SendError
	if errors.As(err, &se) {
		return string(se.Class) + ": " + se.Reason
	}
	return "transient: " + err.Error()
}

// Sender delivers one direct message and reports the platform's
// acknowledgment latency in milliseconds.
type Sender interface {
	SendDM(ctx context.Context, channel *channels.Channel, recipientID, text string) (latencyMs int64, err error)
}

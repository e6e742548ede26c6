// Package errors defines the sentinel and structured error types returned by
// the guardrail client. Every structured type carries enough context for the
// caller to implement its own backoff or alerting without re-deriving state.
package errors

import (
	sterrors "errors"
	"fmt"
	"time"
)

var (
	ErrDriverRequired  = sterrors.New("guardrail: driver is required")
	ErrTopicRequired   = sterrors.New("guardrail: topic is required")
	ErrHandlerRequired = sterrors.New("guardrail: handler function is required")
	ErrDataRequired    = sterrors.New("guardrail: message data is required")
	ErrNotConnected    = sterrors.New("guardrail: driver is not connected")

	// ErrCircuitOpen is reserved for a future circuit breaker. No breaker
	// logic exists yet; the sentinel is kept so callers can already branch
	// on it.
	ErrCircuitOpen = sterrors.New("guardrail: circuit open")
)

// BackpressureTimeoutError is returned when capacity did not become available
// within the configured wait deadline. Callers should shed load or retry later.
type BackpressureTimeoutError struct {
	CurrentInflight int64
	MaxInflight     int64
	Waited          time.Duration
}

func (e *BackpressureTimeoutError) Error() string {
	return fmt.Sprintf("guardrail: backpressure timeout after %v (%d/%d operations in flight)",
		e.Waited, e.CurrentInflight, e.MaxInflight)
}

// RateLimitExceededError is returned when a topic is over its window budget.
// ResetAt tells the caller when the next request can succeed.
type RateLimitExceededError struct {
	Topic   string
	Current int
	Max     int
	ResetAt time.Time
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("guardrail: rate limit exceeded for topic %q (%d/%d in window, resets at %s)",
		e.Topic, e.Current, e.Max, e.ResetAt.Format(time.RFC3339Nano))
}

// MaxRetriesExceededError wraps the last underlying error after all retry
// attempts were exhausted.
type MaxRetriesExceededError struct {
	Attempts int
	LastErr  error
}

func (e *MaxRetriesExceededError) Error() string {
	return fmt.Sprintf("guardrail: operation failed after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *MaxRetriesExceededError) Unwrap() error { return e.LastErr }

// MessageTooLargeError is returned before any backend call when the serialized
// payload exceeds the configured limit. The message is never sent.
type MessageTooLargeError struct {
	Topic string
	Size  int
	Limit int
}

func (e *MessageTooLargeError) Error() string {
	return fmt.Sprintf("guardrail: message for topic %q is %d bytes, limit is %d", e.Topic, e.Size, e.Limit)
}

// HandlerLimitExceededError is returned when a topic already carries the
// maximum number of registered handlers. This is a hard cap, not a queue.
type HandlerLimitExceededError struct {
	Topic string
	Limit int
}

func (e *HandlerLimitExceededError) Error() string {
	return fmt.Sprintf("guardrail: handler limit of %d reached for topic %q", e.Limit, e.Topic)
}

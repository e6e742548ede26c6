// Package retry runs fallible operations with bounded retries and capped
// exponential backoff.
package retry

import (
	"context"
	"math"
	"time"

	errspkg "github.com/drblury/guardrail/internal/runtime/errors"
	loggingpkg "github.com/drblury/guardrail/internal/runtime/logging"
	metricspkg "github.com/drblury/guardrail/internal/runtime/metrics"
)

const (
	defaultRetryDelay        = 100 * time.Millisecond
	defaultBackoffMultiplier = 2.0
)

// Policy describes how a single operation should be retried. Policies are
// stateless and supplied per call.
type Policy struct {
	// MaxRetries is the number of retries after the initial attempt, so the
	// operation runs at most MaxRetries+1 times.
	MaxRetries int
	// RetryDelay is the delay before the first retry.
	RetryDelay time.Duration
	// BackoffMultiplier grows the delay between attempts. Defaults to 2.
	BackoffMultiplier float64
	// MaxRetryDelay caps the computed delay. Zero means uncapped.
	MaxRetryDelay time.Duration
	// RetryablePatterns, when set, is a whitelist: an error retries only if
	// it matches one of the patterns.
	RetryablePatterns []string
	// NonRetryablePatterns is a blacklist checked before the whitelist.
	NonRetryablePatterns []string
	// Classifier, when set, has exclusive authority over retryability and
	// the pattern lists are ignored.
	Classifier func(error) bool
}

func (p Policy) withDefaults() Policy {
	if p.RetryDelay <= 0 {
		p.RetryDelay = defaultRetryDelay
	}
	if p.BackoffMultiplier <= 0 {
		p.BackoffMultiplier = defaultBackoffMultiplier
	}
	return p
}

// Backoff computes the delay before the retry with the given zero-based
// index: min(RetryDelay x BackoffMultiplier^attempt, MaxRetryDelay). Once the
// cap is reached the delay stays constant.
func Backoff(p Policy, attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 0 {
		attempt = 0
	}

	delay := time.Duration(float64(p.RetryDelay) * math.Pow(p.BackoffMultiplier, float64(attempt)))
	if delay < 0 {
		// float overflow
		delay = math.MaxInt64
	}
	if p.MaxRetryDelay > 0 && delay > p.MaxRetryDelay {
		delay = p.MaxRetryDelay
	}
	return delay
}

// Executor runs operations under a Policy, logging every retry and every
// exhaustion for operability.
type Executor struct {
	logger  loggingpkg.ServiceLogger
	metrics metricspkg.Recorder
}

// NewExecutor creates an Executor. The logger and recorder may be nil.
func NewExecutor(logger loggingpkg.ServiceLogger, recorder metricspkg.Recorder) *Executor {
	if logger == nil {
		logger = loggingpkg.Nop()
	}
	if recorder == nil {
		recorder = metricspkg.Noop()
	}
	return &Executor{logger: logger, metrics: recorder}
}

// Execute attempts op up to MaxRetries+1 times. Non-retryable errors are
// returned immediately; a retryable failure on the final attempt is wrapped
// in a MaxRetriesExceededError. There is no overall wall-clock deadline
// beyond the context: cancel the context to abort between attempts.
func (e *Executor) Execute(ctx context.Context, op func(ctx context.Context) error, p Policy) error {
	p = p.withDefaults()

	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if !Classify(lastErr, p) {
			return lastErr
		}

		if attempt == p.MaxRetries {
			break
		}

		delay := Backoff(p, attempt)
		e.metrics.IncrementCounter("retries_total", nil)
		e.logger.Info("Retrying operation", loggingpkg.LogFields{
			"attempt":  attempt + 1,
			"delay_ms": delay.Milliseconds(),
			"error":    lastErr.Error(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	err := &errspkg.MaxRetriesExceededError{Attempts: p.MaxRetries + 1, LastErr: lastErr}
	e.metrics.IncrementCounter("retries_exhausted_total", nil)
	e.logger.Error("Retries exhausted", lastErr, loggingpkg.LogFields{
		"attempts": err.Attempts,
	})
	return err
}

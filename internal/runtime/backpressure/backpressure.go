// Package backpressure caps the total number of concurrent in-flight
// operations across all topics. It is an at-most-N gate, not a queue: waiters
// poll for a free slot and no FIFO fairness is guaranteed between them.
package backpressure

import (
	"context"
	"sync/atomic"
	"time"

	errspkg "github.com/drblury/guardrail/internal/runtime/errors"
	loggingpkg "github.com/drblury/guardrail/internal/runtime/logging"
	metricspkg "github.com/drblury/guardrail/internal/runtime/metrics"
)

const (
	defaultPollInterval  = 10 * time.Millisecond
	utilizationWarnRatio = 0.95
	warnThrottleInterval = 60 * time.Second
)

// Options configure a Controller.
type Options struct {
	// MaxInflight is the hard cap on concurrently admitted operations.
	MaxInflight int
	// WaitTimeout bounds how long WaitForCapacity blocks. Zero waits forever.
	WaitTimeout time.Duration
	// PollInterval is the sleep between capacity re-checks. Defaults to 10ms.
	PollInterval time.Duration
}

// Stats is a read-only snapshot of the controller state.
type Stats struct {
	CurrentInflight   int64   `json:"current_inflight"`
	PeakInflight      int64   `json:"peak_inflight"`
	MaxInflight       int64   `json:"max_inflight"`
	AvailableCapacity int64   `json:"available_capacity"`
	Utilization       float64 `json:"utilization"`
	TotalWaits        int64   `json:"total_waits"`
}

// Controller tracks in-flight operations with an atomic counter so increments
// and decrements from concurrent callers never lose updates.
type Controller struct {
	maxInflight  int64
	waitTimeout  time.Duration
	pollInterval time.Duration
	warnThrottle time.Duration

	inflight atomic.Int64
	peak     atomic.Int64
	waits    atomic.Int64
	lastWarn atomic.Int64 // unix nanos of the last utilization warning

	logger  loggingpkg.ServiceLogger
	metrics metricspkg.Recorder
}

// NewController creates a Controller. The logger and recorder may be nil.
func NewController(opts Options, logger loggingpkg.ServiceLogger, recorder metricspkg.Recorder) *Controller {
	if logger == nil {
		logger = loggingpkg.Nop()
	}
	if recorder == nil {
		recorder = metricspkg.Noop()
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Controller{
		maxInflight:  int64(opts.MaxInflight),
		waitTimeout:  opts.WaitTimeout,
		pollInterval: pollInterval,
		warnThrottle: warnThrottleInterval,
		logger:       logger,
		metrics:      recorder,
	}
}

// WaitForCapacity blocks until the in-flight count drops below the cap. The
// fast path returns immediately. The slow path polls, failing with a
// BackpressureTimeoutError once the configured wait timeout elapses, or with
// the context error when the caller gives up first.
func (c *Controller) WaitForCapacity(ctx context.Context) error {
	if c.inflight.Load() < c.maxInflight {
		return nil
	}
	return c.waitSlow(ctx, func() bool { return c.inflight.Load() < c.maxInflight })
}

// acquire atomically admits one operation, so the in-flight count can never
// observably exceed the cap even when many waiters race for the last slot.
func (c *Controller) acquire(ctx context.Context) error {
	if c.tryAcquire() {
		return nil
	}
	return c.waitSlow(ctx, c.tryAcquire)
}

func (c *Controller) tryAcquire() bool {
	for {
		current := c.inflight.Load()
		if current >= c.maxInflight {
			return false
		}
		if c.inflight.CompareAndSwap(current, current+1) {
			c.noteAdmitted(current + 1)
			return true
		}
	}
}

func (c *Controller) waitSlow(ctx context.Context, admitted func() bool) error {
	c.waits.Add(1)
	c.metrics.IncrementCounter("backpressure_waits_total", nil)

	start := time.Now()
	// A wait timeout shorter than the poll interval must still be honored,
	// so the tick never outlives the deadline.
	interval := c.pollInterval
	if c.waitTimeout > 0 && c.waitTimeout < interval {
		interval = c.waitTimeout
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if admitted() {
			return nil
		}

		if waited := time.Since(start); c.waitTimeout > 0 && waited >= c.waitTimeout {
			err := &errspkg.BackpressureTimeoutError{
				CurrentInflight: c.inflight.Load(),
				MaxInflight:     c.maxInflight,
				Waited:          waited,
			}
			c.metrics.IncrementCounter("backpressure_timeouts_total", nil)
			c.logger.Error("Backpressure wait timed out", err, loggingpkg.LogFields{
				"current_inflight": err.CurrentInflight,
				"max_inflight":     err.MaxInflight,
				"waited_ms":        waited.Milliseconds(),
			})
			return err
		}
	}
}

// IncrementInflight records admission of one operation. Prefer Execute, which
// pairs admission and release.
func (c *Controller) IncrementInflight() {
	c.noteAdmitted(c.inflight.Add(1))
}

func (c *Controller) noteAdmitted(current int64) {
	for {
		peak := c.peak.Load()
		if current <= peak || c.peak.CompareAndSwap(peak, current) {
			break
		}
	}
	c.metrics.RecordHistogram("backpressure_inflight", float64(current), nil)
	c.maybeWarn(current)
}

// DecrementInflight releases one slot. Going below zero is a logic error: it
// is logged and clamped, never thrown.
func (c *Controller) DecrementInflight() {
	if v := c.inflight.Add(-1); v < 0 {
		c.inflight.Add(1)
		c.logger.Error("Inflight counter went negative; clamped to zero", nil, nil)
	}
}

// Execute admits the operation, runs it, and releases the slot on every exit
// path, including panics and operation failure.
func (c *Controller) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.DecrementInflight()
	return op(ctx)
}

// Stats returns a read-only snapshot. It never mutates controller state.
func (c *Controller) Stats() Stats {
	current := c.inflight.Load()
	available := c.maxInflight - current
	if available < 0 {
		available = 0
	}
	var utilization float64
	if c.maxInflight > 0 {
		utilization = float64(current) / float64(c.maxInflight)
	}
	return Stats{
		CurrentInflight:   current,
		PeakInflight:      c.peak.Load(),
		MaxInflight:       c.maxInflight,
		AvailableCapacity: available,
		Utilization:       utilization,
		TotalWaits:        c.waits.Load(),
	}
}

// maybeWarn emits a utilization warning when the gate crosses 95% full,
// throttled to once per minute per controller.
func (c *Controller) maybeWarn(current int64) {
	if c.maxInflight <= 0 || float64(current) < utilizationWarnRatio*float64(c.maxInflight) {
		return
	}
	now := time.Now().UnixNano()
	last := c.lastWarn.Load()
	if now-last < int64(c.warnThrottle) {
		return
	}
	if !c.lastWarn.CompareAndSwap(last, now) {
		return
	}
	c.logger.Info("Backpressure utilization above 95%", loggingpkg.LogFields{
		"current_inflight": current,
		"max_inflight":     c.maxInflight,
	})
}

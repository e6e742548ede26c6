package backpressure

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/guardrail/internal/runtime/errors"
	loggingpkg "github.com/drblury/guardrail/internal/runtime/logging"
)

type captureLogger struct {
	mu    sync.Mutex
	infos []string
}

func (l *captureLogger) With(loggingpkg.LogFields) loggingpkg.ServiceLogger { return l }
func (l *captureLogger) Debug(string, loggingpkg.LogFields)                {}
func (l *captureLogger) Error(string, error, loggingpkg.LogFields)         {}
func (l *captureLogger) Trace(string, loggingpkg.LogFields)                {}

func (l *captureLogger) Info(msg string, _ loggingpkg.LogFields) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, msg)
}

func (l *captureLogger) infoCount(msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range l.infos {
		if m == msg {
			n++
		}
	}
	return n
}

const utilizationWarning = "Backpressure utilization above 95%"

func TestWaitForCapacity_ImmediateWhenFree(t *testing.T) {
	c := NewController(Options{MaxInflight: 2}, nil, nil)

	require.NoError(t, c.WaitForCapacity(context.Background()))
}

func TestWaitForCapacity_TimesOut(t *testing.T) {
	c := NewController(Options{
		MaxInflight:  1,
		WaitTimeout:  30 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	}, nil, nil)

	c.IncrementInflight()

	err := c.WaitForCapacity(context.Background())
	require.Error(t, err)

	var timeoutErr *errspkg.BackpressureTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, int64(1), timeoutErr.CurrentInflight)
	assert.Equal(t, int64(1), timeoutErr.MaxInflight)
	assert.GreaterOrEqual(t, timeoutErr.Waited, 30*time.Millisecond)
}

func TestWaitForCapacity_TimeoutShorterThanPollInterval(t *testing.T) {
	c := NewController(Options{
		MaxInflight:  1,
		WaitTimeout:  10 * time.Millisecond,
		PollInterval: 500 * time.Millisecond,
	}, nil, nil)
	c.IncrementInflight()

	start := time.Now()
	err := c.WaitForCapacity(context.Background())
	elapsed := time.Since(start)

	var timeoutErr *errspkg.BackpressureTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	// The deadline must win over the poll interval.
	assert.GreaterOrEqual(t, elapsed, 10*time.Millisecond)
	assert.Less(t, elapsed, 250*time.Millisecond)
}

func TestWaitForCapacity_ContextCancelled(t *testing.T) {
	c := NewController(Options{
		MaxInflight:  1,
		PollInterval: 5 * time.Millisecond,
	}, nil, nil)
	c.IncrementInflight()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.WaitForCapacity(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecute_ReleasesSlotOnError(t *testing.T) {
	c := NewController(Options{MaxInflight: 1}, nil, nil)

	opErr := errors.New("send failed")
	err := c.Execute(context.Background(), func(ctx context.Context) error { return opErr })
	assert.ErrorIs(t, err, opErr)
	assert.Equal(t, int64(0), c.Stats().CurrentInflight)
}

func TestExecute_ReleasesSlotOnPanic(t *testing.T) {
	c := NewController(Options{MaxInflight: 1}, nil, nil)

	assert.Panics(t, func() {
		_ = c.Execute(context.Background(), func(ctx context.Context) error { panic("boom") })
	})
	assert.Equal(t, int64(0), c.Stats().CurrentInflight)
}

func TestExecute_NeverExceedsMax(t *testing.T) {
	const max = 3
	c := NewController(Options{
		MaxInflight:  max,
		WaitTimeout:  2 * time.Second,
		PollInterval: time.Millisecond,
	}, nil, nil)

	var current, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.Execute(context.Background(), func(ctx context.Context) error {
				now := current.Add(1)
				for {
					p := peak.Load()
					if now <= p || peak.CompareAndSwap(p, now) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				current.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(max))
	assert.Equal(t, int64(0), c.Stats().CurrentInflight)
}

func TestExecute_ThreeConcurrentWithCapOne(t *testing.T) {
	c := NewController(Options{
		MaxInflight:  1,
		WaitTimeout:  time.Second,
		PollInterval: time.Millisecond,
	}, nil, nil)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.Execute(context.Background(), func(ctx context.Context) error {
				time.Sleep(50 * time.Millisecond)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Serialized behind a cap of one, three 50ms operations need ~150ms.
	assert.GreaterOrEqual(t, time.Since(start), 140*time.Millisecond)
}

func TestDecrementInflight_ClampsAtZero(t *testing.T) {
	c := NewController(Options{MaxInflight: 5}, nil, nil)

	c.DecrementInflight()

	assert.Equal(t, int64(0), c.Stats().CurrentInflight)
}

func TestUtilizationWarning_FiresAtThreshold(t *testing.T) {
	log := &captureLogger{}
	c := NewController(Options{MaxInflight: 1}, log, nil)

	c.IncrementInflight()

	assert.Equal(t, 1, log.infoCount(utilizationWarning))
}

func TestUtilizationWarning_ThrottledWithinInterval(t *testing.T) {
	log := &captureLogger{}
	c := NewController(Options{MaxInflight: 1}, log, nil)

	c.IncrementInflight()
	c.DecrementInflight()
	c.IncrementInflight()

	// Crossing the threshold twice inside the throttle window warns once.
	assert.Equal(t, 1, log.infoCount(utilizationWarning))
}

func TestUtilizationWarning_RefiresAfterThrottleExpires(t *testing.T) {
	log := &captureLogger{}
	c := NewController(Options{MaxInflight: 1}, log, nil)
	c.warnThrottle = time.Millisecond

	c.IncrementInflight()
	c.DecrementInflight()
	time.Sleep(5 * time.Millisecond)
	c.IncrementInflight()

	assert.Equal(t, 2, log.infoCount(utilizationWarning))
}

func TestUtilizationWarning_SilentBelowThreshold(t *testing.T) {
	log := &captureLogger{}
	c := NewController(Options{MaxInflight: 10}, log, nil)

	c.IncrementInflight()
	c.IncrementInflight()

	assert.Equal(t, 0, log.infoCount(utilizationWarning))
}

func TestStats(t *testing.T) {
	c := NewController(Options{MaxInflight: 4}, nil, nil)

	c.IncrementInflight()
	c.IncrementInflight()
	c.IncrementInflight()
	c.DecrementInflight()

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.CurrentInflight)
	assert.Equal(t, int64(3), stats.PeakInflight)
	assert.Equal(t, int64(4), stats.MaxInflight)
	assert.Equal(t, int64(2), stats.AvailableCapacity)
	assert.InDelta(t, 0.5, stats.Utilization, 0.001)
}

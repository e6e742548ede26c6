// Package ratelimit caps per-topic throughput within a sliding or fixed time
// window. Each topic owns its own lock so unrelated traffic is never
// serialized; within one topic the whole filter-compare-record sequence is a
// single critical section.
package ratelimit

import (
	"sync"
	"time"

	errspkg "github.com/drblury/guardrail/internal/runtime/errors"
	metricspkg "github.com/drblury/guardrail/internal/runtime/metrics"
)

const defaultWindow = time.Second

// Options configure a Limiter.
type Options struct {
	// MaxRequests is the per-topic budget within one window.
	MaxRequests int
	// Window is the window size. Defaults to one second.
	Window time.Duration
	// Sliding selects the sliding-window algorithm. The fixed-window
	// alternative is cheaper but can admit up to 2x MaxRequests across a
	// window boundary; that is a known trade-off, not a bug.
	Sliding bool
}

// TopicStats is a read-only view of one topic's window.
type TopicStats struct {
	Topic   string    `json:"topic"`
	Current int       `json:"current"`
	Max     int       `json:"max"`
	ResetAt time.Time `json:"reset_at"`
}

// Limiter tracks one window per topic, created lazily and evicted by Cleanup.
type Limiter struct {
	maxRequests int
	window      time.Duration
	sliding     bool

	mu      sync.RWMutex
	windows map[string]*topicWindow

	metrics metricspkg.Recorder
	now     func() time.Time
}

type topicWindow struct {
	mu sync.Mutex

	// sliding mode: request timestamps within the trailing window.
	timestamps []time.Time

	// fixed mode.
	count       int
	windowStart time.Time

	lastSeen time.Time
}

// NewLimiter creates a Limiter. The recorder may be nil.
func NewLimiter(opts Options, recorder metricspkg.Recorder) *Limiter {
	if recorder == nil {
		recorder = metricspkg.Noop()
	}
	window := opts.Window
	if window <= 0 {
		window = defaultWindow
	}
	return &Limiter{
		maxRequests: opts.MaxRequests,
		window:      window,
		sliding:     opts.Sliding,
		windows:     make(map[string]*topicWindow),
		metrics:     recorder,
		now:         time.Now,
	}
}

// CheckLimit records the current request for the topic, or fails with a
// RateLimitExceededError when the topic is already at capacity.
func (l *Limiter) CheckLimit(topic string) error {
	w := l.windowFor(topic)

	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.now()
	w.lastSeen = now

	var err error
	if l.sliding {
		err = l.checkSliding(topic, w, now)
	} else {
		err = l.checkFixed(topic, w, now)
	}
	if err != nil {
		l.metrics.IncrementCounter("rate_limit_exceeded_total", metricspkg.Tags{"topic": topic})
	}
	return err
}

// checkSliding drops timestamps older than the trailing window, then admits
// or rejects. The filter runs on every check, so cost grows with recent
// request volume; Cleanup bounds memory for topic churn.
func (l *Limiter) checkSliding(topic string, w *topicWindow, now time.Time) error {
	cutoff := now.Add(-l.window)
	kept := w.timestamps[:0]
	for _, ts := range w.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.timestamps = kept

	if len(w.timestamps) >= l.maxRequests {
		return &errspkg.RateLimitExceededError{
			Topic:   topic,
			Current: len(w.timestamps),
			Max:     l.maxRequests,
			ResetAt: w.timestamps[0].Add(l.window),
		}
	}

	w.timestamps = append(w.timestamps, now)
	return nil
}

func (l *Limiter) checkFixed(topic string, w *topicWindow, now time.Time) error {
	if w.windowStart.IsZero() || !now.Before(w.windowStart.Add(l.window)) {
		w.windowStart = now
		w.count = 0
	}

	if w.count >= l.maxRequests {
		return &errspkg.RateLimitExceededError{
			Topic:   topic,
			Current: w.count,
			Max:     l.maxRequests,
			ResetAt: w.windowStart.Add(l.window),
		}
	}

	w.count++
	return nil
}

// Stats returns the current view of one topic without recording a request.
func (l *Limiter) Stats(topic string) TopicStats {
	stats := TopicStats{Topic: topic, Max: l.maxRequests}

	l.mu.RLock()
	w, ok := l.windows[topic]
	l.mu.RUnlock()
	if !ok {
		return stats
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.now()
	if l.sliding {
		cutoff := now.Add(-l.window)
		for _, ts := range w.timestamps {
			if ts.After(cutoff) {
				if stats.Current == 0 {
					stats.ResetAt = ts.Add(l.window)
				}
				stats.Current++
			}
		}
	} else {
		if !w.windowStart.IsZero() && now.Before(w.windowStart.Add(l.window)) {
			stats.Current = w.count
			stats.ResetAt = w.windowStart.Add(l.window)
		}
	}
	return stats
}

// Cleanup removes per-topic state untouched for longer than the threshold and
// returns how many entries were evicted. It bounds memory under topic churn.
func (l *Limiter) Cleanup(inactiveThreshold time.Duration) int {
	cutoff := l.now().Add(-inactiveThreshold)

	l.mu.Lock()
	defer l.mu.Unlock()

	evicted := 0
	for topic, w := range l.windows {
		w.mu.Lock()
		idle := w.lastSeen.Before(cutoff)
		w.mu.Unlock()
		if idle {
			delete(l.windows, topic)
			evicted++
		}
	}
	return evicted
}

// Reset clears the window for one topic. Administrative and test use only.
func (l *Limiter) Reset(topic string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, topic)
}

// ResetAll clears every window. Administrative and test use only.
func (l *Limiter) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows = make(map[string]*topicWindow)
}

func (l *Limiter) windowFor(topic string) *topicWindow {
	l.mu.RLock()
	w, ok := l.windows[topic]
	l.mu.RUnlock()
	if ok {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok = l.windows[topic]; ok {
		return w
	}
	w = &topicWindow{}
	l.windows[topic] = w
	return w
}

// Package metrics defines the producer-side metrics contract used by every
// guardrail component. A no-op recorder is the default when none is supplied,
// so instrumentation never becomes a hard dependency of the hot path.
package metrics

// Tags label a metric observation, e.g. {"topic": "orders.created"}.
type Tags map[string]string

// Recorder receives counters, histograms, and timers from the client and its
// resilience components. Implementations must be safe for concurrent use.
type Recorder interface {
	IncrementCounter(name string, tags Tags)
	RecordHistogram(name string, value float64, tags Tags)
	// StartTimer returns a stop function that records the elapsed time in
	// seconds as a histogram observation under the given name.
	StartTimer(name string, tags Tags) func()
}

// Noop returns a Recorder that discards every observation.
func Noop() Recorder { return noopRecorder{} }

type noopRecorder struct{}

func (noopRecorder) IncrementCounter(string, Tags)         {}
func (noopRecorder) RecordHistogram(string, float64, Tags) {}
func (noopRecorder) StartTimer(string, Tags) func()        { return func() {} }

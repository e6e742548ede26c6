package metrics

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder on top of prometheus collectors.
// Metric vectors are created lazily on first observation; the label set of a
// metric is fixed by that first observation, later calls with unknown tags
// fall back to empty label values.
type PrometheusRecorder struct {
	mu         sync.Mutex
	registerer prometheus.Registerer
	namespace  string
	counters   map[string]*counterEntry
	histograms map[string]*histogramEntry
}

type counterEntry struct {
	vec    *prometheus.CounterVec
	labels []string
}

type histogramEntry struct {
	vec    *prometheus.HistogramVec
	labels []string
}

// NewPrometheusRecorder creates a recorder registering collectors on the
// supplied registerer. A nil registerer falls back to the default one.
func NewPrometheusRecorder(registerer prometheus.Registerer, namespace string) *PrometheusRecorder {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "guardrail"
	}
	return &PrometheusRecorder{
		registerer: registerer,
		namespace:  namespace,
		counters:   make(map[string]*counterEntry),
		histograms: make(map[string]*histogramEntry),
	}
}

// Handler returns an HTTP handler exposing the default prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func (r *PrometheusRecorder) IncrementCounter(name string, tags Tags) {
	entry := r.counterFor(name, tags)
	if entry == nil {
		return
	}
	entry.vec.WithLabelValues(labelValues(entry.labels, tags)...).Inc()
}

func (r *PrometheusRecorder) RecordHistogram(name string, value float64, tags Tags) {
	entry := r.histogramFor(name, tags)
	if entry == nil {
		return
	}
	entry.vec.WithLabelValues(labelValues(entry.labels, tags)...).Observe(value)
}

func (r *PrometheusRecorder) StartTimer(name string, tags Tags) func() {
	start := time.Now()
	return func() {
		r.RecordHistogram(name, time.Since(start).Seconds(), tags)
	}
}

func (r *PrometheusRecorder) counterFor(name string, tags Tags) *counterEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.counters[name]; ok {
		return entry
	}

	labels := sortedKeys(tags)
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Name:      name,
		Help:      "guardrail counter " + name,
	}, labels)
	if err := r.registerer.Register(vec); err != nil {
		// Another recorder on the same registry already owns this metric;
		// observe into the registered vector, not the orphaned fresh one.
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil
		}
		existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil
		}
		vec = existing
	}

	entry := &counterEntry{vec: vec, labels: labels}
	r.counters[name] = entry
	return entry
}

func (r *PrometheusRecorder) histogramFor(name string, tags Tags) *histogramEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.histograms[name]; ok {
		return entry
	}

	labels := sortedKeys(tags)
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: r.namespace,
		Name:      name,
		Help:      "guardrail histogram " + name,
		Buckets:   prometheus.DefBuckets,
	}, labels)
	if err := r.registerer.Register(vec); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil
		}
		existing, ok := are.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			return nil
		}
		vec = existing
	}

	entry := &histogramEntry{vec: vec, labels: labels}
	r.histograms[name] = entry
	return entry
}

func sortedKeys(tags Tags) []string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func labelValues(labels []string, tags Tags) []string {
	values := make([]string, len(labels))
	for i, label := range labels {
		values[i] = tags[label]
	}
	return values
}

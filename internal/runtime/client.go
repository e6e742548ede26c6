package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/guardrail/driver"
	backpressurepkg "github.com/drblury/guardrail/internal/runtime/backpressure"
	configpkg "github.com/drblury/guardrail/internal/runtime/config"
	envelopepkg "github.com/drblury/guardrail/internal/runtime/envelope"
	errspkg "github.com/drblury/guardrail/internal/runtime/errors"
	loggingpkg "github.com/drblury/guardrail/internal/runtime/logging"
	metricspkg "github.com/drblury/guardrail/internal/runtime/metrics"
	ratelimitpkg "github.com/drblury/guardrail/internal/runtime/ratelimit"
	retrypkg "github.com/drblury/guardrail/internal/runtime/retry"
)

// Handler is the caller-supplied callback invoked for each inbound envelope
// on a subscribed topic.
type Handler func(ctx context.Context, env *envelopepkg.Envelope) error

// Dependencies holds the optional collaborators of a Client. Leave fields nil
// to use the defaults derived from the configuration.
type Dependencies struct {
	// Driver bypasses the registry and uses the given backend directly.
	Driver driver.Driver
	// Registry overrides the default driver registry.
	Registry *driver.Registry
	// Metrics overrides the recorder chosen from Config.MetricsEnabled.
	Metrics metricspkg.Recorder
}

// Client turns a bare send/receive backend into a production-safe messaging
// client: admission control, per-topic rate limiting, retry with backoff,
// dead-letter routing, and observability, all layered in front of the driver.
type Client struct {
	conf    configpkg.Config
	logger  loggingpkg.ServiceLogger
	sampled loggingpkg.ServiceLogger
	metrics metricspkg.Recorder
	tracer  trace.Tracer

	drv     driver.Driver
	gate    *backpressurepkg.Controller
	limiter *ratelimitpkg.Limiter
	retrier *retrypkg.Executor

	handlersMu sync.Mutex
	handlers   map[string]int
}

// NewClient builds a Client for the supplied configuration. When no driver is
// injected, the configured backend is built through the driver registry.
func NewClient(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps Dependencies) (*Client, error) {
	if conf == nil {
		return nil, fmt.Errorf("guardrail: config is required")
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	normalized := conf.Normalize()

	if log == nil {
		log = loggingpkg.Nop()
	}

	recorder := deps.Metrics
	if recorder == nil {
		if normalized.MetricsEnabled {
			recorder = metricspkg.NewPrometheusRecorder(nil, "guardrail")
		} else {
			recorder = metricspkg.Noop()
		}
	}

	drv := deps.Driver
	if drv == nil {
		registry := deps.Registry
		if registry == nil {
			registry = driver.DefaultRegistry
		}
		built, err := registry.Build(ctx, &normalized, loggingpkg.NewWatermillAdapter(log))
		if err != nil {
			return nil, err
		}
		drv = built
	}

	samplingRate := normalized.LogSamplingRate
	if normalized.DisableSuccessLogs {
		samplingRate = 0
	}

	c := &Client{
		conf:     normalized,
		logger:   log,
		sampled:  loggingpkg.NewSampledLogger(log, samplingRate),
		metrics:  recorder,
		tracer:   otel.Tracer("guardrail-client"),
		drv:      drv,
		retrier:  retrypkg.NewExecutor(log, recorder),
		handlers: make(map[string]int),
	}

	if normalized.MaxInflight > 0 {
		c.gate = backpressurepkg.NewController(backpressurepkg.Options{
			MaxInflight:  normalized.MaxInflight,
			WaitTimeout:  normalized.WaitTimeout,
			PollInterval: normalized.PollInterval,
		}, log, recorder)
	}
	if normalized.MaxRequestsPerWindow > 0 {
		c.limiter = ratelimitpkg.NewLimiter(ratelimitpkg.Options{
			MaxRequests: normalized.MaxRequestsPerWindow,
			Window:      normalized.WindowSize,
			Sliding:     normalized.UseSlidingWindow,
		}, recorder)
	}

	log.Info("Created guardrail client", loggingpkg.LogFields{
		"backend": normalized.Backend,
		"config":  normalized,
	})
	return c, nil
}

// PublishOption customises a single publish call.
type PublishOption func(*envelopepkg.BuildOptions)

// WithMetadata merges the entries into the envelope metadata.
func WithMetadata(metadata map[string]any) PublishOption {
	return func(o *envelopepkg.BuildOptions) {
		if o.Metadata == nil {
			o.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			o.Metadata[k] = v
		}
	}
}

// WithAttributes sets driver-visible string attributes on the envelope.
func WithAttributes(attributes map[string]string) PublishOption {
	return func(o *envelopepkg.BuildOptions) {
		if o.Attributes == nil {
			o.Attributes = make(map[string]string, len(attributes))
		}
		for k, v := range attributes {
			o.Attributes[k] = v
		}
	}
}

// WithCorrelationID pins the correlation id instead of generating one.
func WithCorrelationID(id string) PublishOption {
	return WithMetadata(map[string]any{envelopepkg.MetadataKeyCorrelationID: id})
}

// Publish runs the full admission pipeline and hands the envelope to the
// driver: namespace, size validation, rate limit, backpressure, envelope
// construction, send (optionally retried), metrics. Failures at any step
// propagate to the caller; the backpressure slot is released on every exit
// path once admitted.
func (c *Client) Publish(ctx context.Context, topic string, data any, opts ...PublishOption) error {
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	if data == nil {
		return errspkg.ErrDataRequired
	}

	buildOpts := envelopepkg.BuildOptions{DisableCorrelationID: c.conf.DisableCorrelationID}
	for _, opt := range opts {
		opt(&buildOpts)
	}

	namespaced := envelopepkg.ApplyNamespace(c.conf.Namespace, topic)

	ctx, span := c.tracer.Start(ctx, "Publish")
	defer span.End()
	span.SetAttributes(attribute.String("messaging.topic", namespaced))

	stop := c.metrics.StartTimer("publish_duration_seconds", metricspkg.Tags{"topic": namespaced})
	defer stop()

	size, err := envelopepkg.ValidateSize(namespaced, data, c.conf.MaxMessageSizeBytes)
	if err != nil {
		c.metrics.IncrementCounter("publish_rejected_total", metricspkg.Tags{"topic": namespaced, "reason": "size"})
		return err
	}

	if c.limiter != nil {
		if err := c.limiter.CheckLimit(namespaced); err != nil {
			return err
		}
	}

	send := func(ctx context.Context) error {
		env := envelopepkg.Build(namespaced, data, buildOpts)
		span.SetAttributes(
			attribute.String("messaging.message_id", env.ID),
			attribute.String("messaging.correlation_id", env.CorrelationID()),
		)

		sendErr := c.sendWithRetry(ctx, namespaced, env)
		if sendErr != nil {
			return sendErr
		}

		c.metrics.IncrementCounter("messages_published_total", metricspkg.Tags{"topic": namespaced})
		c.metrics.RecordHistogram("message_size_bytes", float64(size), metricspkg.Tags{"topic": namespaced})
		c.sampled.Debug("Published message", loggingpkg.LogFields{
			"topic":          topic,
			"message_id":     env.ID,
			"correlation_id": env.CorrelationID(),
			"size_bytes":     size,
		})
		return nil
	}

	if c.gate != nil {
		err = c.gate.Execute(ctx, send)
	} else {
		err = send(ctx)
	}
	if err != nil {
		c.metrics.IncrementCounter("publish_errors_total", metricspkg.Tags{
			"topic":      namespaced,
			"error_type": fmt.Sprintf("%T", err),
		})
		c.logger.Error("Publish failed", err, loggingpkg.LogFields{"topic": topic})
	}
	return err
}

func (c *Client) sendWithRetry(ctx context.Context, topic string, env *envelopepkg.Envelope) error {
	if c.conf.RetryMaxRetries <= 0 {
		return c.drv.Publish(ctx, topic, env)
	}
	return c.retrier.Execute(ctx, func(ctx context.Context) error {
		return c.drv.Publish(ctx, topic, env)
	}, c.defaultRetryPolicy())
}

func (c *Client) defaultRetryPolicy() retrypkg.Policy {
	return retrypkg.Policy{
		MaxRetries:        c.conf.RetryMaxRetries,
		RetryDelay:        c.conf.RetryDelay,
		BackoffMultiplier: c.conf.RetryBackoffMultiplier,
		MaxRetryDelay:     c.conf.RetryMaxDelay,
	}
}

// Subscribe wraps the handler with timing, error capture, metrics, and
// dead-letter forwarding, then registers it with the driver. The tracked
// handler count is incremented only after the driver accepts the
// registration.
func (c *Client) Subscribe(ctx context.Context, topic string, handler Handler) error {
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	if handler == nil {
		return errspkg.ErrHandlerRequired
	}

	namespaced := envelopepkg.ApplyNamespace(c.conf.Namespace, topic)

	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	if c.handlers[namespaced] >= c.conf.MaxHandlersPerTopic {
		return &errspkg.HandlerLimitExceededError{Topic: namespaced, Limit: c.conf.MaxHandlersPerTopic}
	}

	wrapped := c.wrapHandler(topic, namespaced, handler)
	if err := c.drv.Subscribe(ctx, namespaced, wrapped); err != nil {
		return err
	}

	c.handlers[namespaced]++
	c.logger.Info("Subscribed handler", loggingpkg.LogFields{
		"topic":    topic,
		"handlers": c.handlers[namespaced],
	})
	return nil
}

// Unsubscribe stops delivery for the topic and clears its handler count.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	namespaced := envelopepkg.ApplyNamespace(c.conf.Namespace, topic)

	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	if err := c.drv.Unsubscribe(namespaced); err != nil {
		return err
	}
	delete(c.handlers, namespaced)
	return nil
}

// Connect is a pure pass-through to the backend driver.
func (c *Client) Connect(ctx context.Context) error { return c.drv.Connect(ctx) }

// Disconnect is a pure pass-through to the backend driver.
func (c *Client) Disconnect() error { return c.drv.Disconnect() }

// IsConnected is a pure pass-through to the backend driver.
func (c *Client) IsConnected() bool { return c.drv.IsConnected() }

// SubscribedTopics is a pure pass-through to the backend driver.
func (c *Client) SubscribedTopics() []string { return c.drv.SubscribedTopics() }

// ExecuteWithRetry runs an arbitrary fallible operation under the given
// retry policy, sharing the client's logger and metrics.
func (c *Client) ExecuteWithRetry(ctx context.Context, op func(ctx context.Context) error, policy retrypkg.Policy) error {
	return c.retrier.Execute(ctx, op, policy)
}

// BackpressureStats returns the current gate snapshot. The second return is
// false when backpressure is disabled.
func (c *Client) BackpressureStats() (backpressurepkg.Stats, bool) {
	if c.gate == nil {
		return backpressurepkg.Stats{}, false
	}
	return c.gate.Stats(), true
}

// RateLimitStats returns the current window view for the namespaced topic.
// The second return is false when rate limiting is disabled.
func (c *Client) RateLimitStats(topic string) (ratelimitpkg.TopicStats, bool) {
	if c.limiter == nil {
		return ratelimitpkg.TopicStats{}, false
	}
	return c.limiter.Stats(envelopepkg.ApplyNamespace(c.conf.Namespace, topic)), true
}

// CleanupRateLimiter evicts rate-limit state untouched for longer than the
// threshold and reports how many topics were dropped.
func (c *Client) CleanupRateLimiter(inactiveThreshold time.Duration) int {
	if c.limiter == nil {
		return 0
	}
	return c.limiter.Cleanup(inactiveThreshold)
}

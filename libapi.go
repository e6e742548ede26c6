package guardrail

import (
	driverpkg "github.com/drblury/guardrail/driver"
	runtimepkg "github.com/drblury/guardrail/internal/runtime"
	backpressurepkg "github.com/drblury/guardrail/internal/runtime/backpressure"
	configpkg "github.com/drblury/guardrail/internal/runtime/config"
	envelopepkg "github.com/drblury/guardrail/internal/runtime/envelope"
	errspkg "github.com/drblury/guardrail/internal/runtime/errors"
	idspkg "github.com/drblury/guardrail/internal/runtime/ids"
	jsoncodec "github.com/drblury/guardrail/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/guardrail/internal/runtime/logging"
	metricspkg "github.com/drblury/guardrail/internal/runtime/metrics"
	ratelimitpkg "github.com/drblury/guardrail/internal/runtime/ratelimit"
	retrypkg "github.com/drblury/guardrail/internal/runtime/retry"
)

type (
	Config       = configpkg.Config
	Client       = runtimepkg.Client
	Dependencies = runtimepkg.Dependencies
	Handler      = runtimepkg.Handler

	Envelope     = envelopepkg.Envelope
	BuildOptions = envelopepkg.BuildOptions

	PublishOption = runtimepkg.PublishOption

	// Dead-letter payload types
	DeadLetterPayload = runtimepkg.DeadLetterPayload
	DeadLetterError   = runtimepkg.DeadLetterError

	// Retry
	RetryPolicy = retrypkg.Policy

	// Stats surfaces
	BackpressureStats = backpressurepkg.Stats
	RateLimitStats    = ratelimitpkg.TopicStats

	// Logging
	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	// Metrics
	MetricsRecorder    = metricspkg.Recorder
	MetricsTags        = metricspkg.Tags
	PrometheusRecorder = metricspkg.PrometheusRecorder

	// Driver plumbing
	Driver         = driverpkg.Driver
	DriverBuilder  = driverpkg.Builder
	DriverConfig   = driverpkg.Config
	DriverRegistry = driverpkg.Registry
	MessageHandler = driverpkg.MessageHandler
	Bridge         = driverpkg.Bridge

	// Structured errors
	BackpressureTimeoutError  = errspkg.BackpressureTimeoutError
	RateLimitExceededError    = errspkg.RateLimitExceededError
	MaxRetriesExceededError   = errspkg.MaxRetriesExceededError
	MessageTooLargeError      = errspkg.MessageTooLargeError
	HandlerLimitExceededError = errspkg.HandlerLimitExceededError
)

var (
	NewClient = runtimepkg.NewClient

	// Publish options
	WithMetadata      = runtimepkg.WithMetadata
	WithAttributes    = runtimepkg.WithAttributes
	WithCorrelationID = runtimepkg.WithCorrelationID

	// Envelope helpers
	BuildEnvelope     = envelopepkg.Build
	ApplyNamespace    = envelopepkg.ApplyNamespace
	MarshalEnvelope   = envelopepkg.Marshal
	UnmarshalEnvelope = envelopepkg.Unmarshal

	// Ids
	NewMessageID     = idspkg.NewMessageID
	NewCorrelationID = idspkg.NewCorrelationID

	// Retry helpers
	RetryBackoff = retrypkg.Backoff

	// Logging constructors
	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewSampledLogger          = loggingpkg.NewSampledLogger
	NopLogger                 = loggingpkg.Nop

	// Metrics constructors
	NewPrometheusRecorder = metricspkg.NewPrometheusRecorder
	NoopRecorder          = metricspkg.Noop

	// Driver registry.
	// Import individual drivers via: _ "github.com/drblury/guardrail/driver/kafka"
	DefaultDriverRegistry = driverpkg.DefaultRegistry
	RegisterDriver        = driverpkg.Register
	BuildDriver           = driverpkg.Build
	NewBridge             = driverpkg.NewBridge

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrDriverRequired  = errspkg.ErrDriverRequired
	ErrTopicRequired   = errspkg.ErrTopicRequired
	ErrHandlerRequired = errspkg.ErrHandlerRequired
	ErrDataRequired    = errspkg.ErrDataRequired
	ErrNotConnected    = errspkg.ErrNotConnected
	ErrCircuitOpen     = errspkg.ErrCircuitOpen
)

// MetadataKeyCorrelationID is the metadata key carrying the correlation id.
const MetadataKeyCorrelationID = envelopepkg.MetadataKeyCorrelationID

// MetadataKeyDeadLetter marks envelopes produced by dead-letter forwarding.
const MetadataKeyDeadLetter = runtimepkg.MetadataKeyDeadLetter

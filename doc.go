// Package guardrail is a resilience layer in front of pluggable pub/sub
// backends. It wraps a bare send/receive driver (Kafka, NATS, RabbitMQ,
// AWS SNS/SQS, or in-memory Go channels) with the production plumbing a raw
// client lacks: message envelopes with ULID ids and correlation ids, topic
// namespacing, payload size validation, per-topic rate limiting, a global
// in-flight cap with bounded waiting, retry with capped exponential backoff
// and pattern-based error classification, and dead-letter forwarding for
// failed handlers.
//
// A Client is built from a Config that selects the backend and tunes each
// guard; every guard is off until its knob is set, so a zero-tuned client is
// a thin pass-through. Publish runs the full admission pipeline before the
// driver sees the message; Subscribe wraps the handler with timing, panic
// recovery, metrics, and dead-letter routing.
//
// # Drivers
//
// Five drivers ship with the module:
//   - channel: in-memory Go channels for testing
//   - kafka: consumer-group streaming via Watermill Kafka
//   - nats: NATS Core messaging
//   - rabbitmq: AMQP durable pub/sub queues
//   - aws: AWS SNS/SQS with LocalStack support
//
// Drivers register themselves on import:
//
//	import _ "github.com/drblury/guardrail/driver/kafka"
//
// Custom backends implement the driver.Driver interface, usually by wrapping
// a Watermill publisher/subscriber pair in a driver.Bridge.
//
// # Observability
//
// Logging goes through a ServiceLogger with optional success-path sampling;
// failures are always logged. Metrics are recorded through a pluggable
// Recorder with a Prometheus implementation included, and publish and handler
// paths carry OpenTelemetry spans.
package guardrail

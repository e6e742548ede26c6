package runtime

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"

	envelopepkg "github.com/drblury/guardrail/internal/runtime/envelope"
	loggingpkg "github.com/drblury/guardrail/internal/runtime/logging"
	metricspkg "github.com/drblury/guardrail/internal/runtime/metrics"
)

// MetadataKeyDeadLetter marks envelopes produced by dead-letter forwarding so
// consumers of the dead-letter topic can tell them from regular traffic.
const MetadataKeyDeadLetter = "is_dlq"

// DeadLetterError captures the failure that sent a message to the dead-letter
// topic.
type DeadLetterError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// DeadLetterPayload is the data carried by a dead-letter envelope. It embeds
// the original message so the failure can be replayed or inspected.
type DeadLetterPayload struct {
	OriginalTopic     string          `json:"original_topic"`
	OriginalMessageID string          `json:"original_message_id"`
	OriginalData      any             `json:"original_data"`
	OriginalTimestamp time.Time       `json:"original_timestamp"`
	Error             DeadLetterError `json:"error"`
	FailedAt          time.Time       `json:"failed_at"`
	Metadata          map[string]any  `json:"metadata,omitempty"`
}

// wrapHandler layers tracing, timing, panic recovery, metrics, and
// dead-letter forwarding around the caller's handler. The wrapped handler
// returns an error only in rethrow mode; otherwise failures are contained so
// the driver acks the delivery and moves on.
func (c *Client) wrapHandler(topic, namespacedTopic string, h Handler) func(ctx context.Context, env *envelopepkg.Envelope) error {
	return func(ctx context.Context, env *envelopepkg.Envelope) error {
		ctx, span := c.tracer.Start(ctx, "HandleMessage")
		defer span.End()
		span.SetAttributes(
			attribute.String("messaging.topic", namespacedTopic),
			attribute.String("messaging.message_id", env.ID),
		)

		start := time.Now()
		stop := c.metrics.StartTimer("handler_duration_seconds", metricspkg.Tags{"topic": namespacedTopic})
		stack, err := safeInvoke(ctx, h, env)
		stop()

		if err == nil {
			c.metrics.IncrementCounter("messages_handled_total", metricspkg.Tags{"topic": namespacedTopic})
			c.sampled.Debug("Handled message", loggingpkg.LogFields{
				"topic":          topic,
				"message_id":     env.ID,
				"correlation_id": env.CorrelationID(),
				"duration_ms":    time.Since(start).Milliseconds(),
			})
			return nil
		}

		c.metrics.IncrementCounter("handler_failures_total", metricspkg.Tags{
			"topic":      namespacedTopic,
			"error_type": fmt.Sprintf("%T", err),
		})
		c.logger.Error("Handler failed", err, loggingpkg.LogFields{
			"topic":          topic,
			"message_id":     env.ID,
			"correlation_id": env.CorrelationID(),
			"duration_ms":    time.Since(start).Milliseconds(),
		})

		if c.conf.DeadLetterTopic != "" {
			c.forwardToDeadLetter(ctx, topic, env, err, stack)
		}

		if c.conf.RethrowHandlerErrors {
			return err
		}
		return nil
	}
}

// safeInvoke runs the handler and converts panics into errors so one bad
// message cannot take down the consume loop. The stack is captured only for
// panics; ordinary errors carry none.
func safeInvoke(ctx context.Context, h Handler, env *envelopepkg.Envelope) (stack string, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack = string(debug.Stack())
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return "", h(ctx, env)
}

// forwardToDeadLetter publishes the failed message to the dead-letter topic.
// The forward goes straight to the driver: a dead-letter write must not be
// blocked by backpressure or counted against the original topic's rate limit.
// Forwarding failures are logged and counted but never propagated, so a dead
// dead-letter topic cannot amplify the original failure.
func (c *Client) forwardToDeadLetter(ctx context.Context, originalTopic string, env *envelopepkg.Envelope, handlerErr error, stack string) {
	payload := DeadLetterPayload{
		OriginalTopic:     originalTopic,
		OriginalMessageID: env.ID,
		OriginalData:      env.Data,
		OriginalTimestamp: env.Timestamp,
		Error: DeadLetterError{
			Name:    fmt.Sprintf("%T", handlerErr),
			Message: handlerErr.Error(),
			Stack:   stack,
		},
		FailedAt: time.Now().UTC(),
		Metadata: env.Metadata,
	}

	dlqTopic := envelopepkg.ApplyNamespace(c.conf.Namespace, c.conf.DeadLetterTopic)
	dlqEnv := envelopepkg.Build(dlqTopic, payload, envelopepkg.BuildOptions{
		Metadata: map[string]any{
			MetadataKeyDeadLetter:                true,
			envelopepkg.MetadataKeyCorrelationID: env.CorrelationID(),
		},
	})

	if err := c.drv.Publish(ctx, dlqTopic, dlqEnv); err != nil {
		c.metrics.IncrementCounter("dlq_forward_failures_total", metricspkg.Tags{"topic": dlqTopic})
		c.logger.Error("Dead-letter forward failed", err, loggingpkg.LogFields{
			"dead_letter_topic":   c.conf.DeadLetterTopic,
			"original_topic":      originalTopic,
			"original_message_id": env.ID,
		})
		return
	}

	c.metrics.IncrementCounter("dlq_forwarded_total", metricspkg.Tags{"topic": dlqTopic})
	c.logger.Info("Forwarded message to dead-letter topic", loggingpkg.LogFields{
		"dead_letter_topic":   c.conf.DeadLetterTopic,
		"original_topic":      originalTopic,
		"original_message_id": env.ID,
	})
}

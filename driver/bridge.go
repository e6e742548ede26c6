package driver

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	envelopepkg "github.com/drblury/guardrail/internal/runtime/envelope"
	errspkg "github.com/drblury/guardrail/internal/runtime/errors"
)

// Bridge adapts a Watermill publisher/subscriber pair to the Driver contract.
// Every bundled driver is a Bridge over the matching Watermill transport;
// custom transports only need to hand over their publisher and subscriber.
type Bridge struct {
	name   string
	pub    message.Publisher
	sub    message.Subscriber
	logger watermill.LoggerAdapter

	mu            sync.Mutex
	connected     bool
	subscriptions map[string][]context.CancelFunc
}

// NewBridge wraps the given publisher and subscriber. The name is used for
// logging only.
func NewBridge(name string, pub message.Publisher, sub message.Subscriber, logger watermill.LoggerAdapter) *Bridge {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Bridge{
		name:          name,
		pub:           pub,
		sub:           sub,
		logger:        logger.With(watermill.LogFields{"driver": name}),
		subscriptions: make(map[string][]context.CancelFunc),
	}
}

// Connect marks the bridge usable. Watermill transports establish their
// connections when constructed, so this only flips the gate that Publish and
// Subscribe check.
func (b *Bridge) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	b.logger.Debug("Driver connected", nil)
	return nil
}

// Disconnect cancels all subscriptions and closes the underlying transport.
func (b *Bridge) Disconnect() error {
	b.mu.Lock()
	for topic, cancels := range b.subscriptions {
		for _, cancel := range cancels {
			cancel()
		}
		delete(b.subscriptions, topic)
	}
	b.connected = false
	b.mu.Unlock()

	var pubErr, subErr error
	if b.pub != nil {
		pubErr = b.pub.Close()
	}
	if b.sub != nil {
		subErr = b.sub.Close()
	}
	if pubErr != nil {
		return pubErr
	}
	return subErr
}

// IsConnected reports whether Connect has been called without a later
// Disconnect.
func (b *Bridge) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Publish serializes the envelope and hands it to the Watermill publisher.
func (b *Bridge) Publish(ctx context.Context, topic string, env *envelopepkg.Envelope) error {
	if !b.IsConnected() {
		return errspkg.ErrNotConnected
	}

	payload, err := envelopepkg.Marshal(env)
	if err != nil {
		return err
	}

	msg := message.NewMessage(env.ID, payload)
	msg.Metadata.Set(envelopepkg.MetadataKeyCorrelationID, env.CorrelationID())
	for k, v := range env.Attributes {
		msg.Metadata.Set(k, v)
	}
	msg.SetContext(ctx)

	return b.pub.Publish(topic, msg)
}

// Subscribe starts a consume loop for the topic. Each call registers an
// independent consumer, so a topic can carry several handlers. Handler errors
// nack the message so the backend can redeliver; everything else is acked.
func (b *Bridge) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	if handler == nil {
		return errspkg.ErrHandlerRequired
	}
	if !b.IsConnected() {
		return errspkg.ErrNotConnected
	}

	subCtx, cancel := context.WithCancel(ctx)
	messages, err := b.sub.Subscribe(subCtx, topic)
	if err != nil {
		cancel()
		return err
	}

	b.mu.Lock()
	b.subscriptions[topic] = append(b.subscriptions[topic], cancel)
	b.mu.Unlock()

	go b.consume(subCtx, topic, messages, handler)
	return nil
}

func (b *Bridge) consume(ctx context.Context, topic string, messages <-chan *message.Message, handler MessageHandler) {
	for msg := range messages {
		env, err := envelopepkg.Unmarshal(msg.Payload)
		if err != nil {
			// An unparseable payload will never succeed on redelivery.
			b.logger.Error("Dropping undecodable message", err, watermill.LogFields{
				"topic":        topic,
				"message_uuid": msg.UUID,
			})
			msg.Ack()
			continue
		}

		if err := handler(msg.Context(), env); err != nil {
			msg.Nack()
			continue
		}
		msg.Ack()
	}
}

// Unsubscribe stops delivery for the topic by cancelling all of its consume
// loops.
func (b *Bridge) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cancels, ok := b.subscriptions[topic]
	if !ok {
		return nil
	}
	for _, cancel := range cancels {
		cancel()
	}
	delete(b.subscriptions, topic)
	return nil
}

// SubscribedTopics lists the topics with an active consume loop.
func (b *Bridge) SubscribedTopics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	topics := make([]string, 0, len(b.subscriptions))
	for topic := range b.subscriptions {
		topics = append(topics, topic)
	}
	return topics
}

// Package envelope provides the canonical wire-independent representation of
// a message and the helpers that produce and validate it.
package envelope

import (
	"time"

	errspkg "github.com/drblury/guardrail/internal/runtime/errors"
	idspkg "github.com/drblury/guardrail/internal/runtime/ids"
	"github.com/drblury/guardrail/internal/runtime/jsoncodec"
)

// MetadataKeyCorrelationID is the metadata key carrying the correlation id.
const MetadataKeyCorrelationID = "correlation_id"

// Envelope is the canonical representation of an outbound or inbound message.
// It is immutable once constructed: the client builds one per publish call and
// owns it until it is handed to the driver.
type Envelope struct {
	ID         string            `json:"id"`
	Topic      string            `json:"topic"`
	Data       any               `json:"data"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]any    `json:"metadata"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// BuildOptions control optional envelope fields.
type BuildOptions struct {
	Metadata   map[string]any
	Attributes map[string]string
	// DisableCorrelationID skips generating a correlation id when the caller
	// did not supply one in Metadata.
	DisableCorrelationID bool
}

// Build produces a complete envelope for the given (already namespaced) topic
// and payload. The message id is a ULID; the correlation id is generated only
// when enabled and not supplied by the caller.
func Build(topic string, data any, opts BuildOptions) *Envelope {
	metadata := make(map[string]any, len(opts.Metadata)+1)
	for k, v := range opts.Metadata {
		metadata[k] = v
	}
	if _, ok := metadata[MetadataKeyCorrelationID]; !ok && !opts.DisableCorrelationID {
		metadata[MetadataKeyCorrelationID] = idspkg.NewCorrelationID()
	}

	var attributes map[string]string
	if len(opts.Attributes) > 0 {
		attributes = make(map[string]string, len(opts.Attributes))
		for k, v := range opts.Attributes {
			attributes[k] = v
		}
	}

	return &Envelope{
		ID:         idspkg.NewMessageID(),
		Topic:      topic,
		Data:       data,
		Timestamp:  time.Now().UTC(),
		Metadata:   metadata,
		Attributes: attributes,
	}
}

// CorrelationID returns the correlation id carried in the metadata, or "".
func (e *Envelope) CorrelationID() string {
	if e == nil || e.Metadata == nil {
		return ""
	}
	if v, ok := e.Metadata[MetadataKeyCorrelationID].(string); ok {
		return v
	}
	return ""
}

// Marshal serializes the envelope for the wire.
func Marshal(e *Envelope) ([]byte, error) {
	return jsoncodec.Marshal(e)
}

// Unmarshal decodes a wire payload back into an envelope.
func Unmarshal(payload []byte) (*Envelope, error) {
	var e Envelope
	if err := jsoncodec.Unmarshal(payload, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// ValidateSize serializes data to measure its byte size and fails when a
// positive limit is exceeded. The check runs before any backend call, so no
// partial send is possible. The measured size is returned for metrics.
func ValidateSize(topic string, data any, limit int) (int, error) {
	payload, err := jsoncodec.Marshal(data)
	if err != nil {
		return 0, err
	}
	size := len(payload)
	if limit > 0 && size > limit {
		return size, &errspkg.MessageTooLargeError{Topic: topic, Size: size, Limit: limit}
	}
	return size, nil
}

// ApplyNamespace prefixes the topic with the configured namespace. It is a
// pure function; an empty namespace leaves the topic untouched.
func ApplyNamespace(namespace, topic string) string {
	if namespace == "" {
		return topic
	}
	return namespace + "." + topic
}

package guardrail

import (
	"context"
	"errors"
	"testing"
)

func TestClientExportsPropagateErrors(t *testing.T) {
	if _, err := NewClient(context.Background(), nil, nil, Dependencies{}); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestEncodingExportAliases(t *testing.T) {
	payload := map[string]string{"hello": "world"}
	if _, err := Marshal(payload); err != nil {
		t.Fatalf("marshal alias failed: %v", err)
	}
	if _, err := MarshalIndent(payload, "", "  "); err != nil {
		t.Fatalf("marshal indent alias failed: %v", err)
	}
	if err := Unmarshal([]byte(`{"hello":"world"}`), &payload); err != nil {
		t.Fatalf("unmarshal alias failed: %v", err)
	}
}

func TestEnvelopeExports(t *testing.T) {
	env := BuildEnvelope("orders", "payload", BuildOptions{})
	if env.ID == "" {
		t.Fatal("expected generated message id")
	}

	data, err := MarshalEnvelope(env)
	if err != nil {
		t.Fatalf("marshal envelope failed: %v", err)
	}
	decoded, err := UnmarshalEnvelope(data)
	if err != nil {
		t.Fatalf("unmarshal envelope failed: %v", err)
	}
	if decoded.ID != env.ID {
		t.Fatalf("expected id %q, got %q", env.ID, decoded.ID)
	}
}

func TestIDExports(t *testing.T) {
	if NewMessageID() == NewMessageID() {
		t.Fatal("message ids should be unique")
	}
	if NewCorrelationID() == "" {
		t.Fatal("expected correlation id")
	}
}

func TestSentinelExports(t *testing.T) {
	for _, err := range []error{
		ErrDriverRequired, ErrTopicRequired, ErrHandlerRequired,
		ErrDataRequired, ErrNotConnected, ErrCircuitOpen,
	} {
		if err == nil {
			t.Fatal("sentinel should not be nil")
		}
		if !errors.Is(err, err) {
			t.Fatal("sentinel should match itself")
		}
	}
}

func TestNamespaceExport(t *testing.T) {
	if got := ApplyNamespace("prod", "orders"); got != "prod.orders" {
		t.Fatalf("unexpected namespaced topic %q", got)
	}
}

package envelope

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/guardrail/internal/runtime/errors"
)

func TestBuild_PopulatesAllFields(t *testing.T) {
	before := time.Now().UTC()
	env := Build("orders", map[string]string{"sku": "A-1"}, BuildOptions{})

	assert.NotEmpty(t, env.ID)
	assert.Equal(t, "orders", env.Topic)
	assert.NotNil(t, env.Data)
	assert.False(t, env.Timestamp.Before(before))
	assert.NotEmpty(t, env.CorrelationID())
}

func TestBuild_UniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		env := Build("t", "x", BuildOptions{})
		require.False(t, seen[env.ID], "duplicate id %s", env.ID)
		seen[env.ID] = true
	}
}

func TestBuild_CallerCorrelationIDWins(t *testing.T) {
	env := Build("orders", "x", BuildOptions{
		Metadata: map[string]any{MetadataKeyCorrelationID: "my-id"},
	})

	assert.Equal(t, "my-id", env.CorrelationID())
}

func TestBuild_DisableCorrelationID(t *testing.T) {
	env := Build("orders", "x", BuildOptions{DisableCorrelationID: true})

	assert.Empty(t, env.CorrelationID())
}

func TestBuild_CopiesMetadataAndAttributes(t *testing.T) {
	metadata := map[string]any{"k": "v"}
	attributes := map[string]string{"a": "b"}
	env := Build("orders", "x", BuildOptions{Metadata: metadata, Attributes: attributes})

	metadata["k"] = "mutated"
	attributes["a"] = "mutated"

	assert.Equal(t, "v", env.Metadata["k"])
	assert.Equal(t, "b", env.Attributes["a"])
}

func TestCorrelationID_NilSafe(t *testing.T) {
	var env *Envelope
	assert.Empty(t, env.CorrelationID())
	assert.Empty(t, (&Envelope{}).CorrelationID())
}

func TestMarshalRoundtrip(t *testing.T) {
	env := Build("orders", map[string]any{"sku": "A-1", "qty": 2.0}, BuildOptions{
		Attributes: map[string]string{"priority": "high"},
	})

	payload, err := Marshal(env)
	require.NoError(t, err)

	decoded, err := Unmarshal(payload)
	require.NoError(t, err)
	assert.Equal(t, env.ID, decoded.ID)
	assert.Equal(t, env.Topic, decoded.Topic)
	assert.Equal(t, env.CorrelationID(), decoded.CorrelationID())
	assert.Equal(t, "high", decoded.Attributes["priority"])
}

func TestUnmarshal_Garbage(t *testing.T) {
	_, err := Unmarshal([]byte("{not json"))
	assert.Error(t, err)
}

func TestValidateSize_UnderLimit(t *testing.T) {
	size, err := ValidateSize("orders", "small", 1024)
	require.NoError(t, err)
	assert.Greater(t, size, 0)
}

func TestValidateSize_OverLimit(t *testing.T) {
	big := strings.Repeat("x", 2048)
	size, err := ValidateSize("orders", big, 1024)
	require.Error(t, err)

	var tooLarge *errspkg.MessageTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, "orders", tooLarge.Topic)
	assert.Equal(t, size, tooLarge.Size)
	assert.Equal(t, 1024, tooLarge.Limit)
}

func TestValidateSize_ZeroLimitDisablesCheck(t *testing.T) {
	big := strings.Repeat("x", 1<<20)
	_, err := ValidateSize("orders", big, 0)
	assert.NoError(t, err)
}

func TestApplyNamespace(t *testing.T) {
	assert.Equal(t, "orders", ApplyNamespace("", "orders"))
	assert.Equal(t, "prod.orders", ApplyNamespace("prod", "orders"))
	assert.Equal(t, "prod.eu.orders", ApplyNamespace("prod.eu", "orders"))
}

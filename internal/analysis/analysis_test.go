package analysis

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFallback_Deterministic(t *testing.T) {
	a, err := json.Marshal(Fallback())
	require.NoError(t, err)
	b, err := json.Marshal(Fallback())
	require.NoError(t, err)
	require.Equal(t, string(a), string(b))

	f := Fallback()
	require.Equal(t, QualityCold, f.Quality)
	require.Zero(t, f.Confidence)
	require.False(t, f.IsSupportRequest)
	require.Equal(t, StageInitial, f.Stage)
	require.NotNil(t, f.Entities.ProductInterest)
	require.Empty(t, f.Entities.ProductInterest)
	require.Equal(t, FallbackReply, f.SuggestedReply)
	require.Contains(t, string(a), `"product_interest":[]`)
}

func TestFallback_IsIndependentCopy(t *testing.T) {
	f := Fallback()
	f.Entities.ProductInterest = append(f.Entities.ProductInterest, "sofa")
	require.Empty(t, Fallback().Entities.ProductInterest)
}

func TestEnumsValid(t *testing.T) {
	require.True(t, QualityWarm.Valid())
	require.False(t, Quality("HOT").Valid())
	require.True(t, StageGathering.Valid())
	require.False(t, Stage("closing").Valid())
	require.True(t, UrgencyNone.Valid())
	require.False(t, Urgency("asap").Valid())
}

func TestIsGenericIntent(t *testing.T) {
	require.True(t, IsGenericIntent(""))
	require.True(t, IsGenericIntent("  Saludo_Inicial "))
	require.True(t, IsGenericIntent("greeting"))
	require.False(t, IsGenericIntent("compra_sofa_modular"))
}

func TestSchema_StrictShape(t *testing.T) {
	m, raw, err := Schema()
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	require.Equal(t, "object", m["type"])
	require.Equal(t, false, m["additionalProperties"])
	require.ElementsMatch(t,
		[]string{"confidence", "conversation_stage", "entities", "intent", "is_support_request", "quality", "suggested_reply"},
		m["required"],
	)

	props := m["properties"].(map[string]any)
	entities := props["entities"].(map[string]any)
	require.Equal(t, false, entities["additionalProperties"])
	require.Contains(t, entities["required"], "product_interest")
	require.Contains(t, raw, `"ready_for_lead"`)
}

package decision

import (
	"encoding/json"
	"testing"

	"github.com/MikeSquared-Agency/closer/internal/analysis"
	"github.com/MikeSquared-Agency/closer/internal/conversation"
	"github.com/stretchr/testify/require"
)

func sufficientFacts() conversation.Facts {
	return conversation.Facts{
		Name:            "María",
		ProductInterest: []string{"sofá de 3 puestos"},
		SpecificNeeds:   []string{"compra_sofa"},
	}
}

func hot(conf float64) analysis.Analysis {
	a := analysis.Fallback()
	a.Quality = analysis.QualityHot
	a.Confidence = conf
	a.SuggestedReply = ""
	return a
}

func TestDecide_SupportDominates(t *testing.T) {
	e := New(DefaultPolicy())
	for _, q := range []analysis.Quality{analysis.QualityHot, analysis.QualityWarm, analysis.QualityCold} {
		for _, conf := range []float64{0, 0.5, 0.7, 1} {
			a := hot(conf)
			a.Quality = q
			a.IsSupportRequest = true

			d := e.Decide(a, sufficientFacts())
			require.Equal(t, TransferToSupport, d.Action)
			require.Equal(t, RuleSupportRequest, d.Rule)
			require.Equal(t, SupportReply, d.Reply)
		}
	}
}

func TestDecide_Rules(t *testing.T) {
	e := New(DefaultPolicy())

	warm := func(conf float64) analysis.Analysis {
		a := hot(conf)
		a.Quality = analysis.QualityWarm
		return a
	}

	tests := []struct {
		name   string
		a      analysis.Analysis
		facts  conversation.Facts
		action Action
		rule   Rule
	}{
		{"hot sufficient at threshold", hot(0.7), sufficientFacts(), CreateLeadImmediate, RuleHotLead},
		{"hot below threshold", hot(0.69), sufficientFacts(), EducateAndBuildInterest, RuleDefault},
		{"hot insufficient facts", hot(0.95), conversation.Facts{Name: "Ana"}, EducateAndBuildInterest, RuleDefault},
		{"warm at threshold", warm(0.5), conversation.Facts{}, NurtureAndQualify, RuleWarmLead},
		{"warm below threshold", warm(0.49), sufficientFacts(), EducateAndBuildInterest, RuleDefault},
		{"cold", analysis.Fallback(), sufficientFacts(), EducateAndBuildInterest, RuleDefault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Decide(tt.a, tt.facts)
			require.Equal(t, tt.action, d.Action)
			require.Equal(t, tt.rule, d.Rule)
			require.NotEmpty(t, d.Reply)
		})
	}
}

func TestDecide_ConfigurableThresholds(t *testing.T) {
	e := New(Policy{HotConfidence: 0.9, WarmConfidence: 0.8})

	require.Equal(t, EducateAndBuildInterest, e.Decide(hot(0.85), sufficientFacts()).Action)
	require.Equal(t, CreateLeadImmediate, e.Decide(hot(0.9), sufficientFacts()).Action)
}

func TestHasSufficientInfo(t *testing.T) {
	require.True(t, HasSufficientInfo(sufficientFacts()))

	emailOnly := sufficientFacts()
	emailOnly.Name, emailOnly.Email = "", "maria@example.com"
	require.True(t, HasSufficientInfo(emailOnly))

	noContact := sufficientFacts()
	noContact.Name = ""
	require.False(t, HasSufficientInfo(noContact))

	noInterest := sufficientFacts()
	noInterest.ProductInterest = nil
	require.False(t, HasSufficientInfo(noInterest))

	noIntent := sufficientFacts()
	noIntent.SpecificNeeds = nil
	require.False(t, HasSufficientInfo(noIntent))
}

func TestReplies(t *testing.T) {
	e := New(DefaultPolicy())

	a := hot(0.9)
	a.SuggestedReply = "  Respuesta del modelo "
	require.Equal(t, "Respuesta del modelo", e.Decide(a, sufficientFacts()).Reply)

	d := e.Decide(hot(0.9), sufficientFacts())
	require.Equal(t, "¡Gracias, María! Ya registramos tu interés en sofá de 3 puestos. Un asesor te contactará muy pronto.", d.Reply)

	require.Equal(t, analysis.FallbackReply, e.Decide(hot(0.1), conversation.Facts{}).Reply)
}

func TestNextQuestion(t *testing.T) {
	f := conversation.Facts{}
	require.Equal(t, askContactReply, NextQuestion(f))

	f.Name = "Ana"
	require.Equal(t, askInterestReply, NextQuestion(f))

	f.ProductInterest = []string{"mesa"}
	require.Equal(t, askBudgetReply, NextQuestion(f))

	f.BudgetRange = "$500"
	require.Equal(t, askLocationReply, NextQuestion(f))

	f.Location = "Lima"
	require.Equal(t, askUrgencyReply, NextQuestion(f))
}

func TestActionAndRuleText(t *testing.T) {
	b, err := json.Marshal(Decision{Action: CreateLeadImmediate, Rule: RuleHotLead})
	require.NoError(t, err)
	require.JSONEq(t, `{"action":"create_lead_immediate","rule":"hot_lead","reply":""}`, string(b))

	_, err = Action(0).MarshalText()
	require.Error(t, err)
	require.Equal(t, "action(0)", Action(0).String())
	require.Equal(t, "default", RuleDefault.String())
}

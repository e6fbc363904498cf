// Package analysis holds the classification result shared by the classifier,
// the conversation store and the decision engine.
package analysis

import (
	"strings"
)

type Quality string

const (
	QualityHot  Quality = "hot"
	QualityWarm Quality = "warm"
	QualityCold Quality = "cold"
)

func (q Quality) Valid() bool {
	switch q {
	case QualityHot, QualityWarm, QualityCold:
		return true
	}
	return false
}

type Stage string

const (
	StageInitial       Stage = "initial"
	StageQualification Stage = "qualification"
	StageGathering     Stage = "gathering_info"
	StageReadyForLead  Stage = "ready_for_lead"
	StageSupport       Stage = "support"
)

func (s Stage) Valid() bool {
	switch s {
	case StageInitial, StageQualification, StageGathering, StageReadyForLead, StageSupport:
		return true
	}
	return false
}

type Urgency string

const (
	UrgencyNone   Urgency = ""
	UrgencyHigh   Urgency = "high"
	UrgencyMedium Urgency = "medium"
	UrgencyLow    Urgency = "low"
)

func (u Urgency) Valid() bool {
	switch u {
	case UrgencyNone, UrgencyHigh, UrgencyMedium, UrgencyLow:
		return true
	}
	return false
}

// Entities are the facts the oracle pulled out of a single message. Empty
// strings mean "not mentioned".
type Entities struct {
	Name            string   `json:"name"`
	Email           string   `json:"email"`
	Phone           string   `json:"phone"`
	Location        string   `json:"location"`
	BudgetRange     string   `json:"budget_range"`
	Urgency         Urgency  `json:"urgency" jsonschema:"enum=high,enum=medium,enum=low,enum="`
	ProductInterest []string `json:"product_interest"`
}

// Analysis is the validated classification of one inbound message. Every
// field is always populated; the classifier substitutes Fallback when the
// oracle output cannot be trusted.
type Analysis struct {
	Quality          Quality  `json:"quality" jsonschema:"enum=hot,enum=warm,enum=cold"`
	Intent           string   `json:"intent"`
	Entities         Entities `json:"entities"`
	Confidence       float64  `json:"confidence" jsonschema:"minimum=0,maximum=1"`
	IsSupportRequest bool     `json:"is_support_request"`
	Stage            Stage    `json:"conversation_stage" jsonschema:"enum=initial,enum=qualification,enum=gathering_info,enum=ready_for_lead,enum=support"`
	SuggestedReply   string   `json:"suggested_reply"`
}

const FallbackReply = "¡Hola! ¿En qué puedo ayudarte hoy?"

// Fallback is the conservative analysis used whenever the oracle fails.
// It always returns the same value.
func Fallback() Analysis {
	return Analysis{
		Quality:    QualityCold,
		Confidence: 0,
		Entities: Entities{
			ProductInterest: []string{},
		},
		IsSupportRequest: false,
		Stage:            StageInitial,
		SuggestedReply:   FallbackReply,
	}
}

var genericIntents = map[string]struct{}{
	"":                 {},
	"saludo":           {},
	"saludo_inicial":   {},
	"greeting":         {},
	"unknown":          {},
	"general":          {},
	"consulta_general": {},
	"n/a":              {},
	"none":             {},
}

// IsGenericIntent reports whether an intent carries no qualifying signal,
// e.g. a bare greeting.
func IsGenericIntent(intent string) bool {
	_, ok := genericIntents[strings.ToLower(strings.TrimSpace(intent))]
	return ok
}

// Package decision maps a validated analysis and the consolidated facts to
// exactly one next action and the reply to send.
package decision

import (
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/closer/internal/analysis"
	"github.com/MikeSquared-Agency/closer/internal/conversation"
)

type Action uint8

const (
	TransferToSupport Action = iota + 1
	CreateLeadImmediate
	NurtureAndQualify
	EducateAndBuildInterest
)

var actionNames = map[Action]string{
	TransferToSupport:       "transfer_to_support",
	CreateLeadImmediate:     "create_lead_immediate",
	NurtureAndQualify:       "nurture_and_qualify",
	EducateAndBuildInterest: "educate_and_build_interest",
}

func (a Action) String() string {
	if s, ok := actionNames[a]; ok {
		return s
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

func (a Action) MarshalText() ([]byte, error) {
	s, ok := actionNames[a]
	if !ok {
		return nil, fmt.Errorf("unknown action %d", uint8(a))
	}
	return []byte(s), nil
}

// Rule names the rule that produced a decision.
type Rule uint8

const (
	RuleSupportRequest Rule = iota + 1
	RuleHotLead
	RuleWarmLead
	RuleDefault
)

var ruleNames = map[Rule]string{
	RuleSupportRequest: "support_request",
	RuleHotLead:        "hot_lead",
	RuleWarmLead:       "warm_lead",
	RuleDefault:        "default",
}

func (r Rule) String() string {
	if s, ok := ruleNames[r]; ok {
		return s
	}
	return fmt.Sprintf("rule(%d)", uint8(r))
}

func (r Rule) MarshalText() ([]byte, error) {
	s, ok := ruleNames[r]
	if !ok {
		return nil, fmt.Errorf("unknown rule %d", uint8(r))
	}
	return []byte(s), nil
}

// Policy holds the confidence thresholds. They are business constants and
// overridable per deployment.
type Policy struct {
	HotConfidence  float64
	WarmConfidence float64
}

func DefaultPolicy() Policy {
	return Policy{HotConfidence: 0.7, WarmConfidence: 0.5}
}

type Decision struct {
	Action Action `json:"action"`
	Rule   Rule   `json:"rule"`
	Reply  string `json:"reply"`
}

type Engine struct {
	policy Policy
}

func New(policy Policy) *Engine {
	return &Engine{policy: policy}
}

// HasSufficientInfo requires a contact signal, a product interest and a
// specific intent.
func HasSufficientInfo(f conversation.Facts) bool {
	return f.Sufficient()
}

// Decide evaluates the rules in priority order; the first match wins.
// Support always dominates quality and confidence.
func (e *Engine) Decide(a analysis.Analysis, f conversation.Facts) Decision {
	switch {
	case a.IsSupportRequest:
		return Decision{Action: TransferToSupport, Rule: RuleSupportRequest, Reply: SupportReply}
	case a.Quality == analysis.QualityHot && a.Confidence >= e.policy.HotConfidence && HasSufficientInfo(f):
		return Decision{Action: CreateLeadImmediate, Rule: RuleHotLead, Reply: createReply(a, f)}
	case a.Quality == analysis.QualityWarm && a.Confidence >= e.policy.WarmConfidence:
		return Decision{Action: NurtureAndQualify, Rule: RuleWarmLead, Reply: nurtureReply(a, f)}
	default:
		return Decision{Action: EducateAndBuildInterest, Rule: RuleDefault, Reply: educateReply(a)}
	}
}

const (
	SupportReply      = "Entiendo tu consulta. Te voy a conectar con nuestro equipo de soporte para resolver tu situación."
	askContactReply   = "Me encantaría ayudarte. ¿Podrías compartirme tu nombre para personalizar mejor la atención?"
	askInterestReply  = "¿Qué tipo de muebles te interesan específicamente?"
	askBudgetReply    = "¿Tienes algún presupuesto en mente?"
	askLocationReply  = "¿En qué ciudad te encuentras?"
	askUrgencyReply   = "¿Es urgente o tienes tiempo para evaluar opciones?"
	clarifyReply      = analysis.FallbackReply
	createReplyFormat = "¡Gracias%s! Ya registramos tu interés en %s. Un asesor te contactará muy pronto."
)

func createReply(a analysis.Analysis, f conversation.Facts) string {
	if r := strings.TrimSpace(a.SuggestedReply); r != "" {
		return r
	}
	name := ""
	if f.Name != "" {
		name = ", " + f.Name
	}
	return fmt.Sprintf(createReplyFormat, name, strings.Join(f.ProductInterest, ", "))
}

func nurtureReply(a analysis.Analysis, f conversation.Facts) string {
	if r := strings.TrimSpace(a.SuggestedReply); r != "" {
		return r
	}
	return NextQuestion(f)
}

func educateReply(a analysis.Analysis) string {
	if r := strings.TrimSpace(a.SuggestedReply); r != "" {
		return r
	}
	return clarifyReply
}

// NextQuestion asks for the first missing piece of information: contact,
// then interest, then budget, location and urgency.
func NextQuestion(f conversation.Facts) string {
	switch {
	case !f.HasContact():
		return askContactReply
	case !f.HasInterest():
		return askInterestReply
	case f.BudgetRange == "":
		return askBudgetReply
	case f.Location == "":
		return askLocationReply
	case f.Urgency == analysis.UrgencyNone:
		return askUrgencyReply
	default:
		return askBudgetReply
	}
}

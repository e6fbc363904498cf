package conversation

import (
	"math"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/closer/internal/analysis"
)

type Author string

const (
	AuthorSender    Author = "sender"
	AuthorAssistant Author = "assistant"
	AuthorSystem    Author = "system"
)

// Turn is one entry in a sender's history. Analysis is only set on sender
// turns and LeadID only on the system turn written when a lead is created.
type Turn struct {
	Timestamp time.Time          `json:"timestamp"`
	Author    Author             `json:"author"`
	Text      string             `json:"text"`
	Analysis  *analysis.Analysis `json:"analysis,omitempty"`
	LeadID    int64              `json:"lead_id,omitempty"`
}

// Facts is the consolidated view of everything extracted from a history.
// It is recomputed from the retained turns on top of the base folded out of
// evicted ones.
type Facts struct {
	Name             string           `json:"name"`
	Email            string           `json:"email"`
	Location         string           `json:"location"`
	BudgetRange      string           `json:"budget_range"`
	Urgency          analysis.Urgency `json:"urgency"`
	ProductInterest  []string         `json:"product_interest"`
	SpecificNeeds    []string         `json:"specific_needs"`
	IsSupportRequest bool             `json:"is_support_request"`
}

func (f Facts) HasContact() bool  { return f.Name != "" || f.Email != "" }
func (f Facts) HasInterest() bool { return len(f.ProductInterest) > 0 }
func (f Facts) HasIntent() bool   { return len(f.SpecificNeeds) > 0 }

// Sufficient reports whether the facts carry a contact signal, a product
// interest and a specific intent.
func (f Facts) Sufficient() bool {
	return f.HasContact() && f.HasInterest() && f.HasIntent()
}

// Completeness scores data coverage in [0,1]: 70% for name, interest and
// intent, 30% for email, location, budget and urgency.
func (f Facts) Completeness() float64 {
	required := 0
	for _, ok := range []bool{f.Name != "", f.HasInterest(), f.HasIntent()} {
		if ok {
			required++
		}
	}
	optional := 0
	for _, ok := range []bool{f.Email != "", f.Location != "", f.BudgetRange != "", f.Urgency != ""} {
		if ok {
			optional++
		}
	}
	score := float64(required)/3*0.7 + float64(optional)/4*0.3
	return math.Round(score*100) / 100
}

// Consolidate scans turns oldest to newest. Scalars keep the last non-empty
// value, product interest only grows, and every distinct non-generic intent
// is recorded once. The support flag follows the most recent analyzed turn.
func Consolidate(turns []Turn) Facts {
	return ConsolidateFrom(Facts{}, turns)
}

// ConsolidateFrom applies turns on top of base with the same rules as
// Consolidate. The result is a superset of base.
func ConsolidateFrom(base Facts, turns []Turn) Facts {
	f := base
	f.ProductInterest = append([]string{}, base.ProductInterest...)
	f.SpecificNeeds = append([]string{}, base.SpecificNeeds...)

	seenProducts := make(map[string]struct{}, len(f.ProductInterest))
	for _, p := range f.ProductInterest {
		seenProducts[strings.ToLower(p)] = struct{}{}
	}
	seenIntents := make(map[string]struct{}, len(f.SpecificNeeds))
	for _, i := range f.SpecificNeeds {
		seenIntents[i] = struct{}{}
	}

	for _, t := range turns {
		a := t.Analysis
		if a == nil {
			continue
		}
		e := a.Entities

		f.Name = latest(f.Name, e.Name)
		f.Email = latest(f.Email, e.Email)
		f.Location = latest(f.Location, e.Location)
		f.BudgetRange = latest(f.BudgetRange, e.BudgetRange)
		if e.Urgency != analysis.UrgencyNone {
			f.Urgency = e.Urgency
		}

		for _, p := range e.ProductInterest {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			key := strings.ToLower(p)
			if _, ok := seenProducts[key]; ok {
				continue
			}
			seenProducts[key] = struct{}{}
			f.ProductInterest = append(f.ProductInterest, p)
		}

		intent := strings.TrimSpace(a.Intent)
		if !analysis.IsGenericIntent(intent) {
			if _, ok := seenIntents[intent]; !ok {
				seenIntents[intent] = struct{}{}
				f.SpecificNeeds = append(f.SpecificNeeds, intent)
			}
		}

		f.IsSupportRequest = a.IsSupportRequest
	}
	return f
}

func latest(current, incoming string) string {
	if v := strings.TrimSpace(incoming); v != "" {
		return v
	}
	return current
}

// DeriveStage applies the stage priority: support, then ready_for_lead,
// then gathering_info, then qualification. An empty history is initial.
func DeriveStage(turns []Turn, f Facts) analysis.Stage {
	if len(turns) == 0 {
		return analysis.StageInitial
	}
	switch {
	case f.IsSupportRequest:
		return analysis.StageSupport
	case f.Sufficient():
		return analysis.StageReadyForLead
	case f.HasInterest() || f.HasIntent():
		return analysis.StageGathering
	default:
		return analysis.StageQualification
	}
}

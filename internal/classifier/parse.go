package classifier

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/closer/internal/analysis"
)

type Reason string

const (
	ReasonOracle    Reason = "oracle_error"
	ReasonTimeout   Reason = "timeout"
	ReasonNoJSON    Reason = "no_json_object"
	ReasonMalformed Reason = "malformed_json"
	ReasonSchema    Reason = "schema_violation"
)

// ClassificationError explains why an oracle response was replaced by the
// fallback analysis.
type ClassificationError struct {
	Reason Reason
	Detail string
	Err    error
}

func (e *ClassificationError) Error() string {
	msg := string(e.Reason)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ClassificationError) Unwrap() error { return e.Err }

func schemaErr(format string, args ...any) *ClassificationError {
	return &ClassificationError{Reason: ReasonSchema, Detail: fmt.Sprintf(format, args...)}
}

// Parse turns raw oracle text into a complete Analysis. Code fences and any
// prose around the outermost JSON object are dropped first. Every failure is
// a *ClassificationError.
func Parse(raw string) (analysis.Analysis, error) {
	body, ok := extractObject(raw)
	if !ok {
		return analysis.Analysis{}, &ClassificationError{Reason: ReasonNoJSON, Detail: truncate(raw, 120)}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return analysis.Analysis{}, &ClassificationError{Reason: ReasonMalformed, Err: err}
	}

	var out analysis.Analysis

	quality, err := requiredString(fields, "quality")
	if err != nil {
		return analysis.Analysis{}, err
	}
	out.Quality = analysis.Quality(strings.ToLower(quality))
	if !out.Quality.Valid() {
		return analysis.Analysis{}, schemaErr("quality %q not in hot|warm|cold", quality)
	}

	if out.Intent, err = requiredString(fields, "intent"); err != nil {
		return analysis.Analysis{}, err
	}

	rawConf, ok := fields["confidence"]
	if !ok {
		return analysis.Analysis{}, schemaErr("missing confidence")
	}
	if kindOf(rawConf) != "number" {
		return analysis.Analysis{}, schemaErr("confidence must be a number")
	}
	if err := json.Unmarshal(rawConf, &out.Confidence); err != nil {
		return analysis.Analysis{}, schemaErr("confidence: %v", err)
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return analysis.Analysis{}, schemaErr("confidence %v out of [0,1]", out.Confidence)
	}

	rawSupport, ok := fields["is_support_request"]
	if !ok {
		return analysis.Analysis{}, schemaErr("missing is_support_request")
	}
	if err := decodeKind(rawSupport, "bool", "is_support_request must be a boolean", &out.IsSupportRequest); err != nil {
		return analysis.Analysis{}, err
	}

	stage, err := requiredString(fields, "conversation_stage")
	if err != nil {
		return analysis.Analysis{}, err
	}
	out.Stage = analysis.Stage(strings.ToLower(stage))
	if !out.Stage.Valid() {
		return analysis.Analysis{}, schemaErr("conversation_stage %q unknown", stage)
	}

	if out.SuggestedReply, err = requiredString(fields, "suggested_reply"); err != nil {
		return analysis.Analysis{}, err
	}

	rawEntities, ok := fields["entities"]
	if !ok {
		return analysis.Analysis{}, schemaErr("missing entities")
	}
	if kindOf(rawEntities) != "object" {
		return analysis.Analysis{}, schemaErr("entities must be an object")
	}
	if out.Entities, err = parseEntities(rawEntities); err != nil {
		return analysis.Analysis{}, err
	}

	return out, nil
}

func parseEntities(raw json.RawMessage) (analysis.Entities, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return analysis.Entities{}, &ClassificationError{Reason: ReasonMalformed, Err: err}
	}

	var e analysis.Entities
	targets := []struct {
		key string
		dst *string
	}{
		{"name", &e.Name},
		{"email", &e.Email},
		{"phone", &e.Phone},
		{"location", &e.Location},
		{"budget_range", &e.BudgetRange},
	}
	for _, t := range targets {
		v, err := optionalString(fields, "entities."+t.key, t.key)
		if err != nil {
			return analysis.Entities{}, err
		}
		*t.dst = v
	}

	urgency, err := optionalString(fields, "entities.urgency", "urgency")
	if err != nil {
		return analysis.Entities{}, err
	}
	e.Urgency = analysis.Urgency(strings.ToLower(urgency))
	if !e.Urgency.Valid() {
		return analysis.Entities{}, schemaErr("entities.urgency %q not in high|medium|low", urgency)
	}

	e.ProductInterest = []string{}
	if rawProducts, ok := fields["product_interest"]; ok {
		switch kindOf(rawProducts) {
		case "null":
		case "array":
			var items []json.RawMessage
			if err := json.Unmarshal(rawProducts, &items); err != nil {
				return analysis.Entities{}, &ClassificationError{Reason: ReasonMalformed, Err: err}
			}
			for _, item := range items {
				var p string
				if err := decodeKind(item, "string", "entities.product_interest must contain strings", &p); err != nil {
					return analysis.Entities{}, err
				}
				if p = strings.TrimSpace(p); p != "" {
					e.ProductInterest = append(e.ProductInterest, p)
				}
			}
		default:
			return analysis.Entities{}, schemaErr("entities.product_interest must be an array")
		}
	}
	return e, nil
}

func requiredString(fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := fields[key]
	if !ok {
		return "", schemaErr("missing %s", key)
	}
	if kindOf(raw) != "string" {
		return "", schemaErr("%s must be a string", key)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", &ClassificationError{Reason: ReasonMalformed, Err: err}
	}
	return strings.TrimSpace(s), nil
}

// optionalString accepts a missing key or null as "".
func optionalString(fields map[string]json.RawMessage, label, key string) (string, error) {
	raw, ok := fields[key]
	if !ok {
		return "", nil
	}
	switch kindOf(raw) {
	case "null":
		return "", nil
	case "string":
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", &ClassificationError{Reason: ReasonMalformed, Err: err}
		}
		s = strings.TrimSpace(s)
		if strings.EqualFold(s, "null") {
			return "", nil
		}
		return s, nil
	default:
		return "", schemaErr("%s must be a string", label)
	}
}

// decodeKind unmarshals raw into dst after checking its JSON kind. A kind
// mismatch is a schema violation, a decode failure is malformed JSON.
func decodeKind(raw json.RawMessage, kind, violation string, dst any) error {
	if kindOf(raw) != kind {
		return schemaErr("%s", violation)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &ClassificationError{Reason: ReasonMalformed, Err: err}
	}
	return nil
}

func kindOf(raw json.RawMessage) string {
	b := bytes.TrimSpace(raw)
	if len(b) == 0 {
		return ""
	}
	switch b[0] {
	case '"':
		return "string"
	case '{':
		return "object"
	case '[':
		return "array"
	case 't', 'f':
		return "bool"
	case 'n':
		return "null"
	default:
		return "number"
	}
}

// extractObject strips markdown fences and surrounding prose, returning the
// text between the first '{' and the last '}'.
func extractObject(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.Contains(rest[:nl], "{") {
			rest = rest[nl+1:]
		}
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		s = rest
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// IsClassificationError reports whether err carries a ClassificationError.
func IsClassificationError(err error) bool {
	var ce *ClassificationError
	return errors.As(err, &ce)
}

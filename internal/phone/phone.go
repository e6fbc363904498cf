// Package phone derives the canonical sender identity used as the key for
// conversations and CRM leads.
package phone

import (
	"strings"
	"unicode"
)

// Normalize strips any transport prefix ("whatsapp:", "sms:") and keeps the
// digits. Input without digits falls back to its lower-cased, space-free
// form so that it still yields a stable key. Normalize(Normalize(x)) ==
// Normalize(x).
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}

	var digits strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() > 0 {
		return digits.String()
	}

	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == ':' {
			return -1
		}
		return unicode.ToLower(r)
	}, s)
}

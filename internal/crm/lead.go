// Package crm keeps exactly one lead per normalized phone in the external
// record store, creating it on the first qualifying message and merging
// into it afterwards.
package crm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/closer/internal/analysis"
	"github.com/MikeSquared-Agency/closer/internal/conversation"
)

const Source = "WhatsApp"

var ErrNotFound = errors.New("lead not found")

// Lead is the record store's view of a lead. Empty fields are "unset"; an
// update only writes the non-empty fields it carries.
type Lead struct {
	ID              int64    `json:"id"`
	Title           string   `json:"title"`
	Phone           string   `json:"phone"`
	ContactName     string   `json:"contact_name"`
	Email           string   `json:"email"`
	City            string   `json:"city"`
	Description     string   `json:"description"`
	Priority        string   `json:"priority"`
	ProductInterest []string `json:"product_interest"`
	BudgetRange     string   `json:"budget_range"`
	Quality         string   `json:"quality"`
	Confidence      float64  `json:"confidence"`
	Source          string   `json:"source"`
}

// RecordStore is the external CRM.
type RecordStore interface {
	FindByPhone(ctx context.Context, phone string) (*Lead, error)
	Create(ctx context.Context, lead Lead) (int64, error)
	Update(ctx context.Context, id int64, patch Lead) error
	Ping(ctx context.Context) error
}

// Noter is implemented by record stores that keep a per-lead activity log.
type Noter interface {
	AddNote(ctx context.Context, id int64, html string) error
}

// IsPlaceholder reports whether an existing field value was generated rather
// than provided by the customer, so a real value may replace it.
func IsPlaceholder(v string) bool {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return true
	case strings.EqualFold(v, "N/A"):
		return true
	case strings.HasPrefix(v, "Lead WhatsApp"):
		return true
	case strings.Contains(v, "Sin Nombre"):
		return true
	}
	return false
}

// Title names a lead after the customer and up to two products.
func Title(f conversation.Facts, phone string) string {
	products := f.ProductInterest
	if len(products) > 2 {
		products = products[:2]
	}
	joined := strings.Join(products, ", ")

	switch {
	case f.Name != "" && joined != "":
		return fmt.Sprintf("%s - %s", f.Name, joined)
	case f.Name != "":
		return fmt.Sprintf("%s - Consulta WhatsApp", f.Name)
	case joined != "":
		return fmt.Sprintf("Lead WhatsApp - %s", joined)
	default:
		return fmt.Sprintf("Lead WhatsApp - %s", phone)
	}
}

// Priority maps urgency onto the CRM's star rating.
func Priority(u analysis.Urgency) string {
	switch u {
	case analysis.UrgencyHigh:
		return "3"
	case analysis.UrgencyMedium:
		return "2"
	default:
		return "1"
	}
}

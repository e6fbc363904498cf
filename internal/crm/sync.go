package crm

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/closer/internal/analysis"
	"github.com/MikeSquared-Agency/closer/internal/conversation"
	"github.com/MikeSquared-Agency/closer/internal/keylock"
	"github.com/MikeSquared-Agency/closer/internal/phone"
)

// WriteError is a recoverable record-store failure.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string { return fmt.Sprintf("crm %s: %v", e.Op, e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }

// Result reports the outcome of an upsert. Err is a *WriteError when the
// record store failed; the caller carries on either way.
type Result struct {
	RecordID int64
	Created  bool
	Err      error
}

type Synchronizer struct {
	store   RecordStore
	locks   *keylock.Map
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

func NewSynchronizer(store RecordStore, timeout time.Duration, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{store: store, locks: keylock.New(), timeout: timeout, now: time.Now, logger: logger}
}

// UpsertLead finds the lead for sender's normalized phone and merges into
// it, or creates it when none exists. Calls for the same phone are
// serialized from lookup to write.
func (s *Synchronizer) UpsertLead(ctx context.Context, sender string, f conversation.Facts, message string, a analysis.Analysis) Result {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	number := phone.Normalize(sender)
	if number == "" {
		return s.fail("normalize", fmt.Errorf("sender %q has no usable phone", sender))
	}

	unlock := s.locks.Lock(number)
	defer unlock()

	existing, err := s.store.FindByPhone(ctx, number)
	if err != nil {
		return s.fail("find", err)
	}

	if existing != nil {
		patch := s.mergePatch(*existing, f, number, message, a)
		if err := s.store.Update(ctx, existing.ID, patch); err != nil {
			return s.fail("update", err)
		}
		s.logger.Info("lead updated", "lead_id", existing.ID, "phone", number)
		s.note(ctx, existing.ID, "Lead actualizado con nueva información: "+message, f, a)
		return Result{RecordID: existing.ID}
	}

	lead := s.newLead(number, f, message, a)
	id, err := s.store.Create(ctx, lead)
	if err != nil {
		return s.fail("create", err)
	}
	s.logger.Info("lead created", "lead_id", id, "phone", number, "title", lead.Title)
	s.note(ctx, id, message, f, a)
	return Result{RecordID: id, Created: true}
}

func (s *Synchronizer) fail(op string, err error) Result {
	werr := &WriteError{Op: op, Err: err}
	s.logger.Error("lead sync failed", "op", op, "error", err)
	return Result{Err: werr}
}

func (s *Synchronizer) newLead(number string, f conversation.Facts, message string, a analysis.Analysis) Lead {
	parts := []string{
		fmt.Sprintf("--- Mensaje inicial (%s) ---", s.stamp()),
		"Mensaje original: " + message,
		"Análisis IA: " + orNA(a.Intent),
		"Nivel de interés: " + string(a.Quality),
		"Productos de interés: " + strings.Join(f.ProductInterest, ", "),
	}
	if f.BudgetRange != "" {
		parts = append(parts, "Presupuesto: "+f.BudgetRange)
	}
	if f.Urgency != analysis.UrgencyNone {
		parts = append(parts, "Urgencia: "+string(f.Urgency))
	}

	return Lead{
		Title:           Title(f, number),
		Phone:           number,
		ContactName:     f.Name,
		Email:           f.Email,
		City:            f.Location,
		Description:     strings.Join(parts, "\n"),
		Priority:        Priority(f.Urgency),
		ProductInterest: f.ProductInterest,
		BudgetRange:     f.BudgetRange,
		Quality:         string(a.Quality),
		Confidence:      a.Confidence,
		Source:          Source,
	}
}

// mergePatch builds the fields to write on an existing lead. A field is
// only set when the incoming value is non-empty and the stored one is empty
// or a placeholder. The description always grows by one section.
func (s *Synchronizer) mergePatch(existing Lead, f conversation.Facts, number, message string, a analysis.Analysis) Lead {
	var patch Lead

	if f.Name != "" && IsPlaceholder(existing.Title) {
		patch.Title = Title(f, number)
	}
	patch.ContactName = fill(existing.ContactName, f.Name)
	patch.Email = fill(existing.Email, f.Email)
	patch.City = fill(existing.City, f.Location)
	patch.BudgetRange = fill(existing.BudgetRange, f.BudgetRange)
	if len(existing.ProductInterest) == 0 && len(f.ProductInterest) > 0 {
		patch.ProductInterest = f.ProductInterest
	}
	if (existing.Priority == "" || existing.Priority == "0") && f.Urgency != analysis.UrgencyNone {
		patch.Priority = Priority(f.Urgency)
	}
	patch.Quality = fill(existing.Quality, string(a.Quality))
	if existing.Confidence == 0 && a.Confidence > 0 {
		patch.Confidence = a.Confidence
	}

	section := fmt.Sprintf("--- Nuevo mensaje (%s) ---\n%s\nAnálisis: %s", s.stamp(), message, orNA(a.Intent))
	if strings.TrimSpace(existing.Description) == "" {
		patch.Description = section
	} else {
		patch.Description = existing.Description + "\n\n" + section
	}
	return patch
}

func fill(existing, incoming string) string {
	if incoming != "" && IsPlaceholder(existing) {
		return incoming
	}
	return ""
}

func (s *Synchronizer) note(ctx context.Context, id int64, message string, f conversation.Facts, a analysis.Analysis) {
	noter, ok := s.store.(Noter)
	if !ok {
		return
	}
	body := fmt.Sprintf(
		"<p><strong>Mensaje de WhatsApp:</strong></p><p>%s</p>"+
			"<p><strong>Análisis de IA:</strong></p><ul>"+
			"<li><strong>Intención:</strong> %s</li>"+
			"<li><strong>Calidad:</strong> %s</li>"+
			"<li><strong>Confianza:</strong> %.2f</li>"+
			"<li><strong>Productos de interés:</strong> %s</li></ul>",
		html.EscapeString(message),
		html.EscapeString(orNA(a.Intent)),
		html.EscapeString(string(a.Quality)),
		a.Confidence,
		html.EscapeString(strings.Join(f.ProductInterest, ", ")),
	)
	if err := noter.AddNote(ctx, id, body); err != nil {
		s.logger.Warn("could not add lead note", "lead_id", id, "error", err)
	}
}

func (s *Synchronizer) stamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

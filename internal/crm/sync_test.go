package crm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/closer/internal/analysis"
	"github.com/MikeSquared-Agency/closer/internal/conversation"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSync(store RecordStore) *Synchronizer {
	s := NewSynchronizer(store, time.Second, discardLogger())
	s.now = func() time.Time { return time.Date(2026, 10, 1, 15, 4, 5, 0, time.UTC) }
	return s
}

func hotAnalysis() analysis.Analysis {
	return analysis.Analysis{
		Quality:    analysis.QualityHot,
		Intent:     "compra_sofa",
		Confidence: 0.9,
		Entities: analysis.Entities{
			Name:            "María",
			BudgetRange:     "$2000",
			ProductInterest: []string{"sofá de 3 puestos"},
		},
		Stage: analysis.StageReadyForLead,
	}
}

func mariaFacts() conversation.Facts {
	return conversation.Facts{
		Name:            "María",
		BudgetRange:     "$2000",
		Urgency:         analysis.UrgencyHigh,
		ProductInterest: []string{"sofá de 3 puestos"},
		SpecificNeeds:   []string{"compra_sofa"},
	}
}

func TestUpsertLead_CreatesOnce(t *testing.T) {
	store := NewMemoryStore()
	s := newSync(store)
	ctx := context.Background()

	res := s.UpsertLead(ctx, "whatsapp:+52 1 55 1234 5678", mariaFacts(), "Soy María", hotAnalysis())
	require.NoError(t, res.Err)
	require.True(t, res.Created)

	lead, ok := store.Lead(res.RecordID)
	require.True(t, ok)
	require.Equal(t, "5215512345678", lead.Phone)
	require.Equal(t, "María - sofá de 3 puestos", lead.Title)
	require.Equal(t, "3", lead.Priority)
	require.Equal(t, "WhatsApp", lead.Source)
	require.True(t, strings.HasPrefix(lead.Description, "--- Mensaje inicial (2026-10-01T15:04:05Z) ---\nMensaje original: Soy María"))
	require.Contains(t, lead.Description, "Presupuesto: $2000")
	require.Len(t, store.Notes(res.RecordID), 1)

	again := s.UpsertLead(ctx, "+5215512345678", mariaFacts(), "¿Tienen en gris?", hotAnalysis())
	require.NoError(t, again.Err)
	require.False(t, again.Created)
	require.Equal(t, res.RecordID, again.RecordID)

	creates, updates := store.Counts()
	require.Equal(t, 1, creates)
	require.Equal(t, 1, updates)
}

func TestUpsertLead_MergeRules(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	id, err := store.Create(ctx, Lead{
		Title:       "Lead WhatsApp - 5215512345678",
		Phone:       "5215512345678",
		Email:       "old@example.com",
		City:        "N/A",
		Description: "Mensaje: Hola",
		Priority:    "1",
	})
	require.NoError(t, err)

	f := mariaFacts()
	f.Email = "maria@example.com"
	f.Location = "Guadalajara"

	res := newSync(store).UpsertLead(ctx, "whatsapp:+5215512345678", f, "Soy María", hotAnalysis())
	require.NoError(t, res.Err)
	require.Equal(t, id, res.RecordID)

	lead, _ := store.Lead(id)
	require.Equal(t, "María - sofá de 3 puestos", lead.Title, "placeholder title replaced")
	require.Equal(t, "old@example.com", lead.Email, "real value kept")
	require.Equal(t, "Guadalajara", lead.City, "N/A replaced")
	require.Equal(t, "María", lead.ContactName)
	require.Equal(t, "1", lead.Priority, "existing priority kept")
	require.Equal(t, "Mensaje: Hola\n\n--- Nuevo mensaje (2026-10-01T15:04:05Z) ---\nSoy María\nAnálisis: compra_sofa", lead.Description)
}

func TestUpsertLead_KeepsRealTitle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	id, _ := store.Create(ctx, Lead{Title: "Carlos - mesa", Phone: "5215512345678", ContactName: "Carlos"})

	newSync(store).UpsertLead(ctx, "5215512345678", mariaFacts(), "hola", hotAnalysis())

	lead, _ := store.Lead(id)
	require.Equal(t, "Carlos - mesa", lead.Title)
	require.Equal(t, "Carlos", lead.ContactName)
}

type failingStore struct {
	*MemoryStore
	findErr   error
	createErr error
	delay     time.Duration
}

func (f *failingStore) FindByPhone(ctx context.Context, phone string) (*Lead, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.MemoryStore.FindByPhone(ctx, phone)
}

func (f *failingStore) Create(ctx context.Context, lead Lead) (int64, error) {
	if f.createErr != nil {
		return 0, f.createErr
	}
	return f.MemoryStore.Create(ctx, lead)
}

func TestUpsertLead_ConcurrentSamePhoneCreatesOnce(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(), delay: 20 * time.Millisecond}
	s := newSync(store)

	senders := []string{"whatsapp:+5215512345678", "+52 1 55 1234 5678"}
	results := make([]Result, len(senders))
	var wg sync.WaitGroup
	for i, sender := range senders {
		wg.Add(1)
		go func(i int, sender string) {
			defer wg.Done()
			results[i] = s.UpsertLead(context.Background(), sender, mariaFacts(), "Quiero el sofá", hotAnalysis())
		}(i, sender)
	}
	wg.Wait()

	require.NoError(t, results[0].Err)
	require.NoError(t, results[1].Err)
	require.Equal(t, results[0].RecordID, results[1].RecordID)
	require.NotEqual(t, results[0].Created, results[1].Created)

	creates, updates := store.Counts()
	require.Equal(t, 1, creates)
	require.Equal(t, 1, updates)
}

func TestUpsertLead_WriteFailureIsTyped(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(), createErr: errors.New("odoo 500")}

	res := newSync(store).UpsertLead(context.Background(), "521", mariaFacts(), "hola", hotAnalysis())
	require.Error(t, res.Err)
	require.False(t, res.Created)
	require.Zero(t, res.RecordID)

	var werr *WriteError
	require.ErrorAs(t, res.Err, &werr)
	require.Equal(t, "create", werr.Op)
	require.Contains(t, res.Err.Error(), "odoo 500")
}

func TestUpsertLead_TimeoutIsFailureNotHang(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(), delay: time.Second}
	s := NewSynchronizer(store, 30*time.Millisecond, discardLogger())

	start := time.Now()
	res := s.UpsertLead(context.Background(), "521", mariaFacts(), "hola", hotAnalysis())
	require.Less(t, time.Since(start), 500*time.Millisecond)

	var werr *WriteError
	require.ErrorAs(t, res.Err, &werr)
	require.Equal(t, "find", werr.Op)
	require.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

func TestUpsertLead_EmptySender(t *testing.T) {
	res := newSync(NewMemoryStore()).UpsertLead(context.Background(), "   ", mariaFacts(), "hola", hotAnalysis())
	require.Error(t, res.Err)
}

func TestTitle(t *testing.T) {
	require.Equal(t, "Ana - sofá, mesa", Title(conversation.Facts{Name: "Ana", ProductInterest: []string{"sofá", "mesa", "silla"}}, "1"))
	require.Equal(t, "Ana - Consulta WhatsApp", Title(conversation.Facts{Name: "Ana"}, "1"))
	require.Equal(t, "Lead WhatsApp - sofá", Title(conversation.Facts{ProductInterest: []string{"sofá"}}, "1"))
	require.Equal(t, "Lead WhatsApp - 521", Title(conversation.Facts{}, "521"))
}

func TestPriorityAndPlaceholder(t *testing.T) {
	require.Equal(t, "3", Priority(analysis.UrgencyHigh))
	require.Equal(t, "2", Priority(analysis.UrgencyMedium))
	require.Equal(t, "1", Priority(analysis.UrgencyLow))
	require.Equal(t, "1", Priority(analysis.UrgencyNone))

	require.True(t, IsPlaceholder(""))
	require.True(t, IsPlaceholder("n/a"))
	require.True(t, IsPlaceholder("Lead WhatsApp Sin Nombre"))
	require.True(t, IsPlaceholder("Cliente Sin Nombre"))
	require.False(t, IsPlaceholder("María"))
}

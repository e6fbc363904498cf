package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/closer/internal/analysis"
	"github.com/MikeSquared-Agency/closer/internal/store"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(kv store.KV, historyCap int) *Store {
	return New(kv, Options{HistoryCap: historyCap, TTL: 7 * 24 * time.Hour, ContextWindow: 5}, discardLogger())
}

func TestGetContext_Empty(t *testing.T) {
	s := newTestStore(store.NewMemory(), 50)

	c, err := s.GetContext(context.Background(), "5215512345678")
	require.NoError(t, err)
	require.Equal(t, analysis.StageInitial, c.Stage)
	require.Empty(t, c.Turns)
	require.Zero(t, c.MessageCount)
	require.False(t, c.Completed)
}

func TestAppend_ReturnsPostAppendContext(t *testing.T) {
	s := newTestStore(store.NewMemory(), 50)
	ctx := context.Background()

	a := withEntities("compra_sofa", analysis.Entities{Name: "María", ProductInterest: []string{"sofá de 3 puestos"}, BudgetRange: "$2000"})
	c, err := s.Append(ctx, "521", senderTurn("Soy María", a))
	require.NoError(t, err)

	require.Equal(t, 1, c.MessageCount)
	require.Equal(t, "María", c.Facts.Name)
	require.Equal(t, analysis.StageReadyForLead, c.Stage)
	require.True(t, c.Facts.Sufficient())
}

func TestAppend_CapDropsFromHead(t *testing.T) {
	s := newTestStore(store.NewMemory(), 3)
	ctx := context.Background()

	var c Context
	var err error
	for i := 0; i < 5; i++ {
		c, err = s.Append(ctx, "521", Turn{Author: AuthorAssistant, Text: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
	}

	require.Len(t, c.Turns, 3)
	require.Equal(t, "m2", c.Turns[0].Text)
	require.Equal(t, "m4", c.Turns[2].Text)
}

func TestAppend_CapEvictionKeepsFacts(t *testing.T) {
	kv := store.NewMemory()
	s := newTestStore(kv, 3)
	ctx := context.Background()

	a := withEntities("compra_sofa", analysis.Entities{Name: "María", ProductInterest: []string{"sofá"}})
	c, err := s.Append(ctx, "521", senderTurn("Soy María, quiero un sofá", a))
	require.NoError(t, err)
	require.Equal(t, analysis.StageReadyForLead, c.Stage)

	for i := 0; i < 3; i++ {
		c, err = s.Append(ctx, "521", Turn{Author: AuthorAssistant, Text: fmt.Sprintf("r%d", i)})
		require.NoError(t, err)
	}
	require.Len(t, c.Turns, 3)
	require.Equal(t, "r0", c.Turns[0].Text)
	require.Equal(t, "María", c.Facts.Name)
	require.Equal(t, []string{"sofá"}, c.Facts.ProductInterest)
	require.Equal(t, []string{"compra_sofa"}, c.Facts.SpecificNeeds)
	require.Equal(t, analysis.StageReadyForLead, c.Stage)

	b := withEntities("", analysis.Entities{ProductInterest: []string{"Sofá", "mesa"}})
	c, err = s.Append(ctx, "521", senderTurn("y una mesa", b))
	require.NoError(t, err)
	require.Equal(t, []string{"sofá", "mesa"}, c.Facts.ProductInterest)
	require.Equal(t, "María", c.Facts.Name)

	reopened, err := newTestStore(kv, 3).GetContext(ctx, "521")
	require.NoError(t, err)
	require.Equal(t, c.Facts, reopened.Facts)
	require.Equal(t, analysis.StageReadyForLead, reopened.Stage)
}

func TestAppend_RecentWindow(t *testing.T) {
	s := newTestStore(store.NewMemory(), 50)
	ctx := context.Background()

	var c Context
	for i := 0; i < 8; i++ {
		c, _ = s.Append(ctx, "521", Turn{Author: AuthorSender, Text: fmt.Sprintf("m%d", i)})
	}
	require.Len(t, c.Recent, 5)
	require.Equal(t, "m3", c.Recent[0].Text)
}

func TestAppend_ConcurrentNoLostUpdates(t *testing.T) {
	s := newTestStore(store.NewMemory(), 500)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a := withEntities("", analysis.Entities{ProductInterest: []string{fmt.Sprintf("p%d", i)}})
			if _, err := s.Append(ctx, "521", senderTurn("x", a)); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	c, err := s.GetContext(ctx, "521")
	require.NoError(t, err)
	require.Equal(t, 40, c.MessageCount)
	require.Len(t, c.Facts.ProductInterest, 40)
	require.Zero(t, s.locks.Len())
}

func TestMarkCompleted(t *testing.T) {
	s := newTestStore(store.NewMemory(), 50)
	ctx := context.Background()

	require.NoError(t, s.MarkCompleted(ctx, "521", 77))

	c, err := s.GetContext(ctx, "521")
	require.NoError(t, err)
	require.True(t, c.Completed)
	require.Equal(t, int64(77), c.LeadID)
	require.Len(t, c.Turns, 1)
	require.Equal(t, AuthorSystem, c.Turns[0].Author)
	require.Contains(t, c.Turns[0].Text, "77")

	done, err := s.IsCompleted(ctx, "521")
	require.NoError(t, err)
	require.True(t, done)
}

func TestReset(t *testing.T) {
	s := newTestStore(store.NewMemory(), 50)
	ctx := context.Background()

	_, _ = s.Append(ctx, "521", Turn{Author: AuthorSender, Text: "hola"})
	require.NoError(t, s.MarkCompleted(ctx, "521", 1))
	require.NoError(t, s.Reset(ctx, "521"))

	c, err := s.GetContext(ctx, "521")
	require.NoError(t, err)
	require.Empty(t, c.Turns)
	require.False(t, c.Completed)
}

func TestHistoryExpiresAfterTTL(t *testing.T) {
	kv := store.NewMemory()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	kv.SetClock(func() time.Time { return now })
	s := newTestStore(kv, 50)
	ctx := context.Background()

	_, _ = s.Append(ctx, "521", Turn{Author: AuthorSender, Text: "hola"})
	now = now.Add(7*24*time.Hour + time.Second)

	c, err := s.GetContext(ctx, "521")
	require.NoError(t, err)
	require.Empty(t, c.Turns)
}

func TestSummaryAndStats(t *testing.T) {
	s := newTestStore(store.NewMemory(), 50)
	ctx := context.Background()

	a := withEntities("compra_sofa", analysis.Entities{Name: "Ana", ProductInterest: []string{"sofá"}})
	_, _ = s.Append(ctx, "1", senderTurn("hola", a))
	_, _ = s.Append(ctx, "2", senderTurn("hola", analysis.Fallback()))
	require.NoError(t, s.MarkCompleted(ctx, "1", 9))

	sum, err := s.Summary(ctx, "1")
	require.NoError(t, err)
	require.True(t, sum.Completed)
	require.Equal(t, 2, sum.MessageCount)
	require.InDelta(t, 0.7, sum.Completeness, 1e-9)
	require.NotNil(t, sum.LastInteraction)
	require.False(t, sum.NeedsFollowUp)

	sum, err = s.Summary(ctx, "2")
	require.NoError(t, err)
	require.True(t, sum.NeedsFollowUp)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, Stats{Active: 2, Completed: 1}, stats)
}

type brokenKV struct{ store.KV }

func (brokenKV) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("store down")
}

func TestGetContext_StoreError(t *testing.T) {
	s := newTestStore(brokenKV{}, 50)
	_, err := s.GetContext(context.Background(), "521")
	require.Error(t, err)

	_, err = s.Append(context.Background(), "521", Turn{Author: AuthorSender})
	require.Error(t, err)
}

func TestLoad_CorruptHistoryIsAnError(t *testing.T) {
	kv := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, "conversation:521", []byte("{not json"), 0))

	s := newTestStore(kv, 50)
	_, err := s.GetContext(ctx, "521")
	require.ErrorContains(t, err, "decode history")

	_, err = s.Append(ctx, "521", Turn{Author: AuthorSender, Text: "hola"})
	require.Error(t, err)

	data, ok, err := kv.Get(ctx, "conversation:521")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "{not json", string(data))
}

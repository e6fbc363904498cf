package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var _ KV = (*Memory)(nil)
var _ KV = (*Store)(nil)

func TestMemory_SetIfAbsent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	ok, err := m.SetIfAbsent(ctx, "processed:SM1", []byte("1"), time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.SetIfAbsent(ctx, "processed:SM1", []byte("2"), time.Hour)
	require.NoError(t, err)
	require.False(t, ok)

	v, found, err := m.Get(ctx, "processed:SM1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("1"), v)
}

func TestMemory_SetIfAbsentConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.SetIfAbsent(ctx, "processed:SM-race", []byte("1"), time.Hour)
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), wins.Load())
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })

	require.NoError(t, m.Set(ctx, "conversation:521", []byte("[]"), time.Minute))
	_, found, _ := m.Get(ctx, "conversation:521")
	require.True(t, found)

	now = now.Add(time.Minute)
	_, found, _ = m.Get(ctx, "conversation:521")
	require.False(t, found)

	ok, err := m.SetIfAbsent(ctx, "conversation:521", []byte("[1]"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "expired entry must be replaceable")
}

func TestMemory_ZeroTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()
	m.SetClock(func() time.Time { return now })

	require.NoError(t, m.Set(ctx, "k", []byte("v"), 0))
	now = now.Add(1000 * time.Hour)

	_, found, _ := m.Get(ctx, "k")
	require.True(t, found)
}

func TestMemory_KeysAndDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Set(ctx, "conversation:2", []byte("a"), 0))
	require.NoError(t, m.Set(ctx, "conversation:1", []byte("b"), 0))
	require.NoError(t, m.Set(ctx, "conversation_completed:1", []byte("c"), 0))
	require.NoError(t, m.Set(ctx, "processed:SM1", []byte("d"), 0))

	keys, err := m.Keys(ctx, "conversation:")
	require.NoError(t, err)
	require.Equal(t, []string{"conversation:1", "conversation:2"}, keys)

	require.NoError(t, m.Delete(ctx, "conversation:1"))
	keys, _ = m.Keys(ctx, "conversation")
	require.Equal(t, []string{"conversation:2", "conversation_completed:1"}, keys)
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "k", []byte("abc"), 0))

	v, _, _ := m.Get(ctx, "k")
	v[0] = 'z'

	again, _, _ := m.Get(ctx, "k")
	require.Equal(t, []byte("abc"), again)
}

func TestLikePrefix(t *testing.T) {
	require.Equal(t, `conversation:%`, likePrefix("conversation:"))
	require.Equal(t, `a\_b\%c\\%`, likePrefix(`a_b%c\`))
}

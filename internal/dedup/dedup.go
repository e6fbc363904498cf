// Package dedup admits each inbound message id at most once within a TTL
// window, so at-least-once webhook delivery never produces repeated side
// effects.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/closer/internal/store"
)

// Verdict is the outcome of an admission attempt.
type Verdict int

const (
	Fresh Verdict = iota
	Duplicate
)

func (v Verdict) String() string {
	if v == Duplicate {
		return "duplicate"
	}
	return "fresh"
}

const keyPrefix = "processed:"

// Gate marks message ids as processed in the shared keyed store.
type Gate struct {
	kv     store.KV
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

func New(kv store.KV, ttl time.Duration, logger *slog.Logger) *Gate {
	return &Gate{kv: kv, ttl: ttl, now: time.Now, logger: logger}
}

// Admit atomically claims messageID. Exactly one of any number of concurrent
// callers with the same id gets Fresh; the rest get Duplicate. A store
// failure is returned as an error and nothing is claimed.
func (g *Gate) Admit(ctx context.Context, messageID string) (Verdict, error) {
	id := strings.TrimSpace(messageID)
	if id == "" {
		return Duplicate, fmt.Errorf("admit: empty message id")
	}

	stamp := []byte(g.now().UTC().Format(time.RFC3339Nano))
	ok, err := g.kv.SetIfAbsent(ctx, keyPrefix+id, stamp, g.ttl)
	if err != nil {
		return Duplicate, fmt.Errorf("admit %s: %w", id, err)
	}
	if !ok {
		g.logger.Info("duplicate message skipped", "message_id", id)
		return Duplicate, nil
	}
	return Fresh, nil
}

// Release drops the processed mark so a redelivery is handled again. It is
// only meant for requests that failed before any external side effect.
func (g *Gate) Release(ctx context.Context, messageID string) error {
	id := strings.TrimSpace(messageID)
	if err := g.kv.Delete(ctx, keyPrefix+id); err != nil {
		return fmt.Errorf("release %s: %w", id, err)
	}
	return nil
}

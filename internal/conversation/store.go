// Package conversation keeps the per-sender turn history in the keyed store
// and derives the consolidated facts and stage from it.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/closer/internal/analysis"
	"github.com/MikeSquared-Agency/closer/internal/keylock"
	"github.com/MikeSquared-Agency/closer/internal/store"
)

const (
	historyPrefix   = "conversation:"
	completedPrefix = "conversation_completed:"
)

type Options struct {
	HistoryCap    int
	TTL           time.Duration
	ContextWindow int
}

// Context is the view of one sender's conversation handed to the pipeline.
type Context struct {
	Sender          string         `json:"sender"`
	Turns           []Turn         `json:"turns"`
	Recent          []Turn         `json:"recent"`
	Facts           Facts          `json:"facts"`
	Stage           analysis.Stage `json:"stage"`
	MessageCount    int            `json:"message_count"`
	LastInteraction time.Time      `json:"last_interaction"`
	Completed       bool           `json:"completed"`
	LeadID          int64          `json:"lead_id,omitempty"`
}

type Summary struct {
	Sender          string         `json:"sender"`
	Stage           analysis.Stage `json:"stage"`
	MessageCount    int            `json:"message_count"`
	LastInteraction *time.Time     `json:"last_interaction"`
	Facts           Facts          `json:"collected_data"`
	Completed       bool           `json:"is_completed"`
	LeadID          int64          `json:"lead_id,omitempty"`
	NeedsFollowUp   bool           `json:"needs_follow_up"`
	Completeness    float64        `json:"data_completeness"`
}

type Stats struct {
	Active    int `json:"active_conversations"`
	Completed int `json:"completed_conversations"`
}

// history is the value persisted per sender. Base holds the facts folded out
// of turns that the cap evicted, so consolidation never loses them.
type history struct {
	Base  *Facts `json:"base,omitempty"`
	Turns []Turn `json:"turns"`
}

func (h history) base() Facts {
	if h.Base == nil {
		return Facts{}
	}
	return *h.Base
}

type completion struct {
	LeadID      int64     `json:"lead_id"`
	CompletedAt time.Time `json:"completed_at"`
}

type Store struct {
	kv     store.KV
	locks  *keylock.Map
	opts   Options
	now    func() time.Time
	logger *slog.Logger
}

func New(kv store.KV, opts Options, logger *slog.Logger) *Store {
	if opts.HistoryCap <= 0 {
		opts.HistoryCap = 50
	}
	if opts.ContextWindow <= 0 {
		opts.ContextWindow = 5
	}
	if opts.TTL <= 0 {
		opts.TTL = 7 * 24 * time.Hour
	}
	return &Store{
		kv:     kv,
		locks:  keylock.New(),
		opts:   opts,
		now:    time.Now,
		logger: logger,
	}
}

// GetContext loads the history and completion flag for sender. A missing
// history is an empty conversation, not an error; an undecodable one is.
func (s *Store) GetContext(ctx context.Context, sender string) (Context, error) {
	h, err := s.load(ctx, sender)
	if err != nil {
		return Context{}, err
	}
	c, err := s.completion(ctx, sender)
	if err != nil {
		return Context{}, err
	}
	return s.build(sender, h, c), nil
}

// Append adds turn to the sender's history and returns the resulting
// context. The read-modify-write runs under the sender's lock so concurrent
// appends never overwrite each other. The oldest turns are dropped once
// the cap is exceeded; their facts are folded into the stored base first.
func (s *Store) Append(ctx context.Context, sender string, turn Turn) (Context, error) {
	unlock := s.locks.Lock(sender)
	defer unlock()

	h, err := s.appendLocked(ctx, sender, turn)
	if err != nil {
		return Context{}, err
	}
	c, err := s.completion(ctx, sender)
	if err != nil {
		return Context{}, err
	}
	return s.build(sender, h, c), nil
}

// MarkCompleted records that a lead was created for sender: a system turn is
// appended and the completion flag is written with the conversation TTL.
func (s *Store) MarkCompleted(ctx context.Context, sender string, leadID int64) error {
	unlock := s.locks.Lock(sender)
	defer unlock()

	now := s.now().UTC()
	_, err := s.appendLocked(ctx, sender, Turn{
		Timestamp: now,
		Author:    AuthorSystem,
		Text:      fmt.Sprintf("Lead creado exitosamente con ID: %d", leadID),
		LeadID:    leadID,
	})
	if err != nil {
		return err
	}

	data, err := json.Marshal(completion{LeadID: leadID, CompletedAt: now})
	if err != nil {
		return fmt.Errorf("encode completion: %w", err)
	}
	if err := s.kv.Set(ctx, completedPrefix+sender, data, s.opts.TTL); err != nil {
		return fmt.Errorf("mark completed %s: %w", sender, err)
	}
	s.logger.Info("conversation completed", "sender", sender, "lead_id", leadID)
	return nil
}

func (s *Store) IsCompleted(ctx context.Context, sender string) (bool, error) {
	c, err := s.completion(ctx, sender)
	if err != nil {
		return false, err
	}
	return c != nil, nil
}

// Reset forgets everything about sender, including the completion flag.
func (s *Store) Reset(ctx context.Context, sender string) error {
	unlock := s.locks.Lock(sender)
	defer unlock()

	if err := s.kv.Delete(ctx, historyPrefix+sender); err != nil {
		return fmt.Errorf("reset history %s: %w", sender, err)
	}
	if err := s.kv.Delete(ctx, completedPrefix+sender); err != nil {
		return fmt.Errorf("reset completion %s: %w", sender, err)
	}
	s.logger.Info("conversation reset", "sender", sender)
	return nil
}

func (s *Store) Summary(ctx context.Context, sender string) (Summary, error) {
	c, err := s.GetContext(ctx, sender)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{
		Sender:        sender,
		Stage:         c.Stage,
		MessageCount:  c.MessageCount,
		Facts:         c.Facts,
		Completed:     c.Completed,
		LeadID:        c.LeadID,
		NeedsFollowUp: NeedsFollowUp(c.Turns, c.Facts),
		Completeness:  c.Facts.Completeness(),
	}
	if !c.LastInteraction.IsZero() {
		t := c.LastInteraction
		sum.LastInteraction = &t
	}
	return sum, nil
}

// NeedsFollowUp is true when the sender spoke last and the facts are not yet
// enough to create a lead.
func NeedsFollowUp(turns []Turn, f Facts) bool {
	if len(turns) == 0 {
		return false
	}
	if turns[len(turns)-1].Author != AuthorSender {
		return false
	}
	return !f.Sufficient()
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	active, err := s.kv.Keys(ctx, historyPrefix)
	if err != nil {
		return Stats{}, fmt.Errorf("count conversations: %w", err)
	}
	completed, err := s.kv.Keys(ctx, completedPrefix)
	if err != nil {
		return Stats{}, fmt.Errorf("count completed: %w", err)
	}
	return Stats{Active: len(active), Completed: len(completed)}, nil
}

func (s *Store) appendLocked(ctx context.Context, sender string, turn Turn) (history, error) {
	h, err := s.load(ctx, sender)
	if err != nil {
		return history{}, err
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = s.now().UTC()
	}
	h.Turns = append(h.Turns, turn)
	if over := len(h.Turns) - s.opts.HistoryCap; over > 0 {
		base := ConsolidateFrom(h.base(), h.Turns[:over])
		h.Base = &base
		h.Turns = h.Turns[over:]
	}

	data, err := json.Marshal(h)
	if err != nil {
		return history{}, fmt.Errorf("encode history: %w", err)
	}
	if err := s.kv.Set(ctx, historyPrefix+sender, data, s.opts.TTL); err != nil {
		return history{}, fmt.Errorf("write history %s: %w", sender, err)
	}
	return h, nil
}

func (s *Store) load(ctx context.Context, sender string) (history, error) {
	data, ok, err := s.kv.Get(ctx, historyPrefix+sender)
	if err != nil {
		return history{}, fmt.Errorf("read history %s: %w", sender, err)
	}
	if !ok {
		return history{}, nil
	}
	var h history
	if err := json.Unmarshal(data, &h); err != nil {
		return history{}, fmt.Errorf("decode history %s: %w", sender, err)
	}
	return h, nil
}

func (s *Store) completion(ctx context.Context, sender string) (*completion, error) {
	data, ok, err := s.kv.Get(ctx, completedPrefix+sender)
	if err != nil {
		return nil, fmt.Errorf("read completion %s: %w", sender, err)
	}
	if !ok {
		return nil, nil
	}
	var c completion
	if err := json.Unmarshal(data, &c); err != nil {
		return &completion{}, nil
	}
	return &c, nil
}

func (s *Store) build(sender string, h history, c *completion) Context {
	turns := h.Turns
	if turns == nil {
		turns = []Turn{}
	}
	facts := ConsolidateFrom(h.base(), turns)
	out := Context{
		Sender:       sender,
		Turns:        turns,
		Recent:       tail(turns, s.opts.ContextWindow),
		Facts:        facts,
		Stage:        DeriveStage(turns, facts),
		MessageCount: len(turns),
		Completed:    c != nil,
	}
	if len(turns) > 0 {
		out.LastInteraction = turns[len(turns)-1].Timestamp
	}
	if c != nil {
		out.LeadID = c.LeadID
	}
	return out
}

func tail(turns []Turn, n int) []Turn {
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

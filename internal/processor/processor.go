// Package processor runs the per-message qualification pipeline: admit,
// load context, classify, record, decide, act, reply.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/closer/internal/analysis"
	"github.com/MikeSquared-Agency/closer/internal/conversation"
	"github.com/MikeSquared-Agency/closer/internal/crm"
	"github.com/MikeSquared-Agency/closer/internal/decision"
	"github.com/MikeSquared-Agency/closer/internal/dedup"
	"github.com/MikeSquared-Agency/closer/internal/hermes"
	"github.com/MikeSquared-Agency/closer/internal/phone"
	"github.com/MikeSquared-Agency/closer/internal/slack"
	"github.com/MikeSquared-Agency/closer/internal/store"
	"github.com/google/uuid"
)

const (
	StatusProcessed = "processed"
	StatusDuplicate = "duplicate"

	escalationPrefix = "escalation:"
)

// Analyzer turns a message and its recent history into an Analysis. It never
// fails; bad oracle output becomes the fallback.
type Analyzer interface {
	Analyze(ctx context.Context, message string, history []conversation.Turn) analysis.Analysis
}

// LeadSyncer creates or updates the lead for a sender.
type LeadSyncer interface {
	UpsertLead(ctx context.Context, sender string, f conversation.Facts, message string, a analysis.Analysis) crm.Result
}

// Sender delivers the reply and reports whether it went out.
type Sender interface {
	Send(ctx context.Context, to, text string) bool
}

// Escalator hands support conversations to humans.
type Escalator interface {
	PostEscalation(ctx context.Context, e slack.Escalation) (string, error)
	PostThread(ctx context.Context, threadTS, text string) error
}

// Publisher emits lifecycle events.
type Publisher interface {
	PublishTraced(subject, traceID string, data any) error
}

// Deps are the collaborators of a Processor. Escalator and Events are
// optional.
type Deps struct {
	KV            store.KV
	Dedup         *dedup.Gate
	Conversations *conversation.Store
	Classifier    Analyzer
	Engine        *decision.Engine
	Records       LeadSyncer
	Notifier      Sender
	Escalator     Escalator
	Events        Publisher
}

// InboundMessage is one webhook delivery.
type InboundMessage struct {
	MessageID string
	Sender    string
	Body      string
}

// Result is reported back to the webhook caller.
type Result struct {
	Status         string  `json:"status"`
	MessageID      string  `json:"message_id"`
	Sender         string  `json:"sender"`
	TraceID        string  `json:"trace_id,omitempty"`
	Action         string  `json:"action,omitempty"`
	Rule           string  `json:"rule,omitempty"`
	Stage          string  `json:"stage,omitempty"`
	Reply          string  `json:"reply,omitempty"`
	Quality        string  `json:"quality,omitempty"`
	Confidence     float64 `json:"confidence"`
	MessageSent    bool    `json:"message_sent"`
	LeadCreated    bool    `json:"lead_created"`
	LeadUpdated    bool    `json:"lead_updated"`
	LeadID         int64   `json:"lead_id,omitempty"`
	LeadError      string  `json:"lead_error,omitempty"`
	Escalated      bool    `json:"escalated,omitempty"`
	PostCompletion bool    `json:"post_completion"`
}

// Processor orchestrates the qualification pipeline.
type Processor struct {
	deps    Deps
	timeout time.Duration
	logger  *slog.Logger
}

func New(deps Deps, timeout time.Duration, logger *slog.Logger) *Processor {
	return &Processor{deps: deps, timeout: timeout, logger: logger}
}

// Handle processes one inbound message. Only validation and keyed-store
// failures are returned as errors; every other collaborator failure is
// reported in the Result.
func (p *Processor) Handle(ctx context.Context, msg InboundMessage) (Result, error) {
	msg.MessageID = strings.TrimSpace(msg.MessageID)
	msg.Body = strings.TrimSpace(msg.Body)
	msg.Sender = strings.TrimSpace(msg.Sender)

	switch {
	case msg.MessageID == "":
		return Result{}, newError(KindValidation, "missing message_id", nil)
	case msg.Body == "":
		return Result{}, newError(KindValidation, "missing body", nil)
	}
	key := phone.Normalize(msg.Sender)
	if key == "" {
		return Result{}, newError(KindValidation, "missing sender", nil)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	res := Result{
		Status:    StatusProcessed,
		MessageID: msg.MessageID,
		Sender:    msg.Sender,
		TraceID:   uuid.NewString(),
	}
	logger := p.logger.With("trace_id", res.TraceID, "message_id", msg.MessageID, "sender", key)

	verdict, err := p.deps.Dedup.Admit(ctx, msg.MessageID)
	if err != nil {
		logger.Error("dedup admission failed", "error", err)
		return Result{}, newError(KindStoreUnavailable, "dedup", err)
	}
	if verdict == dedup.Duplicate {
		res.Status = StatusDuplicate
		res.TraceID = ""
		return res, nil
	}

	before, err := p.deps.Conversations.GetContext(ctx, key)
	if err != nil {
		p.release(msg.MessageID, logger)
		logger.Error("load conversation failed", "error", err)
		return Result{}, newError(KindStoreUnavailable, "load conversation", err)
	}
	res.PostCompletion = before.Completed

	a := p.deps.Classifier.Analyze(ctx, msg.Body, before.Recent)

	after, err := p.deps.Conversations.Append(ctx, key, conversation.Turn{
		Author:   conversation.AuthorSender,
		Text:     msg.Body,
		Analysis: &a,
	})
	if err != nil {
		p.release(msg.MessageID, logger)
		logger.Error("append turn failed", "error", err)
		return Result{}, newError(KindStoreUnavailable, "append turn", err)
	}

	d := p.deps.Engine.Decide(a, after.Facts)
	res.Action = d.Action.String()
	res.Rule = d.Rule.String()
	res.Stage = string(after.Stage)
	res.Reply = d.Reply
	res.Quality = string(a.Quality)
	res.Confidence = a.Confidence

	logger.Info("message classified",
		"action", res.Action,
		"rule", res.Rule,
		"quality", res.Quality,
		"confidence", a.Confidence,
		"stage", res.Stage,
	)

	switch d.Action {
	case decision.TransferToSupport:
		res.Escalated = p.escalate(ctx, key, msg, a, after, res.TraceID, logger)
	case decision.CreateLeadImmediate:
		p.syncLead(ctx, key, msg, a, after.Facts, &res, logger)
	}

	res.MessageSent = p.deps.Notifier.Send(ctx, msg.Sender, d.Reply)

	if _, err := p.deps.Conversations.Append(ctx, key, conversation.Turn{
		Author: conversation.AuthorAssistant,
		Text:   d.Reply,
	}); err != nil {
		logger.Error("append reply failed", "error", err)
	}

	p.publish(hermes.SubjectMessageProcessed, res.TraceID, hermes.MessageProcessed{
		MessageID:   msg.MessageID,
		Sender:      key,
		Action:      res.Action,
		Rule:        res.Rule,
		Stage:       res.Stage,
		Quality:     res.Quality,
		Confidence:  res.Confidence,
		MessageSent: res.MessageSent,
	}, logger)

	logger.Info("message processed",
		"action", res.Action,
		"message_sent", res.MessageSent,
		"lead_created", res.LeadCreated,
		"lead_id", res.LeadID,
	)
	return res, nil
}

// release drops the dedup mark after a fatal failure so the provider's retry
// is processed. It uses its own context because ctx may be the reason the
// request failed.
func (p *Processor) release(messageID string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.deps.Dedup.Release(ctx, messageID); err != nil {
		logger.Error("release dedup mark failed", "error", err)
	}
}

func (p *Processor) syncLead(ctx context.Context, key string, msg InboundMessage, a analysis.Analysis, f conversation.Facts, res *Result, logger *slog.Logger) {
	lead := p.deps.Records.UpsertLead(ctx, msg.Sender, f, msg.Body, a)
	if lead.Err != nil {
		res.LeadError = lead.Err.Error()
		logger.Warn("lead not recorded", "error", lead.Err)
		return
	}

	res.LeadID = lead.RecordID
	res.LeadCreated = lead.Created
	res.LeadUpdated = !lead.Created

	subject := hermes.SubjectLeadUpdated
	if lead.Created {
		subject = hermes.SubjectLeadCreated
		if err := p.deps.Conversations.MarkCompleted(ctx, key, lead.RecordID); err != nil {
			logger.Error("mark completed failed", "lead_id", lead.RecordID, "error", err)
		}
	}
	p.publish(subject, res.TraceID, hermes.LeadChanged{
		LeadID: lead.RecordID,
		Phone:  key,
		Sender: msg.Sender,
	}, logger)
}

// escalate posts the conversation to the support channel. Follow-ups from
// the same sender are threaded under the first post while the thread mark
// lives.
func (p *Processor) escalate(ctx context.Context, key string, msg InboundMessage, a analysis.Analysis, c conversation.Context, traceID string, logger *slog.Logger) bool {
	if p.deps.Escalator == nil {
		return false
	}

	if ts, ok, err := p.deps.KV.Get(ctx, escalationPrefix+key); err == nil && ok {
		text := fmt.Sprintf("Nuevo mensaje de %s: %s", msg.Sender, msg.Body)
		if err := p.deps.Escalator.PostThread(ctx, string(ts), text); err != nil {
			logger.Warn("escalation follow-up failed", "error", err)
			return false
		}
		return true
	}

	ts, err := p.deps.Escalator.PostEscalation(ctx, slack.Escalation{
		Sender:          msg.Sender,
		Message:         msg.Body,
		Intent:          a.Intent,
		Name:            c.Facts.Name,
		ProductInterest: c.Facts.ProductInterest,
		Stage:           string(c.Stage),
		TraceID:         traceID,
	})
	if err != nil {
		logger.Warn("escalation failed", "error", err)
		return false
	}
	if ts != "" {
		if err := p.deps.KV.Set(ctx, escalationPrefix+key, []byte(ts), 24*time.Hour); err != nil {
			logger.Warn("could not remember escalation thread", "error", err)
		}
	}

	p.publish(hermes.SubjectSupportEscalated, traceID, hermes.SupportEscalated{
		Sender:  key,
		Intent:  a.Intent,
		SlackTS: ts,
	}, logger)
	return true
}

func (p *Processor) publish(subject, traceID string, data any, logger *slog.Logger) {
	if p.deps.Events == nil {
		return
	}
	if err := p.deps.Events.PublishTraced(subject, traceID, data); err != nil {
		logger.Warn("publish event failed", "subject", subject, "error", err)
	}
}

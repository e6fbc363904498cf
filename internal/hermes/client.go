package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Lifecycle subjects published by the message processor.
const (
	SubjectMessageProcessed = "closer.message.processed"
	SubjectLeadCreated      = "closer.lead.created"
	SubjectLeadUpdated      = "closer.lead.updated"
	SubjectSupportEscalated = "closer.support.escalated"

	// SubjectAll matches every closer event.
	SubjectAll = "closer.>"
)

// Event is the envelope every lifecycle payload is wrapped in.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Subject   string          `json:"subject"`
	TraceID   string          `json:"trace_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// MessageProcessed summarises one handled inbound message.
type MessageProcessed struct {
	MessageID   string  `json:"message_id"`
	Sender      string  `json:"sender"`
	Action      string  `json:"action"`
	Rule        string  `json:"rule"`
	Stage       string  `json:"stage"`
	Quality     string  `json:"quality"`
	Confidence  float64 `json:"confidence"`
	MessageSent bool    `json:"message_sent"`
}

// LeadChanged is published on lead creation and update.
type LeadChanged struct {
	LeadID int64  `json:"lead_id"`
	Phone  string `json:"phone"`
	Sender string `json:"sender"`
}

// SupportEscalated is published when a conversation is handed to a human.
type SupportEscalated struct {
	Sender  string `json:"sender"`
	Intent  string `json:"intent"`
	SlackTS string `json:"slack_ts,omitempty"`
}

// NewEvent wraps data in an Event envelope.
func NewEvent(subject, traceID string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal event data: %w", err)
	}
	return Event{
		ID:        uuid.New(),
		Subject:   subject,
		TraceID:   traceID,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}, nil
}

type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("closer"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

// Publish sends data to subject wrapped in an Event envelope.
func (c *Client) Publish(subject string, data any) error {
	return c.PublishTraced(subject, "", data)
}

func (c *Client) PublishTraced(subject, traceID string, data any) error {
	ev, err := NewEvent(subject, traceID, data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

// Ready reports whether the connection is currently established.
func (c *Client) Ready() bool {
	return c.conn != nil && c.conn.IsConnected()
}

func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	_ = c.conn.Flush()
	c.conn.Close()
}

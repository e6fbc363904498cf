// Package slack posts support escalations to a human channel.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

// Escalation is a conversation handed to a human agent.
type Escalation struct {
	Sender          string
	Message         string
	Intent          string
	Name            string
	ProductInterest []string
	Stage           string
	TraceID         string
}

type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// PostEscalation posts a new support thread for the escalation.
// Returns the message timestamp (ts) so follow-ups can be threaded under it.
func (p *Poster) PostEscalation(ctx context.Context, e Escalation) (string, error) {
	text := formatEscalation(e)

	ts, err := p.post(ctx, map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{
						"type": "mrkdwn",
						"text": "Reply to the customer on WhatsApp, then mark this thread :white_check_mark:",
					},
				},
			},
		},
	})
	if err != nil {
		return "", err
	}

	p.logger.Info("posted escalation to slack", "ts", ts, "sender", e.Sender, "trace_id", e.TraceID)
	return ts, nil
}

// PostThread posts a threaded reply to a message.
func (p *Poster) PostThread(ctx context.Context, threadTS, text string) error {
	_, err := p.post(ctx, map[string]any{
		"channel":   p.channel,
		"thread_ts": threadTS,
		"text":      text,
	})
	return err
}

func (p *Poster) post(ctx context.Context, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}
	return slackResp.TS, nil
}

func formatEscalation(e Escalation) string {
	var sb strings.Builder

	sb.WriteString("*Support request from WhatsApp*\n")
	fmt.Fprintf(&sb, "*Customer:* %s", e.Sender)
	if e.Name != "" {
		fmt.Fprintf(&sb, " (%s)", e.Name)
	}
	sb.WriteString("\n")
	if e.Intent != "" {
		fmt.Fprintf(&sb, "*Intent:* %s\n", e.Intent)
	}
	if len(e.ProductInterest) > 0 {
		fmt.Fprintf(&sb, "*Products:* %s\n", strings.Join(e.ProductInterest, ", "))
	}
	if e.Stage != "" {
		fmt.Fprintf(&sb, "*Stage:* %s\n", e.Stage)
	}
	fmt.Fprintf(&sb, "\n> %s", strings.ReplaceAll(strings.TrimSpace(e.Message), "\n", "\n> "))
	if e.TraceID != "" {
		fmt.Fprintf(&sb, "\n\n_trace: %s_", e.TraceID)
	}

	return sb.String()
}

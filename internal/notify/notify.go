// Package notify delivers outbound replies on a best-effort basis.
package notify

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Transport sends one message to one recipient.
type Transport interface {
	Send(ctx context.Context, to, body string) error
}

type Notifier struct {
	transport Transport
	timeout   time.Duration
	logger    *slog.Logger
}

func New(transport Transport, timeout time.Duration, logger *slog.Logger) *Notifier {
	return &Notifier{transport: transport, timeout: timeout, logger: logger}
}

// Send reports whether the transport accepted the message. Failures and
// timeouts are logged and never returned.
func (n *Notifier) Send(ctx context.Context, to, text string) bool {
	if n == nil || n.transport == nil {
		return false
	}
	if strings.TrimSpace(to) == "" || strings.TrimSpace(text) == "" {
		n.logger.Warn("skipping empty notification", "to", to)
		return false
	}
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	if err := n.transport.Send(ctx, to, text); err != nil {
		n.logger.Error("notification failed", "to", to, "error", err)
		return false
	}
	n.logger.Info("notification sent", "to", to)
	return true
}

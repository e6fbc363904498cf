package slack

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFormatEscalation(t *testing.T) {
	msg := formatEscalation(Escalation{
		Sender:          "whatsapp:+5215512345678",
		Message:         "Mi pedido no llegó\ny ya pasaron 5 días",
		Intent:          "reclamo_entrega",
		Name:            "Ana",
		ProductInterest: []string{"sofá modular"},
		Stage:           "support",
		TraceID:         "abc-123",
	})

	checks := []string{
		"Support request from WhatsApp",
		"whatsapp:+5215512345678 (Ana)",
		"*Intent:* reclamo_entrega",
		"*Products:* sofá modular",
		"*Stage:* support",
		"> Mi pedido no llegó\n> y ya pasaron 5 días",
		"trace: abc-123",
	}
	for _, check := range checks {
		if !strings.Contains(msg, check) {
			t.Errorf("expected message to contain %q, got:\n%s", check, msg)
		}
	}
}

func TestFormatEscalation_Minimal(t *testing.T) {
	msg := formatEscalation(Escalation{Sender: "whatsapp:+1", Message: "ayuda"})

	if strings.Contains(msg, "*Intent:*") || strings.Contains(msg, "*Products:*") || strings.Contains(msg, "trace:") {
		t.Errorf("expected optional lines to be omitted, got:\n%s", msg)
	}
}

func TestPostEscalation_Success(t *testing.T) {
	var (
		auth    string
		payload map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &payload)

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"ts": "1234567890.123456",
		})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", discardLogger())
	p.apiURL = server.URL

	ts, err := p.PostEscalation(context.Background(), Escalation{Sender: "whatsapp:+1", Message: "ayuda"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts != "1234567890.123456" {
		t.Errorf("expected ts 1234567890.123456, got %q", ts)
	}
	if auth != "Bearer xoxb-test" {
		t.Errorf("expected Bearer xoxb-test, got %q", auth)
	}
	if payload["channel"] != "C123" {
		t.Errorf("expected channel C123, got %v", payload["channel"])
	}
}

func TestPostEscalation_SlackError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":    false,
			"error": "channel_not_found",
		})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", discardLogger())
	p.apiURL = server.URL

	_, err := p.PostEscalation(context.Background(), Escalation{Sender: "whatsapp:+1"})
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Fatalf("expected channel_not_found error, got %v", err)
	}
}

func TestPostThread(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &payload)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "ts": "2.0"})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", discardLogger())
	p.apiURL = server.URL

	if err := p.PostThread(context.Background(), "1.0", "otro mensaje"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload["thread_ts"] != "1.0" || payload["text"] != "otro mensaje" {
		t.Errorf("unexpected payload %v", payload)
	}
}

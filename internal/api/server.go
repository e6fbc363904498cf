package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/closer/internal/conversation"
	"github.com/MikeSquared-Agency/closer/internal/phone"
	"github.com/MikeSquared-Agency/closer/internal/processor"
	"github.com/MikeSquared-Agency/closer/internal/twilio"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const maxFormBytes = 1 << 20

// MessageHandler runs the qualification pipeline for one inbound message.
type MessageHandler interface {
	Handle(ctx context.Context, msg processor.InboundMessage) (processor.Result, error)
}

// Conversations is the admin view of the conversation store.
type Conversations interface {
	Summary(ctx context.Context, sender string) (conversation.Summary, error)
	GetContext(ctx context.Context, sender string) (conversation.Context, error)
	Reset(ctx context.Context, sender string) error
	Stats(ctx context.Context) (conversation.Stats, error)
}

// Pinger is a dependency reported by the health probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Port            int
	APIToken        string
	TwilioAuthToken string
	PublicBaseURL   string
	OracleProvider  string
}

type Server struct {
	router  *chi.Mux
	httpSrv *http.Server
	opts    Options
	proc    MessageHandler
	convs   Conversations
	checks  map[string]Pinger
	logger  *slog.Logger
}

func NewServer(opts Options, proc MessageHandler, convs Conversations, checks map[string]Pinger, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		opts:   opts,
		proc:   proc,
		convs:  convs,
		checks: checks,
		logger: logger,
	}

	router.Get("/health", s.health)
	router.Get("/status", s.status)
	router.Post("/webhook/inbound-message", s.inboundMessage)

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(opts.APIToken))
		r.Get("/conversations/{sender}", s.conversationSummary)
		r.Get("/conversations/{sender}/history", s.conversationHistory)
		r.Delete("/conversations/{sender}", s.resetConversation)
		r.Get("/analytics", s.analytics)
	})

	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.opts.Port)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server starting", "addr", addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) inboundMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	signature := r.Header.Get("X-Twilio-Signature")
	if !twilio.ValidateSignature(s.opts.TwilioAuthToken, signature, s.requestURL(r), r.PostForm) {
		s.logger.Warn("rejected webhook with invalid signature", "remote_addr", r.RemoteAddr)
		writeError(w, http.StatusForbidden, "invalid signature")
		return
	}

	msg := processor.InboundMessage{
		MessageID: firstValue(r.PostForm, "message_id", "MessageSid", "SmsMessageSid"),
		Body:      firstValue(r.PostForm, "body", "Body"),
		Sender:    firstValue(r.PostForm, "from", "From"),
	}

	res, err := s.proc.Handle(r.Context(), msg)
	if err != nil {
		if processor.KindOf(err) == processor.KindValidation {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("inbound message failed", "message_id", msg.MessageID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// requestURL rebuilds the URL the provider signed.
func (s *Server) requestURL(r *http.Request) string {
	if s.opts.PublicBaseURL != "" {
		return s.opts.PublicBaseURL + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = strings.TrimSpace(strings.Split(p, ",")[0])
	}
	host := r.Host
	if h := r.Header.Get("X-Forwarded-Host"); h != "" {
		host = strings.TrimSpace(strings.Split(h, ",")[0])
	}
	return scheme + "://" + host + r.URL.RequestURI()
}

func (s *Server) conversationSummary(w http.ResponseWriter, r *http.Request) {
	key, ok := senderParam(w, r)
	if !ok {
		return
	}
	sum, err := s.convs.Summary(r.Context(), key)
	if err != nil {
		s.logger.Error("conversation summary failed", "sender", key, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) conversationHistory(w http.ResponseWriter, r *http.Request) {
	key, ok := senderParam(w, r)
	if !ok {
		return
	}
	c, err := s.convs.GetContext(r.Context(), key)
	if err != nil {
		s.logger.Error("conversation history failed", "sender", key, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sender":        key,
		"message_count": c.MessageCount,
		"turns":         c.Turns,
	})
}

func (s *Server) resetConversation(w http.ResponseWriter, r *http.Request) {
	key, ok := senderParam(w, r)
	if !ok {
		return
	}
	if err := s.convs.Reset(r.Context(), key); err != nil {
		s.logger.Error("conversation reset failed", "sender", key, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "sender": key})
}

func (s *Server) analytics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.convs.Stats(r.Context())
	if err != nil {
		s.logger.Error("analytics failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	checks := make(map[string]string, len(s.checks))
	for name, c := range s.checks {
		if err := c.Ping(ctx); err != nil {
			checks[name] = "error: " + err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"agent":  "closer",
		"oracle": s.opts.OracleProvider,
		"status": "active",
	})
}

func senderParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw, err := url.PathUnescape(chi.URLParam(r, "sender"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sender")
		return "", false
	}
	key := phone.Normalize(raw)
	if key == "" {
		writeError(w, http.StatusBadRequest, "invalid sender")
		return "", false
	}
	return key, true
}

func firstValue(form url.Values, names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(form.Get(n)); v != "" {
			return v
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/MikeSquared-Agency/closer/internal/analysis"
	"github.com/MikeSquared-Agency/closer/internal/anthropic"
	"github.com/MikeSquared-Agency/closer/internal/api"
	"github.com/MikeSquared-Agency/closer/internal/classifier"
	"github.com/MikeSquared-Agency/closer/internal/config"
	"github.com/MikeSquared-Agency/closer/internal/conversation"
	"github.com/MikeSquared-Agency/closer/internal/crm"
	"github.com/MikeSquared-Agency/closer/internal/decision"
	"github.com/MikeSquared-Agency/closer/internal/dedup"
	"github.com/MikeSquared-Agency/closer/internal/gpt"
	"github.com/MikeSquared-Agency/closer/internal/hermes"
	"github.com/MikeSquared-Agency/closer/internal/notify"
	"github.com/MikeSquared-Agency/closer/internal/odoo"
	"github.com/MikeSquared-Agency/closer/internal/processor"
	"github.com/MikeSquared-Agency/closer/internal/slack"
	"github.com/MikeSquared-Agency/closer/internal/store"
	"github.com/MikeSquared-Agency/closer/internal/twilio"
	"github.com/spf13/cobra"
)

const sweepInterval = 10 * time.Minute

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server",
	Long: `Run the HTTP server that receives inbound WhatsApp messages, qualifies
them and answers through Twilio.

Optional collaborators are enabled by their env vars: ODOO_URL for the CRM
(otherwise leads are kept in memory), SLACK_BOT_TOKEN and
SLACK_SUPPORT_CHANNEL for support escalation, NATS_URL for lifecycle events.

Examples:
  closer serve
  closer serve --port 9000
  closer serve --policy policy.yaml --log-level debug`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides CLOSER_PORT)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if servePort > 0 {
		cfg.Port = servePort
	}
	logger.Info("closer starting", "port", cfg.Port, "oracle", cfg.OracleProvider)

	kv, closeKV, err := openKV(ctx, false)
	if err != nil {
		return err
	}
	defer closeKV()
	if db, ok := kv.(*store.Store); ok {
		go sweepExpired(ctx, db, sweepInterval, logger)
	}

	oracle, err := newOracle(cfg)
	if err != nil {
		return err
	}
	adapter, err := classifier.New(oracle, cfg.OracleTimeout, cfg.Policy.ContextWindow, logger)
	if err != nil {
		return fmt.Errorf("classifier: %w", err)
	}

	convs := conversation.New(kv, conversation.Options{
		HistoryCap:    cfg.Policy.HistoryCap,
		TTL:           cfg.Policy.ConversationTTL,
		ContextWindow: cfg.Policy.ContextWindow,
	}, logger)

	records := newRecordStore(cfg, logger)

	if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" {
		logger.Warn("twilio not configured, replies will not be delivered and webhooks will be rejected")
	}
	sms := twilio.NewClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFrom, logger)

	deps := processor.Deps{
		KV:            kv,
		Dedup:         dedup.New(kv, cfg.Policy.DedupTTL, logger),
		Conversations: convs,
		Classifier:    adapter,
		Engine: decision.New(decision.Policy{
			HotConfidence:  cfg.Policy.HotConfidence,
			WarmConfidence: cfg.Policy.WarmConfidence,
		}),
		Records:  crm.NewSynchronizer(records, cfg.RecordTimeout, logger),
		Notifier: notify.New(sms, cfg.NotifyTimeout, logger),
	}

	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		deps.Escalator = slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, logger)
		logger.Info("slack escalation ready", "channel", cfg.SlackChannel)
	} else {
		logger.Warn("slack not configured, support requests are answered but not escalated")
	}

	checks := map[string]api.Pinger{
		"keystore": kv,
		"records":  records,
	}

	if cfg.NatsURL != "" {
		events, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer events.Close()
		deps.Events = events
		checks["events"] = natsCheck{events}
		logger.Info("NATS connected", "url", cfg.NatsURL)
	}

	proc := processor.New(deps, cfg.ProcessTimeout, logger)
	srv := api.NewServer(api.Options{
		Port:            cfg.Port,
		APIToken:        cfg.APIToken,
		TwilioAuthToken: cfg.TwilioAuthToken,
		PublicBaseURL:   cfg.PublicBaseURL,
		OracleProvider:  cfg.OracleProvider,
	}, proc, convs, checks, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	logger.Info("closer ready", "port", cfg.Port)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("closer stopped")
	return nil
}

// newOracle picks the LLM backend named by ORACLE_PROVIDER.
func newOracle(c config.Config) (classifier.Oracle, error) {
	switch c.OracleProvider {
	case "anthropic", "":
		if c.AnthropicAPIKey == "" {
			return nil, errors.New("ANTHROPIC_API_KEY is required")
		}
		return anthropic.NewClient(c.AnthropicAPIKey, c.AnthropicModel), nil
	case "openai":
		if c.OpenAIAPIKey == "" {
			return nil, errors.New("OPENAI_API_KEY is required")
		}
		schema, _, err := analysis.Schema()
		if err != nil {
			return nil, fmt.Errorf("analysis schema: %w", err)
		}
		return gpt.NewClient(c.OpenAIAPIKey, c.OpenAIModel, schema), nil
	default:
		return nil, fmt.Errorf("unknown ORACLE_PROVIDER %q", c.OracleProvider)
	}
}

// newRecordStore returns the Odoo client when ODOO_URL is set and an
// in-memory store otherwise.
func newRecordStore(c config.Config, logger *slog.Logger) crm.RecordStore {
	if c.OdooURL == "" {
		logger.Warn("ODOO_URL not set, leads are kept in memory only")
		return crm.NewMemoryStore()
	}
	logger.Info("odoo configured", "url", c.OdooURL, "db", c.OdooDB, "custom_fields", c.OdooCustomFields)
	return odoo.NewClient(c.OdooURL, c.OdooDB, c.OdooUsername, c.OdooPassword, c.OdooCustomFields, logger)
}

// sweepExpired deletes expired rows until ctx is done. Reads already ignore
// them; this only keeps the table small.
func sweepExpired(ctx context.Context, db *store.Store, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := db.Sweep(ctx)
			if err != nil {
				logger.Warn("sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("expired entries swept", "count", n)
			}
		}
	}
}

// natsCheck reports the event bus in /health.
type natsCheck struct {
	client interface{ Ready() bool }
}

func (n natsCheck) Ping(context.Context) error {
	if !n.client.Ready() {
		return errors.New("nats not connected")
	}
	return nil
}

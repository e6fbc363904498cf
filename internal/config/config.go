package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        int
	DatabaseURL string
	NatsURL     string
	NatsToken   string
	LogLevel    string
	LogFile     string
	APIToken    string

	OracleProvider  string
	AnthropicAPIKey string
	AnthropicModel  string
	OpenAIAPIKey    string
	OpenAIModel     string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	PublicBaseURL    string

	OdooURL          string
	OdooDB           string
	OdooUsername     string
	OdooPassword     string
	OdooCustomFields bool

	SlackBotToken string
	SlackChannel  string

	ProcessTimeout time.Duration
	OracleTimeout  time.Duration
	RecordTimeout  time.Duration
	NotifyTimeout  time.Duration

	PolicyFile string
	Policy     Policy
}

// Policy holds the tunable business constants. None of them are derived;
// they can be overridden per deployment via env or POLICY_FILE.
type Policy struct {
	HotConfidence   float64       `yaml:"hot_confidence"`
	WarmConfidence  float64       `yaml:"warm_confidence"`
	HistoryCap      int           `yaml:"history_cap"`
	ContextWindow   int           `yaml:"context_window"`
	ConversationTTL time.Duration `yaml:"conversation_ttl"`
	DedupTTL        time.Duration `yaml:"dedup_ttl"`
}

func DefaultPolicy() Policy {
	return Policy{
		HotConfidence:   0.7,
		WarmConfidence:  0.5,
		HistoryCap:      50,
		ContextWindow:   5,
		ConversationTTL: 7 * 24 * time.Hour,
		DedupTTL:        24 * time.Hour,
	}
}

func Load() Config {
	def := DefaultPolicy()
	return Config{
		Port:        envInt("CLOSER_PORT", 8760),
		DatabaseURL: envStr("DATABASE_URL", ""),
		NatsURL:     envStr("NATS_URL", ""),
		NatsToken:   envStr("NATS_TOKEN", ""),
		LogLevel:    envStr("LOG_LEVEL", "info"),
		LogFile:     envStr("LOG_FILE", ""),
		APIToken:    envStr("API_TOKEN", ""),

		OracleProvider:  strings.ToLower(envStr("ORACLE_PROVIDER", "anthropic")),
		AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  envStr("CLOSER_MODEL", "claude-sonnet-4-20250514"),
		OpenAIAPIKey:    envStr("OPENAI_API_KEY", ""),
		OpenAIModel:     envStr("OPENAI_MODEL", "gpt-4o-mini"),

		TwilioAccountSID: envStr("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  envStr("TWILIO_AUTH_TOKEN", ""),
		TwilioFrom:       envStr("TWILIO_WHATSAPP_FROM", "whatsapp:+14155238886"),
		PublicBaseURL:    strings.TrimRight(envStr("PUBLIC_BASE_URL", ""), "/"),

		OdooURL:          envStr("ODOO_URL", ""),
		OdooDB:           envStr("ODOO_DB", ""),
		OdooUsername:     envStr("ODOO_USERNAME", ""),
		OdooPassword:     envStr("ODOO_PASSWORD", ""),
		OdooCustomFields: envBool("ODOO_CUSTOM_FIELDS", false),

		SlackBotToken: envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:  envStr("SLACK_SUPPORT_CHANNEL", ""),

		ProcessTimeout: envDuration("PROCESS_TIMEOUT", 25*time.Second),
		OracleTimeout:  envDuration("ORACLE_TIMEOUT", 12*time.Second),
		RecordTimeout:  envDuration("RECORD_TIMEOUT", 8*time.Second),
		NotifyTimeout:  envDuration("NOTIFY_TIMEOUT", 5*time.Second),

		PolicyFile: envStr("POLICY_FILE", ""),
		Policy: Policy{
			HotConfidence:   envFloat("HOT_CONFIDENCE", def.HotConfidence),
			WarmConfidence:  envFloat("WARM_CONFIDENCE", def.WarmConfidence),
			HistoryCap:      envInt("HISTORY_CAP", def.HistoryCap),
			ContextWindow:   envInt("CONTEXT_WINDOW", def.ContextWindow),
			ConversationTTL: envDuration("CONVERSATION_TTL", def.ConversationTTL),
			DedupTTL:        envDuration("DEDUP_TTL", def.DedupTTL),
		},
	}
}

// ApplyPolicyFile overlays the YAML policy at path onto p. Keys missing from
// the file keep their current value.
func ApplyPolicyFile(p Policy, path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read policy file: %w", err)
	}

	var raw struct {
		HotConfidence   *float64 `yaml:"hot_confidence"`
		WarmConfidence  *float64 `yaml:"warm_confidence"`
		HistoryCap      *int     `yaml:"history_cap"`
		ContextWindow   *int     `yaml:"context_window"`
		ConversationTTL string   `yaml:"conversation_ttl"`
		DedupTTL        string   `yaml:"dedup_ttl"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return p, fmt.Errorf("parse policy file: %w", err)
	}

	if raw.HotConfidence != nil {
		p.HotConfidence = *raw.HotConfidence
	}
	if raw.WarmConfidence != nil {
		p.WarmConfidence = *raw.WarmConfidence
	}
	if raw.HistoryCap != nil {
		p.HistoryCap = *raw.HistoryCap
	}
	if raw.ContextWindow != nil {
		p.ContextWindow = *raw.ContextWindow
	}
	if raw.ConversationTTL != "" {
		d, err := time.ParseDuration(raw.ConversationTTL)
		if err != nil {
			return p, fmt.Errorf("policy conversation_ttl: %w", err)
		}
		p.ConversationTTL = d
	}
	if raw.DedupTTL != "" {
		d, err := time.ParseDuration(raw.DedupTTL)
		if err != nil {
			return p, fmt.Errorf("policy dedup_ttl: %w", err)
		}
		p.DedupTTL = d
	}
	return p, p.Validate()
}

// Validate rejects policies that would make the decision rules or the
// history cap meaningless.
func (p Policy) Validate() error {
	if p.HotConfidence < 0 || p.HotConfidence > 1 {
		return fmt.Errorf("hot_confidence %v out of [0,1]", p.HotConfidence)
	}
	if p.WarmConfidence < 0 || p.WarmConfidence > 1 {
		return fmt.Errorf("warm_confidence %v out of [0,1]", p.WarmConfidence)
	}
	if p.HistoryCap <= 0 {
		return fmt.Errorf("history_cap must be positive, got %d", p.HistoryCap)
	}
	if p.ContextWindow <= 0 {
		return fmt.Errorf("context_window must be positive, got %d", p.ContextWindow)
	}
	if p.ConversationTTL <= 0 || p.DedupTTL <= 0 {
		return fmt.Errorf("ttls must be positive")
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

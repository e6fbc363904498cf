// Package cli provides the command-line interface for closer.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MikeSquared-Agency/closer/internal/config"
	"github.com/MikeSquared-Agency/closer/internal/store"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	logLevel   string
	policyFile string

	cfg        config.Config
	logger     *slog.Logger
	closeLogFn func() error
)

var rootCmd = &cobra.Command{
	Use:   "closer",
	Short: "WhatsApp lead qualification bot",
	Long: `Closer answers inbound WhatsApp messages, classifies each one with an
LLM, keeps the conversation history and creates or updates the lead in the
CRM once the prospect is qualified.

Run "closer serve" for the webhook server. The other commands inspect or
reset the state kept in DATABASE_URL.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		if policyFile != "" {
			cfg.PolicyFile = policyFile
		}
		if cfg.PolicyFile != "" {
			p, err := config.ApplyPolicyFile(cfg.Policy, cfg.PolicyFile)
			if err != nil {
				return err
			}
			cfg.Policy = p
		}
		if err := cfg.Policy.Validate(); err != nil {
			return fmt.Errorf("policy: %w", err)
		}

		logger, closeLogFn = config.SetupLogger(cfg.LogLevel, cfg.LogFile)
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeLogFn != nil {
			_ = closeLogFn()
		}
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&policyFile, "policy", "", "YAML policy file (overrides POLICY_FILE)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(conversationCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(eventsCmd)
}

// openKV connects the keyed store. Without DATABASE_URL the server falls back
// to process memory; admin commands pass persistent=true because an empty
// in-memory store has nothing to inspect.
func openKV(ctx context.Context, persistent bool) (store.KV, func(), error) {
	if cfg.DatabaseURL == "" {
		if persistent {
			return nil, nil, errors.New("DATABASE_URL is required")
		}
		logger.Warn("DATABASE_URL not set, state is kept in memory only")
		return store.NewMemory(), func() {}, nil
	}

	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	logger.Info("database connected")
	return db, db.Close, nil
}

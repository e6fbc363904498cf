package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/MikeSquared-Agency/closer/internal/conversation"
	"github.com/MikeSquared-Agency/closer/internal/phone"
	"github.com/spf13/cobra"
)

var showHistory bool

var conversationCmd = &cobra.Command{
	Use:     "conversation",
	Aliases: []string{"conv"},
	Short:   "Inspect or reset a sender's conversation",
}

var conversationShowCmd = &cobra.Command{
	Use:   "show <sender>",
	Short: "Show the summary of a conversation",
	Long: `Show the stage, collected data and completion state of a sender's
conversation. The sender may be given in any format; it is normalized the
same way the webhook does.

Examples:
  closer conversation show +5215512345678
  closer conversation show "whatsapp:+52 1 55 1234 5678" --history`,
	Args: cobra.ExactArgs(1),
	RunE: runConversationShow,
}

var conversationResetCmd = &cobra.Command{
	Use:   "reset <sender>",
	Short: "Delete a conversation and its completion mark",
	Long: `Delete the history and completion mark of a sender so the next message
starts a fresh qualification. Leads already written to the CRM are kept.

Examples:
  closer conversation reset +5215512345678`,
	Args: cobra.ExactArgs(1),
	RunE: runConversationReset,
}

func init() {
	conversationShowCmd.Flags().BoolVar(&showHistory, "history", false, "print every turn")

	conversationCmd.AddCommand(conversationShowCmd)
	conversationCmd.AddCommand(conversationResetCmd)
}

func runConversationShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	key, err := senderKey(args[0])
	if err != nil {
		return err
	}

	convs, closeKV, err := openConversations(cmd)
	if err != nil {
		return err
	}
	defer closeKV()

	summary, err := convs.Summary(ctx, key)
	if err != nil {
		return fmt.Errorf("load summary: %w", err)
	}
	out := cmd.OutOrStdout()
	if err := printJSON(out, summary); err != nil {
		return err
	}
	if !showHistory {
		return nil
	}

	c, err := convs.GetContext(ctx, key)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	fmt.Fprintln(out)
	printTurns(out, c.Turns)
	return nil
}

func runConversationReset(cmd *cobra.Command, args []string) error {
	key, err := senderKey(args[0])
	if err != nil {
		return err
	}

	convs, closeKV, err := openConversations(cmd)
	if err != nil {
		return err
	}
	defer closeKV()

	if err := convs.Reset(cmd.Context(), key); err != nil {
		return fmt.Errorf("reset conversation: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Conversation %s reset\n", key)
	return nil
}

func openConversations(cmd *cobra.Command) (*conversation.Store, func(), error) {
	kv, closeKV, err := openKV(cmd.Context(), true)
	if err != nil {
		return nil, nil, err
	}
	return conversation.New(kv, conversation.Options{
		HistoryCap:    cfg.Policy.HistoryCap,
		TTL:           cfg.Policy.ConversationTTL,
		ContextWindow: cfg.Policy.ContextWindow,
	}, logger), closeKV, nil
}

func senderKey(raw string) (string, error) {
	key := phone.Normalize(raw)
	if key == "" {
		return "", fmt.Errorf("invalid sender %q", raw)
	}
	return key, nil
}

func printTurns(w io.Writer, turns []conversation.Turn) {
	if len(turns) == 0 {
		fmt.Fprintln(w, "No messages.")
		return
	}
	for _, t := range turns {
		line := fmt.Sprintf("[%s] %-9s %s", t.Timestamp.UTC().Format("2006-01-02 15:04"), t.Author, t.Text)
		if t.Analysis != nil {
			line += fmt.Sprintf("  (%s, %.2f)", t.Analysis.Quality, t.Analysis.Confidence)
		}
		fmt.Fprintln(w, line)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

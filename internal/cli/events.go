package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"

	"github.com/MikeSquared-Agency/closer/internal/hermes"
	"github.com/spf13/cobra"
)

var eventsSubject string

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Watch lifecycle events",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print lifecycle events as they are published",
	Long: `Subscribe to the closer subjects on NATS and print one line per event
until interrupted. Requires NATS_URL.

Examples:
  closer events tail
  closer events tail --subject closer.lead.>`,
	Args: cobra.NoArgs,
	RunE: runEventsTail,
}

func init() {
	eventsTailCmd.Flags().StringVar(&eventsSubject, "subject", hermes.SubjectAll, "subject filter")

	eventsCmd.AddCommand(eventsTailCmd)
}

func runEventsTail(cmd *cobra.Command, args []string) error {
	if cfg.NatsURL == "" {
		return errors.New("NATS_URL is required")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer client.Close()

	out := cmd.OutOrStdout()
	var mu sync.Mutex
	if err := client.Subscribe(eventsSubject, func(subject string, data []byte) {
		mu.Lock()
		defer mu.Unlock()
		printEvent(out, subject, data)
	}); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

func printEvent(w io.Writer, subject string, data []byte) {
	var ev hermes.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		fmt.Fprintf(w, "%s  (unparseable) %s\n", subject, data)
		return
	}
	line := fmt.Sprintf("%s  %s", ev.Timestamp.UTC().Format("2006-01-02T15:04:05Z"), ev.Subject)
	if ev.TraceID != "" {
		line += "  trace=" + ev.TraceID
	}
	fmt.Fprintf(w, "%s  %s\n", line, ev.Data)
}

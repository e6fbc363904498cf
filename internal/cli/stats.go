package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show conversation counts",
	Long: `Show how many conversations are active and how many have produced a lead.

Examples:
  closer stats
  closer stats --json`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print as JSON")
}

func runStats(cmd *cobra.Command, args []string) error {
	convs, closeKV, err := openConversations(cmd)
	if err != nil {
		return err
	}
	defer closeKV()

	stats, err := convs.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("load stats: %w", err)
	}

	out := cmd.OutOrStdout()
	if statsJSON {
		return printJSON(out, stats)
	}
	fmt.Fprintf(out, "Active conversations:    %d\n", stats.Active)
	fmt.Fprintf(out, "Completed conversations: %d\n", stats.Completed)
	return nil
}

package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/khanglvm/icl-simplify/internal/storage"
)

// NewHistoryCmd creates the 'history' command listing recorded runs.
func NewHistoryCmd() *cobra.Command {
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs",
		Long:  `List the most recent run attempts recorded in ~/.icl-simplify/history.db.`,
		Example: `  icl-simplify history
  icl-simplify history --limit 50 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := storage.NewStorage(zap.NewNop())
			if err := store.Init(); err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer store.Close()

			runs, err := store.ListRuns(limit)
			if err != nil {
				return err
			}
			return printRuns(cmd, runs, jsonOutput)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	return cmd
}

func printRuns(cmd *cobra.Command, runs []storage.RunRecord, jsonOutput bool) error {
	out := cmd.OutOrStdout()
	if jsonOutput {
		if runs == nil {
			runs = []storage.RunRecord{}
		}
		data, err := json.MarshalIndent(runs, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}

	for _, run := range runs {
		mark := "✓"
		switch run.Status {
		case storage.StatusFailed:
			mark = "✗"
		case storage.StatusRunning:
			mark = "…"
		}
		fmt.Fprintf(out, "%s %s  %s\n", mark, run.StartedAt.Local().Format(time.DateTime), run.RunID)
		fmt.Fprintf(out, "    Output:  %s\n", run.OutputFile)
		fmt.Fprintf(out, "    Records: %d", run.Records)
		if len(run.Failed) > 0 {
			fmt.Fprintf(out, " (%d failed)", len(run.Failed))
		}
		fmt.Fprintln(out)
		if run.Message != "" {
			fmt.Fprintf(out, "    Error:   %s\n", firstLine(run.Message))
		}
	}
	return nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

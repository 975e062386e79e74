package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/khanglvm/icl-simplify/internal/config"
	"github.com/khanglvm/icl-simplify/internal/logging"
	"github.com/khanglvm/icl-simplify/internal/pipeline"
)

// NewRenderCmd creates the 'render' command for inspecting prompts.
func NewRenderCmd() *cobra.Command {
	var flags *config.FlagBinding
	var limit int

	cmd := &cobra.Command{
		Use:   "render [config.json|config.yaml]",
		Short: "Print the assembled prompts without generating",
		Long: `Select examples and assemble the prompts of the first inputs exactly as
'run' would, and print them. No model is called.`,
		Example: `  icl-simplify render exp/asset_bloom.yaml --limit 2
  icl-simplify render exp/asset_bloom.yaml --example_selector similarity --example_selector_mode min`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd, args, flags, limit)
		},
	}

	flags = config.BindFlags(cmd.Flags())
	cmd.Flags().IntVar(&limit, "limit", 3, "Number of inputs to render (0 for all)")

	return cmd
}

func runRender(cmd *cobra.Command, args []string, flags *config.FlagBinding, limit int) error {
	cfg, _, err := loadConfig(args, flags)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Verbose, "")
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := commandContext(cmd)
	session, err := pipeline.Open(ctx, cfg, pipeline.Deps{Logger: logger})
	if err != nil {
		return err
	}
	defer session.Close()

	queries := session.Queries()
	if limit > 0 && limit < len(queries) {
		queries = queries[:limit]
	}
	prepared, err := session.Prepare(ctx, queries)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	rule := strings.Repeat("─", 60)
	for _, p := range prepared {
		fmt.Fprintf(out, "%s\n# input %d", rule, p.Query.Index)
		if len(p.Examples) > 0 {
			indices := make([]string, len(p.Examples))
			for i, ex := range p.Examples {
				indices[i] = fmt.Sprintf("%d (%.3f)", ex.Record.Index, ex.Score)
			}
			fmt.Fprintf(out, ", examples %s", strings.Join(indices, ", "))
		}
		fmt.Fprintf(out, "\n%s\n%s\n", rule, p.Prompt)
	}
	return nil
}

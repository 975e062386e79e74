/*
Package cli implements the command-line interface for icl-simplify.

Each command is implemented as a separate function that returns a *cobra.Command,
allowing for clean separation and easy testing. Commands that read a run
configuration accept an optional JSON/YAML config file followed by flags, one
per option, which override the file.
*/
package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/khanglvm/icl-simplify/internal/config"
	"github.com/khanglvm/icl-simplify/internal/logging"
	"github.com/khanglvm/icl-simplify/internal/output"
	"github.com/khanglvm/icl-simplify/internal/pipeline"
	"github.com/khanglvm/icl-simplify/internal/storage"
)

// NewRunCmd creates the 'run' command for running inference.
func NewRunCmd() *cobra.Command {
	var flags *config.FlagBinding
	var noHistory bool

	cmd := &cobra.Command{
		Use:   "run [config.json|config.yaml]",
		Short: "Run few-shot simplification over an input file",
		Long: `Select few-shot examples for every input, assemble the prompts, generate
simplifications with the configured model and write one JSON line per input.

The output file name is derived from the configuration when output_dir is set:
  {output_dir}/{model}/{dataset}_{examples}_p{prompt}_{selector}_fs{n}_nr{nrs}_s{seed}.jsonl
Next to it, <name>.json records the effective configuration and whether the run
completed, and <name>.log holds the run log. Without output_dir or output_file,
records are written to stdout.`,
		Example: `  # Configure from a file, override the seed
  icl-simplify run exp/asset_bloom.yaml --seed 489

  # Flags only
  icl-simplify run --model_name_or_path bigscience/bloom-560m \
    --input_file data/asset/dataset/asset.valid.jsonl \
    --examples data/asset/dataset/asset.test.jsonl \
    --prompt_json prompts/p0.json --few_shot_n 3 --output_dir resources/outputs`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args, flags, noHistory)
		},
	}

	flags = config.BindFlags(cmd.Flags())
	cmd.Flags().BoolVar(&noHistory, "no_history", false, "Do not record the run in ~/.icl-simplify/history.db")

	return cmd
}

func runRun(cmd *cobra.Command, args []string, flags *config.FlagBinding, noHistory bool) error {
	cfg, overridden, err := loadConfig(args, flags)
	if err != nil {
		return err
	}

	outPath := cfg.OutputPath()
	logPath := ""
	if outPath != output.Stdout {
		logPath = output.SidecarPath(outPath, ".log")
	}
	logger, err := logging.New(cfg.Verbose, logPath)
	if err != nil {
		return err
	}
	defer logger.Sync()

	for _, key := range overridden {
		logger.Info("overriding option from prompt_json", zap.String("option", key), zap.String("prompt_json", cfg.PromptJSON))
	}

	deps := pipeline.Deps{Logger: logger}
	if !noHistory {
		history := storage.NewStorage(logger)
		if err := history.Init(); err != nil {
			logger.Warn("run history unavailable", zap.Error(err))
		}
		defer history.Close()
		deps.History = history
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := pipeline.Run(ctx, cfg, deps)
	if err != nil {
		if pipeline.IsFailedRun(err) {
			fmt.Fprintf(cmd.ErrOrStderr(), "✗ %d of %d inputs failed, see %s\n", len(summary.Failed), summary.Expected, summary.OutputFile)
		}
		return err
	}

	if summary.OutputFile != output.Stdout {
		fmt.Fprintf(cmd.ErrOrStderr(), "✓ Wrote %d records to %s (%s)\n", summary.Records, summary.OutputFile, summary.Duration.Round(time.Millisecond))
	}
	if summary.Usage.TotalTokens > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "  Total tokens: %d (prompt %d, completion %d)\n",
			summary.Usage.TotalTokens, summary.Usage.PromptTokens, summary.Usage.CompletionTokens)
	}
	return nil
}

// loadConfig resolves and validates the configuration from an optional file
// argument and the command's flags.
func loadConfig(args []string, flags *config.FlagBinding) (*config.Config, []string, error) {
	path := ""
	if len(args) > 0 {
		path = args[0]
	}
	cfg, overridden, err := config.Resolve(path, flags)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, overridden, nil
}

// commandContext returns the command's context, or a background context when
// the command runs outside Execute (tests).
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

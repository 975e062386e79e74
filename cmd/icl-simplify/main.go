/*
Package main is the entry point for the icl-simplify CLI.

icl-simplify runs in-context-learning text simplification experiments: it
selects few-shot demonstrations for every input sentence, assembles a prompt,
batches the prompts through a causal or encoder-decoder language model and
writes one JSON record per input to a deterministically named output file.

Usage:
  icl-simplify [command]

Available Commands:
  run         Run an experiment
  render      Print the assembled prompts without generating
  name        Print the output file derived from a configuration
  verify      Verify that an output file is complete
  history     List recent runs
  cache       Inspect or clear the example embedding cache
  init        Write a configuration file with default values
  version     Show version information

Examples:
  # Run with a YAML config, overriding the seed
  icl-simplify run exp/asset_bloom.yaml --seed 489

  # Inspect the first two prompts
  icl-simplify render exp/asset_bloom.yaml --limit 2
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/khanglvm/icl-simplify/internal/cli"
	"github.com/khanglvm/icl-simplify/internal/version"
)

func main() {
	// GOMAXPROCS follows the container CPU quota; workers defaults to it.
	undo, _ := maxprocs.Set(maxprocs.Logger(func(string, ...any) {}))
	defer undo()

	rootCmd := &cobra.Command{
		Use:   "icl-simplify",
		Short: "Few-shot text simplification with large language models",
		Long: `icl-simplify prompts a language model to simplify sentences using
in-context examples drawn from a training set.

For every input it selects few_shot_n demonstrations (randomly, by BM25 or by
embedding similarity), assembles them into a prompt, generates
num_return_sequences candidates and writes one JSON line per input. The output
file name encodes the model, data, prompt, selector and seed, so a given
configuration always produces the same file.`,
		Version:       version.GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(cli.NewRunCmd())
	rootCmd.AddCommand(cli.NewRenderCmd())
	rootCmd.AddCommand(cli.NewNameCmd())
	rootCmd.AddCommand(cli.NewVerifyCmd())
	rootCmd.AddCommand(cli.NewHistoryCmd())
	rootCmd.AddCommand(cli.NewCacheCmd())
	rootCmd.AddCommand(cli.NewInitCmd())
	rootCmd.AddCommand(cli.NewVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		undo()
		os.Exit(1)
	}
}

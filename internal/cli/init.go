package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/khanglvm/icl-simplify/internal/config"
)

// NewInitCmd creates the 'init' command, which writes a config file holding
// every option with its default value.
func NewInitCmd() *cobra.Command {
	var flags *config.FlagBinding
	var force bool

	cmd := &cobra.Command{
		Use:   "init <config.json|config.yaml>",
		Short: "Write a configuration file with default values",
		Long: `Write a configuration file listing every option. Flags set on the command
line are written instead of the defaults.`,
		Example: `  icl-simplify init exp/asset_bloom.yaml --model_name_or_path bigscience/bloom-560m`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, args[0], flags, force)
		},
	}

	flags = config.BindFlags(cmd.Flags())
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	return cmd
}

func runInit(cmd *cobra.Command, path string, flags *config.FlagBinding, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg := config.Defaults()
	flags.Apply(cfg)
	if err := config.Save(cfg, path); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s\n", path)
	return nil
}

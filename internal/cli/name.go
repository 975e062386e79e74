package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/khanglvm/icl-simplify/internal/config"
)

// NewNameCmd creates the 'name' command, which prints the output file a run
// would write without running it.
func NewNameCmd() *cobra.Command {
	var flags *config.FlagBinding
	var idOnly bool

	cmd := &cobra.Command{
		Use:   "name [config.json|config.yaml]",
		Short: "Print the output file derived from a configuration",
		Long: `Print the output file a run with this configuration writes to. The name
depends only on the model, the input and examples files, the prompt, the
selector, few_shot_n, num_return_sequences and the seed.`,
		Example: `  icl-simplify name exp/asset_bloom.yaml --seed 42
  icl-simplify name exp/asset_bloom.yaml --id`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(args, flags)
			if err != nil {
				return err
			}
			if idOnly {
				fmt.Fprintln(cmd.OutOrStdout(), cfg.Identity().String())
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), cfg.OutputPath())
			return nil
		},
	}

	flags = config.BindFlags(cmd.Flags())
	cmd.Flags().BoolVar(&idOnly, "id", false, "Print only the run identity")

	return cmd
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/khanglvm/icl-simplify/internal/output"
)

// NewVerifyCmd creates the 'verify' command for checking an output file.
func NewVerifyCmd() *cobra.Command {
	var expected int

	cmd := &cobra.Command{
		Use:   "verify <output.jsonl>",
		Short: "Verify that an output file is complete",
		Long: `Verify that an output file holds one successful record per input. The
expected number of records is read from the file's manifest unless --expected
is given.`,
		Example: `  icl-simplify verify resources/outputs/bloom-560m/asset.valid_asset.test_p0_random_fs3_nr1_s489.jsonl`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, args[0], expected)
		},
	}

	cmd.Flags().IntVarP(&expected, "expected", "e", -1, "Expected number of records (default: from the manifest)")

	return cmd
}

// runVerify checks the record count of path.
func runVerify(cmd *cobra.Command, path string, expected int) error {
	out := cmd.OutOrStdout()

	if expected < 0 {
		manifest, err := output.ReadManifest(path)
		if err != nil {
			return fmt.Errorf("no manifest for %s, pass --expected: %w", path, err)
		}
		expected = manifest.Expected
		fmt.Fprintf(out, "✓ Manifest: run %s\n", manifest.RunID)
	}

	n, err := output.Verify(path, expected)
	if err != nil {
		fmt.Fprintf(out, "✗ %s\n", path)
		return err
	}
	fmt.Fprintf(out, "✓ %s: %d records\n", path, n)
	return nil
}

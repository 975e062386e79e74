package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/khanglvm/icl-simplify/internal/storage"
)

// NewCacheCmd creates the 'cache' command group for the persistent embedding
// cache kept in example_selector_save_dir.
func NewCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the example embedding cache",
		Long: `Example embeddings computed for similarity selection are stored in
<example_selector_save_dir>/embeddings.db, keyed by embedding model and text.`,
	}

	cmd.AddCommand(newCacheStatsCmd())
	cmd.AddCommand(newCacheClearCmd())
	return cmd
}

// newCacheStatsCmd shows cached vectors per embedding model.
func newCacheStatsCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:     "stats",
		Short:   "Show cached embeddings per model",
		Example: `  icl-simplify cache stats --dir resources/embeddings`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCache(dir)
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.EmbeddingStats()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Embedding cache: %s\n", store.Path())
			if len(stats) == 0 {
				fmt.Fprintln(out, "  (empty)")
				return nil
			}
			models := make([]string, 0, len(stats))
			for model := range stats {
				models = append(models, model)
			}
			sort.Strings(models)
			for _, model := range models {
				fmt.Fprintf(out, "  %-32s %d vectors\n", model, stats[model])
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Embedding cache directory (example_selector_save_dir)")
	cmd.MarkFlagRequired("dir")
	return cmd
}

// newCacheClearCmd deletes cached embeddings.
func newCacheClearCmd() *cobra.Command {
	var dir, model string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete cached embeddings",
		Example: `  icl-simplify cache clear --dir resources/embeddings
  icl-simplify cache clear --dir resources/embeddings --model ollama:nomic-embed-text`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCache(dir)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.ClearEmbeddings(model)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cached embeddings\n", n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Embedding cache directory (example_selector_save_dir)")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Only clear vectors of this embedding model")
	cmd.MarkFlagRequired("dir")
	return cmd
}

func openCache(dir string) (*storage.SQLiteStorage, error) {
	if _, err := os.Stat(filepath.Join(dir, storage.EmbeddingsFile)); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no embedding cache in %s", dir)
		}
		return nil, err
	}
	store := storage.NewEmbeddingStorage(dir, zap.NewNop())
	if err := store.Init(); err != nil {
		return nil, fmt.Errorf("failed to open embedding cache: %w", err)
	}
	return store, nil
}

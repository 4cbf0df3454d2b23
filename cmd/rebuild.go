package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var rebuildCorpusDir string

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the vector index from the documentation corpus",
	Long: `rebuild chunks and embeds every document in the corpus directory and
atomically replaces the live index. If any document fails the rebuild is
aborted, the previous index stays in place, and the error names the
failing document.`,
	RunE: runRebuild,
}

func init() {
	rebuildCmd.Flags().StringVar(&rebuildCorpusDir, "corpus", "", "corpus directory (default from configuration)")
	rootCmd.AddCommand(rebuildCmd)
}

func runRebuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "cleanup: %v\n", err)
		}
	}()

	dir := rebuildCorpusDir
	if dir == "" {
		dir = a.Config.CorpusDir
	}

	fmt.Printf("Rebuilding index from %s ...\n", dir)
	res, err := a.Indexer.Rebuild(ctx, dir)
	if err != nil {
		return fmt.Errorf("rebuild failed: %w", err)
	}

	fmt.Printf("Indexed %d documents (%d chunks) in %v\n",
		res.Documents, res.Chunks, res.Duration.Round(10*time.Millisecond))
	return nil
}

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bull/docchat/internal/watcher"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Keep the knowledge base in sync with a directory",
	Long: `Ingests every supported file under the directory, then watches it and
re-ingests files as they are created or changed. Deleted files are removed
from the knowledge base. Runs until interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", watcher.DefaultDebounce, "delay before applying a burst of changes")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	root := args[0]

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.Pipeline.IngestDir(ctx, root)
	if err != nil {
		return fmt.Errorf("initial ingestion failed: %w", err)
	}
	printResult(cmd.OutOrStdout(), root, result)

	w := watcher.New(root, a.Pipeline.Supports, a.Pipeline,
		watcher.WithDebounce(watchDebounce),
		watcher.WithLogger(a.Logger))
	defer w.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (Ctrl-C to stop)\n", root)
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

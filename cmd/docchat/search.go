package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	searchLimit     int
	searchThreshold float32
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Find the passages most similar to a query",
	Long:  `Runs retrieval only: embeds the query and prints the best matching passages without generating an answer.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 5, "maximum number of passages")
	searchCmd.Flags().Float32Var(&searchThreshold, "threshold", -1, "minimum similarity (default: configured threshold)")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	threshold := a.Config.Retrieval.Threshold
	if searchThreshold >= 0 {
		threshold = searchThreshold
	}

	vector, err := a.Embedder.Embed(ctx, strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("failed to embed query: %w", err)
	}
	results, err := a.Knowledge.Search(ctx, vector, searchLimit, threshold)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if len(results) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}
	for i, r := range results {
		label := r.Chunk.Source
		if r.Chunk.Section != "" {
			label += " > " + r.Chunk.Section
		}
		fmt.Fprintf(out, "[%d] %s (%.2f)\n", i+1, label, r.Score)
		fmt.Fprintf(out, "    %s\n\n", strings.ReplaceAll(strings.TrimSpace(r.Chunk.Text), "\n", "\n    "))
	}
	return nil
}

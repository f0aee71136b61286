package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bull/docchat/internal/github"
	"github.com/bull/docchat/internal/indexer"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [path...]",
	Short: "Add files or directories to the knowledge base",
	Long: `Parses, chunks and embeds each file. Directories are walked recursively and
every supported file (.md, .markdown, .txt) is ingested. Re-ingesting a file
replaces the earlier version.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

var ingestGitHubCmd = &cobra.Command{
	Use:   "github owner/repo[/path]",
	Short: "Ingest Markdown files from a GitHub repository",
	Long: `Fetches every Markdown file under the given repository path at the latest
commit and ingests it. Files ingested from the same repository earlier are replaced.

Set GITHUB_TOKEN for higher rate limits.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngestGitHub,
}

var githubRef string

func init() {
	ingestGitHubCmd.Flags().StringVar(&githubRef, "ref", "", "branch, tag or commit (default: repository default branch)")
	ingestCmd.AddCommand(ingestGitHubCmd)
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var failed int
	for _, path := range args {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("cannot ingest %s: %w", path, err)
		}

		if info.IsDir() {
			result, err := a.Pipeline.IngestDir(ctx, path)
			if err != nil {
				return fmt.Errorf("ingesting %s: %w", path, err)
			}
			printResult(out, path, result)
			failed += len(result.FailedDocs)
			continue
		}

		doc, err := a.Pipeline.ReplaceFile(ctx, path)
		if err != nil {
			fmt.Fprintf(out, "Failed %s: %v\n", path, err)
			failed++
			continue
		}
		fmt.Fprintf(out, "Ingested %s (%d chunks) id=%s\n", doc.Source, doc.ChunkCount, doc.ID)
	}

	if failed > 0 {
		return fmt.Errorf("%d document(s) failed to ingest", failed)
	}
	return nil
}

func runIngestGitHub(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	repo, err := github.ParseRepository(args[0])
	if err != nil {
		return err
	}
	repo.Ref = githubRef

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	client, err := github.NewClient(a.Config.GitHub.Token)
	if err != nil {
		return fmt.Errorf("failed to create GitHub client: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Fetching documents from %s...\n", repo)
	result, err := a.Pipeline.IngestAll(ctx, github.NewFetcher(client, repo, nil))
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}
	printResult(cmd.OutOrStdout(), repo.String(), result)
	if len(result.FailedDocs) > 0 {
		return fmt.Errorf("%d document(s) failed to ingest", len(result.FailedDocs))
	}
	return nil
}

func printResult(w io.Writer, name string, result *indexer.IndexResult) {
	fmt.Fprintf(w, "Ingested %s\n", name)
	fmt.Fprintf(w, "  Documents: %d/%d\n", result.SuccessfulDocs, result.TotalDocs)
	fmt.Fprintf(w, "  Chunks: %d\n", result.TotalChunks)
	fmt.Fprintf(w, "  Duration: %s\n", result.Duration.Round(time.Millisecond))
	if result.Revision != "" {
		fmt.Fprintf(w, "  Commit: %s\n", result.Revision)
	}

	if len(result.FailedDocs) > 0 {
		fmt.Fprintln(w, "Failed documents:")
		for _, failed := range result.FailedDocs {
			fmt.Fprintf(w, "  - %s: %s\n", failed.Path, failed.Reason)
		}
	}
}

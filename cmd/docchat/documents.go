package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bull/docchat/internal/docstore"
)

var documentsCmd = &cobra.Command{
	Use:     "documents",
	Aliases: []string{"docs"},
	Short:   "Manage ingested documents",
}

var documentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingested documents",
	Args:  cobra.NoArgs,
	RunE:  runDocumentsList,
}

var documentsShowCmd = &cobra.Command{
	Use:   "show [id-or-source]",
	Short: "Print a document's text",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocumentsShow,
}

var documentsRemoveCmd = &cobra.Command{
	Use:   "remove [id...]",
	Short: "Remove documents and their passages",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDocumentsRemove,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show knowledge base statistics",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove every document from the knowledge base",
	Long:  `Deletes all documents, passages and vectors. Conversation history is kept.`,
	Args:  cobra.NoArgs,
	RunE:  runReset,
}

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "do not ask for confirmation")

	documentsCmd.AddCommand(documentsListCmd)
	documentsCmd.AddCommand(documentsShowCmd)
	documentsCmd.AddCommand(documentsRemoveCmd)
	rootCmd.AddCommand(documentsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetCmd)
}

func runDocumentsList(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	docs, err := a.Knowledge.Documents(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}
	if len(docs) == 0 {
		fmt.Fprintln(out, "No documents ingested.")
		return nil
	}
	for _, d := range docs {
		fmt.Fprintf(out, "%s  %-40s %4d chunks  %s\n",
			d.ID, d.Source, d.ChunkCount, d.IngestedAt.Local().Format(time.DateTime))
	}
	return nil
}

func runDocumentsShow(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := a.Knowledge.DocumentBySource(cmd.Context(), args[0])
	if errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("document %q not found", args[0])
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), doc.Text())
	return nil
}

func runDocumentsRemove(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var errs []error
	for _, id := range args {
		n, err := a.Pipeline.Remove(cmd.Context(), id)
		if err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", id, err))
			continue
		}
		fmt.Fprintf(out, "Removed %s (%d chunks)\n", id, n)
	}
	return errors.Join(errs...)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.Knowledge.Stats(ctx)
	if err != nil {
		return err
	}
	sessions, err := a.Memory.Sessions(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Data directory: %s\n", a.Config.DataDir)
	fmt.Fprintf(out, "Index: %s (%d dimensions)\n", a.Config.Index.Backend, a.Knowledge.Dimensions())
	fmt.Fprintf(out, "Documents: %d\n", stats.Documents)
	fmt.Fprintf(out, "Chunks: %d\n", stats.Chunks)
	fmt.Fprintf(out, "Vectors: %d\n", stats.Vectors)
	fmt.Fprintf(out, "Sessions: %d\n", len(sessions))
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if !resetYes {
		fmt.Fprint(out, "Remove every document from the knowledge base? [y/N] ")
		line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if answer := strings.ToLower(strings.TrimSpace(line)); answer != "y" && answer != "yes" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Knowledge.Reset(cmd.Context()); err != nil {
		return fmt.Errorf("failed to reset: %w", err)
	}
	fmt.Fprintln(out, "Knowledge base cleared.")
	return nil
}

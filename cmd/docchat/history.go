package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bull/docchat/internal/chain"
	"github.com/bull/docchat/internal/memory"
)

var historyAll bool

var historyCmd = &cobra.Command{
	Use:   "history [session]",
	Short: "Show the conversation history of a session",
	Long:  `Prints the recent questions and answers of a session, oldest first. Use --all for the full log.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

var historySessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List conversation sessions",
	Args:  cobra.NoArgs,
	RunE:  runHistorySessions,
}

var historyClearCmd = &cobra.Command{
	Use:   "clear [session]",
	Short: "Delete the history of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryClear,
}

func init() {
	historyCmd.Flags().BoolVar(&historyAll, "all", false, "show the whole history instead of the recent window")
	historyCmd.AddCommand(historySessionsCmd)
	historyCmd.AddCommand(historyClearCmd)
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	sessionID := chain.DefaultSession
	if len(args) > 0 {
		sessionID = args[0]
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var turns []memory.Turn
	if historyAll {
		turns, err = a.Memory.LongTerm(ctx, sessionID)
	} else {
		turns, err = a.Memory.ShortTerm(ctx, sessionID)
	}
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	if len(turns) == 0 {
		fmt.Fprintf(out, "No history for session %q.\n", sessionID)
		return nil
	}
	for _, t := range turns {
		marker := ""
		if t.Truncated {
			marker = " (interrupted)"
		}
		fmt.Fprintf(out, "#%d %s%s\n", t.Seq, t.CreatedAt.Local().Format(time.DateTime), marker)
		fmt.Fprintf(out, "Q: %s\n", t.Query)
		fmt.Fprintf(out, "A: %s\n\n", t.Answer)
	}
	return nil
}

func runHistorySessions(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	sessions, err := a.Memory.Sessions(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions.")
		return nil
	}
	for _, s := range sessions {
		fmt.Fprintf(out, "%-20s %3d turns  last active %s\n",
			s.ID, s.Turns, s.LastActive.Local().Format(time.DateTime))
	}
	return nil
}

func runHistoryClear(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.Memory.Clear(cmd.Context(), args[0])
	if errors.Is(err, memory.ErrSessionNotFound) {
		return fmt.Errorf("session %q not found", args[0])
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d turns from session %q.\n", n, args[0])
	return nil
}

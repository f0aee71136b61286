package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bull/docchat/internal/chain"
)

var (
	askSession   string
	askNoSources bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question about the ingested documents",
	Long: `Answers a question from the ingested documents and streams the answer as it
is generated. Follow-up questions in the same --session see the earlier turns.

Without a question, starts an interactive session that reads one question per
line until EOF or "exit".`,
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askSession, "session", "s", chain.DefaultSession, "conversation session ID")
	askCmd.Flags().BoolVar(&askNoSources, "no-sources", false, "do not print the cited passages")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	c, err := chainFor(a)
	if err != nil {
		return err
	}

	if len(args) > 0 {
		return ask(ctx, out, c, strings.Join(args, " "))
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		question := strings.TrimSpace(scanner.Text())
		switch question {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		if err := ask(ctx, out, c, question); err != nil {
			if ctx.Err() != nil {
				return err
			}
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	}
}

func ask(ctx context.Context, out io.Writer, c *chain.Chain, question string) error {
	resp, err := c.Ask(ctx, askSession, question)
	if err != nil {
		return describe(err)
	}

	for tok := range resp.Tokens() {
		fmt.Fprint(out, tok)
	}
	fmt.Fprintln(out)

	result, err := resp.Wait()
	if err != nil {
		if result != nil && result.Truncated {
			fmt.Fprintln(out, "[answer interrupted]")
		}
		return describe(err)
	}

	if !askNoSources && len(result.Citations) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Sources:")
		for _, cit := range result.Citations {
			label := fmt.Sprintf("%s #%d", cit.Source, cit.Position)
			if cit.Section != "" {
				label += " > " + cit.Section
			}
			fmt.Fprintf(out, "  [%d] %s (%.2f)\n", cit.Index, label, cit.Score)
		}
	}
	fmt.Fprintln(out)
	return nil
}

// describe adds a retry hint to transient failures.
func describe(err error) error {
	if errors.Is(err, chain.ErrEmptyQuery) {
		return errors.New("question is empty")
	}
	if chain.IsTransient(err) {
		return fmt.Errorf("%w (temporary, try again)", err)
	}
	return err
}

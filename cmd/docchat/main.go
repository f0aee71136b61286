// Package main provides the docchat CLI: ingest documents and ask questions
// about them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bull/docchat/internal/app"
	"github.com/bull/docchat/internal/chain"
	"github.com/bull/docchat/internal/config"
	"github.com/bull/docchat/internal/logging"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "docchat",
	Short: "Chat with your documents",
	Long: `Ingest documents into a local knowledge base and ask questions about them.
Answers are generated from the most relevant passages and cite their sources.

Configuration is read from docchat.yaml (or --config), a .env file and the
environment. Common variables:
  OPENAI_API_KEY              OpenAI API key (required for answering)
  DOCCHAT_DATA_DIR            Where documents, vectors and history are kept
  DOCCHAT_EMBEDDING_PROVIDER  openai (default) or hash for offline use
  DOCCHAT_INDEX_BACKEND       flat (default) or qdrant
  GITHUB_TOKEN                GitHub token for repository ingestion`,
	SilenceUsage: true,
}

// chainFor builds the answering chain; tests replace it with a scripted model.
var chainFor = func(a *app.App) (*chain.Chain, error) { return a.Chain() }

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./docchat.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// openApp loads configuration, installs the logger and opens the stores.
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logger := logging.New(logging.Config{
		Level:  level,
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	})

	a, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return a, nil
}

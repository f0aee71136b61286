// Package main provides the docchat server: the document chat over MCP
// (stdio or Streamable HTTP) plus a streaming HTTP ask endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bull/docchat/internal/app"
	"github.com/bull/docchat/internal/config"
	"github.com/bull/docchat/internal/logging"
	mcpserver "github.com/bull/docchat/internal/mcp"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "config file (default ./docchat.yaml if present)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	// stdout carries the stdio transport, so logs always go to stderr.
	logger := logging.New(logging.Config{Level: level, Format: cfg.Log.Format, Output: os.Stderr})

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer a.Close()

	c, err := a.Chain()
	if err != nil {
		return err
	}

	server := mcpserver.NewServer(&mcpserver.Config{
		Knowledge: a.Knowledge,
		Pipeline:  a.Pipeline,
		Chain:     c,
		Memory:    a.Memory,
		Embedder:  a.Embedder,
		Threshold: cfg.Retrieval.Threshold,
		Version:   version,
		Logger:    logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mcpserver.NewMux(server, nil),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Server.Mode == "http" {
		return serveHTTP(ctx, httpServer, logger)
	}

	// Stdio mode: also serve HTTP in the background for health checks and local testing.
	go func() {
		logger.Info("Starting HTTP server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("HTTP server error", "error", err)
		}
	}()
	defer shutdown(httpServer, logger)

	logger.Info("Starting docchat MCP server (stdio mode)", "version", version)
	if err := server.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func serveHTTP(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "addr", srv.Addr, "mcp", "/mcp", "ask", "/v1/ask", "health", "/health")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case <-ctx.Done():
		shutdown(srv, logger)
		return nil
	}
}

func shutdown(srv *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("HTTP server shutdown failed", "error", err)
	}
}

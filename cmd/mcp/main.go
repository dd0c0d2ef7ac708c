package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"

	mcpadapter "github.com/kirillkom/xpense/internal/adapters/mcp"
	"github.com/kirillkom/xpense/internal/config"
	"github.com/kirillkom/xpense/internal/infrastructure/xpenseapi"
	"github.com/kirillkom/xpense/internal/observability/logging"
)

var version = "dev"

func main() {
	cfg := config.Load()
	// stdout carries the protocol, so logs go to stderr.
	logger := logging.NewJSON(os.Stderr, "mcp", cfg.LogLevel)

	if cfg.XpenseToken == "" {
		logger.Error("mcp_start_failed", "error", "XPENSE_TOKEN is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := xpenseapi.New(cfg.XpenseAPIURL, cfg.XpenseToken, xpenseapi.Options{
		Timeout: cfg.ClientTimeout,
		Logger:  logger,
	})
	stdio := server.NewStdioServer(mcpadapter.NewServer(client, version))
	stdio.SetErrorLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))

	logger.Info("mcp_started", "api_url", cfg.XpenseAPIURL)
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("mcp_stopped", "error", err)
		os.Exit(1)
	}
}

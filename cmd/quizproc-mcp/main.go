// Package main provides the entry point for the quizproc MCP server.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/quizproc-go/internal/app"
	"github.com/raphaelgruber/quizproc-go/internal/config"
	"github.com/raphaelgruber/quizproc-go/internal/server"
	"github.com/raphaelgruber/quizproc-go/internal/tools"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger (dual output: stderr text + file JSON). Stdout carries the protocol.
	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel, "mcp")
	defer func() { _ = cleanup() }()

	logger.Info("quizproc-mcp starting",
		"version", version,
		"surrealdb_url", cfg.SurrealDBURL,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	a, err := app.Open(openCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("failed to open app", "error", err)
		os.Exit(1)
	}
	defer func() {
		logger.Info("closing database connection")
		_ = a.Close(context.Background())
	}()

	srv := server.New(version, logger)
	srv.Setup()

	// No runner: the server process holds the run lock and picks up the
	// pending tasks created here.
	tools.RegisterAll(srv.MCPServer(), &tools.Dependencies{
		Tasks:     a.Tasks,
		Analytics: a.Analytics,
		Reviews:   a.Reviews,
		Logger:    logger,
		Creator:   tools.DetectCreator(),
	})

	logger.Info("server ready, awaiting connections")
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

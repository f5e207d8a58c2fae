// Package main provides the HTTP server that owns task execution.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/quizproc-go/internal/api"
	"github.com/raphaelgruber/quizproc-go/internal/app"
	"github.com/raphaelgruber/quizproc-go/internal/config"
	"github.com/raphaelgruber/quizproc-go/internal/service"
)

func main() {
	wipeDB := flag.Bool("wipe", false, "wipe all data from database on startup (testing only)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel, "server")
	defer func() { _ = cleanup() }()
	slog.SetDefault(logger)

	// Only one process may execute tasks against the store.
	lock, err := service.AcquireRunLock(cfg.LockFile)
	if err != nil {
		logger.Error("failed to acquire run lock", "error", err)
		os.Exit(1)
	}
	defer func() { _ = lock.Unlock() }()

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
		if err := a.Close(context.Background()); err != nil {
			logger.Error("failed to close app", "error", err)
		}
	}()

	if *wipeDB || os.Getenv("QUIZPROC_WIPE_DB") == "true" {
		if err := a.DB.WipeData(ctx); err != nil {
			logger.Error("failed to wipe database", "error", err)
			os.Exit(1)
		}
	}

	if n, err := a.Runner.ResumeIncomplete(ctx); err != nil {
		logger.Warn("resume of incomplete tasks failed", "error", err)
	} else if n > 0 {
		logger.Info("resumed incomplete tasks", "count", n)
	}
	go a.Runner.Loop(ctx, cfg.PollInterval, cfg.ReconcileInterval)

	handler := api.New(ctx, api.Config{
		Tasks:     a.Tasks,
		Analytics: a.Analytics,
		Reviews:   a.Reviews,
		Runner:    a.Runner,
		Metrics:   a.Metrics,
		Logger:    logger,
	}).Handler()

	httpServer := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("quizproc-server listening", "addr", cfg.ServerAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down server...")
	case err := <-serveErr:
		logger.Error("server error", "error", err)
		stop()
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	logger.Info("server stopped; waiting for running tasks to pause")
}

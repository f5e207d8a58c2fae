// Package app wires the store, the execution backend and the services into
// one dependency set shared by the binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/quizproc-go/internal/config"
	"github.com/raphaelgruber/quizproc-go/internal/db"
	"github.com/raphaelgruber/quizproc-go/internal/llm"
	"github.com/raphaelgruber/quizproc-go/internal/metrics"
	"github.com/raphaelgruber/quizproc-go/internal/models"
	"github.com/raphaelgruber/quizproc-go/internal/service"
)

// App holds every long-lived dependency of a quizproc process.
type App struct {
	DB        *db.Client
	Metrics   *metrics.Collector
	Tasks     *service.TaskService
	Analytics *service.AnalyticsService
	Reviews   *service.ReviewService
	Executor  *service.Executor
	Runner    *service.Runner
	Config    config.Config
}

// DBConfig extracts the SurrealDB connection settings.
func DBConfig(cfg config.Config) db.Config {
	return db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}
}

// Open connects to the store, initializes the schema and builds the services.
// LLM backends are created lazily on first use, so Open succeeds without any
// provider being reachable.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	mc := metrics.NewCollector()

	dbClient, err := db.NewClient(ctx, DBConfig(cfg), logger, mc)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := dbClient.InitSchema(ctx); err != nil {
		_ = dbClient.Close(ctx)
		return nil, err
	}

	capability, err := llm.NewExecutor(llm.NewRegistry(cfg, mc), cfg.RateLimitPerMin)
	if err != nil {
		_ = dbClient.Close(ctx)
		return nil, fmt.Errorf("init execution backend: %w", err)
	}

	tasks := service.NewTaskService(dbClient, service.TaskConfig{
		DefaultBatchSize: cfg.DefaultBatchSize,
		TerminalPolicy:   models.TerminalPolicy(cfg.TerminalPolicy),
		SingleActiveTask: cfg.SingleActiveTask,
		DefaultProvider:  cfg.LLMProvider,
		DefaultModel:     cfg.LLMModel,
	})
	executor := service.NewExecutor(dbClient, capability, service.ExecutorConfig{
		ItemTimeout:     cfg.ItemTimeout,
		ItemConcurrency: cfg.ItemConcurrency,
	}, mc)

	return &App{
		DB:        dbClient,
		Metrics:   mc,
		Tasks:     tasks,
		Analytics: service.NewAnalyticsService(dbClient),
		Reviews:   service.NewReviewService(dbClient),
		Executor:  executor,
		Runner:    service.NewRunner(executor, tasks),
		Config:    cfg,
	}, nil
}

// Close waits for in-process runs and closes the store connection.
func (a *App) Close(ctx context.Context) error {
	a.Runner.Wait()
	return a.DB.Close(ctx)
}

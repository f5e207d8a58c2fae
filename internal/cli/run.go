package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/quizproc-go/internal/app"
	"github.com/raphaelgruber/quizproc-go/internal/config"
	"github.com/raphaelgruber/quizproc-go/internal/service"
)

var runCmd = &cobra.Command{
	Use:   "run <task-id>",
	Short: "Execute a task in this process",
	Long: `Execute a pending or interrupted task in this process against the
database directly, without a server. Holds the run lock while executing,
so it refuses to start when a server is already running tasks.

Interrupting with Ctrl+C leaves unfinished items pending; the next run or
server start picks them up.`,
	Args: cobra.ExactArgs(1),
	RunE: runLocal,
}

func runLocal(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level := cfg.LogLevel
	if verbose {
		level = slog.LevelDebug
	}
	logger, cleanup := config.SetupLogger(cfg.LogFile, level, "quizproc")
	defer func() { _ = cleanup() }()
	slog.SetDefault(logger)

	lock, err := service.AcquireRunLock(cfg.LockFile)
	if errors.Is(err, service.ErrLocked) {
		exitWithError("another quizproc process is executing tasks (%s)", cfg.LockFile)
	}
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	ctx := cmd.Context()
	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	a, err := app.Open(openCtx, cfg, logger)
	cancel()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	start := time.Now()
	if err := a.Executor.Run(ctx, args[0]); err != nil {
		if ctx.Err() != nil {
			fmt.Println("Interrupted; unfinished items stay pending")
			return nil
		}
		return fmt.Errorf("run task: %w", err)
	}

	view, err := a.Tasks.GetTask(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	fmt.Printf("Task %s finished as %s in %s (%d succeeded, %d failed)\n",
		args[0], view.Status, time.Since(start).Round(time.Second), view.SucceededCount, view.FailedCount)
	return nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/raphaelgruber/quizproc-go/internal/models"
)

// ErrLocked indicates another process holds the run lock.
var ErrLocked = errors.New("run lock held by another process")

// RunState is the in-memory state of a task executing in this process.
type RunState struct {
	TaskID      string     `json:"task_id"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Runner executes tasks in background goroutines and keeps a registry of
// the runs started by this process. Each task runs as an independent loop.
type Runner struct {
	exec  *Executor
	tasks *TaskService

	mu   sync.RWMutex
	runs map[string]*RunState
	wg   sync.WaitGroup
}

// NewRunner creates a new runner.
func NewRunner(exec *Executor, tasks *TaskService) *Runner {
	return &Runner{
		exec:  exec,
		tasks: tasks,
		runs:  make(map[string]*RunState),
	}
}

// Start launches a task in the background. It returns false if the task is
// already running in this process.
func (r *Runner) Start(ctx context.Context, taskID string) bool {
	r.mu.Lock()
	if st, ok := r.runs[taskID]; ok && st.CompletedAt == nil {
		r.mu.Unlock()
		return false
	}
	state := &RunState{TaskID: taskID, StartedAt: time.Now()}
	r.runs[taskID] = state
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		var err error
		defer func() {
			if p := recover(); p != nil {
				slog.Error("task goroutine panicked", "task_id", taskID, "panic", p)
				err = fmt.Errorf("internal panic: %v", p)
			}
			r.complete(state, err)
		}()
		err = r.exec.Run(ctx, taskID)
	}()
	return true
}

func (r *Runner) complete(state *RunState, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	state.CompletedAt = &now
	if err != nil {
		state.Error = err.Error()
		if errors.Is(err, context.Canceled) {
			slog.Info("task run interrupted", "task_id", state.TaskID)
			return
		}
		slog.Error("task run failed", "task_id", state.TaskID, "error", err)
	}
}

// Runs returns copies of all run states, most recent first.
func (r *Runner) Runs() []RunState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]RunState, 0, len(r.runs))
	for _, st := range r.runs {
		out = append(out, *st)
	}
	slices.SortFunc(out, func(a, b RunState) int { return b.StartedAt.Compare(a.StartedAt) })
	return out
}

// IsRunning reports whether a task is executing in this process.
func (r *Runner) IsRunning(taskID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.runs[taskID]
	return ok && st.CompletedAt == nil
}

// Wait blocks until every started run returns.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// ResumeIncomplete restarts tasks left processing by a previous process.
// Their items stuck in processing are failed as interrupted and traced, so
// a retry does not attempt them again; pending items run again.
func (r *Runner) ResumeIncomplete(ctx context.Context) (int, error) {
	tasks, err := r.tasks.store.ListTasksByStatus(ctx, models.TaskProcessing)
	if err != nil {
		return 0, err
	}
	if len(tasks) == 0 {
		slog.Info("no incomplete tasks to resume")
		return 0, nil
	}

	slog.Info("found incomplete tasks", "count", len(tasks))
	resumed := 0
	for _, t := range tasks {
		id := t.TaskID()
		if r.IsRunning(id) {
			continue
		}
		interrupted, err := r.tasks.store.FailInterruptedItems(ctx, id)
		if err != nil {
			slog.Warn("failed to fail interrupted items", "task_id", id, "error", err)
			continue
		}
		for _, trace := range interruptedTraces(t.Operations, interrupted) {
			if err := r.tasks.store.AppendQuestionTrace(ctx, id, trace); err != nil {
				slog.Warn("failed to append question trace", "task_id", id, "question_id", trace.QuestionID, "error", err)
			}
		}
		n := len(interrupted)
		if n > 0 {
			r.tasks.serverLog(ctx, id, "warn", fmt.Sprintf("resumed after restart: %d interrupted items failed", n))
		}
		slog.Info("resuming task", "task_id", id, "interrupted_items", n)
		if r.Start(ctx, id) {
			resumed++
		}
	}
	return resumed, nil
}

// interruptedTraces builds one failed trace per question from items failed
// on resume, in question order.
func interruptedTraces(ops []models.Operation, items []models.Item) []models.QuestionTrace {
	byQuestion := make(map[int64]*models.QuestionTrace)
	var order []int64
	for _, it := range items {
		trace, ok := byQuestion[it.QuestionID]
		if !ok {
			trace = &models.QuestionTrace{QuestionID: it.QuestionID, Status: models.TraceFailed, Operations: ops}
			byQuestion[it.QuestionID] = trace
			order = append(order, it.QuestionID)
		}
		sub := models.SubtaskTrace{
			Operation:  it.Operation,
			TargetLang: it.Lang(),
			Status:     models.TraceFailed,
			Timestamp:  it.FinishedAt,
		}
		if it.ErrorMessage != nil {
			sub.Error = *it.ErrorMessage
		}
		trace.Subtasks = append(trace.Subtasks, sub)
		if it.FinishedAt != nil && (trace.Timestamp == nil || it.FinishedAt.After(*trace.Timestamp)) {
			trace.Timestamp = it.FinishedAt
		}
	}
	slices.Sort(order)

	traces := make([]models.QuestionTrace, 0, len(order))
	for _, qid := range order {
		traces = append(traces, *byQuestion[qid])
	}
	return traces
}

// StartPending launches every pending task not yet running here.
func (r *Runner) StartPending(ctx context.Context) (int, error) {
	tasks, err := r.tasks.store.ListTasksByStatus(ctx, models.TaskPending)
	if err != nil {
		return 0, err
	}
	started := 0
	for _, t := range tasks {
		if r.Start(ctx, t.TaskID()) {
			started++
		}
	}
	return started, nil
}

// Loop picks up pending tasks every poll interval and reconciles the
// counters of active tasks every reconcile interval, until ctx is done.
func (r *Runner) Loop(ctx context.Context, poll, reconcile time.Duration) {
	if poll <= 0 {
		poll = 5 * time.Second
	}
	if reconcile <= 0 {
		reconcile = time.Minute
	}
	pollTicker := time.NewTicker(poll)
	defer pollTicker.Stop()
	reconcileTicker := time.NewTicker(reconcile)
	defer reconcileTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			if n, err := r.StartPending(ctx); err != nil {
				slog.Warn("pending task pickup failed", "error", err)
			} else if n > 0 {
				slog.Info("picked up pending tasks", "count", n)
			}
		case <-reconcileTicker.C:
			if n, err := r.tasks.ReconcileActive(ctx); err != nil {
				slog.Warn("reconcile failed", "error", err)
			} else if n > 0 {
				slog.Info("reconciled task counters", "count", n)
			}
		}
	}
}

// AcquireRunLock takes an exclusive file lock so only one process executes
// tasks. Returns ErrLocked if another process holds it.
func AcquireRunLock(path string) (*flock.Flock, error) {
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrLocked)
	}
	return lock, nil
}

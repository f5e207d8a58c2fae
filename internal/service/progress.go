package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/quizproc-go/internal/db"
	"github.com/raphaelgruber/quizproc-go/internal/models"
)

// OperationStats breaks one operation's items down by status.
type OperationStats struct {
	Total              int `json:"total"`
	Succeeded          int `json:"succeeded"`
	Failed             int `json:"failed"`
	PartiallySucceeded int `json:"partially_succeeded"`
	Processing         int `json:"processing"`
	Pending            int `json:"pending"`
}

// Progress is a point-in-time view of a task derived from its items.
type Progress struct {
	TotalQuestions     int                                 `json:"totalQuestions"`
	ProcessedQuestions int                                 `json:"processedQuestions"`
	TotalItems         int                                 `json:"totalItems"`
	CompletedItems     int                                 `json:"completedItems"`
	FailedItems        int                                 `json:"failedItems"`
	PartialItems       int                                 `json:"partialItems"`
	ProcessingItems    int                                 `json:"processingItems"`
	PendingItems       int                                 `json:"pendingItems"`
	SucceededCount     int                                 `json:"succeededCount"`
	Percent            float64                             `json:"percent"`
	ByOperation        map[models.Operation]OperationStats `json:"byOperation"`
}

// Progress derives progress from the item store. When total_questions was
// fixed at creation it defines the item total; otherwise the live item
// count is used.
func (s *TaskService) Progress(ctx context.Context, task *models.Task) (*Progress, error) {
	counts, err := s.store.ItemStatusCounts(ctx, task.TaskID())
	if err != nil {
		return nil, fmt.Errorf("progress: %w", err)
	}

	p := &Progress{ByOperation: make(map[models.Operation]OperationStats)}
	live := 0
	for _, c := range counts {
		st := p.ByOperation[c.Operation]
		st.Total += c.Count
		switch c.Status {
		case models.ItemSucceeded:
			st.Succeeded += c.Count
			p.CompletedItems += c.Count
		case models.ItemFailed:
			st.Failed += c.Count
			p.FailedItems += c.Count
		case models.ItemPartiallySucceeded:
			st.PartiallySucceeded += c.Count
			p.PartialItems += c.Count
		case models.ItemProcessing:
			st.Processing += c.Count
			p.ProcessingItems += c.Count
		case models.ItemPending:
			st.Pending += c.Count
			p.PendingItems += c.Count
		}
		p.ByOperation[c.Operation] = st
		live += c.Count
	}

	perQuestion := task.ItemsPerQuestion()
	if task.TotalQuestions != nil {
		p.TotalQuestions = *task.TotalQuestions
		p.TotalItems = *task.TotalQuestions * perQuestion
	} else {
		p.TotalItems = live
		if perQuestion > 0 {
			p.TotalQuestions = live / perQuestion
		}
	}

	p.ProcessedQuestions = task.ProcessedCount
	p.SucceededCount = task.SucceededCount
	if p.SucceededCount == 0 {
		p.SucceededCount = p.CompletedItems
	}
	if p.TotalItems > 0 {
		done := p.CompletedItems + p.FailedItems + p.PartialItems
		p.Percent = float64(done) * 100 / float64(p.TotalItems)
	}
	return p, nil
}

// Reconcile recomputes a task's counters from its items and rewrites them
// when the cached values diverge. It reports whether a rewrite happened.
func (s *TaskService) Reconcile(ctx context.Context, taskID string) (bool, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	items, err := s.store.ListItems(ctx, taskID, db.ItemFilter{})
	if err != nil {
		return false, err
	}

	derived := questionCounters(items)
	derived.CurrentBatch = task.CurrentBatch
	if derived.Processed == task.ProcessedCount &&
		derived.Succeeded == task.SucceededCount &&
		derived.Failed == task.FailedCount {
		return false, nil
	}

	if err := s.store.UpdateTaskCounters(ctx, taskID, derived); err != nil {
		return false, err
	}
	slog.Info("task counters reconciled", "task_id", taskID,
		"processed", derived.Processed, "succeeded", derived.Succeeded, "failed", derived.Failed,
		"was_processed", task.ProcessedCount)
	return true, nil
}

// ReconcileActive reconciles every task that is still running or paused.
func (s *TaskService) ReconcileActive(ctx context.Context) (int, error) {
	tasks, err := s.store.ListTasksByStatus(ctx, models.TaskProcessing, models.TaskPaused)
	if err != nil {
		return 0, err
	}
	fixed := 0
	for _, t := range tasks {
		ok, err := s.Reconcile(ctx, t.TaskID())
		if err != nil {
			slog.Warn("reconcile failed", "task_id", t.TaskID(), "error", err)
			continue
		}
		if ok {
			fixed++
		}
	}
	return fixed, nil
}

// questionCounters derives question-level counters from items. A question
// counts as processed once at least one of its items finished and none is
// still processing. It counts as failed when any of its items failed.
func questionCounters(items []models.Item) db.TaskCounters {
	type state struct{ touched, running, failed bool }
	byQuestion := make(map[int64]*state)
	for _, it := range items {
		st, ok := byQuestion[it.QuestionID]
		if !ok {
			st = &state{}
			byQuestion[it.QuestionID] = st
		}
		switch {
		case it.Status == models.ItemProcessing:
			st.running = true
		case it.Status.IsFinished():
			st.touched = true
		}
		if it.Status == models.ItemFailed {
			st.failed = true
		}
	}

	var c db.TaskCounters
	for _, st := range byQuestion {
		if !st.touched || st.running {
			continue
		}
		c.Processed++
		if st.failed {
			c.Failed++
		} else {
			c.Succeeded++
		}
	}
	return c
}

// itemTotals sums item counts into successes (including partial) and failures,
// and reports how many are still open.
func itemTotals(counts []db.StatusCount) (succeeded, failed, open int) {
	for _, c := range counts {
		switch c.Status {
		case models.ItemSucceeded, models.ItemPartiallySucceeded:
			succeeded += c.Count
		case models.ItemFailed:
			failed += c.Count
		default:
			open += c.Count
		}
	}
	return succeeded, failed, open
}

package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/quizproc-go/internal/models"
)

// RetryTask creates a new task scoped to the questions of originalID that
// never got a completed trace. Questions that were attempted, successfully
// or not, are not retried.
func (s *TaskService) RetryTask(ctx context.Context, originalID, createdBy string) (*TaskView, error) {
	original, err := s.store.GetTask(ctx, originalID)
	if err != nil {
		return nil, err
	}

	pending, err := PendingQuestions(original)
	if err != nil {
		return nil, err
	}

	if createdBy == "" {
		createdBy = original.CreatedBy
	}
	view, err := s.CreateTask(ctx, CreateTaskRequest{
		Operations:  original.Operations,
		QuestionIDs: pending,
		Options:     original.Options,
		CreatedBy:   createdBy,
		serverLog:   fmt.Sprintf("retry of %s: %d of %d questions left", originalID, len(pending), len(original.QuestionIDs)),
	})
	if err != nil {
		return nil, err
	}

	s.serverLog(ctx, originalID, "info", fmt.Sprintf("retried as %s", view.TaskID()))
	slog.Info("task retried", "task_id", originalID, "retry_task_id", view.TaskID(), "questions", len(pending))
	return view, nil
}

// PendingQuestions returns the explicit question ids of task without a
// completed trace, in their original order.
func PendingQuestions(task *models.Task) ([]int64, error) {
	if !task.HasExplicitScope() || len(task.QuestionIDs) == 0 {
		return nil, fmt.Errorf("%w: task %s has no explicit question ids", ErrDynamicScope, task.TaskID())
	}
	if !task.Status.IsRetryable() {
		return nil, fmt.Errorf("%w: task %s is %s", ErrNotRetryable, task.TaskID(), task.Status)
	}

	processed := task.Details.ProcessedQuestionIDs()
	pending := make([]int64, 0, len(task.QuestionIDs))
	for _, id := range task.QuestionIDs {
		if !processed[id] {
			pending = append(pending, id)
		}
	}
	if len(pending) == 0 {
		return nil, fmt.Errorf("%w: every question of task %s was processed", ErrNothingToRetry, task.TaskID())
	}
	return pending, nil
}

package db

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/quizproc-go/internal/models"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// NewTask holds the fields of a task about to be created.
type NewTask struct {
	ID             string
	Operations     []models.Operation
	QuestionIDs    []int64 // nil for a discovered scope
	Options        models.TaskOptions
	TotalQuestions *int
	CreatedBy      string
	ServerLog      models.ServerLog
}

// NewItem holds the fields of an item materialized with its task.
type NewItem struct {
	QuestionID int64
	Operation  models.Operation
	TargetLang *string
}

// TaskFilter narrows ListTasks.
type TaskFilter struct {
	Statuses []models.TaskStatus
	Limit    int
	Offset   int
}

// TaskCounters is the cached aggregate state written back to a task.
type TaskCounters struct {
	Processed    int
	Succeeded    int
	Failed       int
	CurrentBatch int
}

// taskRow mirrors the task table. Details stay untyped until parsed
// because older write paths stored them as text or a bare array.
type taskRow struct {
	ID             surrealmodels.RecordID `json:"id"`
	Status         models.TaskStatus      `json:"status"`
	Operations     []models.Operation     `json:"operations"`
	QuestionIDs    []int64                `json:"question_ids"`
	Options        models.TaskOptions     `json:"options"`
	TotalQuestions *int                   `json:"total_questions"`
	ProcessedCount int                    `json:"processed_count"`
	SucceededCount int                    `json:"succeeded_count"`
	FailedCount    int                    `json:"failed_count"`
	CurrentBatch   int                    `json:"current_batch"`
	Details        any                    `json:"details"`
	CreatedBy      string                 `json:"created_by"`
	CreatedAt      time.Time              `json:"created_at"`
	StartedAt      *time.Time             `json:"started_at"`
	CompletedAt    *time.Time             `json:"completed_at"`
	UpdatedAt      *time.Time             `json:"updated_at"`
}

func (r taskRow) toModel() models.Task {
	details, err := models.ParseTaskDetails(r.Details)
	if err != nil {
		slog.Warn("unreadable task details", "task_id", r.ID.ID, "error", err)
	}
	return models.Task{
		ID:             r.ID,
		Status:         r.Status,
		Operations:     r.Operations,
		QuestionIDs:    r.QuestionIDs,
		Options:        r.Options,
		TotalQuestions: r.TotalQuestions,
		ProcessedCount: r.ProcessedCount,
		SucceededCount: r.SucceededCount,
		FailedCount:    r.FailedCount,
		CurrentBatch:   r.CurrentBatch,
		Details:        details,
		CreatedBy:      r.CreatedBy,
		CreatedAt:      r.CreatedAt,
		StartedAt:      r.StartedAt,
		CompletedAt:    r.CompletedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

// CreateTaskWithItems writes a task and all of its items in one transaction.
// A task is never visible without its items.
func (c *Client) CreateTaskWithItems(ctx context.Context, task NewTask, items []NewItem) (*models.Task, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("create task: no items to materialize")
	}

	content := map[string]any{
		"status":     string(models.TaskPending),
		"operations": task.Operations,
		"options":    task.Options,
		"created_by": task.CreatedBy,
		"details": map[string]any{
			"questions":   []any{},
			"server_logs": []models.ServerLog{task.ServerLog},
		},
	}
	if task.QuestionIDs != nil {
		content["question_ids"] = task.QuestionIDs
	}
	if task.TotalQuestions != nil {
		content["total_questions"] = *task.TotalQuestions
	}

	rows := make([]map[string]any, len(items))
	for i, item := range items {
		row := map[string]any{
			"task_id":     task.ID,
			"question_id": item.QuestionID,
			"operation":   string(item.Operation),
			"status":      string(models.ItemPending),
		}
		if item.TargetLang != nil {
			row["target_lang"] = *item.TargetLang
		}
		rows[i] = row
	}

	sql := `
		BEGIN TRANSACTION;
		CREATE type::record("task", $id) CONTENT $task;
		INSERT INTO task_item $items;
		COMMIT TRANSACTION;
	`
	if err := c.exec(ctx, sql, map[string]any{
		"id":    task.ID,
		"task":  content,
		"items": rows,
	}); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	return c.GetTask(ctx, task.ID)
}

// GetTask retrieves a task by id. Returns ErrNotFound if it does not exist.
func (c *Client) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row, err := queryFirst[taskRow](ctx, c, `SELECT * FROM type::record("task", $id)`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if row == nil {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	task := row.toModel()
	return &task, nil
}

// ListTasks returns tasks newest first plus the total matching count.
func (c *Client) ListTasks(ctx context.Context, filter TaskFilter) ([]models.Task, int, error) {
	var where string
	vars := map[string]any{
		"limit":  filter.Limit,
		"offset": filter.Offset,
	}
	if len(filter.Statuses) > 0 {
		where = "WHERE status IN $statuses"
		vars["statuses"] = statusStrings(filter.Statuses)
	}

	sql := fmt.Sprintf(`SELECT * FROM task %s ORDER BY created_at DESC LIMIT $limit START $offset`, where)
	rows, err := queryRows[taskRow](ctx, c, sql, vars)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}

	countSQL := fmt.Sprintf(`SELECT count() AS c FROM task %s GROUP ALL`, where)
	count, err := queryFirst[struct {
		C int `json:"c"`
	}](ctx, c, countSQL, vars)
	if err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	tasks := make([]models.Task, len(rows))
	for i, r := range rows {
		tasks[i] = r.toModel()
	}
	total := 0
	if count != nil {
		total = count.C
	}
	return tasks, total, nil
}

// ListTasksByStatus returns every task currently in one of statuses, oldest first.
func (c *Client) ListTasksByStatus(ctx context.Context, statuses ...models.TaskStatus) ([]models.Task, error) {
	rows, err := queryRows[taskRow](ctx, c,
		`SELECT * FROM task WHERE status IN $statuses ORDER BY created_at ASC`,
		map[string]any{"statuses": statusStrings(statuses)})
	if err != nil {
		return nil, fmt.Errorf("list tasks by status: %w", err)
	}
	tasks := make([]models.Task, len(rows))
	for i, r := range rows {
		tasks[i] = r.toModel()
	}
	return tasks, nil
}

// TransitionTask moves a task to status `to` only if it is currently in one of `from`.
// Returns false when the task exists but was in another state.
func (c *Client) TransitionTask(ctx context.Context, id string, from []models.TaskStatus, to models.TaskStatus) (bool, error) {
	sql := `
		UPDATE type::record("task", $id) SET
			status = $to,
			updated_at = time::now(),
			completed_at = IF $terminal THEN time::now() ELSE completed_at END
		WHERE status IN $from
		RETURN AFTER
	`
	rows, err := queryRows[taskRow](ctx, c, sql, map[string]any{
		"id":       id,
		"to":       string(to),
		"from":     statusStrings(from),
		"terminal": to.IsTerminal(),
	})
	if err != nil {
		return false, fmt.Errorf("transition task: %w", err)
	}
	if len(rows) > 0 {
		return true, nil
	}
	if _, err := c.GetTask(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// MarkTaskStarted flips a pending or resumed task to processing.
// started_at is kept from the first run.
func (c *Client) MarkTaskStarted(ctx context.Context, id string) (bool, error) {
	sql := `
		UPDATE type::record("task", $id) SET
			status = "processing",
			started_at = started_at ?? time::now(),
			updated_at = time::now()
		WHERE status IN ["pending", "processing"]
		RETURN AFTER
	`
	rows, err := queryRows[taskRow](ctx, c, sql, map[string]any{"id": id})
	if err != nil {
		return false, fmt.Errorf("mark task started: %w", err)
	}
	return len(rows) > 0, nil
}

// FinishTask writes the terminal status and counters of a processing task.
// Tasks already cancelled or paused by an operator keep their status.
func (c *Client) FinishTask(ctx context.Context, id string, status models.TaskStatus, counters TaskCounters) (bool, error) {
	sql := `
		UPDATE type::record("task", $id) SET
			status = $status,
			processed_count = $processed,
			succeeded_count = $succeeded,
			failed_count = $failed,
			current_batch = $batch,
			completed_at = time::now(),
			updated_at = time::now()
		WHERE status = "processing"
		RETURN AFTER
	`
	rows, err := queryRows[taskRow](ctx, c, sql, counterVars(id, counters, map[string]any{"status": string(status)}))
	if err != nil {
		return false, fmt.Errorf("finish task: %w", err)
	}
	return len(rows) > 0, nil
}

// UpdateTaskCounters overwrites the cached counters of a task.
func (c *Client) UpdateTaskCounters(ctx context.Context, id string, counters TaskCounters) error {
	sql := `
		UPDATE type::record("task", $id) SET
			processed_count = $processed,
			succeeded_count = $succeeded,
			failed_count = $failed,
			current_batch = $batch,
			updated_at = time::now()
	`
	if err := c.exec(ctx, sql, counterVars(id, counters, nil)); err != nil {
		return fmt.Errorf("update task counters: %w", err)
	}
	return nil
}

// AppendQuestionTrace appends one question's trace to the task's details.
// The append happens server-side so concurrent writers never overwrite each other.
func (c *Client) AppendQuestionTrace(ctx context.Context, id string, trace models.QuestionTrace) error {
	sql := `
		UPDATE type::record("task", $id) SET
			details.questions = array::append(details.questions ?? [], $trace),
			updated_at = time::now()
	`
	if err := c.exec(ctx, sql, map[string]any{"id": id, "trace": trace}); err != nil {
		return fmt.Errorf("append question trace: %w", err)
	}
	return nil
}

// AppendServerLog appends a lifecycle message to the task's details.
func (c *Client) AppendServerLog(ctx context.Context, id string, entry models.ServerLog) error {
	sql := `
		UPDATE type::record("task", $id) SET
			details.server_logs = array::append(details.server_logs ?? [], $entry)
	`
	if err := c.exec(ctx, sql, map[string]any{"id": id, "entry": entry}); err != nil {
		return fmt.Errorf("append server log: %w", err)
	}
	return nil
}

func counterVars(id string, counters TaskCounters, extra map[string]any) map[string]any {
	vars := map[string]any{
		"id":        id,
		"processed": counters.Processed,
		"succeeded": counters.Succeeded,
		"failed":    counters.Failed,
		"batch":     counters.CurrentBatch,
	}
	for k, v := range extra {
		vars[k] = v
	}
	return vars
}

func statusStrings[S ~string](statuses []S) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = strings.ToLower(string(s))
	}
	return out
}

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

// ItemFilter narrows ListItems. Zero values mean "any".
type ItemFilter struct {
	Operation  models.Operation
	Status     models.ItemStatus
	TargetLang string
	Limit      int
}

// ItemWindow selects items by time range and optional operation.
type ItemWindow struct {
	From      time.Time
	To        time.Time
	Operation models.Operation
}

// StatusCount is one (operation, status) bucket of a task's items.
type StatusCount struct {
	Operation models.Operation  `json:"operation"`
	Status    models.ItemStatus `json:"status"`
	Count     int               `json:"count"`
}

// LocaleCount pairs failures with total attempts for one target locale.
type LocaleCount struct {
	Locale string `json:"locale"`
	Total  int    `json:"total"`
	Failed int    `json:"failed"`
}

// itemRow mirrors the task_item table with error_detail left untyped.
type itemRow struct {
	ID           surrealmodels.RecordID `json:"id"`
	TaskID       string                 `json:"task_id"`
	QuestionID   int64                  `json:"question_id"`
	Operation    models.Operation       `json:"operation"`
	TargetLang   *string                `json:"target_lang"`
	Status       models.ItemStatus      `json:"status"`
	ErrorCode    *string                `json:"error_code"`
	ErrorMessage *string                `json:"error_message"`
	ErrorDetail  any                    `json:"error_detail"`
	CreatedAt    time.Time              `json:"created_at"`
	StartedAt    *time.Time             `json:"started_at"`
	FinishedAt   *time.Time             `json:"finished_at"`
}

func (r itemRow) toModel() models.Item {
	detail, err := models.ParseErrorDetail(r.ErrorDetail)
	if err != nil {
		slog.Warn("unreadable item error detail", "item_id", r.ID.ID, "error", err)
	}
	return models.Item{
		ID:           r.ID,
		TaskID:       r.TaskID,
		QuestionID:   r.QuestionID,
		Operation:    r.Operation,
		TargetLang:   r.TargetLang,
		Status:       r.Status,
		ErrorCode:    r.ErrorCode,
		ErrorMessage: r.ErrorMessage,
		ErrorDetail:  detail,
		CreatedAt:    r.CreatedAt,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
	}
}

func toItems(rows []itemRow) []models.Item {
	items := make([]models.Item, len(rows))
	for i, r := range rows {
		items[i] = r.toModel()
	}
	return items
}

// ListItems returns a task's items ordered by question, operation and locale.
func (c *Client) ListItems(ctx context.Context, taskID string, filter ItemFilter) ([]models.Item, error) {
	conds := []string{"task_id = $task_id"}
	vars := map[string]any{"task_id": taskID}
	if filter.Operation != "" {
		conds = append(conds, "operation = $operation")
		vars["operation"] = string(filter.Operation)
	}
	if filter.Status != "" {
		conds = append(conds, "status = $status")
		vars["status"] = string(filter.Status)
	}
	if filter.TargetLang != "" {
		conds = append(conds, "target_lang = $target_lang")
		vars["target_lang"] = filter.TargetLang
	}

	limit := ""
	if filter.Limit > 0 {
		limit = "LIMIT $limit"
		vars["limit"] = filter.Limit
	}

	sql := fmt.Sprintf(`
		SELECT * FROM task_item
		WHERE %s
		ORDER BY question_id ASC, operation ASC, target_lang ASC
		%s
	`, strings.Join(conds, " AND "), limit)

	rows, err := queryRows[itemRow](ctx, c, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return toItems(rows), nil
}

// ClaimItem moves a pending item to processing. Returns false if another
// worker claimed it first or it already finished.
func (c *Client) ClaimItem(ctx context.Context, itemID string) (bool, error) {
	sql := `
		UPDATE type::record("task_item", $id) SET
			status = "processing",
			started_at = time::now()
		WHERE status = "pending"
		RETURN AFTER
	`
	rows, err := queryRows[itemRow](ctx, c, sql, map[string]any{"id": itemID})
	if err != nil {
		return false, fmt.Errorf("claim item: %w", err)
	}
	return len(rows) > 0, nil
}

// FinishItem applies a terminal outcome to a processing item.
// Items that are not processing are left untouched and reported as stale.
func (c *Client) FinishItem(ctx context.Context, itemID string, outcome models.ItemOutcome) error {
	sets := []string{"status = $status", "finished_at = time::now()"}
	vars := map[string]any{
		"id":     itemID,
		"status": string(outcome.Status),
	}
	if outcome.ErrorCode != "" {
		sets = append(sets, "error_code = $error_code")
		vars["error_code"] = outcome.ErrorCode
	}
	if outcome.ErrorMessage != "" {
		sets = append(sets, "error_message = $error_message")
		vars["error_message"] = outcome.ErrorMessage
	}
	if !outcome.Detail.IsEmpty() {
		sets = append(sets, "error_detail = $error_detail")
		vars["error_detail"] = outcome.Detail
	}

	sql := fmt.Sprintf(`
		UPDATE type::record("task_item", $id) SET %s
		WHERE status = "processing"
		RETURN AFTER
	`, strings.Join(sets, ", "))

	rows, err := queryRows[itemRow](ctx, c, sql, vars)
	if err != nil {
		return fmt.Errorf("finish item: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("finish item %s: %w", itemID, ErrStaleState)
	}
	return nil
}

// InterruptedMessage is the error message of items failed on resume.
const InterruptedMessage = "worker stopped before the item finished"

// FailInterruptedItems fails items left processing by a worker that died
// and returns them.
func (c *Client) FailInterruptedItems(ctx context.Context, taskID string) ([]models.Item, error) {
	sql := `
		UPDATE task_item SET
			status = "failed",
			error_code = $code,
			error_message = $message,
			error_detail = { errorCode: $code, errorStage: $stage },
			finished_at = time::now()
		WHERE task_id = $task_id AND status = "processing"
		RETURN AFTER
	`
	rows, err := queryRows[itemRow](ctx, c, sql, map[string]any{
		"task_id": taskID,
		"code":    models.CodeInterrupted,
		"stage":   models.StageInterrupted,
		"message": InterruptedMessage,
	})
	if err != nil {
		return nil, fmt.Errorf("fail interrupted items: %w", err)
	}
	return toItems(rows), nil
}

// ItemStatusCounts groups a task's items by operation and status.
func (c *Client) ItemStatusCounts(ctx context.Context, taskID string) ([]StatusCount, error) {
	sql := `
		SELECT operation, status, count() AS count
		FROM task_item
		WHERE task_id = $task_id
		GROUP BY operation, status
	`
	counts, err := queryRows[StatusCount](ctx, c, sql, map[string]any{"task_id": taskID})
	if err != nil {
		return nil, fmt.Errorf("item status counts: %w", err)
	}
	return counts, nil
}

// ListFailedItems returns failed items created inside the window.
func (c *Client) ListFailedItems(ctx context.Context, window ItemWindow) ([]models.Item, error) {
	where, vars := windowClause("created_at", window)
	sql := fmt.Sprintf(`SELECT * FROM task_item WHERE status = "failed" AND %s ORDER BY created_at DESC`, where)

	rows, err := queryRows[itemRow](ctx, c, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list failed items: %w", err)
	}
	return toItems(rows), nil
}

// LocaleAttemptCounts counts attempts and failures per target locale inside the window.
func (c *Client) LocaleAttemptCounts(ctx context.Context, window ItemWindow) ([]LocaleCount, error) {
	where, vars := windowClause("created_at", window)
	sql := fmt.Sprintf(`
		SELECT
			target_lang ?? "unknown" AS locale,
			count() AS total,
			count(status = "failed") AS failed
		FROM task_item
		WHERE %s
		GROUP BY locale
	`, where)

	counts, err := queryRows[LocaleCount](ctx, c, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("locale attempt counts: %w", err)
	}
	return counts, nil
}

// ListFinishedItemsWithDetail returns finished items inside the window that
// carry an error_detail document, newest first.
func (c *Client) ListFinishedItemsWithDetail(ctx context.Context, window ItemWindow) ([]models.Item, error) {
	where, vars := windowClause("finished_at", window)
	sql := fmt.Sprintf(`
		SELECT * FROM task_item
		WHERE status IN ["succeeded", "failed", "partially_succeeded"]
			AND error_detail != NONE
			AND %s
		ORDER BY finished_at DESC
	`, where)

	rows, err := queryRows[itemRow](ctx, c, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list finished items: %w", err)
	}
	return toItems(rows), nil
}

func windowClause(field string, window ItemWindow) (string, map[string]any) {
	conds := []string{
		field + " >= type::datetime($from)",
		field + " <= type::datetime($to)",
	}
	vars := map[string]any{
		"from": window.From.UTC().Format(time.RFC3339Nano),
		"to":   window.To.UTC().Format(time.RFC3339Nano),
	}
	if window.Operation != "" {
		conds = append(conds, "operation = $operation")
		vars["operation"] = string(window.Operation)
	}
	return strings.Join(conds, " AND "), vars
}

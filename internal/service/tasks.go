// Package service provides the task engine: planning, execution, progress,
// analytics and the review workflow.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/quizproc-go/internal/db"
	"github.com/raphaelgruber/quizproc-go/internal/models"
)

// Batch size bounds.
const (
	DefaultBatchSize = 10
	MaxBatchSize     = 100
)

// List limits.
const (
	defaultTaskLimit = 50
	maxTaskLimit     = 200
	defaultItemLimit = 100
	maxItemLimit     = 1000
)

// TaskConfig holds engine-wide defaults applied at task creation.
type TaskConfig struct {
	DefaultBatchSize int
	TerminalPolicy   models.TerminalPolicy
	SingleActiveTask bool
	DefaultProvider  string
	DefaultModel     string
}

// CreateTaskRequest is an operator's request to run operations over questions.
type CreateTaskRequest struct {
	Operations  []models.Operation `json:"operations" yaml:"operations"`
	QuestionIDs []int64            `json:"question_ids" yaml:"question_ids"` // nil discovers the scope
	Options     models.TaskOptions `json:"options" yaml:"options"`
	CreatedBy   string             `json:"created_by" yaml:"created_by"`

	serverLog string
}

// TaskView is a task with its derived progress.
type TaskView struct {
	models.Task
	Progress Progress `json:"progress"`
}

// TaskService plans, reads and controls tasks.
type TaskService struct {
	store Store
	cfg   TaskConfig
	now   func() time.Time
}

// NewTaskService creates a new task service.
func NewTaskService(store Store, cfg TaskConfig) *TaskService {
	if cfg.DefaultBatchSize <= 0 {
		cfg.DefaultBatchSize = DefaultBatchSize
	}
	if !cfg.TerminalPolicy.IsValid() {
		cfg.TerminalPolicy = models.PolicyAnyFailure
	}
	return &TaskService{store: store, cfg: cfg, now: time.Now}
}

// CreateTask validates a request, resolves its scope and writes the task
// together with all of its items.
func (s *TaskService) CreateTask(ctx context.Context, req CreateTaskRequest) (*TaskView, error) {
	ops, opts, err := s.normalize(req.Operations, req.Options)
	if err != nil {
		return nil, err
	}

	if s.cfg.SingleActiveTask {
		active, err := s.store.ListTasksByStatus(ctx, models.TaskPending, models.TaskProcessing)
		if err != nil {
			return nil, fmt.Errorf("check active tasks: %w", err)
		}
		if len(active) > 0 {
			return nil, fmt.Errorf("%w: task %s is %s", ErrTaskConflict, active[0].TaskID(), active[0].Status)
		}
	}

	ids := req.QuestionIDs
	var total *int
	if ids != nil {
		ids = dedupeIDs(ids)
		n := len(ids)
		total = &n
	} else {
		ids, err = s.store.ListQuestionIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("discover scope: %w", err)
		}
	}
	if len(ids) == 0 {
		return nil, ErrEmptyScope
	}

	items := planItems(ids, ops, opts)

	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = "operator"
	}
	msg := req.serverLog
	if msg == "" {
		msg = fmt.Sprintf("task created: %d questions, %d items, operations %s", len(ids), len(items), joinOps(ops))
	}

	task, err := s.store.CreateTaskWithItems(ctx, db.NewTask{
		ID:             uuid.New().String(),
		Operations:     ops,
		QuestionIDs:    explicitIDs(req.QuestionIDs, ids),
		Options:        opts,
		TotalQuestions: total,
		CreatedBy:      createdBy,
		ServerLog:      models.ServerLog{Timestamp: s.now().UTC(), Level: "info", Message: msg},
	}, items)
	if err != nil {
		return nil, err
	}

	slog.Info("task created", "task_id", task.TaskID(), "questions", len(ids), "items", len(items), "operations", joinOps(ops))
	return s.view(ctx, task)
}

// normalize validates operations and options and fills defaults.
// translate is moved last so other operations work on the source text first.
func (s *TaskService) normalize(ops []models.Operation, opts models.TaskOptions) ([]models.Operation, models.TaskOptions, error) {
	if len(ops) == 0 {
		return nil, opts, fmt.Errorf("%w: at least one operation is required", ErrInvalidRequest)
	}

	seen := make(map[models.Operation]bool, len(ops))
	out := make([]models.Operation, 0, len(ops))
	for _, op := range ops {
		op = models.Operation(strings.ToLower(strings.TrimSpace(string(op))))
		if !op.IsValid() {
			return nil, opts, fmt.Errorf("%w: unknown operation %q", ErrInvalidRequest, op)
		}
		if seen[op] {
			continue
		}
		seen[op] = true
		out = append(out, op)
	}
	if i := slices.Index(out, models.OpTranslate); i >= 0 && i != len(out)-1 {
		out = append(slices.Delete(out, i, i+1), models.OpTranslate)
	}

	if seen[models.OpTranslate] {
		t := opts.Translate
		if t == nil || t.From == "" || len(t.To) == 0 {
			return nil, opts, fmt.Errorf("%w: translate requires options.translate.from and options.translate.to", ErrInvalidRequest)
		}
		to := make(models.LocaleList, 0, len(t.To))
		for _, l := range t.To {
			if l != "" && l != t.From && !slices.Contains(to, l) {
				to = append(to, l)
			}
		}
		if len(to) == 0 {
			return nil, opts, fmt.Errorf("%w: translate target locales must differ from the source locale", ErrInvalidRequest)
		}
		opts.Translate = &models.TranslateOptions{From: t.From, To: to}
	} else {
		opts.Translate = nil
	}

	if seen[models.OpPolish] {
		if opts.Polish == nil || opts.Polish.Locale == "" {
			return nil, opts, fmt.Errorf("%w: polish requires options.polish.locale", ErrInvalidRequest)
		}
	} else {
		opts.Polish = nil
	}

	switch {
	case opts.BatchSize == 0:
		opts.BatchSize = s.cfg.DefaultBatchSize
	case opts.BatchSize < 1 || opts.BatchSize > MaxBatchSize:
		return nil, opts, fmt.Errorf("%w: batch_size must be between 1 and %d", ErrInvalidRequest, MaxBatchSize)
	}

	switch {
	case opts.TerminalPolicy == "":
		opts.TerminalPolicy = s.cfg.TerminalPolicy
	case !opts.TerminalPolicy.IsValid():
		return nil, opts, fmt.Errorf("%w: unknown terminal_policy %q", ErrInvalidRequest, opts.TerminalPolicy)
	}

	continueOnError := opts.ContinuesOnError()
	opts.ContinueOnError = &continueOnError

	if opts.Execution.Provider == "" {
		opts.Execution.Provider = s.cfg.DefaultProvider
		if opts.Execution.Model == "" {
			opts.Execution.Model = s.cfg.DefaultModel
		}
	}

	return out, opts, nil
}

// planItems expands questions into items: one per operation, and one per
// target locale for translate. Polish items carry the polish locale.
func planItems(ids []int64, ops []models.Operation, opts models.TaskOptions) []db.NewItem {
	items := make([]db.NewItem, 0, len(ids)*models.ItemsPerQuestion(ops, opts))
	for _, id := range ids {
		for _, op := range ops {
			switch op {
			case models.OpTranslate:
				for _, lang := range opts.Translate.To {
					items = append(items, db.NewItem{QuestionID: id, Operation: op, TargetLang: &lang})
				}
			case models.OpPolish:
				locale := opts.Polish.Locale
				items = append(items, db.NewItem{QuestionID: id, Operation: op, TargetLang: &locale})
			default:
				items = append(items, db.NewItem{QuestionID: id, Operation: op})
			}
		}
	}
	return items
}

// GetTask returns a task with its derived progress.
func (s *TaskService) GetTask(ctx context.Context, id string) (*TaskView, error) {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, task)
}

// ListTasks returns tasks newest first with their progress, plus the total count.
func (s *TaskService) ListTasks(ctx context.Context, filter db.TaskFilter) ([]TaskView, int, error) {
	filter.Limit = clampLimit(filter.Limit, defaultTaskLimit, maxTaskLimit)
	filter.Offset = max(0, filter.Offset)
	for _, st := range filter.Statuses {
		if !st.IsValid() {
			return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, st)
		}
	}

	tasks, total, err := s.store.ListTasks(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	views := make([]TaskView, 0, len(tasks))
	for i := range tasks {
		v, err := s.view(ctx, &tasks[i])
		if err != nil {
			return nil, 0, err
		}
		views = append(views, *v)
	}
	return views, total, nil
}

// ListItems returns a task's items. Unknown tasks return db.ErrNotFound.
func (s *TaskService) ListItems(ctx context.Context, taskID string, filter db.ItemFilter) ([]models.Item, error) {
	if _, err := s.store.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown item status %q", ErrInvalidRequest, filter.Status)
	}
	if filter.Operation != "" && !filter.Operation.IsValid() {
		return nil, fmt.Errorf("%w: unknown operation %q", ErrInvalidRequest, filter.Operation)
	}
	filter.Limit = clampLimit(filter.Limit, defaultItemLimit, maxItemLimit)
	return s.store.ListItems(ctx, taskID, filter)
}

// CancelTask stops a pending or processing task for good.
// Items already processing finish; no new question starts.
func (s *TaskService) CancelTask(ctx context.Context, id string) (*TaskView, error) {
	return s.stop(ctx, id, models.TaskCancelled)
}

// PauseTask stops dispatch of a pending or processing task. A paused task
// can be finished later with RetryTask.
func (s *TaskService) PauseTask(ctx context.Context, id string) (*TaskView, error) {
	return s.stop(ctx, id, models.TaskPaused)
}

func (s *TaskService) stop(ctx context.Context, id string, to models.TaskStatus) (*TaskView, error) {
	ok, err := s.store.TransitionTask(ctx, id, []models.TaskStatus{models.TaskPending, models.TaskProcessing}, to)
	if err != nil {
		return nil, err
	}
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: task %s is %s", ErrInvalidTransition, id, task.Status)
	}

	s.serverLog(ctx, id, "warn", fmt.Sprintf("task %s by operator", to))
	slog.Info("task stopped", "task_id", id, "status", to)
	return s.view(ctx, task)
}

func (s *TaskService) view(ctx context.Context, task *models.Task) (*TaskView, error) {
	p, err := s.Progress(ctx, task)
	if err != nil {
		return nil, err
	}
	return &TaskView{Task: *task, Progress: *p}, nil
}

func (s *TaskService) serverLog(ctx context.Context, id, level, msg string) {
	entry := models.ServerLog{Timestamp: s.now().UTC(), Level: level, Message: msg}
	if err := s.store.AppendServerLog(ctx, id, entry); err != nil {
		slog.Warn("failed to append server log", "task_id", id, "error", err)
	}
}

// IsPlanningError reports whether err rejects a request rather than
// signalling a failure of the engine itself.
func IsPlanningError(err error) bool {
	for _, target := range []error{
		ErrInvalidRequest, ErrEmptyScope, ErrTaskConflict, ErrNotRetryable,
		ErrDynamicScope, ErrNothingToRetry, ErrInvalidTransition, ErrConflict,
		db.ErrNotFound, db.ErrReviewNotPending, db.ErrVersionConflict,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// explicitIDs keeps nil for discovered scopes so the task records that it
// has no stable snapshot.
func explicitIDs(requested, resolved []int64) []int64 {
	if requested == nil {
		return nil
	}
	return resolved
}

func joinOps(ops []models.Operation) string {
	parts := make([]string, len(ops))
	for i, op := range ops {
		parts[i] = string(op)
	}
	return strings.Join(parts, ",")
}

func clampLimit(limit, def, maxLimit int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, maxLimit)
}

package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/raphaelgruber/quizproc-go/internal/api"
	"github.com/raphaelgruber/quizproc-go/internal/db"
	"github.com/raphaelgruber/quizproc-go/internal/models"
	"github.com/raphaelgruber/quizproc-go/internal/service"
)

// CreateTaskInput defines the input schema for the create_task tool.
type CreateTaskInput struct {
	Operations      []string `json:"operations" jsonschema:"Operations to run: translate, polish, fill_missing, category_tags"`
	QuestionIDs     []int64  `json:"question_ids,omitempty" jsonschema:"Explicit question ids; omit to discover every question needing the work"`
	From            string   `json:"from,omitempty" jsonschema:"Source locale for translate"`
	To              []string `json:"to,omitempty" jsonschema:"Target locales for translate"`
	Locale          string   `json:"locale,omitempty" jsonschema:"Locale to polish"`
	Provider        string   `json:"provider,omitempty" jsonschema:"Execution provider override"`
	Model           string   `json:"model,omitempty" jsonschema:"Model override"`
	BatchSize       int      `json:"batch_size,omitempty" jsonschema:"Questions per batch"`
	ContinueOnError *bool    `json:"continue_on_error,omitempty" jsonschema:"Keep going after item failures (default true)"`
	TerminalPolicy  string   `json:"terminal_policy,omitempty" jsonschema:"any_failure or majority"`
	CreatedBy       string   `json:"created_by,omitempty" jsonschema:"Creator recorded on the task"`
}

func (in CreateTaskInput) request(defaultCreator string) service.CreateTaskRequest {
	req := service.CreateTaskRequest{
		QuestionIDs: in.QuestionIDs,
		CreatedBy:   in.CreatedBy,
		Options: models.TaskOptions{
			Execution:       models.ExecutionOptions{Provider: in.Provider, Model: in.Model},
			BatchSize:       in.BatchSize,
			ContinueOnError: in.ContinueOnError,
			TerminalPolicy:  models.TerminalPolicy(in.TerminalPolicy),
		},
	}
	for _, op := range in.Operations {
		req.Operations = append(req.Operations, models.Operation(op))
	}
	if in.From != "" || len(in.To) > 0 {
		req.Options.Translate = &models.TranslateOptions{From: in.From, To: models.LocaleList(in.To)}
	}
	if in.Locale != "" {
		req.Options.Polish = &models.PolishOptions{Locale: in.Locale}
	}
	if req.CreatedBy == "" {
		req.CreatedBy = defaultCreator
	}
	return req
}

// NewCreateTaskHandler creates a task and starts it when a runner is wired.
func NewCreateTaskHandler(deps *Dependencies) mcp.ToolHandlerFor[CreateTaskInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input CreateTaskInput) (*mcp.CallToolResult, any, error) {
		if len(input.Operations) == 0 {
			return ErrorResult("operations is required", "Pass at least one operation, e.g. [\"translate\"]"), nil, nil
		}
		view, err := deps.Tasks.CreateTask(ctx, input.request(deps.Creator))
		if err != nil {
			return serviceError(deps.Logger, "create_task", err), nil, nil
		}
		task := api.TaskFromView(view)
		deps.start(ctx, task.ID)
		deps.Logger.Info("task created via mcp", "task_id", task.ID, "created_by", task.CreatedBy)
		return JSONResult(task), nil, nil
	}
}

// ListTasksInput defines the input schema for the list_tasks tool.
type ListTasksInput struct {
	Statuses []string `json:"statuses,omitempty" jsonschema:"Filter by task status"`
	Limit    int      `json:"limit,omitempty" jsonschema:"Maximum tasks to return (default 20)"`
	Offset   int      `json:"offset,omitempty" jsonschema:"Tasks to skip"`
}

// NewListTasksHandler lists tasks newest first.
func NewListTasksHandler(deps *Dependencies) mcp.ToolHandlerFor[ListTasksInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ListTasksInput) (*mcp.CallToolResult, any, error) {
		filter := db.TaskFilter{Limit: input.Limit, Offset: input.Offset}
		if filter.Limit <= 0 {
			filter.Limit = 20
		}
		for _, raw := range input.Statuses {
			st := models.TaskStatus(raw)
			if !st.IsValid() {
				return ErrorResult(fmt.Sprintf("Unknown status %q", raw), "Use pending, processing, paused, succeeded, partially_succeeded, failed or cancelled"), nil, nil
			}
			filter.Statuses = append(filter.Statuses, st)
		}
		views, total, err := deps.Tasks.ListTasks(ctx, filter)
		if err != nil {
			return serviceError(deps.Logger, "list_tasks", err), nil, nil
		}
		out := api.TaskList{Tasks: make([]api.Task, 0, len(views)), Total: total}
		for i := range views {
			out.Tasks = append(out.Tasks, api.TaskFromView(&views[i]))
		}
		return JSONResult(out), nil, nil
	}
}

// TaskIDInput is shared by tools acting on a single task.
type TaskIDInput struct {
	ID string `json:"id" jsonschema:"Task id"`
}

// NewGetTaskHandler returns one task with its progress.
func NewGetTaskHandler(deps *Dependencies) mcp.ToolHandlerFor[TaskIDInput, any] {
	return taskAction(deps, "get_task", deps.Tasks.GetTask)
}

// NewCancelTaskHandler cancels a task. Unfinished items are skipped.
func NewCancelTaskHandler(deps *Dependencies) mcp.ToolHandlerFor[TaskIDInput, any] {
	return taskAction(deps, "cancel_task", deps.Tasks.CancelTask)
}

// NewPauseTaskHandler pauses a task after its current item.
func NewPauseTaskHandler(deps *Dependencies) mcp.ToolHandlerFor[TaskIDInput, any] {
	return taskAction(deps, "pause_task", deps.Tasks.PauseTask)
}

func taskAction(deps *Dependencies, name string, fn func(context.Context, string) (*service.TaskView, error)) mcp.ToolHandlerFor[TaskIDInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input TaskIDInput) (*mcp.CallToolResult, any, error) {
		if input.ID == "" {
			return ErrorResult("id is required", "Use list_tasks to find task ids"), nil, nil
		}
		view, err := fn(ctx, input.ID)
		if err != nil {
			return serviceError(deps.Logger, name, err), nil, nil
		}
		return JSONResult(api.TaskFromView(view)), nil, nil
	}
}

// RetryTaskInput defines the input schema for the retry_task tool.
type RetryTaskInput struct {
	ID        string `json:"id" jsonschema:"Task id to retry"`
	CreatedBy string `json:"created_by,omitempty" jsonschema:"Creator recorded on the retry task"`
}

// NewRetryTaskHandler creates a task covering the unprocessed questions of another.
func NewRetryTaskHandler(deps *Dependencies) mcp.ToolHandlerFor[RetryTaskInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input RetryTaskInput) (*mcp.CallToolResult, any, error) {
		if input.ID == "" {
			return ErrorResult("id is required", "Use list_tasks to find task ids"), nil, nil
		}
		creator := input.CreatedBy
		if creator == "" {
			creator = deps.Creator
		}
		view, err := deps.Tasks.RetryTask(ctx, input.ID, creator)
		if err != nil {
			return serviceError(deps.Logger, "retry_task", err), nil, nil
		}
		task := api.TaskFromView(view)
		deps.start(ctx, task.ID)
		return JSONResult(task), nil, nil
	}
}

// ListItemsInput defines the input schema for the list_items tool.
type ListItemsInput struct {
	ID        string `json:"id" jsonschema:"Task id"`
	Operation string `json:"operation,omitempty" jsonschema:"Filter by operation"`
	Status    string `json:"status,omitempty" jsonschema:"Filter by item status"`
	Lang      string `json:"lang,omitempty" jsonschema:"Filter by target locale"`
	Limit     int    `json:"limit,omitempty" jsonschema:"Maximum items to return (default 50)"`
}

// NewListItemsHandler lists the work items of a task.
func NewListItemsHandler(deps *Dependencies) mcp.ToolHandlerFor[ListItemsInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ListItemsInput) (*mcp.CallToolResult, any, error) {
		if input.ID == "" {
			return ErrorResult("id is required", "Use list_tasks to find task ids"), nil, nil
		}
		filter := db.ItemFilter{
			Operation:  models.Operation(input.Operation),
			Status:     models.ItemStatus(input.Status),
			TargetLang: input.Lang,
			Limit:      input.Limit,
		}
		if filter.Operation != "" && !filter.Operation.IsValid() {
			return ErrorResult(fmt.Sprintf("Unknown operation %q", input.Operation), ""), nil, nil
		}
		if filter.Status != "" && !filter.Status.IsValid() {
			return ErrorResult(fmt.Sprintf("Unknown item status %q", input.Status), ""), nil, nil
		}
		if filter.Limit <= 0 {
			filter.Limit = 50
		}
		items, err := deps.Tasks.ListItems(ctx, input.ID, filter)
		if err != nil {
			return serviceError(deps.Logger, "list_items", err), nil, nil
		}
		out := make([]api.Item, 0, len(items))
		for i := range items {
			out = append(out, api.ItemFromModel(&items[i]))
		}
		return JSONResult(out), nil, nil
	}
}

// NewProcessingLogsHandler returns the recent activity of a task.
func NewProcessingLogsHandler(deps *Dependencies) mcp.ToolHandlerFor[TaskIDInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input TaskIDInput) (*mcp.CallToolResult, any, error) {
		if input.ID == "" {
			return ErrorResult("id is required", "Use list_tasks to find task ids"), nil, nil
		}
		view, err := deps.Tasks.ProcessingLogs(ctx, input.ID)
		if err != nil {
			return serviceError(deps.Logger, "processing_logs", err), nil, nil
		}
		return JSONResult(view), nil, nil
	}
}

// start hands a task to the runner. Runs outlive the tool call.
func (d *Dependencies) start(ctx context.Context, taskID string) {
	if d.Runner == nil {
		return
	}
	d.Runner.Start(context.WithoutCancel(ctx), taskID)
}

package tools

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/raphaelgruber/quizproc-go/internal/db"
	"github.com/raphaelgruber/quizproc-go/internal/service"
)

// ErrorResult creates a tool error result with optional recovery hint.
// If hint is non-empty, formats as "{msg}. {hint}".
// Returns IsError=true so LLM can see the error and self-correct.
func ErrorResult(msg, hint string) *mcp.CallToolResult {
	text := msg
	if hint != "" {
		text = msg + ". " + hint
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
		IsError: true,
	}
}

// TextResult creates a success result with text content.
func TextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// JSONResult renders v as indented JSON text.
func JSONResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ErrorResult("Failed to encode result", err.Error())
	}
	return TextResult(string(data))
}

// serviceError turns a service error into a tool error with a recovery hint.
// Unexpected errors are logged; their text is still returned.
func serviceError(logger *slog.Logger, op string, err error) *mcp.CallToolResult {
	var hint string
	switch {
	case errors.Is(err, db.ErrNotFound):
		hint = "Check the id; list_tasks or list_reviews show valid ids"
	case errors.Is(err, service.ErrInvalidRequest):
		hint = "Fix the arguments and call again"
	case errors.Is(err, service.ErrEmptyScope):
		hint = "No question needs this work; pass question_ids explicitly or change the operations"
	case errors.Is(err, service.ErrTaskConflict):
		hint = "Wait for the active task or cancel it first"
	case errors.Is(err, service.ErrNotRetryable):
		hint = "Only failed, cancelled or paused tasks can be retried"
	case errors.Is(err, service.ErrDynamicScope):
		hint = "Create a new task instead; this one discovered its questions"
	case errors.Is(err, service.ErrNothingToRetry):
		hint = "Every question of this task was already processed"
	case errors.Is(err, service.ErrInvalidTransition):
		hint = "Check the task status with get_task"
	case errors.Is(err, db.ErrReviewNotPending):
		hint = "The review was already decided"
	case errors.Is(err, db.ErrVersionConflict), errors.Is(err, service.ErrConflict):
		hint = "The question changed meanwhile; list reviews again"
	default:
		logger.Error(op+" failed", "error", err)
		hint = "The store may be unavailable"
	}
	return ErrorResult(op+" failed: "+err.Error(), hint)
}

// Package tools provides MCP tool handlers and registration.
package tools

import (
	"log/slog"

	"github.com/raphaelgruber/quizproc-go/internal/api"
)

// Dependencies holds shared services for tool handlers.
// Passed to handler factories via closure capture.
//
// Runner is optional. Without it, created tasks stay pending until the
// server process picks them up.
type Dependencies struct {
	Tasks     api.Tasks
	Analytics api.Analytics
	Reviews   api.Reviews
	Runner    api.Runner
	Logger    *slog.Logger

	// Creator is recorded on tasks when the caller does not name one.
	Creator string
}

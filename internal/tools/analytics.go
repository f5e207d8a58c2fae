package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/raphaelgruber/quizproc-go/internal/api"
	"github.com/raphaelgruber/quizproc-go/internal/models"
	"github.com/raphaelgruber/quizproc-go/internal/service"
)

// WindowInput selects a reporting window. Both bounds accept RFC 3339 or YYYY-MM-DD.
type WindowInput struct {
	From      string `json:"from,omitempty" jsonschema:"Window start (default 7 days ago)"`
	To        string `json:"to,omitempty" jsonschema:"Window end (default now)"`
	Operation string `json:"operation,omitempty" jsonschema:"Restrict to one operation"`
}

func (in WindowInput) parse() (from, to time.Time, op models.Operation, res *mcp.CallToolResult) {
	var err error
	if from, err = api.ParseTime(in.From); err != nil {
		return from, to, op, ErrorResult(err.Error(), "Use RFC 3339 or YYYY-MM-DD")
	}
	if to, err = api.ParseTime(in.To); err != nil {
		return from, to, op, ErrorResult(err.Error(), "Use RFC 3339 or YYYY-MM-DD")
	}
	op = models.Operation(in.Operation)
	if op != "" && !op.IsValid() {
		return from, to, op, ErrorResult(fmt.Sprintf("Unknown operation %q", in.Operation), "")
	}
	return from, to, op, nil
}

// NewErrorStatsHandler reports failed items grouped by code, locale and stage.
func NewErrorStatsHandler(deps *Dependencies) mcp.ToolHandlerFor[WindowInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input WindowInput) (*mcp.CallToolResult, any, error) {
		from, to, op, bad := input.parse()
		if bad != nil {
			return bad, nil, nil
		}
		stats, err := deps.Analytics.ErrorStats(ctx, service.ErrorStatsQuery{From: from, To: to, Operation: op})
		if err != nil {
			return serviceError(deps.Logger, "error_stats", err), nil, nil
		}
		return JSONResult(stats), nil, nil
	}
}

// ConsistencyInput defines the input schema for the consistency tool.
type ConsistencyInput struct {
	From      string `json:"from,omitempty" jsonschema:"Window start (default 7 days ago)"`
	To        string `json:"to,omitempty" jsonschema:"Window end (default now)"`
	Operation string `json:"operation,omitempty" jsonschema:"Restrict to one operation"`
	Page      int    `json:"page,omitempty" jsonschema:"Page number starting at 1"`
	PageSize  int    `json:"page_size,omitempty" jsonschema:"Rows per page"`
}

// NewConsistencyHandler lists finished items whose locales disagree.
func NewConsistencyHandler(deps *Dependencies) mcp.ToolHandlerFor[ConsistencyInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ConsistencyInput) (*mcp.CallToolResult, any, error) {
		window := WindowInput{From: input.From, To: input.To, Operation: input.Operation}
		from, to, op, bad := window.parse()
		if bad != nil {
			return bad, nil, nil
		}
		page, err := deps.Analytics.Consistency(ctx, service.ConsistencyQuery{
			From:      from,
			To:        to,
			Operation: op,
			Page:      input.Page,
			PageSize:  input.PageSize,
		})
		if err != nil {
			return serviceError(deps.Logger, "consistency", err), nil, nil
		}
		return JSONResult(page), nil, nil
	}
}

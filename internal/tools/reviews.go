package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/raphaelgruber/quizproc-go/internal/api"
	"github.com/raphaelgruber/quizproc-go/internal/models"
)

// ListReviewsInput defines the input schema for the list_reviews tool.
type ListReviewsInput struct {
	Status string `json:"status,omitempty" jsonschema:"pending (default), approved or rejected"`
	Limit  int    `json:"limit,omitempty" jsonschema:"Maximum reviews to return"`
}

// NewListReviewsHandler lists polish suggestions awaiting a decision.
func NewListReviewsHandler(deps *Dependencies) mcp.ToolHandlerFor[ListReviewsInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ListReviewsInput) (*mcp.CallToolResult, any, error) {
		status := models.ReviewStatus(input.Status)
		if status == "" {
			status = models.ReviewPending
		}
		if !status.IsValid() {
			return ErrorResult(fmt.Sprintf("Unknown review status %q", input.Status), "Use pending, approved or rejected"), nil, nil
		}
		reviews, err := deps.Reviews.ListReviews(ctx, status, input.Limit)
		if err != nil {
			return serviceError(deps.Logger, "list_reviews", err), nil, nil
		}
		out := make([]api.Review, 0, len(reviews))
		for i := range reviews {
			out = append(out, api.ReviewFromModel(&reviews[i]))
		}
		return JSONResult(out), nil, nil
	}
}

// ReviewDecisionInput defines the input schema for approve_review and reject_review.
type ReviewDecisionInput struct {
	ID       string `json:"id" jsonschema:"Review id"`
	Reviewer string `json:"reviewer,omitempty" jsonschema:"Who decided; defaults to the MCP caller"`
	Notes    string `json:"notes,omitempty" jsonschema:"Reason for a rejection"`
}

func (in ReviewDecisionInput) reviewer(deps *Dependencies) string {
	if in.Reviewer != "" {
		return in.Reviewer
	}
	return deps.Creator
}

// NewApproveReviewHandler applies a polish suggestion to its question.
func NewApproveReviewHandler(deps *Dependencies) mcp.ToolHandlerFor[ReviewDecisionInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ReviewDecisionInput) (*mcp.CallToolResult, any, error) {
		if input.ID == "" {
			return ErrorResult("id is required", "Use list_reviews to find review ids"), nil, nil
		}
		res, err := deps.Reviews.ApproveReview(ctx, input.ID, input.reviewer(deps))
		if err != nil {
			return serviceError(deps.Logger, "approve_review", err), nil, nil
		}
		return JSONResult(api.ApprovalFromResult(res)), nil, nil
	}
}

// NewRejectReviewHandler discards a polish suggestion.
func NewRejectReviewHandler(deps *Dependencies) mcp.ToolHandlerFor[ReviewDecisionInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ReviewDecisionInput) (*mcp.CallToolResult, any, error) {
		if input.ID == "" {
			return ErrorResult("id is required", "Use list_reviews to find review ids"), nil, nil
		}
		review, err := deps.Reviews.RejectReview(ctx, input.ID, input.reviewer(deps), input.Notes)
		if err != nil {
			return serviceError(deps.Logger, "reject_review", err), nil, nil
		}
		return JSONResult(api.ReviewFromModel(review)), nil, nil
	}
}

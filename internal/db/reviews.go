package db

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/quizproc-go/internal/models"
)

// NewReview holds a staged polish proposal.
type NewReview struct {
	ContentHash         string
	Locale              string
	TaskID              string
	ProposedContent     models.LocaleText
	ProposedOptions     []string
	ProposedExplanation models.LocaleText
}

// Approval is a fully computed approval: the caller has already merged the
// proposal into the question's pre-image read at QuestionVersion.
type Approval struct {
	ReviewID        string
	ContentHash     string
	Locale          string
	Approver        string
	QuestionID      int64
	QuestionVersion int
	Old             models.QuestionPatch
	New             models.QuestionPatch
}

// CreateReview stages a polish proposal in pending state.
func (c *Client) CreateReview(ctx context.Context, r NewReview) (*models.PolishReview, error) {
	content := map[string]any{
		"content_hash":     r.ContentHash,
		"locale":           r.Locale,
		"proposed_content": r.ProposedContent,
		"status":           string(models.ReviewPending),
	}
	if r.TaskID != "" {
		content["task_id"] = r.TaskID
	}
	if r.ProposedOptions != nil {
		content["proposed_options"] = r.ProposedOptions
	}
	if r.ProposedExplanation != nil {
		content["proposed_explanation"] = r.ProposedExplanation
	}

	review, err := queryFirst[models.PolishReview](ctx, c,
		`CREATE polish_review CONTENT $content RETURN AFTER`,
		map[string]any{"content": content})
	if err != nil {
		return nil, fmt.Errorf("create review: %w", err)
	}
	if review == nil {
		return nil, fmt.Errorf("create review: no result returned")
	}
	return review, nil
}

// GetReview retrieves a review by id. Returns ErrNotFound if missing.
func (c *Client) GetReview(ctx context.Context, id string) (*models.PolishReview, error) {
	review, err := queryFirst[models.PolishReview](ctx, c,
		`SELECT * FROM type::record("polish_review", $id)`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get review: %w", err)
	}
	if review == nil {
		return nil, fmt.Errorf("review %s: %w", id, ErrNotFound)
	}
	return review, nil
}

// ListReviews returns reviews newest first, optionally filtered by status.
func (c *Client) ListReviews(ctx context.Context, status models.ReviewStatus, limit int) ([]models.PolishReview, error) {
	where := ""
	vars := map[string]any{"limit": limit}
	if status != "" {
		where = "WHERE status = $status"
		vars["status"] = string(status)
	}
	sql := fmt.Sprintf(`SELECT * FROM polish_review %s ORDER BY created_at DESC LIMIT $limit`, where)

	reviews, err := queryRows[models.PolishReview](ctx, c, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	return reviews, nil
}

// ApproveReview applies an approval atomically:
//  1. flips the review pending -> approved, throwing if it is no longer pending
//  2. writes the question only if it is still at the version the merge was computed from
//  3. records the pre-image and new values in polish_history under the review's id
//
// Any failure rolls back all three.
func (c *Client) ApproveReview(ctx context.Context, a Approval) (*models.ApprovalResult, error) {
	history := map[string]any{
		"review_id":    a.ReviewID,
		"content_hash": a.ContentHash,
		"locale":       a.Locale,
		"old_content":  a.Old.Content,
		"new_content":  a.New.Content,
		"approved_by":  a.Approver,
	}
	if a.Old.Options != nil {
		history["old_options"] = a.Old.Options
	}
	if a.New.Options != nil {
		history["new_options"] = a.New.Options
	}
	if a.Old.Explanation != nil {
		history["old_explanation"] = a.Old.Explanation
	}
	if a.New.Explanation != nil {
		history["new_explanation"] = a.New.Explanation
	}

	sql := `
		BEGIN TRANSACTION;

		LET $review = (
			UPDATE type::record("polish_review", $review_id) SET
				status = "approved",
				reviewed_by = $approver,
				reviewed_at = time::now()
			WHERE status = "pending"
			RETURN AFTER
		);
		IF array::len($review) == 0 {
			THROW "review_not_pending"
		};

		LET $question = (
			UPDATE type::record("question", $question_id) SET
				content = $content,
				options = $options ?? options,
				explanation = $explanation ?? explanation,
				version = version + 1,
				updated_at = time::now()
			WHERE version = $version
			RETURN AFTER
		);
		IF array::len($question) == 0 {
			THROW "question_version_conflict"
		};

		CREATE type::record("polish_history", $review_id) CONTENT $history;

		COMMIT TRANSACTION;
	`
	if err := c.exec(ctx, sql, map[string]any{
		"review_id":   a.ReviewID,
		"approver":    a.Approver,
		"question_id": a.QuestionID,
		"version":     a.QuestionVersion,
		"content":     a.New.Content,
		"options":     a.New.Options,
		"explanation": a.New.Explanation,
		"history":     history,
	}); err != nil {
		return nil, fmt.Errorf("approve review: %w", err)
	}

	review, err := c.GetReview(ctx, a.ReviewID)
	if err != nil {
		return nil, err
	}
	question, err := c.GetQuestion(ctx, a.QuestionID)
	if err != nil {
		return nil, err
	}
	hist, err := c.GetHistory(ctx, a.ReviewID)
	if err != nil {
		return nil, err
	}
	return &models.ApprovalResult{Review: *review, Question: *question, History: *hist}, nil
}

// RejectReview flips a pending review to rejected with optional notes.
func (c *Client) RejectReview(ctx context.Context, id, reviewer, notes string) (*models.PolishReview, error) {
	sql := `
		UPDATE type::record("polish_review", $id) SET
			status = "rejected",
			reviewed_by = $reviewer,
			notes = $notes,
			reviewed_at = time::now()
		WHERE status = "pending"
		RETURN AFTER
	`
	review, err := queryFirst[models.PolishReview](ctx, c, sql, map[string]any{
		"id":       id,
		"reviewer": reviewer,
		"notes":    notes,
	})
	if err != nil {
		return nil, fmt.Errorf("reject review: %w", err)
	}
	if review == nil {
		if _, err := c.GetReview(ctx, id); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("reject review %s: %w", id, ErrReviewNotPending)
	}
	return review, nil
}

// GetHistory retrieves the audit row written when review id was approved.
func (c *Client) GetHistory(ctx context.Context, reviewID string) (*models.PolishHistory, error) {
	h, err := queryFirst[models.PolishHistory](ctx, c,
		`SELECT * FROM type::record("polish_history", $id)`, map[string]any{"id": reviewID})
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	if h == nil {
		return nil, fmt.Errorf("history %s: %w", reviewID, ErrNotFound)
	}
	return h, nil
}

// ListHistory returns audit rows for a content fingerprint, oldest first.
func (c *Client) ListHistory(ctx context.Context, hash string) ([]models.PolishHistory, error) {
	rows, err := queryRows[models.PolishHistory](ctx, c,
		`SELECT * FROM polish_history WHERE content_hash = $hash ORDER BY created_at ASC`,
		map[string]any{"hash": hash})
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return rows, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/quizproc-go/internal/db"
	"github.com/raphaelgruber/quizproc-go/internal/models"
)

const defaultReviewLimit = 50

// ReviewService lists, approves and rejects staged polish proposals.
type ReviewService struct {
	store Store
}

// NewReviewService creates a new review service.
func NewReviewService(store Store) *ReviewService {
	return &ReviewService{store: store}
}

// ListReviews returns reviews newest first, optionally filtered by status.
func (s *ReviewService) ListReviews(ctx context.Context, status models.ReviewStatus, limit int) ([]models.PolishReview, error) {
	if status != "" && !status.IsValid() {
		return nil, fmt.Errorf("%w: unknown review status %q", ErrInvalidRequest, status)
	}
	return s.store.ListReviews(ctx, status, clampLimit(limit, defaultReviewLimit, maxTaskLimit))
}

// ApproveReview applies a pending review to its question and records the
// audit row. The review flip, the question write and the history insert
// commit together; a second approval fails with db.ErrReviewNotPending and
// a concurrent question edit fails with ErrConflict.
func (s *ReviewService) ApproveReview(ctx context.Context, id, approver string) (*models.ApprovalResult, error) {
	if approver == "" {
		return nil, fmt.Errorf("%w: approver is required", ErrInvalidRequest)
	}

	review, err := s.store.GetReview(ctx, id)
	if err != nil {
		return nil, err
	}
	if review.Status != models.ReviewPending {
		return nil, fmt.Errorf("review %s is %s: %w", id, review.Status, db.ErrReviewNotPending)
	}

	q, err := s.store.GetQuestionByHash(ctx, review.ContentHash)
	if err != nil {
		return nil, err
	}

	old, merged := MergeApproval(q, review)
	result, err := s.store.ApproveReview(ctx, db.Approval{
		ReviewID:        id,
		ContentHash:     review.ContentHash,
		Locale:          review.Locale,
		Approver:        approver,
		QuestionID:      q.QuestionID(),
		QuestionVersion: q.Version,
		Old:             old,
		New:             merged,
	})
	if errors.Is(err, db.ErrVersionConflict) {
		return nil, fmt.Errorf("%w: question %d changed while approving review %s", ErrConflict, q.QuestionID(), id)
	}
	if err != nil {
		return nil, err
	}

	slog.Info("review approved", "review_id", id, "question_id", q.QuestionID(), "locale", review.Locale, "approver", approver)
	return result, nil
}

// RejectReview flips a pending review to rejected. The question is not touched.
func (s *ReviewService) RejectReview(ctx context.Context, id, reviewer, notes string) (*models.PolishReview, error) {
	review, err := s.store.RejectReview(ctx, id, reviewer, notes)
	if err != nil {
		return nil, err
	}
	slog.Info("review rejected", "review_id", id, "reviewer", reviewer)
	return review, nil
}

// MergeApproval computes the question's pre-image and its new values.
// Only the review's locale key of content and explanation is replaced;
// options are replaced wholesale when the review proposes them.
func MergeApproval(q *models.Question, r *models.PolishReview) (old, merged models.QuestionPatch) {
	old = models.QuestionPatch{
		Content:     nonNilText(q.Content),
		Options:     q.Options,
		Explanation: q.Explanation,
	}

	merged = models.QuestionPatch{
		Content:     nonNilText(q.Content),
		Options:     q.Options,
		Explanation: q.Explanation,
	}
	if text, ok := r.ProposedContent[r.Locale]; ok {
		merged.Content = merged.Content.Merge(models.LocaleText{r.Locale: text})
	}
	if text, ok := r.ProposedExplanation[r.Locale]; ok {
		merged.Explanation = nonNilText(q.Explanation).Merge(models.LocaleText{r.Locale: text})
	}
	if r.ProposedOptions != nil {
		merged.Options = r.ProposedOptions
	}
	return old, merged
}

func nonNilText(t models.LocaleText) models.LocaleText {
	if t == nil {
		return models.LocaleText{}
	}
	return t
}

package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// ReviewStatus is the state of a staged polish proposal.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// IsValid reports whether s is a known review status.
func (s ReviewStatus) IsValid() bool {
	return s == ReviewPending || s == ReviewApproved || s == ReviewRejected
}

// PolishReview is a proposed edit awaiting human review.
// It is keyed by content fingerprint so it survives question id churn.
type PolishReview struct {
	ID                  surrealmodels.RecordID `json:"id"`
	ContentHash         string                 `json:"content_hash"`
	Locale              string                 `json:"locale"`
	TaskID              *string                `json:"task_id,omitempty"`
	ProposedContent     LocaleText             `json:"proposed_content"`
	ProposedOptions     []string               `json:"proposed_options,omitempty"`
	ProposedExplanation LocaleText             `json:"proposed_explanation,omitempty"`
	Status              ReviewStatus           `json:"status"`
	Notes               *string                `json:"notes,omitempty"`
	ReviewedBy          *string                `json:"reviewed_by,omitempty"`
	ReviewedAt          *time.Time             `json:"reviewed_at,omitempty"`
	CreatedAt           time.Time              `json:"created_at"`
}

// ReviewID returns the string form of the review's record id.
func (r *PolishReview) ReviewID() string {
	s, _ := RecordIDString(r.ID)
	return s
}

// PolishHistory is the append-only audit row written when a review is approved.
type PolishHistory struct {
	ID             surrealmodels.RecordID `json:"id"`
	ReviewID       string                 `json:"review_id"`
	ContentHash    string                 `json:"content_hash"`
	Locale         string                 `json:"locale"`
	OldContent     LocaleText             `json:"old_content"`
	NewContent     LocaleText             `json:"new_content"`
	OldOptions     []string               `json:"old_options,omitempty"`
	NewOptions     []string               `json:"new_options,omitempty"`
	OldExplanation LocaleText             `json:"old_explanation,omitempty"`
	NewExplanation LocaleText             `json:"new_explanation,omitempty"`
	ApprovedBy     string                 `json:"approved_by"`
	CreatedAt      time.Time              `json:"created_at"`
}

// ApprovalResult bundles the effects of an approved review.
type ApprovalResult struct {
	Review   PolishReview  `json:"review"`
	Question Question      `json:"question"`
	History  PolishHistory `json:"history"`
}

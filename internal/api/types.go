package api

import (
	"fmt"
	"time"

	"github.com/raphaelgruber/quizproc-go/internal/metrics"
	"github.com/raphaelgruber/quizproc-go/internal/models"
	"github.com/raphaelgruber/quizproc-go/internal/service"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Task is the wire form of a task with its progress.
type Task struct {
	ID             string             `json:"id"`
	Status         models.TaskStatus  `json:"status"`
	Operations     []models.Operation `json:"operations"`
	QuestionIDs    []int64            `json:"question_ids"`
	Options        models.TaskOptions `json:"options"`
	TotalQuestions *int               `json:"total_questions"`
	ProcessedCount int                `json:"processed_count"`
	SucceededCount int                `json:"succeeded_count"`
	FailedCount    int                `json:"failed_count"`
	CurrentBatch   int                `json:"current_batch"`
	CreatedBy      string             `json:"created_by"`
	CreatedAt      time.Time          `json:"created_at"`
	StartedAt      *time.Time         `json:"started_at,omitempty"`
	CompletedAt    *time.Time         `json:"completed_at,omitempty"`
	ServerLogs     []models.ServerLog `json:"server_logs,omitempty"`
	Progress       service.Progress   `json:"progress"`
}

// TaskList is one page of tasks.
type TaskList struct {
	Tasks []Task `json:"tasks"`
	Total int    `json:"total"`
}

// Item is the wire form of a task item.
type Item struct {
	ID           string              `json:"id"`
	TaskID       string              `json:"task_id"`
	QuestionID   int64               `json:"question_id"`
	Operation    models.Operation    `json:"operation"`
	TargetLang   *string             `json:"target_lang,omitempty"`
	Status       models.ItemStatus   `json:"status"`
	ErrorCode    string              `json:"error_code,omitempty"`
	ErrorMessage *string             `json:"error_message,omitempty"`
	ErrorDetail  *models.ErrorDetail `json:"error_detail,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	StartedAt    *time.Time          `json:"started_at,omitempty"`
	FinishedAt   *time.Time          `json:"finished_at,omitempty"`
}

// Review is the wire form of a polish review.
type Review struct {
	ID                  string              `json:"id"`
	ContentHash         string              `json:"content_hash"`
	Locale              string              `json:"locale"`
	TaskID              *string             `json:"task_id,omitempty"`
	ProposedContent     models.LocaleText   `json:"proposed_content"`
	ProposedOptions     []string            `json:"proposed_options,omitempty"`
	ProposedExplanation models.LocaleText   `json:"proposed_explanation,omitempty"`
	Status              models.ReviewStatus `json:"status"`
	Notes               *string             `json:"notes,omitempty"`
	ReviewedBy          *string             `json:"reviewed_by,omitempty"`
	ReviewedAt          *time.Time          `json:"reviewed_at,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
}

// Approval is the outcome of approving a review.
type Approval struct {
	Review          Review `json:"review"`
	QuestionID      int64  `json:"question_id"`
	QuestionVersion int    `json:"question_version"`
	ApprovedBy      string `json:"approved_by"`
}

// Stats reports runtime metrics and the runs of this process.
type Stats struct {
	Metrics metrics.Snapshot   `json:"metrics"`
	Runs    []service.RunState `json:"runs"`
}

// Log stream event types.
const (
	EventLogs  = "logs"
	EventDone  = "done"
	EventError = "error"
)

// LogEvent is one websocket message of a task's log stream.
type LogEvent struct {
	Type      string            `json:"type"`
	Status    models.TaskStatus `json:"status,omitempty"`
	Logs      []service.LogLine `json:"logs,omitempty"`
	Processed int               `json:"processed"`
	Total     *int              `json:"total,omitempty"`
	Error     string            `json:"error,omitempty"`
}

func recordID(id surrealmodels.RecordID) string {
	s, err := models.RecordIDString(id)
	if err != nil {
		return fmt.Sprintf("%v", id.ID)
	}
	return s
}

// TaskFromView converts a service task view.
func TaskFromView(v *service.TaskView) Task {
	return Task{
		ID:             recordID(v.ID),
		Status:         v.Status,
		Operations:     v.Operations,
		QuestionIDs:    v.QuestionIDs,
		Options:        v.Options,
		TotalQuestions: v.TotalQuestions,
		ProcessedCount: v.ProcessedCount,
		SucceededCount: v.SucceededCount,
		FailedCount:    v.FailedCount,
		CurrentBatch:   v.CurrentBatch,
		CreatedBy:      v.CreatedBy,
		CreatedAt:      v.CreatedAt,
		StartedAt:      v.StartedAt,
		CompletedAt:    v.CompletedAt,
		ServerLogs:     v.Details.ServerLogs,
		Progress:       v.Progress,
	}
}

// ItemFromModel converts a stored item.
func ItemFromModel(it *models.Item) Item {
	return Item{
		ID:           recordID(it.ID),
		TaskID:       it.TaskID,
		QuestionID:   it.QuestionID,
		Operation:    it.Operation,
		TargetLang:   it.TargetLang,
		Status:       it.Status,
		ErrorCode:    errorCode(it),
		ErrorMessage: it.ErrorMessage,
		ErrorDetail:  it.ErrorDetail,
		CreatedAt:    it.CreatedAt,
		StartedAt:    it.StartedAt,
		FinishedAt:   it.FinishedAt,
	}
}

func errorCode(it *models.Item) string {
	if it.Status != models.ItemFailed {
		return ""
	}
	return it.NormalizedErrorCode()
}

// ReviewFromModel converts a stored review.
func ReviewFromModel(r *models.PolishReview) Review {
	return Review{
		ID:                  recordID(r.ID),
		ContentHash:         r.ContentHash,
		Locale:              r.Locale,
		TaskID:              r.TaskID,
		ProposedContent:     r.ProposedContent,
		ProposedOptions:     r.ProposedOptions,
		ProposedExplanation: r.ProposedExplanation,
		Status:              r.Status,
		Notes:               r.Notes,
		ReviewedBy:          r.ReviewedBy,
		ReviewedAt:          r.ReviewedAt,
		CreatedAt:           r.CreatedAt,
	}
}

// ApprovalFromResult converts an approval result.
func ApprovalFromResult(res *models.ApprovalResult) Approval {
	return Approval{
		Review:          ReviewFromModel(&res.Review),
		QuestionID:      res.Question.QuestionID(),
		QuestionVersion: res.Question.Version,
		ApprovedBy:      res.History.ApprovedBy,
	}
}

package models

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// ItemStatus is the lifecycle state of a work item.
type ItemStatus string

const (
	ItemPending            ItemStatus = "pending"
	ItemProcessing         ItemStatus = "processing"
	ItemSucceeded          ItemStatus = "succeeded"
	ItemFailed             ItemStatus = "failed"
	ItemPartiallySucceeded ItemStatus = "partially_succeeded"
)

var itemStatuses = []ItemStatus{ItemPending, ItemProcessing, ItemSucceeded, ItemFailed, ItemPartiallySucceeded}

// IsValid reports whether s is a known item status.
func (s ItemStatus) IsValid() bool {
	return slices.Contains(itemStatuses, s)
}

// IsFinished reports whether the item reached a terminal state.
func (s ItemStatus) IsFinished() bool {
	return s == ItemSucceeded || s == ItemFailed || s == ItemPartiallySucceeded
}

// Error stages recorded in ErrorDetail.ErrorStage.
const (
	StageTimeout       = "TIMEOUT"
	StageAICall        = "AI_CALL"
	StageParseResponse = "PARSE_RESPONSE"
	StageApply         = "APPLY"
	StagePrepare       = "PREPARE"
	StageInterrupted   = "INTERRUPTED"
)

// Error codes recorded in ErrorDetail.ErrorCode.
const (
	CodeTimeout          = "TIMEOUT"
	CodeProviderRejected = "PROVIDER_REJECTED"
	CodeQuotaExceeded    = "PROVIDER_QUOTA_EXCEEDED"
	CodeRateLimited      = "RATE_LIMITED"
	CodeInvalidResponse  = "INVALID_RESPONSE"
	CodeQuestionNotFound = "QUESTION_NOT_FOUND"
	CodeApplyFailed      = "APPLY_FAILED"
	CodeConflict         = "CONFLICT"
	CodeInterrupted      = "INTERRUPTED"
	CodeUnknown          = "UNKNOWN_ERROR"
)

// Consistency verdicts.
const (
	ConsistencyConsistent   = "consistent"
	ConsistencyInconsistent = "inconsistent"
	ConsistencyUnknown      = "unknown"
)

// ConsistencyEntry is one locale's explanation consistency finding.
type ConsistencyEntry struct {
	Locale   string `json:"locale"`
	Status   string `json:"status"`
	Expected string `json:"expected,omitempty"`
	Inferred string `json:"inferred,omitempty"`
	Source   string `json:"source,omitempty"`
}

// ErrorDetail is the structured error document attached to an item.
type ErrorDetail struct {
	ErrorCode              string             `json:"errorCode,omitempty"`
	ErrorStage             string             `json:"errorStage,omitempty"`
	ExplanationConsistency []ConsistencyEntry `json:"explanationConsistency,omitempty"`
	AutoFixable            *bool              `json:"autoFixable,omitempty"`
	Provider               string             `json:"provider,omitempty"`
	Model                  string             `json:"model,omitempty"`
}

// Inconsistent returns the entries flagged inconsistent.
func (d *ErrorDetail) Inconsistent() []ConsistencyEntry {
	if d == nil {
		return nil
	}
	var out []ConsistencyEntry
	for _, e := range d.ExplanationConsistency {
		if e.Status == ConsistencyInconsistent {
			out = append(out, e)
		}
	}
	return out
}

// IsEmpty reports whether the detail carries no information worth storing.
func (d *ErrorDetail) IsEmpty() bool {
	return d == nil || (d.ErrorCode == "" && d.ErrorStage == "" &&
		len(d.ExplanationConsistency) == 0 && d.AutoFixable == nil)
}

// UnmarshalJSON accepts explanationConsistency as a single object or an array.
func (d *ErrorDetail) UnmarshalJSON(data []byte) error {
	var raw struct {
		ErrorCode              string          `json:"errorCode"`
		ErrorStage             string          `json:"errorStage"`
		ExplanationConsistency json.RawMessage `json:"explanationConsistency"`
		AutoFixable            *bool           `json:"autoFixable"`
		Provider               string          `json:"provider"`
		Model                  string          `json:"model"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	entries, err := normalizeConsistency(raw.ExplanationConsistency)
	if err != nil {
		return fmt.Errorf("explanationConsistency: %w", err)
	}

	*d = ErrorDetail{
		ErrorCode:              raw.ErrorCode,
		ErrorStage:             raw.ErrorStage,
		ExplanationConsistency: entries,
		AutoFixable:            raw.AutoFixable,
		Provider:               raw.Provider,
		Model:                  raw.Model,
	}
	return nil
}

func normalizeConsistency(data json.RawMessage) ([]ConsistencyEntry, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	switch data[0] {
	case '[':
		var entries []ConsistencyEntry
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, err
		}
		return entries, nil
	case '{':
		var entry ConsistencyEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil, err
		}
		return []ConsistencyEntry{entry}, nil
	default:
		return nil, nil
	}
}

// ParseErrorDetail decodes a stored error_detail document, which may be
// JSON text or a native object. Absent documents yield nil.
func ParseErrorDetail(raw any) (*ErrorDetail, error) {
	data, err := documentBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("parse error detail: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	var detail ErrorDetail
	if err := json.Unmarshal(data, &detail); err != nil {
		return nil, fmt.Errorf("parse error detail: %w", err)
	}
	return &detail, nil
}

// Item is one (task, question, operation[, locale]) unit of work.
type Item struct {
	ID           surrealmodels.RecordID `json:"id"`
	TaskID       string                 `json:"task_id"`
	QuestionID   int64                  `json:"question_id"`
	Operation    Operation              `json:"operation"`
	TargetLang   *string                `json:"target_lang,omitempty"`
	Status       ItemStatus             `json:"status"`
	ErrorCode    *string                `json:"error_code,omitempty"`
	ErrorMessage *string                `json:"error_message,omitempty"`
	ErrorDetail  *ErrorDetail           `json:"error_detail,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	FinishedAt   *time.Time             `json:"finished_at,omitempty"`
}

// ItemID returns the string form of the item's record id.
func (i *Item) ItemID() string {
	s, _ := RecordIDString(i.ID)
	return s
}

// Lang returns the target locale or "" when unset.
func (i *Item) Lang() string {
	if i.TargetLang == nil {
		return ""
	}
	return *i.TargetLang
}

// NormalizedErrorCode returns errorCode, then error_message, then
// UNKNOWN_ERROR. The error_code column is not consulted.
func (i *Item) NormalizedErrorCode() string {
	if i.ErrorDetail != nil && i.ErrorDetail.ErrorCode != "" {
		return i.ErrorDetail.ErrorCode
	}
	if i.ErrorMessage != nil && *i.ErrorMessage != "" {
		return *i.ErrorMessage
	}
	return CodeUnknown
}

// NormalizedErrorStage returns the recorded stage or UNKNOWN.
func (i *Item) NormalizedErrorStage() string {
	if i.ErrorDetail != nil && i.ErrorDetail.ErrorStage != "" {
		return i.ErrorDetail.ErrorStage
	}
	return "UNKNOWN"
}

// ItemOutcome is the terminal transition applied to a processing item.
type ItemOutcome struct {
	Status       ItemStatus
	ErrorCode    string
	ErrorMessage string
	Detail       *ErrorDetail
}

package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// TraceStatus is the outcome recorded for a question or subtask trace.
type TraceStatus string

const (
	TraceSuccess TraceStatus = "success"
	TraceFailed  TraceStatus = "failed"
	TracePending TraceStatus = "pending"
)

// TaskDetails accumulates execution traces and coarse lifecycle messages.
type TaskDetails struct {
	Questions  []QuestionTrace `json:"questions"`
	ServerLogs []ServerLog     `json:"server_logs"`
}

// QuestionTrace is the execution record of one question within a task.
type QuestionTrace struct {
	QuestionID int64          `json:"questionId"`
	Status     TraceStatus    `json:"status"`
	Operations []Operation    `json:"operations"`
	Subtasks   []SubtaskTrace `json:"subtasks,omitempty"`
	Timestamp  *time.Time     `json:"timestamp,omitempty"`
}

// SubtaskTrace is the execution record of one item.
type SubtaskTrace struct {
	Operation  Operation   `json:"operation"`
	TargetLang string      `json:"targetLang,omitempty"`
	Status     TraceStatus `json:"status"`
	Question   string      `json:"question,omitempty"`
	Answer     string      `json:"answer,omitempty"`
	Error      string      `json:"error,omitempty"`
	Provider   string      `json:"aiProvider,omitempty"`
	Model      string      `json:"model,omitempty"`
	Timestamp  *time.Time  `json:"timestamp,omitempty"`
}

// ServerLog is a lifecycle message written by the executor.
type ServerLog struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// ParseTaskDetails decodes a stored details document.
// It accepts JSON text, a native object, the legacy bare array of question
// traces, or nil. Unknown keys are ignored and missing keys stay empty.
func ParseTaskDetails(raw any) (TaskDetails, error) {
	var details TaskDetails

	data, err := documentBytes(raw)
	if err != nil {
		return details, fmt.Errorf("parse details: %w", err)
	}
	if data == nil {
		return details, nil
	}

	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &details.Questions); err != nil {
			return TaskDetails{}, fmt.Errorf("parse legacy details: %w", err)
		}
		return details, nil
	}

	if err := json.Unmarshal(data, &details); err != nil {
		return TaskDetails{}, fmt.Errorf("parse details: %w", err)
	}
	return details, nil
}

// ProcessedQuestionIDs returns the ids of questions with a completed trace.
func (d TaskDetails) ProcessedQuestionIDs() map[int64]bool {
	processed := make(map[int64]bool, len(d.Questions))
	for _, q := range d.Questions {
		if q.Status != TracePending && q.Status != "" {
			processed[q.QuestionID] = true
		}
	}
	return processed
}

// documentBytes normalizes a stored JSON document into encoded bytes.
// A nil return with nil error means the document is absent.
func documentBytes(raw any) ([]byte, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" || v == "null" {
			return nil, nil
		}
		return []byte(v), nil
	case []byte:
		if len(v) == 0 {
			return nil, nil
		}
		return v, nil
	case json.RawMessage:
		if len(v) == 0 || string(v) == "null" {
			return nil, nil
		}
		return v, nil
	default:
		return json.Marshal(stringKeys(v))
	}
}

// stringKeys converts CBOR-style map[any]any values into JSON-encodable maps.
func stringKeys(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = stringKeys(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = stringKeys(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = stringKeys(val)
		}
		return out
	default:
		return v
	}
}

// Package models defines data structures for the quizproc task store.
package models

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
	"gopkg.in/yaml.v3"
)

// TaskStatus is the lifecycle state of a batch task.
type TaskStatus string

const (
	TaskPending            TaskStatus = "pending"
	TaskProcessing         TaskStatus = "processing"
	TaskSucceeded          TaskStatus = "succeeded"
	TaskFailed             TaskStatus = "failed"
	TaskCompleted          TaskStatus = "completed" // legacy terminal success, never written
	TaskCancelled          TaskStatus = "cancelled"
	TaskPaused             TaskStatus = "paused"
	TaskPartiallySucceeded TaskStatus = "partially_succeeded"
)

var taskStatuses = []TaskStatus{
	TaskPending, TaskProcessing, TaskSucceeded, TaskFailed,
	TaskCompleted, TaskCancelled, TaskPaused, TaskPartiallySucceeded,
}

// IsValid reports whether s is a known task status.
func (s TaskStatus) IsValid() bool {
	return slices.Contains(taskStatuses, s)
}

// IsActive reports whether a task in this status may still dispatch work.
func (s TaskStatus) IsActive() bool {
	return s == TaskPending || s == TaskProcessing
}

// IsTerminal reports whether the task has finished for good.
// Paused tasks are neither active nor terminal.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskSucceeded, TaskFailed, TaskCompleted, TaskCancelled, TaskPartiallySucceeded:
		return true
	}
	return false
}

// IsRetryable reports whether a retry task may be planned from this status.
func (s TaskStatus) IsRetryable() bool {
	return s == TaskFailed || s == TaskCancelled || s == TaskPaused
}

// Operation is an enrichment kind applied to a question.
type Operation string

const (
	OpTranslate    Operation = "translate"
	OpPolish       Operation = "polish"
	OpFillMissing  Operation = "fill_missing"
	OpCategoryTags Operation = "category_tags"
)

// Operations lists every known operation kind.
var Operations = []Operation{OpTranslate, OpPolish, OpFillMissing, OpCategoryTags}

// IsValid reports whether o is a known operation.
func (o Operation) IsValid() bool {
	return slices.Contains(Operations, o)
}

// ChecksConsistency reports whether results of this operation carry explanation text
// that should be checked against the question's correct answer.
func (o Operation) ChecksConsistency() bool {
	return o == OpTranslate || o == OpPolish
}

// TerminalPolicy decides the final status of a task that ran with continue_on_error.
type TerminalPolicy string

const (
	// PolicyAnyFailure: any failure alongside a success yields partially_succeeded.
	PolicyAnyFailure TerminalPolicy = "any_failure"
	// PolicyMajority: the task fails when failures outnumber successes.
	PolicyMajority TerminalPolicy = "majority"
)

// IsValid reports whether p is a known policy.
func (p TerminalPolicy) IsValid() bool {
	return p == PolicyAnyFailure || p == PolicyMajority
}

// LocaleList is a list of locale codes. Request documents may give a
// single string instead of a list.
type LocaleList []string

// UnmarshalJSON accepts "ja" as well as ["ja", "en"].
func (l *LocaleList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*l = splitLocales(one)
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("locales: expected string or list: %w", err)
	}
	*l = many
	return nil
}

// UnmarshalYAML accepts a scalar as well as a sequence.
func (l *LocaleList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*l = splitLocales(node.Value)
		return nil
	}
	var many []string
	if err := node.Decode(&many); err != nil {
		return fmt.Errorf("locales: %w", err)
	}
	*l = many
	return nil
}

func splitLocales(s string) LocaleList {
	var out LocaleList
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// TranslateOptions configures the translate operation.
type TranslateOptions struct {
	From string     `json:"from" yaml:"from"`
	To   LocaleList `json:"to" yaml:"to"`
}

// PolishOptions configures the polish operation.
type PolishOptions struct {
	Locale string `json:"locale" yaml:"locale"`
}

// ExecutionOptions selects the execution backend per task.
type ExecutionOptions struct {
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`
	Model    string `json:"model,omitempty" yaml:"model,omitempty"`
}

// TaskOptions is the per-task option bag.
type TaskOptions struct {
	Translate       *TranslateOptions `json:"translate,omitempty" yaml:"translate,omitempty"`
	Polish          *PolishOptions    `json:"polish,omitempty" yaml:"polish,omitempty"`
	Execution       ExecutionOptions  `json:"execution" yaml:"execution"`
	BatchSize       int               `json:"batch_size" yaml:"batch_size"`
	ContinueOnError *bool             `json:"continue_on_error,omitempty" yaml:"continue_on_error,omitempty"`
	TerminalPolicy  TerminalPolicy    `json:"terminal_policy" yaml:"terminal_policy"`
}

// ContinuesOnError reports whether execution proceeds past item failures.
// Unset means true.
func (o TaskOptions) ContinuesOnError() bool {
	return o.ContinueOnError == nil || *o.ContinueOnError
}

// Task is one operator-initiated batch request.
type Task struct {
	ID             surrealmodels.RecordID `json:"id"`
	Status         TaskStatus             `json:"status"`
	Operations     []Operation            `json:"operations"`
	QuestionIDs    []int64                `json:"question_ids"` // nil means the scope was discovered
	Options        TaskOptions            `json:"options"`
	TotalQuestions *int                   `json:"total_questions,omitempty"`
	ProcessedCount int                    `json:"processed_count"`
	SucceededCount int                    `json:"succeeded_count"`
	FailedCount    int                    `json:"failed_count"`
	CurrentBatch   int                    `json:"current_batch"`
	Details        TaskDetails            `json:"details"`
	CreatedBy      string                 `json:"created_by"`
	CreatedAt      time.Time              `json:"created_at"`
	StartedAt      *time.Time             `json:"started_at,omitempty"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	UpdatedAt      *time.Time             `json:"updated_at,omitempty"`
}

// TaskID returns the string form of the task's record id.
func (t *Task) TaskID() string {
	s, _ := RecordIDString(t.ID)
	return s
}

// ItemsPerQuestion returns how many items one question expands into.
// Translation expands into one item per target locale.
func (t *Task) ItemsPerQuestion() int {
	return ItemsPerQuestion(t.Operations, t.Options)
}

// ItemsPerQuestion returns the item fan-out for a set of operations.
func ItemsPerQuestion(ops []Operation, opts TaskOptions) int {
	n := 0
	for _, op := range ops {
		if op == OpTranslate && opts.Translate != nil && len(opts.Translate.To) > 0 {
			n += len(opts.Translate.To)
			continue
		}
		n++
	}
	return n
}

// HasExplicitScope reports whether the task targets a fixed question set.
func (t *Task) HasExplicitScope() bool {
	return t.QuestionIDs != nil
}

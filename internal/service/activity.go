package service

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/raphaelgruber/quizproc-go/internal/models"
)

const (
	requestPreviewLimit = 150
	answerPreviewLimit  = 200
)

// Log line kinds.
const (
	LogTypeServer     = "server"
	LogTypeProcessing = "task-processing"
)

var providerNames = map[string]string{
	"openai":            "OpenAI",
	"openai_direct":     "OpenAI",
	"anthropic":         "Anthropic",
	"ollama":            "Ollama",
	"bedrock":           "AWS Bedrock",
	"gemini_direct":     "Google Gemini",
	"openrouter":        "OpenRouter",
	"openrouter_direct": "OpenRouter",
	"local":             "Local AI",
}

var operationNames = map[models.Operation]string{
	models.OpTranslate:    "translation",
	models.OpPolish:       "polish",
	models.OpFillMissing:  "fill-missing",
	models.OpCategoryTags: "category/tags",
}

// LogLine is one synthetic line of a task's activity stream.
type LogLine struct {
	Timestamp  time.Time        `json:"timestamp"`
	Level      string           `json:"level"`
	Message    string           `json:"message"`
	QuestionID int64            `json:"questionId,omitempty"`
	Operation  models.Operation `json:"operation,omitempty"`
	Provider   string           `json:"aiProvider,omitempty"`
	Type       string           `json:"logType"`
}

// LogView is a task's activity stream plus a progress snapshot.
type LogView struct {
	TaskID   string            `json:"taskId"`
	Status   models.TaskStatus `json:"status"`
	Logs     []LogLine         `json:"logs"`
	Progress struct {
		Processed int  `json:"processed"`
		Total     *int `json:"total"`
	} `json:"progress"`
}

// ProcessingLogs rebuilds a task's activity stream from its server logs and
// per-item traces, ordered by time.
func (s *TaskService) ProcessingLogs(ctx context.Context, taskID string) (*LogView, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	view := &LogView{TaskID: taskID, Status: task.Status, Logs: ReconstructLogs(task)}
	view.Progress.Processed = task.ProcessedCount
	view.Progress.Total = task.TotalQuestions
	return view, nil
}

// ReconstructLogs expands traces into start, request and result lines and
// merges them with server logs. Entries without a timestamp fall back to
// the task's start time.
func ReconstructLogs(task *models.Task) []LogLine {
	fallback := task.CreatedAt
	if task.StartedAt != nil {
		fallback = *task.StartedAt
	}
	at := func(ts *time.Time) time.Time {
		if ts == nil || ts.IsZero() {
			return fallback
		}
		return *ts
	}

	var logs []LogLine
	for _, l := range task.Details.ServerLogs {
		ts := l.Timestamp
		logs = append(logs, LogLine{
			Timestamp: at(&ts),
			Level:     cmp.Or(l.Level, "info"),
			Message:   l.Message,
			Type:      LogTypeServer,
		})
	}

	for _, q := range task.Details.Questions {
		for _, sub := range q.Subtasks {
			ts := at(sub.Timestamp)
			if sub.Timestamp == nil {
				ts = at(q.Timestamp)
			}
			provider := ProviderDisplayName(sub.Provider)
			backend := provider
			if sub.Model != "" && sub.Model != "unknown" {
				backend = provider + ", " + sub.Model
			}
			line := func(level, msg string) LogLine {
				return LogLine{
					Timestamp:  ts,
					Level:      level,
					Message:    msg,
					QuestionID: q.QuestionID,
					Operation:  sub.Operation,
					Provider:   provider,
					Type:       LogTypeProcessing,
				}
			}

			name := cmp.Or(operationNames[sub.Operation], string(sub.Operation))
			if sub.TargetLang != "" {
				name += " (" + sub.TargetLang + ")"
			}
			start := line("info", fmt.Sprintf("processing %s for question %d", name, q.QuestionID))
			start.Provider = ""
			logs = append(logs, start)

			if sub.Question != "" {
				logs = append(logs, line("info", fmt.Sprintf("AI request (%s): %s", backend, preview(sub.Question, requestPreviewLimit))))
			}
			switch {
			case sub.Answer != "":
				level := "info"
				if sub.Status == models.TraceFailed {
					level = "error"
				}
				logs = append(logs, line(level, fmt.Sprintf("AI answer (%s): %s", backend, preview(sub.Answer, answerPreviewLimit))))
			case sub.Error != "":
				logs = append(logs, line("error", fmt.Sprintf("AI request failed (%s): %s", provider, sub.Error)))
			}
		}
	}

	slices.SortStableFunc(logs, func(a, b LogLine) int { return a.Timestamp.Compare(b.Timestamp) })
	if logs == nil {
		logs = []LogLine{}
	}
	return logs
}

// ProviderDisplayName returns a human-readable provider name.
func ProviderDisplayName(provider string) string {
	if provider == "" {
		return "unknown"
	}
	if name, ok := providerNames[provider]; ok {
		return name
	}
	return provider
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

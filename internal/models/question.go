package models

import (
	"maps"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// LocaleText maps a locale code to text in that locale.
type LocaleText map[string]string

// Pick returns the text for locale, falling back to zh, en, ja and then any entry.
func (t LocaleText) Pick(locale string) string {
	if s := t[locale]; s != "" {
		return s
	}
	for _, l := range []string{"zh", "en", "ja"} {
		if s := t[l]; s != "" {
			return s
		}
	}
	for _, s := range t {
		if s != "" {
			return s
		}
	}
	return ""
}

// Merge returns a copy of t with every key from update applied on top.
// Keys absent from update keep their existing value.
func (t LocaleText) Merge(update LocaleText) LocaleText {
	out := make(LocaleText, len(t)+len(update))
	maps.Copy(out, t)
	maps.Copy(out, update)
	return out
}

// Question is the live quiz question record owned by the content subsystem.
type Question struct {
	ID            surrealmodels.RecordID `json:"id"`
	ContentHash   string                 `json:"content_hash"`
	Content       LocaleText             `json:"content"`
	Options       []string               `json:"options,omitempty"`
	Explanation   LocaleText             `json:"explanation,omitempty"`
	CorrectAnswer *string                `json:"correct_answer,omitempty"`
	QuestionType  string                 `json:"question_type,omitempty"`
	Category      *string                `json:"category,omitempty"`
	StageTag      *string                `json:"stage_tag,omitempty"`
	TopicTags     []string               `json:"topic_tags,omitempty"`
	Version       int                    `json:"version"`
	UpdatedAt     *time.Time             `json:"updated_at,omitempty"`
}

// QuestionID returns the numeric question id.
func (q *Question) QuestionID() int64 {
	id, _ := RecordIDInt(q.ID)
	return id
}

// QuestionPatch lists question fields to overwrite. Nil fields are left alone.
type QuestionPatch struct {
	Content     LocaleText
	Options     []string
	Explanation LocaleText
	Category    *string
	StageTag    *string
	TopicTags   []string
}

// Translation is an AI-produced per-locale rendition of a question.
type Translation struct {
	ID          surrealmodels.RecordID `json:"id,omitempty"`
	ContentHash string                 `json:"content_hash"`
	Locale      string                 `json:"locale"`
	Content     string                 `json:"content"`
	Options     []string               `json:"options,omitempty"`
	Explanation *string                `json:"explanation,omitempty"`
	Source      string                 `json:"source"`
	UpdatedAt   *time.Time             `json:"updated_at,omitempty"`
}

package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/quizproc-go/internal/models"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// ListQuestionIDs returns every question id in ascending order.
// It is used to discover the scope of tasks created without explicit ids.
func (c *Client) ListQuestionIDs(ctx context.Context) ([]int64, error) {
	rows, err := queryRows[struct {
		ID surrealmodels.RecordID `json:"id"`
	}](ctx, c, `SELECT id FROM question ORDER BY id ASC`, nil)
	if err != nil {
		return nil, fmt.Errorf("list question ids: %w", err)
	}

	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		id, err := models.RecordIDInt(r.ID)
		if err != nil {
			return nil, fmt.Errorf("list question ids: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// GetQuestion retrieves a question by numeric id. Returns ErrNotFound if missing.
func (c *Client) GetQuestion(ctx context.Context, id int64) (*models.Question, error) {
	q, err := queryFirst[models.Question](ctx, c, `SELECT * FROM type::record("question", $id)`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get question: %w", err)
	}
	if q == nil {
		return nil, fmt.Errorf("question %d: %w", id, ErrNotFound)
	}
	return q, nil
}

// GetQuestionByHash retrieves the question carrying a content fingerprint.
func (c *Client) GetQuestionByHash(ctx context.Context, hash string) (*models.Question, error) {
	q, err := queryFirst[models.Question](ctx, c,
		`SELECT * FROM question WHERE content_hash = $hash ORDER BY id ASC LIMIT 1`,
		map[string]any{"hash": hash})
	if err != nil {
		return nil, fmt.Errorf("get question by hash: %w", err)
	}
	if q == nil {
		return nil, fmt.Errorf("question with hash %s: %w", hash, ErrNotFound)
	}
	return q, nil
}

// UpsertQuestion writes a question record as-is. The content subsystem owns
// questions; the engine uses this for seeding and imports.
func (c *Client) UpsertQuestion(ctx context.Context, id int64, q models.Question) (*models.Question, error) {
	content := map[string]any{
		"content_hash": q.ContentHash,
		"content":      q.Content,
		"version":      q.Version,
	}
	if q.Options != nil {
		content["options"] = q.Options
	}
	if q.Explanation != nil {
		content["explanation"] = q.Explanation
	}
	if q.CorrectAnswer != nil {
		content["correct_answer"] = *q.CorrectAnswer
	}
	if q.QuestionType != "" {
		content["question_type"] = q.QuestionType
	}

	out, err := queryFirst[models.Question](ctx, c,
		`UPSERT type::record("question", $id) CONTENT $content RETURN AFTER`,
		map[string]any{"id": id, "content": content})
	if err != nil {
		return nil, fmt.Errorf("upsert question: %w", err)
	}
	if out == nil {
		return nil, fmt.Errorf("upsert question: no result returned")
	}
	return out, nil
}

// UpdateQuestion applies patch only if the question is still at version.
// Returns ErrVersionConflict if someone else wrote it first.
func (c *Client) UpdateQuestion(ctx context.Context, id int64, version int, patch models.QuestionPatch) (*models.Question, error) {
	sets := []string{"version = version + 1", "updated_at = time::now()"}
	vars := map[string]any{"id": id, "version": version}

	if patch.Content != nil {
		sets = append(sets, "content = $content")
		vars["content"] = patch.Content
	}
	if patch.Options != nil {
		sets = append(sets, "options = $options")
		vars["options"] = patch.Options
	}
	if patch.Explanation != nil {
		sets = append(sets, "explanation = $explanation")
		vars["explanation"] = patch.Explanation
	}
	if patch.Category != nil {
		sets = append(sets, "category = $category")
		vars["category"] = *patch.Category
	}
	if patch.StageTag != nil {
		sets = append(sets, "stage_tag = $stage_tag")
		vars["stage_tag"] = *patch.StageTag
	}
	if patch.TopicTags != nil {
		sets = append(sets, "topic_tags = $topic_tags")
		vars["topic_tags"] = patch.TopicTags
	}

	sql := fmt.Sprintf(`
		UPDATE type::record("question", $id) SET %s
		WHERE version = $version
		RETURN AFTER
	`, strings.Join(sets, ", "))

	q, err := queryFirst[models.Question](ctx, c, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("update question: %w", err)
	}
	if q == nil {
		if _, err := c.GetQuestion(ctx, id); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("question %d at version %d: %w", id, version, ErrVersionConflict)
	}
	return q, nil
}

// UpsertTranslation stores one locale's translation, keyed by fingerprint and locale.
func (c *Client) UpsertTranslation(ctx context.Context, t models.Translation) error {
	content := map[string]any{
		"content_hash": t.ContentHash,
		"locale":       t.Locale,
		"content":      t.Content,
		"source":       "ai",
	}
	if t.Options != nil {
		content["options"] = t.Options
	}
	if t.Explanation != nil {
		content["explanation"] = *t.Explanation
	}
	if t.Source != "" {
		content["source"] = t.Source
	}

	sql := `
		UPSERT type::record("question_translation", [$hash, $locale])
		CONTENT $content
		RETURN NONE
	`
	if err := c.exec(ctx, sql, map[string]any{
		"hash":    t.ContentHash,
		"locale":  t.Locale,
		"content": content,
	}); err != nil {
		return fmt.Errorf("upsert translation: %w", err)
	}
	return nil
}

// ListTranslations returns every stored translation of a fingerprint.
func (c *Client) ListTranslations(ctx context.Context, hash string) ([]models.Translation, error) {
	rows, err := queryRows[models.Translation](ctx, c,
		`SELECT * FROM question_translation WHERE content_hash = $hash ORDER BY locale ASC`,
		map[string]any{"hash": hash})
	if err != nil {
		return nil, fmt.Errorf("list translations: %w", err)
	}
	return rows, nil
}

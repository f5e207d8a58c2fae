package llm

import (
	"fmt"
	"strings"

	"github.com/raphaelgruber/quizproc-go/internal/models"
)

const jsonOnly = "Respond with a single JSON object and nothing else. Do not wrap it in markdown."

var localeNames = map[string]string{
	"zh":    "Simplified Chinese",
	"zh-tw": "Traditional Chinese",
	"ja":    "Japanese",
	"en":    "English",
	"ko":    "Korean",
	"vi":    "Vietnamese",
	"id":    "Indonesian",
}

func localeName(code string) string {
	if name, ok := localeNames[strings.ToLower(code)]; ok {
		return name + " (" + code + ")"
	}
	return code
}

// buildPrompt returns the system and user prompt for op on q.
func buildPrompt(op models.Operation, q *models.Question, opts models.ExecuteOptions) (system, user string, err error) {
	source := opts.SourceLang
	body := describeQuestion(q, source)

	switch op {
	case models.OpTranslate:
		system = fmt.Sprintf(`You are a professional translator of exam questions.
Translate the question from %s into %s. Keep the meaning, the numbering of options and any technical terms exact.
Do not change which answer is correct.
%s
Format: {"content": string, "options": [string], "explanation": string}`,
			localeName(source), localeName(opts.TargetLang), jsonOnly)

	case models.OpPolish:
		system = fmt.Sprintf(`You are an editor of exam questions written in %s.
Fix grammar, clarity and ambiguity without changing the meaning or the correct answer.
The explanation must support the correct answer.
%s
Format: {"content": string, "options": [string], "explanation": string}`,
			localeName(opts.TargetLang), jsonOnly)
		body = describeQuestion(q, opts.TargetLang)

	case models.OpFillMissing:
		var missing []string
		if q.Content[source] == "" {
			missing = append(missing, `"content": string`)
		}
		if len(q.Options) == 0 && q.QuestionType != "truefalse" {
			missing = append(missing, `"options": [string]`)
		}
		if q.Explanation[source] == "" {
			missing = append(missing, `"explanation": string`)
		}
		system = fmt.Sprintf(`You complete exam questions written in %s.
Write only the missing fields, consistent with the existing text and the correct answer.
%s
Format: {%s}`, localeName(source), jsonOnly, strings.Join(missing, ", "))

	case models.OpCategoryTags:
		system = fmt.Sprintf(`You classify exam questions.
Pick a short category, a stage tag and up to five topic tags.
stage_tag must be one of: %s.
%s
Format: {"category": string, "stage_tag": string, "topic_tags": [string]}`,
			strings.Join(stageTags, ", "), jsonOnly)

	default:
		return "", "", fmt.Errorf("unsupported operation %q", op)
	}
	return system, body, nil
}

func describeQuestion(q *models.Question, locale string) string {
	var b strings.Builder
	if q.QuestionType != "" {
		fmt.Fprintf(&b, "Type: %s\n", q.QuestionType)
	}
	fmt.Fprintf(&b, "Question: %s\n", q.Content.Pick(locale))
	if len(q.Options) > 0 {
		b.WriteString("Options:\n")
		for i, o := range q.Options {
			fmt.Fprintf(&b, "%d. %s\n", i+1, o)
		}
	}
	if q.CorrectAnswer != nil && *q.CorrectAnswer != "" {
		fmt.Fprintf(&b, "Correct answer: %s\n", *q.CorrectAnswer)
	}
	if expl := q.Explanation.Pick(locale); expl != "" {
		fmt.Fprintf(&b, "Explanation: %s\n", expl)
	}
	return b.String()
}

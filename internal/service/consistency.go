package service

import (
	"slices"
	"strings"

	"github.com/raphaelgruber/quizproc-go/internal/models"
)

// Truth values produced by the consistency checker.
const (
	TruthTrue    = "true"
	TruthFalse   = "false"
	TruthUnknown = "unknown"
)

var (
	trueAnswers  = []string{"对", "正确", "是", "true", "t", "yes", "y", "正しい", "○", "correct", "o", "0"}
	falseAnswers = []string{"错", "错误", "否", "不是", "false", "f", "no", "n", "誤", "×", "incorrect", "x", "✗"}
)

// judgementPhrases are explanation phrases that state a verdict, per language.
var judgementPhrases = map[string]struct{ falsy, truthy []string }{
	"zh": {
		falsy:  []string{"本题是错误的", "该题是错误的", "该说法是错误的", "此说法错误", "上述说法是错误的", "说法不正确", "答案错误", "判断错误", "不正确"},
		truthy: []string{"本题是正确的", "该题是正确的", "该说法是正确的", "此说法正确", "上述说法是正确的", "说法正确", "答案正确", "判断正确"},
	},
	"ja": {
		falsy:  []string{"この記述は誤りです", "この文は誤りです", "誤りです", "正しくありません", "間違いです", "誤っています"},
		truthy: []string{"この記述は正しいです", "この文は正しいです", "正しいです", "正しいと言えます", "正しいといえる"},
	},
	"en": {
		falsy:  []string{"this statement is false", "this statement is incorrect", "this is false", "this is incorrect", "is not correct"},
		truthy: []string{"this statement is true", "this is correct", "is correct"},
	},
}

// NormalizeAnswer maps a stored correct answer to true, false or unknown.
func NormalizeAnswer(raw *string) string {
	if raw == nil {
		return TruthUnknown
	}
	text := strings.ToLower(strings.TrimSpace(*raw))
	switch {
	case text == "":
		return TruthUnknown
	case slices.Contains(trueAnswers, text):
		return TruthTrue
	case slices.Contains(falseAnswers, text):
		return TruthFalse
	}
	return TruthUnknown
}

// InferJudgement reads the verdict an explanation states. An empty locale
// checks every language. Text that states both verdicts is unknown.
func InferJudgement(text, locale string) string {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return TruthUnknown
	}

	lang := baseLanguage(locale)
	var hasFalse, hasTrue bool
	for l, phrases := range judgementPhrases {
		if lang != "" && lang != l {
			continue
		}
		hasFalse = hasFalse || containsAny(normalized, phrases.falsy)
		hasTrue = hasTrue || containsAny(normalized, phrases.truthy)
	}

	switch {
	case hasFalse && hasTrue:
		return TruthUnknown
	case hasFalse:
		return TruthFalse
	case hasTrue:
		return TruthTrue
	}
	return TruthUnknown
}

// CheckExplanation compares the verdict an explanation states with the
// question's correct answer.
func CheckExplanation(explanation string, correctAnswer *string, locale, source string) models.ConsistencyEntry {
	expected := NormalizeAnswer(correctAnswer)
	inferred := InferJudgement(explanation, locale)

	entry := models.ConsistencyEntry{Locale: locale, Expected: expected, Inferred: inferred, Source: source}
	switch {
	case expected == TruthUnknown || inferred == TruthUnknown:
		entry.Status = models.ConsistencyUnknown
	case expected == inferred:
		entry.Status = models.ConsistencyConsistent
	default:
		entry.Status = models.ConsistencyInconsistent
	}
	return entry
}

// consistencyDetail builds the error_detail for a succeeded item whose
// payload carries explanation text. Returns nil when there is nothing to check.
func consistencyDetail(q *models.Question, explanation, locale string, op models.Operation) *models.ErrorDetail {
	if q == nil || q.CorrectAnswer == nil || strings.TrimSpace(explanation) == "" {
		return nil
	}
	entry := CheckExplanation(explanation, q.CorrectAnswer, locale, string(op))
	detail := &models.ErrorDetail{ExplanationConsistency: []models.ConsistencyEntry{entry}}
	if entry.Status == models.ConsistencyInconsistent {
		fixable := true
		detail.AutoFixable = &fixable
	}
	return detail
}

func baseLanguage(locale string) string {
	lang := strings.ToLower(strings.TrimSpace(locale))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

package service

import (
	"testing"

	"github.com/raphaelgruber/quizproc-go/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeAnswer(t *testing.T) {
	tests := []struct {
		in   *string
		want string
	}{
		{nil, TruthUnknown},
		{ptr(""), TruthUnknown},
		{ptr("对"), TruthTrue},
		{ptr(" TRUE "), TruthTrue},
		{ptr("○"), TruthTrue},
		{ptr("错误"), TruthFalse},
		{ptr("No"), TruthFalse},
		{ptr("×"), TruthFalse},
		{ptr("B"), TruthUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeAnswer(tt.in), "answer %v", tt.in)
	}
}

func TestInferJudgement(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		locale string
		want   string
	}{
		{"zh false", "根据法律规定，本题是错误的。", "zh", TruthFalse},
		{"zh true", "该说法是正确的，因为合同成立。", "zh", TruthTrue},
		{"ja false", "この記述は誤りです。", "ja", TruthFalse},
		{"en true region locale", "This statement is true under the code.", "en-US", TruthTrue},
		{"en false", "In short, this statement is false.", "en", TruthFalse},
		{"both verdicts", "this is incorrect, but this is correct", "en", TruthUnknown},
		{"no verdict", "The contract requires consideration.", "en", TruthUnknown},
		{"wrong language phrase ignored", "本题是错误的", "en", TruthUnknown},
		{"any language", "本题是错误的", "", TruthFalse},
		{"empty", "  ", "zh", TruthUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferJudgement(tt.text, tt.locale))
		})
	}
}

func TestCheckExplanation(t *testing.T) {
	tests := []struct {
		name        string
		explanation string
		answer      *string
		want        string
	}{
		{"agrees", "本题是正确的", ptr("对"), models.ConsistencyConsistent},
		{"contradicts", "本题是错误的", ptr("对"), models.ConsistencyInconsistent},
		{"no answer", "本题是错误的", nil, models.ConsistencyUnknown},
		{"no verdict", "详见法条", ptr("错"), models.ConsistencyUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := CheckExplanation(tt.explanation, tt.answer, "zh", "polish")
			assert.Equal(t, tt.want, e.Status)
			assert.Equal(t, "zh", e.Locale)
			assert.Equal(t, "polish", e.Source)
		})
	}
}

func TestConsistencyDetail(t *testing.T) {
	q := &models.Question{CorrectAnswer: ptr("对")}

	d := consistencyDetail(q, "本题是错误的", "zh", models.OpPolish)
	if assert.NotNil(t, d) {
		assert.Len(t, d.Inconsistent(), 1)
		assert.Equal(t, ptr(true), d.AutoFixable)
	}

	d = consistencyDetail(q, "本题是正确的", "zh", models.OpPolish)
	if assert.NotNil(t, d) {
		assert.Empty(t, d.Inconsistent())
		assert.Nil(t, d.AutoFixable)
	}

	assert.Nil(t, consistencyDetail(q, "", "zh", models.OpPolish))
	assert.Nil(t, consistencyDetail(&models.Question{}, "本题是错误的", "zh", models.OpPolish))
}

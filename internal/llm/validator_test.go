package llm

import (
	"testing"

	"github.com/raphaelgruber/quizproc-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	tests := []struct {
		name    string
		op      models.Operation
		doc     string
		wantErr string
	}{
		{"translate ok", models.OpTranslate, `{"content":"問題","options":["a","b"],"explanation":"説明"}`, ""},
		{"translate missing content", models.OpTranslate, `{"explanation":"x"}`, "missing required field: content"},
		{"translate options not list", models.OpTranslate, `{"content":"x","options":"a"}`, "field options"},
		{"polish ok", models.OpPolish, `{"content":"x"}`, ""},
		{"fill explanation only", models.OpFillMissing, `{"explanation":"x"}`, ""},
		{"fill empty object", models.OpFillMissing, `{}`, "schema"},
		{"tags ok", models.OpCategoryTags, `{"category":"law","stage_tag":"regular","topic_tags":["contract"]}`, ""},
		{"tags bad stage", models.OpCategoryTags, `{"category":"law","stage_tag":"final"}`, "must be one of both, provisional, regular"},
		{"tags missing stage", models.OpCategoryTags, `{"category":"law"}`, "missing required field: stage_tag"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.op, []byte(tt.doc))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidatorUnknownOperation(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)
	assert.Error(t, v.Validate("summarize", []byte(`{}`)))
}

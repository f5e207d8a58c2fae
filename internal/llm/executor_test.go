package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/quizproc-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
	lastUser  string
}

func (g *fakeGenerator) GenerateWithSystem(ctx context.Context, system, user string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.calls
	g.calls++
	g.lastUser = user
	if i < len(g.errs) && g.errs[i] != nil {
		return "", g.errs[i]
	}
	if i < len(g.responses) {
		return g.responses[i], nil
	}
	return "", errors.New("no scripted response")
}

type fakeSource struct {
	gen      Generator
	err      error
	provider string
	model    string
}

func (s *fakeSource) Get(ctx context.Context, provider, model string) (Generator, error) {
	s.provider, s.model = provider, model
	return s.gen, s.err
}

func (s *fakeSource) Defaults() (string, string) { return "ollama", "llama3.2" }

func newTestExecutor(t *testing.T, src ModelSource) *Executor {
	t.Helper()
	e, err := NewExecutor(src, 0)
	require.NoError(t, err)
	e.sleep = func(context.Context, time.Duration) error { return nil }
	return e
}

func sampleQuestion() *models.Question {
	answer := "A"
	return &models.Question{
		ContentHash:   "h1",
		Content:       models.LocaleText{"zh": "以下哪项正确？"},
		Options:       []string{"甲", "乙"},
		Explanation:   models.LocaleText{"zh": "因为甲。"},
		CorrectAnswer: &answer,
		QuestionType:  "single",
	}
}

func TestExecuteTranslate(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"```json\n{\"content\":\"Which is correct?\",\"options\":[\"A\",\"B\"],\"explanation\":\"Because A.\"}\n```"}}
	src := &fakeSource{gen: gen}
	e := newTestExecutor(t, src)

	res := e.Execute(context.Background(), models.OpTranslate, sampleQuestion(),
		models.ExecuteOptions{SourceLang: "zh", TargetLang: "en"})

	require.True(t, res.OK, res.Message)
	assert.False(t, res.Partial)
	assert.Equal(t, "Which is correct?", res.Payload.Content)
	assert.Equal(t, []string{"A", "B"}, res.Payload.Options)
	assert.Equal(t, "ollama", res.Provider)
	assert.Equal(t, "llama3.2", res.Model)
	assert.Contains(t, res.Prompt, "以下哪项正确")
	assert.NotEmpty(t, res.Response)
}

func TestExecuteUsesRequestedBackend(t *testing.T) {
	src := &fakeSource{gen: &fakeGenerator{responses: []string{`{"content":"x"}`}}}
	e := newTestExecutor(t, src)

	res := e.Execute(context.Background(), models.OpPolish, sampleQuestion(),
		models.ExecuteOptions{Provider: "anthropic", Model: "claude-sonnet", TargetLang: "zh"})

	require.True(t, res.OK)
	assert.Equal(t, "anthropic", src.provider)
	assert.Equal(t, "claude-sonnet", src.model)
	assert.Equal(t, "anthropic", res.Provider)
}

func TestExecuteFailures(t *testing.T) {
	tests := []struct {
		name      string
		responses []string
		errs      []error
		op        models.Operation
		stage     string
		code      string
		calls     int
	}{
		{
			name:  "quota is not retried",
			errs:  []error{wrapFatalError(errors.New("quota exceeded"))},
			op:    models.OpTranslate,
			stage: models.StageAICall, code: models.CodeQuotaExceeded, calls: 1,
		},
		{
			name:  "rate limit retried once",
			errs:  []error{wrapFatalError(errors.New("rate limit exceeded")), wrapFatalError(errors.New("rate limit exceeded"))},
			op:    models.OpTranslate,
			stage: models.StageAICall, code: models.CodeRateLimited, calls: 2,
		},
		{
			name:  "rejected credentials",
			errs:  []error{wrapFatalError(errors.New("HTTP 401: invalid api key"))},
			op:    models.OpTranslate,
			stage: models.StageAICall, code: models.CodeProviderRejected, calls: 1,
		},
		{
			name:      "not json",
			responses: []string{"I cannot help with that."},
			op:        models.OpTranslate,
			stage:     models.StageParseResponse, code: models.CodeInvalidResponse, calls: 1,
		},
		{
			name:      "schema violation",
			responses: []string{`{"category":"law","stage_tag":"final"}`},
			op:        models.OpCategoryTags,
			stage:     models.StageParseResponse, code: models.CodeInvalidResponse, calls: 1,
		},
		{
			name:      "truncated translate",
			responses: []string{`{"content":"Which is correct?","explanation":"Bec`},
			op:        models.OpTranslate,
			stage:     models.StageParseResponse, code: models.CodeInvalidResponse, calls: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{responses: tt.responses, errs: tt.errs}
			e := newTestExecutor(t, &fakeSource{gen: gen})

			res := e.Execute(context.Background(), tt.op, sampleQuestion(),
				models.ExecuteOptions{SourceLang: "zh", TargetLang: "en"})

			assert.False(t, res.OK)
			assert.Equal(t, tt.stage, res.ErrorStage)
			assert.Equal(t, tt.code, res.ErrorCode)
			assert.NotEmpty(t, res.Message)
			assert.Equal(t, tt.calls, gen.calls)
		})
	}
}

func TestExecuteTransientErrorRecovers(t *testing.T) {
	gen := &fakeGenerator{
		errs:      []error{errors.New("connection reset by peer")},
		responses: []string{"", `{"content":"ok"}`},
	}
	e := newTestExecutor(t, &fakeSource{gen: gen})

	res := e.Execute(context.Background(), models.OpPolish, sampleQuestion(), models.ExecuteOptions{TargetLang: "zh"})
	require.True(t, res.OK, res.Message)
	assert.Equal(t, 2, gen.calls)
}

func TestExecuteModelUnavailable(t *testing.T) {
	e := newTestExecutor(t, &fakeSource{err: errors.New("unsupported LLM provider: x")})
	res := e.Execute(context.Background(), models.OpTranslate, sampleQuestion(), models.ExecuteOptions{TargetLang: "en"})
	assert.Equal(t, models.StageAICall, res.ErrorStage)
	assert.Equal(t, models.CodeProviderRejected, res.ErrorCode)
}

func TestExecuteFillMissingTruncatedIsPartial(t *testing.T) {
	q := sampleQuestion()
	q.Explanation = nil
	q.Options = nil
	gen := &fakeGenerator{responses: []string{`{"options": ["甲", "乙", "丙"], "explanation": "因为甲符合`}}
	e := newTestExecutor(t, &fakeSource{gen: gen})

	res := e.Execute(context.Background(), models.OpFillMissing, q, models.ExecuteOptions{SourceLang: "zh"})

	require.True(t, res.OK, res.Message)
	assert.True(t, res.Partial)
	assert.Equal(t, []string{"甲", "乙", "丙"}, res.Payload.Options)
	assert.Empty(t, res.Payload.Explanation)
	assert.Contains(t, gen.lastUser, "以下哪项正确")
}

func TestExecuteDeadline(t *testing.T) {
	gen := &fakeGenerator{errs: []error{context.DeadlineExceeded}}
	e := newTestExecutor(t, &fakeSource{gen: gen})

	res := e.Execute(context.Background(), models.OpTranslate, sampleQuestion(), models.ExecuteOptions{TargetLang: "en"})
	assert.Equal(t, models.StageTimeout, res.ErrorStage)
	assert.Equal(t, models.CodeTimeout, res.ErrorCode)
	assert.Equal(t, 1, gen.calls)
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		in       string
		doc      string
		complete bool
	}{
		{`{"a":1}`, `{"a":1}`, true},
		{"Here you go:\n```json\n{\"a\":1}\n```\nDone.", `{"a":1}`, true},
		{`prefix {"a":{"b":2}} suffix`, `{"a":{"b":2}}`, true},
		{`{"a":"cut`, `{"a":"cut`, false},
		{"no json here", "", false},
	}
	for _, tt := range tests {
		doc, complete := extractJSON(tt.in)
		assert.Equal(t, tt.doc, doc, tt.in)
		assert.Equal(t, tt.complete, complete, tt.in)
	}
}

func TestBuildPromptFillMissingAsksOnlyForGaps(t *testing.T) {
	q := sampleQuestion()
	q.Explanation = nil
	system, _, err := buildPrompt(models.OpFillMissing, q, models.ExecuteOptions{SourceLang: "zh"})
	require.NoError(t, err)
	assert.Contains(t, system, `"explanation": string`)
	assert.NotContains(t, system, `"options": [string]`)
	assert.False(t, strings.Contains(system, `"content": string`))

	q.QuestionType = "truefalse"
	q.Options = nil
	system, _, err = buildPrompt(models.OpFillMissing, q, models.ExecuteOptions{SourceLang: "zh"})
	require.NoError(t, err)
	assert.NotContains(t, system, `"options"`)
}

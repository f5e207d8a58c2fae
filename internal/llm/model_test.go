package llm

import (
	"context"
	"testing"

	"github.com/raphaelgruber/quizproc-go/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCachesPerBackend(t *testing.T) {
	reg := NewRegistry(config.Config{
		LLMProvider: config.ProviderOllama,
		LLMModel:    "llama3.2",
		OllamaHost:  "http://localhost:11434",
	}, nil)
	ctx := context.Background()

	a, err := reg.Get(ctx, "", "")
	require.NoError(t, err)
	b, err := reg.Get(ctx, config.ProviderOllama, "llama3.2")
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := reg.Get(ctx, config.ProviderOllama, "qwen2.5")
	require.NoError(t, err)
	assert.NotSame(t, a, c)
	assert.Equal(t, "qwen2.5", c.(*Model).Model())
	assert.Equal(t, config.ProviderOllama, c.(*Model).Provider())
}

func TestRegistryRejectsBadBackends(t *testing.T) {
	reg := NewRegistry(config.Config{LLMProvider: config.ProviderOllama, LLMModel: "m"}, nil)
	ctx := context.Background()

	_, err := reg.Get(ctx, "gemini", "x")
	assert.ErrorContains(t, err, "unsupported LLM provider")

	_, err = reg.Get(ctx, config.ProviderOpenAI, "gpt-4o-mini")
	assert.ErrorContains(t, err, "OpenAI API key required")

	_, err = reg.Get(ctx, config.ProviderAnthropic, "claude")
	assert.ErrorContains(t, err, "Anthropic API key required")
}

func TestTokenUsage(t *testing.T) {
	tests := []struct {
		name    string
		info    map[string]any
		in, out int64
	}{
		{"openai", map[string]any{"PromptTokens": 120, "CompletionTokens": 40}, 120, 40},
		{"anthropic", map[string]any{"InputTokens": 10, "OutputTokens": 5}, 10, 5},
		{"float counts", map[string]any{"prompt_eval_count": float64(7), "eval_count": float64(3)}, 7, 3},
		{"missing", nil, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, out := tokenUsage(tt.info)
			assert.Equal(t, tt.in, in)
			assert.Equal(t, tt.out, out)
		})
	}
}

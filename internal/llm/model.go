// Package llm runs question operations against langchaingo chat models.
package llm

import (
	"cmp"
	"context"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/raphaelgruber/quizproc-go/internal/config"
	"github.com/raphaelgruber/quizproc-go/internal/metrics"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const defaultTemperature = 0.2

// Generator produces a completion for a system and user prompt.
type Generator interface {
	GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Model wraps a langchaingo LLM for text generation.
type Model struct {
	llm       llms.Model
	provider  string
	modelName string
	metrics   *metrics.Collector
}

// NewModel creates an LLM model for one provider and model name. Credentials
// and endpoints come from cfg.
func NewModel(ctx context.Context, cfg config.Config, provider, modelName string) (*Model, error) {
	var model llms.Model
	var err error

	switch provider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(modelName),
			ollama.WithServerURL(cfg.OllamaHost),
			ollama.WithFormat("json"),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(modelName),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(modelName),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	case config.ProviderBedrock:
		awsCfg, awsErr := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if awsErr != nil {
			return nil, fmt.Errorf("load aws config: %w", awsErr)
		}
		model, err = bedrock.New(
			bedrock.WithClient(bedrockruntime.NewFromConfig(awsCfg)),
			bedrock.WithModel(modelName),
		)
		if err != nil {
			return nil, fmt.Errorf("create bedrock model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", provider)
	}

	return &Model{
		llm:       model,
		provider:  provider,
		modelName: modelName,
	}, nil
}

// GenerateWithSystem generates text with a system prompt. Fatal provider
// errors are wrapped with ErrFatalAPI.
func (m *Model) GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	start := time.Now()
	response, err := m.llm.GenerateContent(ctx, messages, llms.WithTemperature(defaultTemperature))
	if err != nil {
		m.record(start, nil, true)
		return "", fmt.Errorf("generate with system: %w", wrapFatalError(err))
	}

	if len(response.Choices) == 0 {
		m.record(start, nil, true)
		return "", fmt.Errorf("no response choices")
	}

	choice := response.Choices[0]
	m.record(start, choice.GenerationInfo, false)
	return choice.Content, nil
}

func (m *Model) record(start time.Time, info map[string]any, failed bool) {
	if m.metrics == nil {
		return
	}
	in, out := tokenUsage(info)
	m.metrics.RecordLLMCall(m.provider, time.Since(start), in, out, failed)
}

// Provider returns the provider name.
func (m *Model) Provider() string {
	return m.provider
}

// Model returns the LLM model name.
func (m *Model) Model() string {
	return m.modelName
}

// tokenUsage reads token counts from generation info. Providers disagree on
// key names.
func tokenUsage(info map[string]any) (in, out int64) {
	read := func(keys ...string) int64 {
		for _, k := range keys {
			switch v := info[k].(type) {
			case int:
				return int64(v)
			case int32:
				return int64(v)
			case int64:
				return v
			case float64:
				return int64(v)
			}
		}
		return 0
	}
	in = read("PromptTokens", "InputTokens", "input_tokens", "prompt_eval_count")
	out = read("CompletionTokens", "OutputTokens", "output_tokens", "eval_count")
	return in, out
}

// Registry builds and caches one model per provider and model name, so
// concurrent tasks with different backends never share a client.
type Registry struct {
	cfg     config.Config
	metrics *metrics.Collector

	mu     sync.Mutex
	models map[string]*Model
}

// NewRegistry creates a model registry over cfg's credentials.
func NewRegistry(cfg config.Config, collector *metrics.Collector) *Registry {
	return &Registry{
		cfg:     cfg,
		metrics: collector,
		models:  make(map[string]*Model),
	}
}

// Defaults returns the configured default provider and model.
func (r *Registry) Defaults() (provider, model string) {
	return r.cfg.LLMProvider, r.cfg.LLMModel
}

// Get returns the model for provider and name, creating it on first use.
// Empty values fall back to the configured defaults.
func (r *Registry) Get(ctx context.Context, provider, name string) (Generator, error) {
	provider = cmp.Or(provider, r.cfg.LLMProvider)
	name = cmp.Or(name, r.cfg.LLMModel)
	key := provider + "/" + name

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.models[key]; ok {
		return m, nil
	}
	m, err := NewModel(ctx, r.cfg, provider, name)
	if err != nil {
		return nil, err
	}
	m.metrics = r.metrics
	r.models[key] = m
	return m, nil
}

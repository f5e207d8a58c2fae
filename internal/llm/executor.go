package llm

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/raphaelgruber/quizproc-go/internal/models"
)

const retryDelay = 2 * time.Second

// ModelSource resolves a generator for a provider and model name.
type ModelSource interface {
	Get(ctx context.Context, provider, model string) (Generator, error)
	Defaults() (provider, model string)
}

// Executor runs one operation on one question: it builds the prompt, calls
// the model behind a per-provider rate limit, and validates the JSON reply.
type Executor struct {
	models    ModelSource
	validator *Validator
	perMinute int

	mu       sync.Mutex
	limiters map[string]*RateLimiter
	sleep    func(context.Context, time.Duration) error
}

// NewExecutor creates an executor. perMinute caps calls per provider; zero
// disables the limit.
func NewExecutor(source ModelSource, perMinute int) (*Executor, error) {
	v, err := NewValidator()
	if err != nil {
		return nil, err
	}
	return &Executor{
		models:    source,
		validator: v,
		perMinute: perMinute,
		limiters:  make(map[string]*RateLimiter),
		sleep:     sleepCtx,
	}, nil
}

// Execute implements the service capability. It never returns an error;
// failures are reported through the result's stage and code.
func (e *Executor) Execute(ctx context.Context, op models.Operation, q *models.Question, opts models.ExecuteOptions) models.Result {
	defProvider, defModel := e.models.Defaults()
	provider := cmp.Or(opts.Provider, defProvider)
	modelName := cmp.Or(opts.Model, defModel)

	fail := func(stage, code, msg string) models.Result {
		r := models.Failure(stage, code, msg)
		r.Provider, r.Model = provider, modelName
		return r
	}

	if q == nil {
		return fail(models.StagePrepare, models.CodeQuestionNotFound, "question is missing")
	}
	system, user, err := buildPrompt(op, q, opts)
	if err != nil {
		return fail(models.StagePrepare, models.CodeUnknown, err.Error())
	}

	gen, err := e.models.Get(ctx, provider, modelName)
	if err != nil {
		return fail(models.StageAICall, models.CodeProviderRejected, err.Error())
	}

	response, err := e.generate(ctx, gen, provider, system, user)
	if err != nil {
		r := fail(models.StageAICall, errorCode(err), err.Error())
		if errors.Is(err, context.DeadlineExceeded) {
			r.ErrorStage = models.StageTimeout
		}
		r.Prompt = user
		return r
	}

	res := e.parse(op, response)
	res.Provider, res.Model = provider, modelName
	res.Prompt, res.Response = user, response
	return res
}

// generate calls the model, retrying once on throttling or transport errors.
func (e *Executor) generate(ctx context.Context, gen Generator, provider, system, user string) (string, error) {
	limiter := e.limiter(provider)
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying model call", "provider", provider, "error", lastErr)
			if err := e.sleep(ctx, retryDelay); err != nil {
				return "", err
			}
		}
		if waited, err := limiter.Wait(ctx); err != nil {
			return "", err
		} else if waited > 0 {
			slog.Debug("rate limited", "provider", provider, "waited", waited)
		}

		response, err := gen.GenerateWithSystem(ctx, system, user)
		if err == nil {
			return response, nil
		}
		lastErr = err
		if !retryable(ctx, err) {
			break
		}
	}
	return "", lastErr
}

func (e *Executor) limiter(provider string) *RateLimiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.limiters[provider]
	if !ok {
		l = NewRateLimiter(e.perMinute, time.Minute)
		e.limiters[provider] = l
	}
	return l
}

// parse extracts and validates the JSON payload. A truncated fill_missing
// reply keeps whatever fields arrived complete.
func (e *Executor) parse(op models.Operation, response string) models.Result {
	doc, complete := extractJSON(response)
	if doc == "" {
		return models.Failure(models.StageParseResponse, models.CodeInvalidResponse, "response contains no JSON object")
	}

	var payload models.Payload
	if err := json.Unmarshal([]byte(doc), &payload); err != nil {
		if op == models.OpFillMissing {
			if p, ok := recoverTruncated(doc); ok {
				return models.Result{OK: true, Partial: true, Payload: p}
			}
		}
		if !complete {
			return models.Failure(models.StageParseResponse, models.CodeInvalidResponse, "response JSON is truncated")
		}
		return models.Failure(models.StageParseResponse, models.CodeInvalidResponse, fmt.Sprintf("bad json: %v", err))
	}
	if err := e.validator.Validate(op, []byte(doc)); err != nil {
		return models.Failure(models.StageParseResponse, models.CodeInvalidResponse, err.Error())
	}
	return models.Result{OK: true, Payload: &payload}
}

// extractJSON returns the outermost JSON object in s, stripping markdown
// fences. complete is false when the object is never closed.
func extractJSON(s string) (doc string, complete bool) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		s = strings.TrimSpace(rest)
	}
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	end := strings.LastIndexByte(s, '}')
	if end < start {
		return s[start:], false
	}
	return s[start : end+1], true
}

var (
	stringFieldRe  = regexp.MustCompile(`"(content|explanation)"\s*:\s*("(?:[^"\\]|\\.)*")`)
	optionsFieldRe = regexp.MustCompile(`"options"\s*:\s*(\[(?:\s*"(?:[^"\\]|\\.)*"\s*,?)*\s*\])`)
)

// recoverTruncated pulls the fields that were written in full out of a
// cut-off JSON object.
func recoverTruncated(doc string) (*models.Payload, bool) {
	var p models.Payload
	found := false
	for _, m := range stringFieldRe.FindAllStringSubmatch(doc, -1) {
		var v string
		if err := json.Unmarshal([]byte(m[2]), &v); err != nil || v == "" {
			continue
		}
		switch m[1] {
		case "content":
			p.Content = v
		case "explanation":
			p.Explanation = v
		}
		found = true
	}
	if m := optionsFieldRe.FindStringSubmatch(doc); m != nil {
		var opts []string
		if err := json.Unmarshal([]byte(m[1]), &opts); err == nil && len(opts) > 0 {
			p.Options = opts
			found = true
		}
	}
	return &p, found
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raphaelgruber/quizproc-go/internal/db"
	"github.com/raphaelgruber/quizproc-go/internal/metrics"
	"github.com/raphaelgruber/quizproc-go/internal/models"
)

// Trace excerpt limits.
const (
	traceInputLimit  = 2000
	traceOutputLimit = 4000
)

// defaultSourceLocale is the locale fill_missing writes when a task has no
// translate source.
const defaultSourceLocale = "zh"

// ExecutorConfig configures item execution.
type ExecutorConfig struct {
	ItemTimeout     time.Duration
	ItemConcurrency int
}

// Executor drains a task's pending items through the execution capability.
type Executor struct {
	store   Store
	cap     Capability
	cfg     ExecutorConfig
	metrics *metrics.Collector
}

// NewExecutor creates a new executor. collector may be nil.
func NewExecutor(store Store, capability Capability, cfg ExecutorConfig, collector *metrics.Collector) *Executor {
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = 2 * time.Minute
	}
	if cfg.ItemConcurrency <= 0 {
		cfg.ItemConcurrency = 4
	}
	return &Executor{store: store, cap: capability, cfg: cfg, metrics: collector}
}

// questionGroup is one question's pending items in execution order.
type questionGroup struct {
	questionID int64
	items      []models.Item
}

// run is the mutable state of one executor pass over a task.
type run struct {
	task    *models.Task
	halted  atomic.Bool
	mu      sync.Mutex
	counter db.TaskCounters
}

// Run executes a task's pending items batch by batch, then derives the
// terminal status from the item store. Cancellation or pause stops dispatch
// before the next question; items already processing finish. When ctx is
// cancelled the task is left processing so it can be resumed.
func (e *Executor) Run(ctx context.Context, taskID string) error {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	started, err := e.store.MarkTaskStarted(ctx, taskID)
	if err != nil {
		return err
	}
	if !started {
		slog.Info("task not runnable, skipping", "task_id", taskID, "status", task.Status)
		return nil
	}

	pending, err := e.store.ListItems(ctx, taskID, db.ItemFilter{Status: models.ItemPending})
	if err != nil {
		return err
	}
	groups := groupByQuestion(pending, task.Operations)
	batchSize := cmp.Or(task.Options.BatchSize, DefaultBatchSize)
	batches := chunk(groups, batchSize)

	r := &run{
		task: task,
		counter: db.TaskCounters{
			Processed:    task.ProcessedCount,
			Succeeded:    task.SucceededCount,
			Failed:       task.FailedCount,
			CurrentBatch: task.CurrentBatch,
		},
	}

	e.serverLog(ctx, taskID, "info", fmt.Sprintf("processing started: %d questions pending in %d batches of up to %d",
		len(groups), len(batches), batchSize))
	slog.Info("task started", "task_id", taskID, "questions", len(groups), "batches", len(batches))

	start := time.Now()
	stopped := models.TaskStatus("")
	for i, batch := range batches {
		if r.halted.Load() {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if st := e.stopStatus(ctx, taskID); st != "" {
			stopped = st
			break
		}

		r.mu.Lock()
		r.counter.CurrentBatch++
		r.mu.Unlock()
		slog.Debug("batch started", "task_id", taskID, "batch", i+1, "questions", len(batch))

		if st, err := e.runBatch(ctx, r, batch); err != nil {
			return err
		} else if st != "" {
			stopped = st
			break
		}
	}

	return e.finish(ctx, r, stopped, time.Since(start))
}

// runBatch runs one batch's questions concurrently, bounded by ItemConcurrency.
// It returns the operator status when the task was stopped mid-batch.
func (e *Executor) runBatch(ctx context.Context, r *run, batch []questionGroup) (models.TaskStatus, error) {
	taskID := r.task.TaskID()
	sem := make(chan struct{}, e.cfg.ItemConcurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	for _, g := range batch {
		if r.halted.Load() {
			return "", nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if st := e.stopStatus(ctx, taskID); st != "" {
			return st, nil
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(g questionGroup) {
			defer wg.Done()
			defer func() { <-sem }()
			e.runQuestion(ctx, r, g)
		}(g)
	}
	return "", nil
}

// stopStatus re-reads the task and returns its status if an operator
// stopped it, or "" if dispatch may continue.
func (e *Executor) stopStatus(ctx context.Context, taskID string) models.TaskStatus {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		slog.Warn("failed to re-read task status", "task_id", taskID, "error", err)
		return ""
	}
	if task.Status != models.TaskProcessing {
		return task.Status
	}
	return ""
}

// runQuestion executes one question's items in order and records its trace.
func (e *Executor) runQuestion(ctx context.Context, r *run, g questionGroup) {
	// In-flight work finishes even if the runner is shutting down.
	ctx = context.WithoutCancel(ctx)
	taskID := r.task.TaskID()
	continueOnError := r.task.Options.ContinuesOnError()

	q, qErr := e.store.GetQuestion(ctx, g.questionID)

	trace := models.QuestionTrace{
		QuestionID: g.questionID,
		Status:     models.TraceSuccess,
		Operations: r.task.Operations,
	}
	for _, item := range g.items {
		if !continueOnError && r.halted.Load() {
			// Unrun items stay pending, so retry must still cover this question.
			if trace.Status != models.TraceFailed {
				trace.Status = models.TracePending
			}
			break
		}
		sub, updated, ran := e.runItem(ctx, r.task, q, qErr, item)
		if !ran {
			continue
		}
		if updated != nil {
			q = updated
		}
		trace.Subtasks = append(trace.Subtasks, sub)
		if sub.Status == models.TraceFailed {
			trace.Status = models.TraceFailed
			if !continueOnError {
				r.halted.Store(true)
				break
			}
		}
	}
	if len(trace.Subtasks) == 0 {
		return
	}
	now := time.Now().UTC()
	trace.Timestamp = &now

	if err := e.store.AppendQuestionTrace(ctx, taskID, trace); err != nil {
		slog.Warn("failed to append question trace", "task_id", taskID, "question_id", g.questionID, "error", err)
	}

	r.mu.Lock()
	r.counter.Processed++
	if trace.Status == models.TraceFailed {
		r.counter.Failed++
	} else {
		r.counter.Succeeded++
	}
	counters := r.counter
	r.mu.Unlock()

	if err := e.store.UpdateTaskCounters(ctx, taskID, counters); err != nil {
		slog.Warn("failed to update task counters", "task_id", taskID, "error", err)
	}
	slog.Info("question processed", "task_id", taskID, "question_id", g.questionID, "status", trace.Status,
		"processed", counters.Processed)
}

// runItem claims and executes one item and writes its outcome. It returns
// the item's trace, the question as updated by the item (if it wrote it),
// and whether the item ran at all.
func (e *Executor) runItem(ctx context.Context, task *models.Task, q *models.Question, qErr error, item models.Item) (models.SubtaskTrace, *models.Question, bool) {
	itemID := item.ItemID()
	log := slog.With("task_id", task.TaskID(), "item_id", itemID, "question_id", item.QuestionID, "operation", item.Operation)

	claimed, err := e.store.ClaimItem(ctx, itemID)
	if err != nil {
		log.Warn("failed to claim item", "error", err)
		return models.SubtaskTrace{}, nil, false
	}
	if !claimed {
		log.Debug("item already claimed")
		return models.SubtaskTrace{}, nil, false
	}

	start := time.Now()
	opts := executeOptions(task, item)
	sub := models.SubtaskTrace{
		Operation:  item.Operation,
		TargetLang: item.Lang(),
		Provider:   opts.Provider,
		Model:      opts.Model,
	}

	var (
		outcome models.ItemOutcome
		updated *models.Question
	)
	switch {
	case qErr != nil:
		code := models.CodeQuestionNotFound
		if !errors.Is(qErr, db.ErrNotFound) {
			code = models.CodeUnknown
		}
		outcome = failedOutcome(models.StagePrepare, code, qErr.Error(), opts)
	case item.Operation == models.OpFillMissing && !needsFill(q, opts.SourceLang):
		outcome = models.ItemOutcome{Status: models.ItemSucceeded}
		sub.Answer = "nothing to fill"
	default:
		outcome, updated = e.execute(ctx, task, q, item, opts, &sub)
	}

	if err := e.store.FinishItem(ctx, itemID, outcome); err != nil {
		log.Error("failed to finish item", "error", err)
	}

	dur := time.Since(start)
	if e.metrics != nil {
		e.metrics.RecordItem(string(item.Operation), string(outcome.Status), outcome.ErrorCode, dur)
	}

	now := time.Now().UTC()
	sub.Timestamp = &now
	if outcome.Status == models.ItemFailed {
		sub.Status = models.TraceFailed
		sub.Error = outcome.ErrorMessage
		log.Warn("item failed", "code", outcome.ErrorCode, "error", outcome.ErrorMessage, "duration_ms", dur.Milliseconds())
	} else {
		sub.Status = models.TraceSuccess
		log.Debug("item finished", "status", outcome.Status, "duration_ms", dur.Milliseconds())
	}
	return sub, updated, true
}

// execute calls the capability under the per-call timeout and applies a
// successful payload to the store.
func (e *Executor) execute(ctx context.Context, task *models.Task, q *models.Question, item models.Item, opts models.ExecuteOptions, sub *models.SubtaskTrace) (models.ItemOutcome, *models.Question) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ItemTimeout)
	res := e.cap.Execute(callCtx, item.Operation, q, opts)
	timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
	cancel()

	sub.Question = truncate(res.Prompt, traceInputLimit)
	sub.Answer = truncate(res.Response, traceOutputLimit)
	if res.Provider != "" {
		sub.Provider = res.Provider
	}
	if res.Model != "" {
		sub.Model = res.Model
	}
	opts.Provider, opts.Model = sub.Provider, sub.Model

	if !res.OK {
		if timedOut {
			return failedOutcome(models.StageTimeout, models.CodeTimeout,
				fmt.Sprintf("no response within %s", e.cfg.ItemTimeout), opts), nil
		}
		return failedOutcome(cmp.Or(res.ErrorStage, models.StageAICall), cmp.Or(res.ErrorCode, models.CodeUnknown),
			cmp.Or(res.Message, "execution failed"), opts), nil
	}
	if res.Payload == nil {
		return failedOutcome(models.StageParseResponse, models.CodeInvalidResponse, "empty payload", opts), nil
	}

	updated, detail, err := e.apply(ctx, task, q, item, res.Payload)
	if err != nil {
		code := models.CodeApplyFailed
		if errors.Is(err, db.ErrVersionConflict) {
			code = models.CodeConflict
		}
		return failedOutcome(models.StageApply, code, err.Error(), opts), nil
	}

	status := models.ItemSucceeded
	if res.Partial {
		status = models.ItemPartiallySucceeded
	}
	return models.ItemOutcome{Status: status, Detail: detail}, updated
}

// apply persists a payload. Translate and polish results are checked for
// explanation consistency; findings are returned as the item's detail.
func (e *Executor) apply(ctx context.Context, task *models.Task, q *models.Question, item models.Item, p *models.Payload) (*models.Question, *models.ErrorDetail, error) {
	switch item.Operation {
	case models.OpTranslate:
		lang := item.Lang()
		t := models.Translation{
			ContentHash: q.ContentHash,
			Locale:      lang,
			Content:     p.Content,
			Options:     p.Options,
			Source:      "ai",
		}
		if p.Explanation != "" {
			t.Explanation = &p.Explanation
		}
		if err := e.store.UpsertTranslation(ctx, t); err != nil {
			return nil, nil, err
		}
		return nil, consistencyDetail(q, p.Explanation, lang, item.Operation), nil

	case models.OpPolish:
		locale := item.Lang()
		review := db.NewReview{
			ContentHash:     q.ContentHash,
			Locale:          locale,
			TaskID:          task.TaskID(),
			ProposedContent: models.LocaleText{locale: p.Content},
			ProposedOptions: p.Options,
		}
		if p.Explanation != "" {
			review.ProposedExplanation = models.LocaleText{locale: p.Explanation}
		}
		if _, err := e.store.CreateReview(ctx, review); err != nil {
			return nil, nil, err
		}
		return nil, consistencyDetail(q, p.Explanation, locale, item.Operation), nil

	case models.OpFillMissing:
		patch := fillPatch(q, p, sourceLocale(task))
		if patch == nil {
			return nil, nil, nil
		}
		updated, err := e.store.UpdateQuestion(ctx, q.QuestionID(), q.Version, *patch)
		return updated, nil, err

	case models.OpCategoryTags:
		var patch models.QuestionPatch
		if p.Category != "" {
			patch.Category = &p.Category
		}
		if p.StageTag != "" {
			patch.StageTag = &p.StageTag
		}
		if len(p.TopicTags) > 0 {
			patch.TopicTags = p.TopicTags
		}
		if patch.Category == nil && patch.StageTag == nil && patch.TopicTags == nil {
			return nil, nil, fmt.Errorf("no category or tags in payload")
		}
		updated, err := e.store.UpdateQuestion(ctx, q.QuestionID(), q.Version, patch)
		return updated, nil, err
	}
	return nil, nil, fmt.Errorf("unsupported operation %q", item.Operation)
}

// finish derives the terminal status from item counts and writes it.
func (e *Executor) finish(ctx context.Context, r *run, stopped models.TaskStatus, elapsed time.Duration) error {
	ctx = context.WithoutCancel(ctx)
	taskID := r.task.TaskID()

	counts, err := e.store.ItemStatusCounts(ctx, taskID)
	if err != nil {
		return err
	}
	items, err := e.store.ListItems(ctx, taskID, db.ItemFilter{})
	if err != nil {
		return err
	}
	counters := questionCounters(items)
	r.mu.Lock()
	counters.CurrentBatch = r.counter.CurrentBatch
	r.mu.Unlock()

	succeeded, failed, open := itemTotals(counts)

	if stopped != "" && open > 0 {
		if err := e.store.UpdateTaskCounters(ctx, taskID, counters); err != nil {
			return err
		}
		e.serverLog(ctx, taskID, "warn", fmt.Sprintf("processing stopped: task %s with %d items left", stopped, open))
		slog.Info("task stopped", "task_id", taskID, "status", stopped, "open_items", open)
		return nil
	}

	status := DecideTerminal(r.task.Options.TerminalPolicy, succeeded, failed)
	if r.halted.Load() {
		status = models.TaskFailed
	}

	ok, err := e.store.FinishTask(ctx, taskID, status, counters)
	if err != nil {
		return err
	}
	if !ok && open == 0 {
		// Paused after the last item finished: nothing is left to resume.
		ok, err = e.store.TransitionTask(ctx, taskID, []models.TaskStatus{models.TaskPaused}, status)
		if err != nil {
			return err
		}
		if err := e.store.UpdateTaskCounters(ctx, taskID, counters); err != nil {
			return err
		}
	}
	if !ok {
		if err := e.store.UpdateTaskCounters(ctx, taskID, counters); err != nil {
			return err
		}
		slog.Info("task status changed during run, keeping it", "task_id", taskID)
		return nil
	}

	level := "info"
	if status == models.TaskFailed {
		level = "error"
	}
	msg := fmt.Sprintf("processing finished: %s (%d succeeded, %d failed items, %d left pending) in %s",
		status, succeeded, failed, open, elapsed.Round(time.Second))
	if r.halted.Load() {
		msg += "; halted on first failure"
	}
	e.serverLog(ctx, taskID, level, msg)
	slog.Info("task finished", "task_id", taskID, "status", status, "succeeded_items", succeeded,
		"failed_items", failed, "pending_items", open, "duration_ms", elapsed.Milliseconds())
	return nil
}

func (e *Executor) serverLog(ctx context.Context, taskID, level, msg string) {
	entry := models.ServerLog{Timestamp: time.Now().UTC(), Level: level, Message: msg}
	if err := e.store.AppendServerLog(ctx, taskID, entry); err != nil {
		slog.Warn("failed to append server log", "task_id", taskID, "error", err)
	}
}

// groupByQuestion groups items per question in ascending question id.
// Items follow the task's operation order, then target locale.
func groupByQuestion(items []models.Item, ops []models.Operation) []questionGroup {
	byID := make(map[int64][]models.Item)
	for _, it := range items {
		byID[it.QuestionID] = append(byID[it.QuestionID], it)
	}

	groups := make([]questionGroup, 0, len(byID))
	for id, its := range byID {
		slices.SortStableFunc(its, func(a, b models.Item) int {
			if c := cmp.Compare(opIndex(ops, a.Operation), opIndex(ops, b.Operation)); c != 0 {
				return c
			}
			return strings.Compare(a.Lang(), b.Lang())
		})
		groups = append(groups, questionGroup{questionID: id, items: its})
	}
	slices.SortFunc(groups, func(a, b questionGroup) int { return cmp.Compare(a.questionID, b.questionID) })
	return groups
}

func opIndex(ops []models.Operation, op models.Operation) int {
	if i := slices.Index(ops, op); i >= 0 {
		return i
	}
	return len(ops)
}

func chunk[T any](in []T, size int) [][]T {
	var out [][]T
	for size < len(in) {
		out = append(out, in[:size:size])
		in = in[size:]
	}
	if len(in) > 0 {
		out = append(out, in)
	}
	return out
}

func executeOptions(task *models.Task, item models.Item) models.ExecuteOptions {
	opts := models.ExecuteOptions{
		Provider:   task.Options.Execution.Provider,
		Model:      task.Options.Execution.Model,
		SourceLang: sourceLocale(task),
		TargetLang: item.Lang(),
	}
	return opts
}

func sourceLocale(task *models.Task) string {
	if task.Options.Translate != nil && task.Options.Translate.From != "" {
		return task.Options.Translate.From
	}
	return defaultSourceLocale
}

func failedOutcome(stage, code, message string, opts models.ExecuteOptions) models.ItemOutcome {
	return models.ItemOutcome{
		Status:       models.ItemFailed,
		ErrorCode:    code,
		ErrorMessage: message,
		Detail: &models.ErrorDetail{
			ErrorCode:  code,
			ErrorStage: stage,
			Provider:   opts.Provider,
			Model:      opts.Model,
		},
	}
}

// needsFill reports whether the question lacks content, options or
// explanation in locale. True/false questions have no options.
func needsFill(q *models.Question, locale string) bool {
	if q == nil {
		return false
	}
	return q.Content[locale] == "" ||
		(len(q.Options) == 0 && q.QuestionType != "truefalse") ||
		q.Explanation[locale] == ""
}

// fillPatch fills only the fields the question is missing.
func fillPatch(q *models.Question, p *models.Payload, locale string) *models.QuestionPatch {
	var patch models.QuestionPatch
	changed := false
	if q.Content[locale] == "" && p.Content != "" {
		patch.Content = q.Content.Merge(models.LocaleText{locale: p.Content})
		changed = true
	}
	if len(q.Options) == 0 && len(p.Options) > 0 && q.QuestionType != "truefalse" {
		patch.Options = p.Options
		changed = true
	}
	if q.Explanation[locale] == "" && p.Explanation != "" {
		patch.Explanation = q.Explanation.Merge(models.LocaleText{locale: p.Explanation})
		changed = true
	}
	if !changed {
		return nil
	}
	return &patch
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

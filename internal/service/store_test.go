package service

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/raphaelgruber/quizproc-go/internal/db"
	"github.com/raphaelgruber/quizproc-go/internal/models"
)

// memStore is an in-memory Store with the same conditional-update semantics
// as the SurrealDB client.
type memStore struct {
	mu           sync.Mutex
	tasks        map[string]*models.Task
	items        []*models.Item
	questions    map[int64]*models.Question
	translations map[string]models.Translation
	reviews      map[string]*models.PolishReview
	history      []models.PolishHistory
	seq          int
	clock        time.Time

	// onClaim runs after an item is claimed, outside the lock.
	onClaim func(item models.Item)
}

var _ Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		tasks:        make(map[string]*models.Task),
		questions:    make(map[int64]*models.Question),
		translations: make(map[string]models.Translation),
		reviews:      make(map[string]*models.PolishReview),
		clock:        time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

// now advances a fake clock so timestamps are strictly ordered.
func (s *memStore) now() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *memStore) addQuestion(id int64, q models.Question) *models.Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	q.ID = models.NewRecordID("question", id)
	if q.ContentHash == "" {
		q.ContentHash = fmt.Sprintf("hash-%d", id)
	}
	if q.Version == 0 {
		q.Version = 1
	}
	s.questions[id] = &q
	return &q
}

// addItem inserts a finished item directly, for analytics fixtures.
func (s *memStore) addItem(it models.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	it.ID = models.NewRecordID("task_item", fmt.Sprintf("item-%d", s.seq))
	s.items = append(s.items, &it)
}

func (s *memStore) setTask(t models.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.TaskID()] = &t
}

func (s *memStore) itemsOf(taskID string) []models.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Item
	for _, it := range s.items {
		if it.TaskID == taskID {
			out = append(out, *it)
		}
	}
	return out
}

func cloneTask(t *models.Task) *models.Task {
	c := *t
	c.Details.Questions = slices.Clone(t.Details.Questions)
	c.Details.ServerLogs = slices.Clone(t.Details.ServerLogs)
	c.QuestionIDs = slices.Clone(t.QuestionIDs)
	return &c
}

func (s *memStore) CreateTaskWithItems(ctx context.Context, task db.NewTask, items []db.NewItem) (*models.Task, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("create task: no items to materialize")
	}
	s.mu.Lock()
	now := s.now()
	t := &models.Task{
		ID:             models.NewRecordID("task", task.ID),
		Status:         models.TaskPending,
		Operations:     task.Operations,
		QuestionIDs:    task.QuestionIDs,
		Options:        task.Options,
		TotalQuestions: task.TotalQuestions,
		CreatedBy:      task.CreatedBy,
		CreatedAt:      now,
		Details:        models.TaskDetails{ServerLogs: []models.ServerLog{task.ServerLog}},
	}
	s.tasks[task.ID] = t
	for _, ni := range items {
		s.seq++
		var lang *string
		if ni.TargetLang != nil {
			l := *ni.TargetLang
			lang = &l
		}
		s.items = append(s.items, &models.Item{
			ID:         models.NewRecordID("task_item", fmt.Sprintf("item-%d", s.seq)),
			TaskID:     task.ID,
			QuestionID: ni.QuestionID,
			Operation:  ni.Operation,
			TargetLang: lang,
			Status:     models.ItemPending,
			CreatedAt:  now,
		})
	}
	s.mu.Unlock()
	return s.GetTask(ctx, task.ID)
}

func (s *memStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, db.ErrNotFound)
	}
	return cloneTask(t), nil
}

func (s *memStore) ListTasks(ctx context.Context, filter db.TaskFilter) ([]models.Task, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []models.Task
	for _, t := range s.tasks {
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, t.Status) {
			continue
		}
		all = append(all, *cloneTask(t))
	}
	slices.SortFunc(all, func(a, b models.Task) int { return b.CreatedAt.Compare(a.CreatedAt) })
	total := len(all)
	start := min(filter.Offset, total)
	end := min(start+filter.Limit, total)
	return all[start:end], total, nil
}

func (s *memStore) ListTasksByStatus(ctx context.Context, statuses ...models.TaskStatus) ([]models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Task
	for _, t := range s.tasks {
		if slices.Contains(statuses, t.Status) {
			out = append(out, *cloneTask(t))
		}
	}
	slices.SortFunc(out, func(a, b models.Task) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (s *memStore) TransitionTask(ctx context.Context, id string, from []models.TaskStatus, to models.TaskStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return false, fmt.Errorf("task %s: %w", id, db.ErrNotFound)
	}
	if !slices.Contains(from, t.Status) {
		return false, nil
	}
	t.Status = to
	if to.IsTerminal() {
		now := s.now()
		t.CompletedAt = &now
	}
	return true, nil
}

func (s *memStore) MarkTaskStarted(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || !t.Status.IsActive() {
		return false, nil
	}
	t.Status = models.TaskProcessing
	if t.StartedAt == nil {
		now := s.now()
		t.StartedAt = &now
	}
	return true, nil
}

func (s *memStore) FinishTask(ctx context.Context, id string, status models.TaskStatus, c db.TaskCounters) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Status != models.TaskProcessing {
		return false, nil
	}
	t.Status = status
	setCounters(t, c)
	now := s.now()
	t.CompletedAt = &now
	return true, nil
}

func (s *memStore) UpdateTaskCounters(ctx context.Context, id string, c db.TaskCounters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		setCounters(t, c)
	}
	return nil
}

func setCounters(t *models.Task, c db.TaskCounters) {
	t.ProcessedCount = c.Processed
	t.SucceededCount = c.Succeeded
	t.FailedCount = c.Failed
	t.CurrentBatch = c.CurrentBatch
}

func (s *memStore) AppendQuestionTrace(ctx context.Context, id string, trace models.QuestionTrace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		t.Details.Questions = append(t.Details.Questions, trace)
	}
	return nil
}

func (s *memStore) AppendServerLog(ctx context.Context, id string, entry models.ServerLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		t.Details.ServerLogs = append(t.Details.ServerLogs, entry)
	}
	return nil
}

func (s *memStore) ListItems(ctx context.Context, taskID string, filter db.ItemFilter) ([]models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Item
	for _, it := range s.items {
		if it.TaskID != taskID ||
			(filter.Operation != "" && it.Operation != filter.Operation) ||
			(filter.Status != "" && it.Status != filter.Status) ||
			(filter.TargetLang != "" && it.Lang() != filter.TargetLang) {
			continue
		}
		out = append(out, *it)
	}
	slices.SortStableFunc(out, func(a, b models.Item) int {
		return cmp.Or(
			cmp.Compare(a.QuestionID, b.QuestionID),
			cmp.Compare(a.Operation, b.Operation),
			cmp.Compare(a.Lang(), b.Lang()),
		)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *memStore) item(id string) *models.Item {
	for _, it := range s.items {
		if it.ItemID() == id {
			return it
		}
	}
	return nil
}

func (s *memStore) ClaimItem(ctx context.Context, itemID string) (bool, error) {
	s.mu.Lock()
	it := s.item(itemID)
	if it == nil || it.Status != models.ItemPending {
		s.mu.Unlock()
		return false, nil
	}
	it.Status = models.ItemProcessing
	now := s.now()
	it.StartedAt = &now
	claimed := *it
	hook := s.onClaim
	s.mu.Unlock()

	if hook != nil {
		hook(claimed)
	}
	return true, nil
}

func (s *memStore) FinishItem(ctx context.Context, itemID string, outcome models.ItemOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.item(itemID)
	if it == nil || it.Status != models.ItemProcessing {
		return fmt.Errorf("finish item %s: %w", itemID, db.ErrStaleState)
	}
	it.Status = outcome.Status
	now := s.now()
	it.FinishedAt = &now
	if outcome.ErrorCode != "" {
		code := outcome.ErrorCode
		it.ErrorCode = &code
	}
	if outcome.ErrorMessage != "" {
		msg := outcome.ErrorMessage
		it.ErrorMessage = &msg
	}
	if !outcome.Detail.IsEmpty() {
		it.ErrorDetail = outcome.Detail
	}
	return nil
}

func (s *memStore) FailInterruptedItems(ctx context.Context, taskID string) ([]models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var failed []models.Item
	for _, it := range s.items {
		if it.TaskID == taskID && it.Status == models.ItemProcessing {
			code := models.CodeInterrupted
			it.Status = models.ItemFailed
			msg := db.InterruptedMessage
			it.ErrorCode = &code
			it.ErrorMessage = &msg
			it.ErrorDetail = &models.ErrorDetail{ErrorCode: code, ErrorStage: models.StageInterrupted}
			now := s.now()
			it.FinishedAt = &now
			failed = append(failed, *it)
		}
	}
	return failed, nil
}

func (s *memStore) ItemStatusCounts(ctx context.Context, taskID string) ([]db.StatusCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type key struct {
		op models.Operation
		st models.ItemStatus
	}
	counts := make(map[key]int)
	for _, it := range s.items {
		if it.TaskID == taskID {
			counts[key{it.Operation, it.Status}]++
		}
	}
	out := make([]db.StatusCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, db.StatusCount{Operation: k.op, Status: k.st, Count: n})
	}
	return out, nil
}

func inWindow(at time.Time, it *models.Item, w db.ItemWindow) bool {
	if at.Before(w.From) || at.After(w.To) {
		return false
	}
	return w.Operation == "" || it.Operation == w.Operation
}

func (s *memStore) ListFailedItems(ctx context.Context, w db.ItemWindow) ([]models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Item
	for _, it := range s.items {
		if it.Status == models.ItemFailed && inWindow(it.CreatedAt, it, w) {
			out = append(out, *it)
		}
	}
	slices.SortFunc(out, func(a, b models.Item) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (s *memStore) LocaleAttemptCounts(ctx context.Context, w db.ItemWindow) ([]db.LocaleCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byLocale := make(map[string]*db.LocaleCount)
	for _, it := range s.items {
		if !inWindow(it.CreatedAt, it, w) {
			continue
		}
		locale := cmp.Or(it.Lang(), "unknown")
		lc, ok := byLocale[locale]
		if !ok {
			lc = &db.LocaleCount{Locale: locale}
			byLocale[locale] = lc
		}
		lc.Total++
		if it.Status == models.ItemFailed {
			lc.Failed++
		}
	}
	out := make([]db.LocaleCount, 0, len(byLocale))
	for _, lc := range byLocale {
		out = append(out, *lc)
	}
	return out, nil
}

func (s *memStore) ListFinishedItemsWithDetail(ctx context.Context, w db.ItemWindow) ([]models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Item
	for _, it := range s.items {
		if !it.Status.IsFinished() || it.ErrorDetail == nil || it.FinishedAt == nil {
			continue
		}
		if inWindow(*it.FinishedAt, it, w) {
			out = append(out, *it)
		}
	}
	slices.SortFunc(out, func(a, b models.Item) int { return b.FinishedAt.Compare(*a.FinishedAt) })
	return out, nil
}

func (s *memStore) ListQuestionIDs(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.questions))
	for id := range s.questions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *memStore) GetQuestion(ctx context.Context, id int64) (*models.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.questions[id]
	if !ok {
		return nil, fmt.Errorf("question %d: %w", id, db.ErrNotFound)
	}
	c := *q
	return &c, nil
}

func (s *memStore) GetQuestionByHash(ctx context.Context, hash string) (*models.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range s.questions {
		if q.ContentHash == hash {
			c := *q
			return &c, nil
		}
	}
	return nil, fmt.Errorf("question with hash %s: %w", hash, db.ErrNotFound)
}

func (s *memStore) UpdateQuestion(ctx context.Context, id int64, version int, patch models.QuestionPatch) (*models.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.questions[id]
	if !ok {
		return nil, fmt.Errorf("question %d: %w", id, db.ErrNotFound)
	}
	if q.Version != version {
		return nil, fmt.Errorf("question %d at version %d: %w", id, version, db.ErrVersionConflict)
	}
	applyPatch(q, patch)
	c := *q
	return &c, nil
}

func applyPatch(q *models.Question, p models.QuestionPatch) {
	if p.Content != nil {
		q.Content = p.Content
	}
	if p.Options != nil {
		q.Options = p.Options
	}
	if p.Explanation != nil {
		q.Explanation = p.Explanation
	}
	if p.Category != nil {
		q.Category = p.Category
	}
	if p.StageTag != nil {
		q.StageTag = p.StageTag
	}
	if p.TopicTags != nil {
		q.TopicTags = p.TopicTags
	}
	q.Version++
}

func (s *memStore) UpsertTranslation(ctx context.Context, t models.Translation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.translations[t.ContentHash+"/"+t.Locale] = t
	return nil
}

func (s *memStore) CreateReview(ctx context.Context, r db.NewReview) (*models.PolishReview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("review-%d", s.seq)
	taskID := r.TaskID
	review := &models.PolishReview{
		ID:                  models.NewRecordID("polish_review", id),
		ContentHash:         r.ContentHash,
		Locale:              r.Locale,
		TaskID:              &taskID,
		ProposedContent:     r.ProposedContent,
		ProposedOptions:     r.ProposedOptions,
		ProposedExplanation: r.ProposedExplanation,
		Status:              models.ReviewPending,
		CreatedAt:           s.now(),
	}
	s.reviews[id] = review
	c := *review
	return &c, nil
}

func (s *memStore) GetReview(ctx context.Context, id string) (*models.PolishReview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[id]
	if !ok {
		return nil, fmt.Errorf("review %s: %w", id, db.ErrNotFound)
	}
	c := *r
	return &c, nil
}

func (s *memStore) ListReviews(ctx context.Context, status models.ReviewStatus, limit int) ([]models.PolishReview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PolishReview
	for _, r := range s.reviews {
		if status == "" || r.Status == status {
			out = append(out, *r)
		}
	}
	slices.SortFunc(out, func(a, b models.PolishReview) int { return b.CreatedAt.Compare(a.CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) ApproveReview(ctx context.Context, a db.Approval) (*models.ApprovalResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[a.ReviewID]
	if !ok {
		return nil, fmt.Errorf("review %s: %w", a.ReviewID, db.ErrNotFound)
	}
	if r.Status != models.ReviewPending {
		return nil, fmt.Errorf("approve review: %w", db.ErrReviewNotPending)
	}
	q, ok := s.questions[a.QuestionID]
	if !ok || q.Version != a.QuestionVersion {
		return nil, fmt.Errorf("approve review: %w", db.ErrVersionConflict)
	}

	now := s.now()
	r.Status = models.ReviewApproved
	r.ReviewedBy = &a.Approver
	r.ReviewedAt = &now
	applyPatch(q, models.QuestionPatch{Content: a.New.Content, Options: a.New.Options, Explanation: a.New.Explanation})
	h := models.PolishHistory{
		ReviewID:       a.ReviewID,
		ContentHash:    a.ContentHash,
		Locale:         a.Locale,
		OldContent:     a.Old.Content,
		NewContent:     a.New.Content,
		OldOptions:     a.Old.Options,
		NewOptions:     a.New.Options,
		OldExplanation: a.Old.Explanation,
		NewExplanation: a.New.Explanation,
		ApprovedBy:     a.Approver,
		CreatedAt:      now,
	}
	s.history = append(s.history, h)
	return &models.ApprovalResult{Review: *r, Question: *q, History: h}, nil
}

func (s *memStore) RejectReview(ctx context.Context, id, reviewer, notes string) (*models.PolishReview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[id]
	if !ok {
		return nil, fmt.Errorf("review %s: %w", id, db.ErrNotFound)
	}
	if r.Status != models.ReviewPending {
		return nil, fmt.Errorf("reject review: %w", db.ErrReviewNotPending)
	}
	now := s.now()
	r.Status = models.ReviewRejected
	r.ReviewedBy = &reviewer
	r.ReviewedAt = &now
	if notes != "" {
		r.Notes = &notes
	}
	c := *r
	return &c, nil
}

// fakeCapability answers Execute calls through fn and records every call.
type fakeCapability struct {
	mu    sync.Mutex
	fn    func(ctx context.Context, op models.Operation, q *models.Question, opts models.ExecuteOptions) models.Result
	calls []capabilityCall
}

type capabilityCall struct {
	op         models.Operation
	questionID int64
	opts       models.ExecuteOptions
}

func (c *fakeCapability) Execute(ctx context.Context, op models.Operation, q *models.Question, opts models.ExecuteOptions) models.Result {
	c.mu.Lock()
	c.calls = append(c.calls, capabilityCall{op: op, questionID: q.QuestionID(), opts: opts})
	c.mu.Unlock()
	if c.fn == nil {
		return okResult(op)
	}
	return c.fn(ctx, op, q, opts)
}

func (c *fakeCapability) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func okResult(op models.Operation) models.Result {
	p := &models.Payload{Content: "rewritten", Explanation: "because"}
	if op == models.OpCategoryTags {
		p = &models.Payload{Category: "law", StageTag: "regular", TopicTags: []string{"contract"}}
	}
	return models.Result{OK: true, Payload: p, Provider: "ollama", Model: "llama3.2", Prompt: "prompt", Response: `{"content":"rewritten"}`}
}

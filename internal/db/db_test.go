// Package db provides integration tests for SurrealDB operations.
package db

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/raphaelgruber/quizproc-go/internal/models"
)

var testDB *Client
var testContainer testcontainers.Container

// TestMain sets up and tears down the SurrealDB container for all tests.
// With -short no container is started and integration tests skip.
func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	// Disable ryuk (cleanup container) as it can cause issues in some environments
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	var err error
	testContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	host, err := testContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	// Workaround: testcontainers may return "null" as host in some environments
	if host == "" || host == "null" {
		host = "localhost"
	}
	mappedPort, err := testContainer.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	testDB, err = NewClient(ctx, Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, mappedPort.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, nil, nil)
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := testDB.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	code := m.Run()

	_ = testDB.Close(ctx)
	_ = testContainer.Terminate(ctx)

	os.Exit(code)
}

func requireDB(t *testing.T) context.Context {
	t.Helper()
	if testDB == nil {
		t.Skip("skipping integration test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func ptr[T any](v T) *T { return &v }

// createTask writes a task with one translate item per (question, locale).
func createTask(t *testing.T, ctx context.Context, questionIDs []int64, locales ...string) string {
	t.Helper()
	id := uuid.NewString()
	var items []NewItem
	for _, q := range questionIDs {
		for _, l := range locales {
			items = append(items, NewItem{QuestionID: q, Operation: models.OpTranslate, TargetLang: ptr(l)})
		}
	}
	total := len(questionIDs)
	_, err := testDB.CreateTaskWithItems(ctx, NewTask{
		ID:             id,
		Operations:     []models.Operation{models.OpTranslate},
		QuestionIDs:    questionIDs,
		Options:        models.TaskOptions{Translate: &models.TranslateOptions{From: "zh", To: locales}, BatchSize: 10},
		TotalQuestions: &total,
		CreatedBy:      "test",
		ServerLog:      models.ServerLog{Timestamp: time.Now(), Level: "info", Message: "created"},
	}, items)
	require.NoError(t, err)
	return id
}

// =============================================================================
// TASK TESTS
// =============================================================================

func TestCreateTaskWithItems(t *testing.T) {
	ctx := requireDB(t)
	id := createTask(t, ctx, []int64{1, 2}, "en", "ja")

	task, err := testDB.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskPending, task.Status)
	assert.Equal(t, []int64{1, 2}, task.QuestionIDs)
	require.NotNil(t, task.TotalQuestions)
	assert.Equal(t, 2, *task.TotalQuestions)
	assert.Equal(t, "test", task.CreatedBy)
	require.Len(t, task.Details.ServerLogs, 1)
	assert.Equal(t, "created", task.Details.ServerLogs[0].Message)

	items, err := testDB.ListItems(ctx, id, ItemFilter{})
	require.NoError(t, err)
	require.Len(t, items, 4)
	for _, it := range items {
		assert.Equal(t, models.ItemPending, it.Status)
		assert.Equal(t, id, it.TaskID)
	}

	ja, err := testDB.ListItems(ctx, id, ItemFilter{TargetLang: "ja"})
	require.NoError(t, err)
	assert.Len(t, ja, 2)
}

func TestCreateTaskWithoutItems(t *testing.T) {
	ctx := requireDB(t)
	_, err := testDB.CreateTaskWithItems(ctx, NewTask{ID: uuid.NewString()}, nil)
	assert.Error(t, err)
}

func TestGetTaskNotFound(t *testing.T) {
	ctx := requireDB(t)
	_, err := testDB.GetTask(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransitionTask(t *testing.T) {
	ctx := requireDB(t)
	id := createTask(t, ctx, []int64{10}, "en")

	ok, err := testDB.MarkTaskStarted(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = testDB.TransitionTask(ctx, id, []models.TaskStatus{models.TaskProcessing}, models.TaskPaused)
	require.NoError(t, err)
	assert.True(t, ok)

	// Already paused: a second pause matches nothing.
	ok, err = testDB.TransitionTask(ctx, id, []models.TaskStatus{models.TaskProcessing}, models.TaskPaused)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = testDB.TransitionTask(ctx, id, []models.TaskStatus{models.TaskPaused}, models.TaskCancelled)
	require.NoError(t, err)
	assert.True(t, ok)

	task, err := testDB.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskCancelled, task.Status)
	assert.NotNil(t, task.CompletedAt)

	_, err = testDB.TransitionTask(ctx, "missing", []models.TaskStatus{models.TaskPending}, models.TaskCancelled)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFinishTaskKeepsOperatorStatus(t *testing.T) {
	ctx := requireDB(t)
	id := createTask(t, ctx, []int64{11}, "en")

	ok, err := testDB.TransitionTask(ctx, id, []models.TaskStatus{models.TaskPending}, models.TaskCancelled)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = testDB.FinishTask(ctx, id, models.TaskSucceeded, TaskCounters{Processed: 1, Succeeded: 1})
	require.NoError(t, err)
	assert.False(t, ok, "cancelled task must not be overwritten")

	task, err := testDB.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.TaskCancelled, task.Status)
}

func TestListTasksFilter(t *testing.T) {
	ctx := requireDB(t)
	id := createTask(t, ctx, []int64{12}, "en")
	_, err := testDB.MarkTaskStarted(ctx, id)
	require.NoError(t, err)

	tasks, total, err := testDB.ListTasks(ctx, TaskFilter{Statuses: []models.TaskStatus{models.TaskProcessing}, Limit: 100})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, total, 1)
	var found bool
	for _, task := range tasks {
		assert.Equal(t, models.TaskProcessing, task.Status)
		found = found || task.TaskID() == id
	}
	assert.True(t, found)
}

func TestAppendTraceAndLog(t *testing.T) {
	ctx := requireDB(t)
	id := createTask(t, ctx, []int64{13}, "en")

	require.NoError(t, testDB.AppendQuestionTrace(ctx, id, models.QuestionTrace{QuestionID: 13, Status: models.TraceSuccess}))
	require.NoError(t, testDB.AppendServerLog(ctx, id, models.ServerLog{Timestamp: time.Now(), Level: "warn", Message: "paused"}))

	task, err := testDB.GetTask(ctx, id)
	require.NoError(t, err)
	require.Len(t, task.Details.Questions, 1)
	assert.Equal(t, int64(13), task.Details.Questions[0].QuestionID)
	assert.Len(t, task.Details.ServerLogs, 2)
}

// =============================================================================
// ITEM TESTS
// =============================================================================

func TestClaimAndFinishItem(t *testing.T) {
	ctx := requireDB(t)
	id := createTask(t, ctx, []int64{20}, "en")
	items, err := testDB.ListItems(ctx, id, ItemFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	itemID := items[0].ItemID()

	ok, err := testDB.ClaimItem(ctx, itemID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = testDB.ClaimItem(ctx, itemID)
	require.NoError(t, err)
	assert.False(t, ok, "second claim loses")

	require.NoError(t, testDB.FinishItem(ctx, itemID, models.ItemOutcome{
		Status:       models.ItemFailed,
		ErrorCode:    models.CodeTimeout,
		ErrorMessage: "deadline exceeded",
		Detail:       &models.ErrorDetail{ErrorCode: models.CodeTimeout, ErrorStage: models.StageTimeout},
	}))

	err = testDB.FinishItem(ctx, itemID, models.ItemOutcome{Status: models.ItemSucceeded})
	assert.ErrorIs(t, err, ErrStaleState, "finished items stay finished")

	failed, err := testDB.ListItems(ctx, id, ItemFilter{Status: models.ItemFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, models.CodeTimeout, failed[0].NormalizedErrorCode())
	require.NotNil(t, failed[0].ErrorDetail)
	assert.Equal(t, models.StageTimeout, failed[0].ErrorDetail.ErrorStage)
}

func TestFailInterruptedItems(t *testing.T) {
	ctx := requireDB(t)
	id := createTask(t, ctx, []int64{21, 22}, "en")
	items, err := testDB.ListItems(ctx, id, ItemFilter{})
	require.NoError(t, err)
	_, err = testDB.ClaimItem(ctx, items[0].ItemID())
	require.NoError(t, err)

	failed, err := testDB.FailInterruptedItems(ctx, id)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, items[0].QuestionID, failed[0].QuestionID)
	assert.Equal(t, models.ItemFailed, failed[0].Status)
	assert.Equal(t, InterruptedMessage, *failed[0].ErrorMessage)

	counts, err := testDB.ItemStatusCounts(ctx, id)
	require.NoError(t, err)
	byStatus := map[models.ItemStatus]int{}
	for _, c := range counts {
		byStatus[c.Status] += c.Count
	}
	assert.Equal(t, map[models.ItemStatus]int{models.ItemFailed: 1, models.ItemPending: 1}, byStatus)
}

// =============================================================================
// QUESTION & REVIEW TESTS
// =============================================================================

func seedQuestion(t *testing.T, ctx context.Context, id int64) *models.Question {
	t.Helper()
	q, err := testDB.UpsertQuestion(ctx, id, models.Question{
		ContentHash:   fmt.Sprintf("hash-%d", id),
		Content:       models.LocaleText{"zh": "原题", "en": "Original"},
		Options:       []string{"A", "B"},
		CorrectAnswer: ptr("A"),
		Version:       1,
	})
	require.NoError(t, err)
	return q
}

func TestUpdateQuestionVersionConflict(t *testing.T) {
	ctx := requireDB(t)
	seedQuestion(t, ctx, 100)

	q, err := testDB.UpdateQuestion(ctx, 100, 1, models.QuestionPatch{TopicTags: []string{"algebra"}})
	require.NoError(t, err)
	assert.Equal(t, 2, q.Version)
	assert.Equal(t, []string{"algebra"}, q.TopicTags)

	_, err = testDB.UpdateQuestion(ctx, 100, 1, models.QuestionPatch{Category: ptr("math")})
	assert.ErrorIs(t, err, ErrVersionConflict)

	_, err = testDB.UpdateQuestion(ctx, 999999, 1, models.QuestionPatch{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTranslationsUpsertByLocale(t *testing.T) {
	ctx := requireDB(t)
	for _, text := range []string{"first", "second"} {
		require.NoError(t, testDB.UpsertTranslation(ctx, models.Translation{ContentHash: "hash-t", Locale: "ja", Content: text}))
	}
	rows, err := testDB.ListTranslations(ctx, "hash-t")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "second", rows[0].Content)
	assert.Equal(t, "ai", rows[0].Source)
}

func TestApproveReviewOnce(t *testing.T) {
	ctx := requireDB(t)
	q := seedQuestion(t, ctx, 200)

	review, err := testDB.CreateReview(ctx, NewReview{
		ContentHash:     q.ContentHash,
		Locale:          "en",
		ProposedContent: models.LocaleText{"en": "Polished"},
	})
	require.NoError(t, err)

	approval := Approval{
		ReviewID:        review.ReviewID(),
		ContentHash:     q.ContentHash,
		Locale:          "en",
		Approver:        "alice",
		QuestionID:      200,
		QuestionVersion: q.Version,
		Old:             models.QuestionPatch{Content: q.Content},
		New:             models.QuestionPatch{Content: q.Content.Merge(models.LocaleText{"en": "Polished"})},
	}
	res, err := testDB.ApproveReview(ctx, approval)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewApproved, res.Review.Status)
	assert.Equal(t, "Polished", res.Question.Content["en"])
	assert.Equal(t, "原题", res.Question.Content["zh"])
	assert.Equal(t, q.Version+1, res.Question.Version)
	assert.Equal(t, "alice", res.History.ApprovedBy)

	_, err = testDB.ApproveReview(ctx, approval)
	assert.ErrorIs(t, err, ErrReviewNotPending)

	history, err := testDB.ListHistory(ctx, q.ContentHash)
	require.NoError(t, err)
	assert.Len(t, history, 1, "a second approval writes no history")
}

func TestApproveReviewStaleQuestionRollsBack(t *testing.T) {
	ctx := requireDB(t)
	q := seedQuestion(t, ctx, 201)
	review, err := testDB.CreateReview(ctx, NewReview{ContentHash: q.ContentHash, Locale: "en", ProposedContent: models.LocaleText{"en": "New"}})
	require.NoError(t, err)

	_, err = testDB.UpdateQuestion(ctx, 201, q.Version, models.QuestionPatch{Category: ptr("science")})
	require.NoError(t, err)

	_, err = testDB.ApproveReview(ctx, Approval{
		ReviewID:        review.ReviewID(),
		ContentHash:     q.ContentHash,
		Locale:          "en",
		Approver:        "bob",
		QuestionID:      201,
		QuestionVersion: q.Version,
		New:             models.QuestionPatch{Content: models.LocaleText{"en": "New"}},
	})
	assert.ErrorIs(t, err, ErrVersionConflict)

	got, err := testDB.GetReview(ctx, review.ReviewID())
	require.NoError(t, err)
	assert.Equal(t, models.ReviewPending, got.Status, "failed approval leaves the review pending")
}

func TestRejectReview(t *testing.T) {
	ctx := requireDB(t)
	review, err := testDB.CreateReview(ctx, NewReview{ContentHash: "hash-r", Locale: "ja", ProposedContent: models.LocaleText{"ja": "案"}})
	require.NoError(t, err)

	got, err := testDB.RejectReview(ctx, review.ReviewID(), "carol", "too loose")
	require.NoError(t, err)
	assert.Equal(t, models.ReviewRejected, got.Status)
	require.NotNil(t, got.Notes)
	assert.Equal(t, "too loose", *got.Notes)

	_, err = testDB.RejectReview(ctx, review.ReviewID(), "carol", "")
	assert.ErrorIs(t, err, ErrReviewNotPending)

	_, err = testDB.RejectReview(ctx, "missing", "carol", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

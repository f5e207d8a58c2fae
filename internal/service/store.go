package service

import (
	"context"

	"github.com/raphaelgruber/quizproc-go/internal/db"
	"github.com/raphaelgruber/quizproc-go/internal/models"
)

// Store is the persistence surface the engine runs on. *db.Client implements it.
type Store interface {
	CreateTaskWithItems(ctx context.Context, task db.NewTask, items []db.NewItem) (*models.Task, error)
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ListTasks(ctx context.Context, filter db.TaskFilter) ([]models.Task, int, error)
	ListTasksByStatus(ctx context.Context, statuses ...models.TaskStatus) ([]models.Task, error)
	TransitionTask(ctx context.Context, id string, from []models.TaskStatus, to models.TaskStatus) (bool, error)
	MarkTaskStarted(ctx context.Context, id string) (bool, error)
	FinishTask(ctx context.Context, id string, status models.TaskStatus, counters db.TaskCounters) (bool, error)
	UpdateTaskCounters(ctx context.Context, id string, counters db.TaskCounters) error
	AppendQuestionTrace(ctx context.Context, id string, trace models.QuestionTrace) error
	AppendServerLog(ctx context.Context, id string, entry models.ServerLog) error

	ListItems(ctx context.Context, taskID string, filter db.ItemFilter) ([]models.Item, error)
	ClaimItem(ctx context.Context, itemID string) (bool, error)
	FinishItem(ctx context.Context, itemID string, outcome models.ItemOutcome) error
	FailInterruptedItems(ctx context.Context, taskID string) ([]models.Item, error)
	ItemStatusCounts(ctx context.Context, taskID string) ([]db.StatusCount, error)
	ListFailedItems(ctx context.Context, window db.ItemWindow) ([]models.Item, error)
	LocaleAttemptCounts(ctx context.Context, window db.ItemWindow) ([]db.LocaleCount, error)
	ListFinishedItemsWithDetail(ctx context.Context, window db.ItemWindow) ([]models.Item, error)

	ListQuestionIDs(ctx context.Context) ([]int64, error)
	GetQuestion(ctx context.Context, id int64) (*models.Question, error)
	GetQuestionByHash(ctx context.Context, hash string) (*models.Question, error)
	UpdateQuestion(ctx context.Context, id int64, version int, patch models.QuestionPatch) (*models.Question, error)
	UpsertTranslation(ctx context.Context, t models.Translation) error

	CreateReview(ctx context.Context, r db.NewReview) (*models.PolishReview, error)
	GetReview(ctx context.Context, id string) (*models.PolishReview, error)
	ListReviews(ctx context.Context, status models.ReviewStatus, limit int) ([]models.PolishReview, error)
	ApproveReview(ctx context.Context, a db.Approval) (*models.ApprovalResult, error)
	RejectReview(ctx context.Context, id, reviewer, notes string) (*models.PolishReview, error)
}

var _ Store = (*db.Client)(nil)

// Capability executes one operation on one question.
// Failures are reported inside the Result, never as Go errors.
type Capability interface {
	Execute(ctx context.Context, op models.Operation, q *models.Question, opts models.ExecuteOptions) models.Result
}

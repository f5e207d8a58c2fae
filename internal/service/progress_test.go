package service

import (
	"context"
	"testing"

	"github.com/raphaelgruber/quizproc-go/internal/db"
	"github.com/raphaelgruber/quizproc-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubItem(qid int64, op models.Operation, status models.ItemStatus) models.Item {
	return models.Item{TaskID: "t", QuestionID: qid, Operation: op, Status: status, CreatedAt: analyticsNow}
}

func TestQuestionCounters(t *testing.T) {
	items := []models.Item{
		stubItem(1, models.OpPolish, models.ItemSucceeded),
		stubItem(1, models.OpFillMissing, models.ItemPartiallySucceeded),
		stubItem(2, models.OpPolish, models.ItemSucceeded),
		stubItem(2, models.OpFillMissing, models.ItemFailed),
		stubItem(3, models.OpPolish, models.ItemSucceeded),
		stubItem(3, models.OpFillMissing, models.ItemProcessing),
		stubItem(4, models.OpPolish, models.ItemPending),
		stubItem(5, models.OpPolish, models.ItemSucceeded),
		stubItem(5, models.OpFillMissing, models.ItemPending),
	}

	got := questionCounters(items)
	assert.Equal(t, db.TaskCounters{Processed: 3, Succeeded: 2, Failed: 1}, got)
}

func TestReconcileRewritesDivergentCounters(t *testing.T) {
	store := newMemStore()
	task := taskWithTraces("t", models.TaskProcessing, []int64{1, 2})
	task.ProcessedCount = 7
	task.CurrentBatch = 2
	store.setTask(task)
	store.addItem(stubItem(1, models.OpCategoryTags, models.ItemSucceeded))
	store.addItem(stubItem(2, models.OpCategoryTags, models.ItemFailed))
	svc := newTaskService(store)

	changed, err := svc.Reconcile(context.Background(), "t")
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := store.GetTask(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, 2, got.ProcessedCount)
	assert.Equal(t, 1, got.SucceededCount)
	assert.Equal(t, 1, got.FailedCount)
	assert.Equal(t, 2, got.CurrentBatch, "batch index is kept")

	changed, err = svc.Reconcile(context.Background(), "t")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestReconcileActive(t *testing.T) {
	store := newMemStore()
	running := taskWithTraces("t", models.TaskProcessing, []int64{1})
	running.ProcessedCount = 3
	store.setTask(running)
	done := taskWithTraces("done", models.TaskSucceeded, []int64{1})
	done.ProcessedCount = 3
	store.setTask(done)
	store.addItem(stubItem(1, models.OpCategoryTags, models.ItemSucceeded))

	fixed, err := newTaskService(store).ReconcileActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fixed)
	assert.Equal(t, 3, store.tasks["done"].ProcessedCount, "terminal tasks are left alone")
}

func TestProgress(t *testing.T) {
	store := newMemStore()
	store.addItem(stubItem(1, models.OpCategoryTags, models.ItemSucceeded))
	store.addItem(stubItem(1, models.OpPolish, models.ItemFailed))
	store.addItem(stubItem(2, models.OpCategoryTags, models.ItemProcessing))
	store.addItem(stubItem(2, models.OpPolish, models.ItemPending))
	svc := newTaskService(store)

	tests := []struct {
		name           string
		total          *int
		wantItems      int
		wantQuestions  int
		wantPercentage float64
	}{
		{"fixed scope", ptr(4), 8, 4, 25},
		{"discovered scope", nil, 4, 2, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &models.Task{
				ID:             models.NewRecordID("task", "t"),
				Operations:     []models.Operation{models.OpCategoryTags, models.OpPolish},
				TotalQuestions: tt.total,
			}
			p, err := svc.Progress(context.Background(), task)
			require.NoError(t, err)

			assert.Equal(t, tt.wantItems, p.TotalItems)
			assert.Equal(t, tt.wantQuestions, p.TotalQuestions)
			assert.InDelta(t, tt.wantPercentage, p.Percent, 0.001)
			assert.Equal(t, 1, p.CompletedItems)
			assert.Equal(t, 1, p.FailedItems)
			assert.Equal(t, 1, p.ProcessingItems)
			assert.Equal(t, 1, p.PendingItems)
			assert.Equal(t, 1, p.SucceededCount, "falls back to completed items")
			assert.Equal(t, OperationStats{Total: 2, Succeeded: 1, Processing: 1}, p.ByOperation[models.OpCategoryTags])
			assert.Equal(t, OperationStats{Total: 2, Failed: 1, Pending: 1}, p.ByOperation[models.OpPolish])
		})
	}
}

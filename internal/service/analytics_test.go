package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/raphaelgruber/quizproc-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var analyticsNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func failedItem(qid int64, lang *string, at time.Time, detail *models.ErrorDetail, message string) models.Item {
	it := models.Item{
		TaskID:      "task-a",
		QuestionID:  qid,
		Operation:   models.OpTranslate,
		TargetLang:  lang,
		Status:      models.ItemFailed,
		ErrorDetail: detail,
		CreatedAt:   at,
		FinishedAt:  ptr(at.Add(time.Minute)),
	}
	if message != "" {
		it.ErrorMessage = ptr(message)
	}
	return it
}

func newAnalytics(store *memStore) *AnalyticsService {
	svc := NewAnalyticsService(store)
	svc.now = func() time.Time { return analyticsNow }
	return svc
}

func TestErrorStats(t *testing.T) {
	store := newMemStore()
	day := analyticsNow.Add(-24 * time.Hour)
	timeout := &models.ErrorDetail{ErrorCode: models.CodeTimeout, ErrorStage: models.StageTimeout}

	for i := range 4 {
		store.addItem(failedItem(10, ptr("en"), day.Add(time.Duration(i)*time.Minute), timeout, ""))
	}
	for i := range 2 {
		store.addItem(failedItem(11, ptr("en"), day.Add(time.Duration(i)*time.Minute), timeout, ""))
	}
	// Legacy rows: no structured code, the message is the code.
	for i := range 3 {
		store.addItem(failedItem(12, nil, day.Add(time.Duration(i)*time.Minute), nil, "bad json"))
	}
	legacy := failedItem(13, nil, day, nil, "bad json")
	legacy.ErrorCode = ptr("X")
	store.addItem(legacy)

	ok := failedItem(10, ptr("en"), day, nil, "")
	ok.Status = models.ItemSucceeded
	store.addItem(ok)
	store.addItem(ok)
	okJa := failedItem(10, ptr("ja"), day, nil, "")
	okJa.Status = models.ItemSucceeded
	store.addItem(okJa)

	// Outside the default window.
	store.addItem(failedItem(14, ptr("en"), analyticsNow.Add(-30*24*time.Hour), timeout, ""))

	stats, err := newAnalytics(store).ErrorStats(context.Background(), ErrorStatsQuery{})
	require.NoError(t, err)

	assert.Equal(t, 10, stats.TotalFailed)
	assert.Equal(t, map[string]int{"TIMEOUT": 6, "bad json": 4}, stats.ByErrorCode)
	assert.Equal(t, map[string]int{"TIMEOUT": 6, "UNKNOWN": 4}, stats.ByErrorStage)

	require.Contains(t, stats.ByTargetLanguage, "en")
	en := stats.ByTargetLanguage["en"]
	assert.Equal(t, 6, en.FailedCount)
	assert.Equal(t, 8, en.TotalCount)
	assert.InDelta(t, 0.75, en.FailureRate, 0.0001)
	assert.Equal(t, 4, stats.ByTargetLanguage["unknown"].FailedCount)
	assert.Equal(t, LocaleFailures{TotalCount: 1}, stats.ByTargetLanguage["ja"], "locales without failures are kept")

	require.Len(t, stats.TopQuestions, 4)
	assert.Equal(t, int64(10), stats.TopQuestions[0].QuestionID)
	assert.Equal(t, 4, stats.TopQuestions[0].FailedCount)
	assert.Equal(t, models.CodeTimeout, stats.TopQuestions[0].LastErrorCode)
	assert.Equal(t, int64(12), stats.TopQuestions[1].QuestionID)
	assert.Equal(t, int64(11), stats.TopQuestions[2].QuestionID)
	assert.Equal(t, int64(13), stats.TopQuestions[3].QuestionID)
	assert.Equal(t, analyticsNow.Add(-7*24*time.Hour), stats.From)
}

func TestErrorStatsFiltersOperation(t *testing.T) {
	store := newMemStore()
	day := analyticsNow.Add(-time.Hour)
	polish := failedItem(1, ptr("zh"), day, &models.ErrorDetail{ErrorCode: models.CodeRateLimited}, "")
	polish.Operation = models.OpPolish
	store.addItem(polish)
	store.addItem(failedItem(2, ptr("en"), day, &models.ErrorDetail{ErrorCode: models.CodeTimeout}, ""))

	stats, err := newAnalytics(store).ErrorStats(context.Background(), ErrorStatsQuery{Operation: models.OpPolish})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{models.CodeRateLimited: 1}, stats.ByErrorCode)

	_, err = newAnalytics(store).ErrorStats(context.Background(), ErrorStatsQuery{Operation: "summarize"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = newAnalytics(store).ErrorStats(context.Background(), ErrorStatsQuery{From: analyticsNow, To: day})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func consistencyItem(qid int64, at time.Time, entries ...models.ConsistencyEntry) models.Item {
	it := failedItem(qid, ptr(entries[0].Locale), at, &models.ErrorDetail{ExplanationConsistency: entries}, "")
	it.Status = models.ItemSucceeded
	for _, e := range entries {
		if e.Status == models.ConsistencyInconsistent {
			it.ErrorDetail.AutoFixable = ptr(true)
		}
	}
	return it
}

func seedConsistency(store *memStore) {
	day := analyticsNow.Add(-48 * time.Hour)
	store.addQuestion(20, models.Question{ContentHash: "hash-twenty"})
	store.addItem(consistencyItem(20, day,
		models.ConsistencyEntry{Locale: "en", Status: models.ConsistencyInconsistent, Expected: "true", Inferred: "false", Source: "translate"},
		models.ConsistencyEntry{Locale: "ja", Status: models.ConsistencyConsistent, Expected: "true", Inferred: "true"},
		models.ConsistencyEntry{Locale: "ko", Status: models.ConsistencyInconsistent, Expected: "true", Inferred: "false"},
	))
	store.addItem(consistencyItem(21, day.Add(time.Hour),
		models.ConsistencyEntry{Locale: "en", Status: models.ConsistencyConsistent, Expected: "false", Inferred: "false"},
	))
	store.addItem(consistencyItem(22, day.Add(2*time.Hour),
		models.ConsistencyEntry{Locale: "zh", Status: models.ConsistencyInconsistent, Expected: "false", Inferred: "true", Source: "polish"},
	))
}

func TestConsistencyPages(t *testing.T) {
	store := newMemStore()
	seedConsistency(store)
	svc := newAnalytics(store)

	page, err := svc.Consistency(context.Background(), ConsistencyQuery{PageSize: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.True(t, page.HasMore)
	require.Len(t, page.Items, 1)
	assert.Equal(t, int64(22), page.Items[0].QuestionID, "newest first")
	assert.Empty(t, page.Items[0].ContentHash, "deleted question leaves the hash empty")

	page, err = svc.Consistency(context.Background(), ConsistencyQuery{Page: 2, PageSize: 1})
	require.NoError(t, err)
	assert.False(t, page.HasMore)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "hash-twenty", page.Items[0].ContentHash)
	assert.Len(t, page.Items[0].Entries, 3)

	page, err = svc.Consistency(context.Background(), ConsistencyQuery{Page: 9})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.NotNil(t, page.Items)
}

func TestExportConsistencyCSV(t *testing.T) {
	store := newMemStore()
	seedConsistency(store)
	var buf bytes.Buffer

	n, err := newAnalytics(store).ExportConsistencyCSV(context.Background(), ConsistencyQuery{}, &buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "one row per inconsistent locale entry")

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, ConsistencyCSVHeader, records[0])
	assert.Equal(t, []string{"22", "", "zh", "false", "true", "polish", "true"}, records[1])
	assert.Equal(t, []string{"20", "hash-twenty", "en", "true", "false", "translate", "true"}, records[2])
	assert.Equal(t, []string{"20", "hash-twenty", "ko", "true", "false", "translate", "true"}, records[3])
}

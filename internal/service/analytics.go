package service

import (
	"cmp"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/raphaelgruber/quizproc-go/internal/db"
	"github.com/raphaelgruber/quizproc-go/internal/models"
)

const (
	defaultWindow     = 7 * 24 * time.Hour
	topQuestionsLimit = 20
	defaultPageSize   = 20
	maxPageSize       = 100
	unknownLocaleKey  = "unknown"
)

// ConsistencyCSVHeader is the header row of the consistency export.
var ConsistencyCSVHeader = []string{"question_id", "content_hash", "locale", "expected", "inferred", "source", "auto_fixable"}

// AnalyticsService answers windowed queries over historical items.
type AnalyticsService struct {
	store Store
	now   func() time.Time
}

// NewAnalyticsService creates a new analytics service.
func NewAnalyticsService(store Store) *AnalyticsService {
	return &AnalyticsService{store: store, now: time.Now}
}

// ErrorStatsQuery selects failed items by creation time and operation.
// Zero times default to the last seven days.
type ErrorStatsQuery struct {
	From      time.Time
	To        time.Time
	Operation models.Operation
}

// LocaleFailures pairs a locale's failures with its total attempts.
type LocaleFailures struct {
	FailedCount int     `json:"failedCount"`
	TotalCount  int     `json:"totalCount"`
	FailureRate float64 `json:"failureRate"`
}

// QuestionFailures ranks one question by its failures in the window.
type QuestionFailures struct {
	QuestionID     int64     `json:"questionId"`
	FailedCount    int       `json:"failedCount"`
	LastErrorCode  string    `json:"lastErrorCode"`
	LastErrorStage string    `json:"lastErrorStage"`
	LastFailedAt   time.Time `json:"lastFailedAt"`
}

// ErrorStats are the group-by views over failed items in a window.
type ErrorStats struct {
	From             time.Time                 `json:"from"`
	To               time.Time                 `json:"to"`
	Operation        models.Operation          `json:"operation,omitempty"`
	TotalFailed      int                       `json:"totalFailed"`
	ByErrorCode      map[string]int            `json:"byErrorCode"`
	ByTargetLanguage map[string]LocaleFailures `json:"byTargetLanguage"`
	ByErrorStage     map[string]int            `json:"byErrorStage"`
	TopQuestions     []QuestionFailures        `json:"topQuestions"`
}

// ErrorStats groups failed items by error code, target locale and stage, and
// ranks the questions that failed most often.
func (s *AnalyticsService) ErrorStats(ctx context.Context, q ErrorStatsQuery) (*ErrorStats, error) {
	window, err := s.window(q.From, q.To, q.Operation)
	if err != nil {
		return nil, err
	}

	failed, err := s.store.ListFailedItems(ctx, window)
	if err != nil {
		return nil, err
	}
	attempts, err := s.store.LocaleAttemptCounts(ctx, window)
	if err != nil {
		return nil, err
	}

	stats := &ErrorStats{
		From:             window.From,
		To:               window.To,
		Operation:        q.Operation,
		TotalFailed:      len(failed),
		ByErrorCode:      make(map[string]int),
		ByTargetLanguage: make(map[string]LocaleFailures),
		ByErrorStage:     make(map[string]int),
	}

	byQuestion := make(map[int64]*QuestionFailures)
	for i := range failed {
		it := &failed[i]
		stats.ByErrorCode[it.NormalizedErrorCode()]++
		stats.ByErrorStage[it.NormalizedErrorStage()]++

		at := it.CreatedAt
		if it.FinishedAt != nil {
			at = *it.FinishedAt
		}
		qf, ok := byQuestion[it.QuestionID]
		if !ok {
			qf = &QuestionFailures{QuestionID: it.QuestionID}
			byQuestion[it.QuestionID] = qf
		}
		qf.FailedCount++
		if qf.LastFailedAt.IsZero() || at.After(qf.LastFailedAt) {
			qf.LastFailedAt = at
			qf.LastErrorCode = it.NormalizedErrorCode()
			qf.LastErrorStage = it.NormalizedErrorStage()
		}
	}

	for _, a := range attempts {
		locale := cmp.Or(a.Locale, unknownLocaleKey)
		lf := stats.ByTargetLanguage[locale]
		lf.FailedCount += a.Failed
		lf.TotalCount += a.Total
		if lf.TotalCount > 0 {
			lf.FailureRate = float64(lf.FailedCount) / float64(lf.TotalCount)
		}
		stats.ByTargetLanguage[locale] = lf
	}

	top := make([]QuestionFailures, 0, len(byQuestion))
	for _, qf := range byQuestion {
		top = append(top, *qf)
	}
	slices.SortFunc(top, func(a, b QuestionFailures) int {
		if c := cmp.Compare(b.FailedCount, a.FailedCount); c != 0 {
			return c
		}
		if c := b.LastFailedAt.Compare(a.LastFailedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.QuestionID, b.QuestionID)
	})
	if len(top) > topQuestionsLimit {
		top = top[:topQuestionsLimit]
	}
	stats.TopQuestions = top
	return stats, nil
}

// ConsistencyQuery selects finished items by finish time and operation.
type ConsistencyQuery struct {
	From      time.Time
	To        time.Time
	Operation models.Operation
	Page      int
	PageSize  int
}

// ConsistencyRow is one item with at least one inconsistent locale.
type ConsistencyRow struct {
	ItemID      string                    `json:"itemId"`
	TaskID      string                    `json:"taskId"`
	QuestionID  int64                     `json:"questionId"`
	ContentHash string                    `json:"contentHash,omitempty"`
	Operation   models.Operation          `json:"operation"`
	TargetLang  string                    `json:"targetLang,omitempty"`
	FinishedAt  *time.Time                `json:"finishedAt,omitempty"`
	Entries     []models.ConsistencyEntry `json:"explanationConsistency"`
	AutoFixable *bool                     `json:"autoFixable,omitempty"`
}

// ConsistencyPage is one page of the consistency listing.
type ConsistencyPage struct {
	Items    []ConsistencyRow `json:"items"`
	Page     int              `json:"page"`
	PageSize int              `json:"pageSize"`
	Total    int              `json:"total"`
	HasMore  bool             `json:"hasMore"`
	From     time.Time        `json:"from"`
	To       time.Time        `json:"to"`
}

// Consistency lists items whose explanation contradicted the correct answer
// in at least one locale, newest first.
func (s *AnalyticsService) Consistency(ctx context.Context, q ConsistencyQuery) (*ConsistencyPage, error) {
	window, err := s.window(q.From, q.To, q.Operation)
	if err != nil {
		return nil, err
	}
	page := max(1, q.Page)
	size := clampLimit(q.PageSize, defaultPageSize, maxPageSize)

	rows, err := s.inconsistentRows(ctx, window)
	if err != nil {
		return nil, err
	}

	start := min((page-1)*size, len(rows))
	end := min(start+size, len(rows))
	pageRows := rows[start:end]
	if err := s.attachHashes(ctx, pageRows); err != nil {
		return nil, err
	}

	return &ConsistencyPage{
		Items:    pageRows,
		Page:     page,
		PageSize: size,
		Total:    len(rows),
		HasMore:  end < len(rows),
		From:     window.From,
		To:       window.To,
	}, nil
}

// ExportConsistencyCSV writes one row per inconsistent locale entry in the
// window, across all pages.
func (s *AnalyticsService) ExportConsistencyCSV(ctx context.Context, q ConsistencyQuery, w io.Writer) (int, error) {
	window, err := s.window(q.From, q.To, q.Operation)
	if err != nil {
		return 0, err
	}
	rows, err := s.inconsistentRows(ctx, window)
	if err != nil {
		return 0, err
	}
	if err := s.attachHashes(ctx, rows); err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(ConsistencyCSVHeader); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}
	n := 0
	for _, row := range rows {
		fixable := ""
		if row.AutoFixable != nil {
			fixable = strconv.FormatBool(*row.AutoFixable)
		}
		for _, e := range row.Entries {
			if e.Status != models.ConsistencyInconsistent {
				continue
			}
			record := []string{
				strconv.FormatInt(row.QuestionID, 10),
				row.ContentHash,
				e.Locale,
				e.Expected,
				e.Inferred,
				cmp.Or(e.Source, string(row.Operation)),
				fixable,
			}
			if err := cw.Write(record); err != nil {
				return n, fmt.Errorf("write csv row: %w", err)
			}
			n++
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return n, fmt.Errorf("flush csv: %w", err)
	}
	return n, nil
}

func (s *AnalyticsService) inconsistentRows(ctx context.Context, window db.ItemWindow) ([]ConsistencyRow, error) {
	items, err := s.store.ListFinishedItemsWithDetail(ctx, window)
	if err != nil {
		return nil, err
	}

	rows := []ConsistencyRow{}
	for i := range items {
		it := &items[i]
		if len(it.ErrorDetail.Inconsistent()) == 0 {
			continue
		}
		rows = append(rows, ConsistencyRow{
			ItemID:      it.ItemID(),
			TaskID:      it.TaskID,
			QuestionID:  it.QuestionID,
			Operation:   it.Operation,
			TargetLang:  it.Lang(),
			FinishedAt:  it.FinishedAt,
			Entries:     it.ErrorDetail.ExplanationConsistency,
			AutoFixable: it.ErrorDetail.AutoFixable,
		})
	}
	return rows, nil
}

// attachHashes fills content fingerprints from the question table. Questions
// deleted since leave the fingerprint empty.
func (s *AnalyticsService) attachHashes(ctx context.Context, rows []ConsistencyRow) error {
	hashes := make(map[int64]string)
	for i := range rows {
		id := rows[i].QuestionID
		hash, ok := hashes[id]
		if !ok {
			q, err := s.store.GetQuestion(ctx, id)
			switch {
			case errors.Is(err, db.ErrNotFound):
			case err != nil:
				return err
			default:
				hash = q.ContentHash
			}
			hashes[id] = hash
		}
		rows[i].ContentHash = hash
	}
	return nil
}

func (s *AnalyticsService) window(from, to time.Time, op models.Operation) (db.ItemWindow, error) {
	if op != "" && !op.IsValid() {
		return db.ItemWindow{}, fmt.Errorf("%w: unknown operation %q", ErrInvalidRequest, op)
	}
	if to.IsZero() {
		to = s.now()
	}
	if from.IsZero() {
		from = to.Add(-defaultWindow)
	}
	if from.After(to) {
		return db.ItemWindow{}, fmt.Errorf("%w: from is after to", ErrInvalidRequest)
	}
	return db.ItemWindow{From: from.UTC(), To: to.UTC(), Operation: op}, nil
}

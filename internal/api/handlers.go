package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/quizproc-go/internal/db"
	"github.com/raphaelgruber/quizproc-go/internal/models"
	"github.com/raphaelgruber/quizproc-go/internal/service"
)

const maxBodyBytes = 1 << 20

var errBadParam = errors.New("bad parameter")

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	var stats Stats
	if s.cfg.Metrics != nil {
		stats.Metrics = s.cfg.Metrics.Snapshot()
	}
	if s.cfg.Runner != nil {
		stats.Runs = s.cfg.Runner.Runs()
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req service.CreateTaskRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	view, err := s.cfg.Tasks.CreateTask(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.start(recordID(view.ID))
	s.writeJSON(w, http.StatusCreated, TaskFromView(view))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter db.TaskFilter
	for _, raw := range splitList(q.Get("status")) {
		st := models.TaskStatus(raw)
		if !st.IsValid() {
			s.writeError(w, fmt.Errorf("%w: unknown status %q", errBadParam, raw))
			return
		}
		filter.Statuses = append(filter.Statuses, st)
	}
	var err error
	if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
		s.writeError(w, err)
		return
	}
	if filter.Offset, err = queryInt(q.Get("offset")); err != nil {
		s.writeError(w, err)
		return
	}

	views, total, err := s.cfg.Tasks.ListTasks(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := TaskList{Tasks: make([]Task, 0, len(views)), Total: total}
	for i := range views {
		out.Tasks = append(out.Tasks, TaskFromView(&views[i]))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	view, err := s.cfg.Tasks.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, TaskFromView(view))
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := db.ItemFilter{
		Operation:  models.Operation(q.Get("operation")),
		Status:     models.ItemStatus(q.Get("status")),
		TargetLang: q.Get("lang"),
	}
	if filter.Operation != "" && !filter.Operation.IsValid() {
		s.writeError(w, fmt.Errorf("%w: unknown operation %q", errBadParam, filter.Operation))
		return
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		s.writeError(w, fmt.Errorf("%w: unknown item status %q", errBadParam, filter.Status))
		return
	}
	var err error
	if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
		s.writeError(w, err)
		return
	}

	items, err := s.cfg.Tasks.ListItems(r.Context(), r.PathValue("id"), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]Item, 0, len(items))
	for i := range items {
		out = append(out, ItemFromModel(&items[i]))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	view, err := s.cfg.Tasks.CancelTask(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, TaskFromView(view))
}

func (s *Server) handlePauseTask(w http.ResponseWriter, r *http.Request) {
	view, err := s.cfg.Tasks.PauseTask(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, TaskFromView(view))
}

// RetryRequest is the optional body of a retry call.
type RetryRequest struct {
	CreatedBy string `json:"created_by"`
}

func (s *Server) handleRetryTask(w http.ResponseWriter, r *http.Request) {
	var req RetryRequest
	if err := decodeOptionalBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	view, err := s.cfg.Tasks.RetryTask(r.Context(), r.PathValue("id"), req.CreatedBy)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.start(recordID(view.ID))
	s.writeJSON(w, http.StatusCreated, TaskFromView(view))
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	view, err := s.cfg.Tasks.ProcessingLogs(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleErrorStats(w http.ResponseWriter, r *http.Request) {
	from, to, err := timeRange(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	stats, err := s.cfg.Analytics.ErrorStats(r.Context(), service.ErrorStatsQuery{
		From:      from,
		To:        to,
		Operation: models.Operation(r.URL.Query().Get("operation")),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleConsistency(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to, err := timeRange(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	query := service.ConsistencyQuery{From: from, To: to, Operation: models.Operation(q.Get("operation"))}
	if query.Page, err = queryInt(q.Get("page")); err != nil {
		s.writeError(w, err)
		return
	}
	if query.PageSize, err = queryInt(q.Get("page_size")); err != nil {
		s.writeError(w, err)
		return
	}

	if q.Get("format") == "csv" {
		// Buffered so a failed export still gets a proper status code.
		var buf bytes.Buffer
		if _, err := s.cfg.Analytics.ExportConsistencyCSV(r.Context(), query, &buf); err != nil {
			s.writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="consistency.csv"`)
		w.WriteHeader(http.StatusOK)
		_, _ = buf.WriteTo(w)
		return
	}

	page, err := s.cfg.Analytics.Consistency(r.Context(), query)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := models.ReviewStatus(q.Get("status"))
	if status == "" {
		status = models.ReviewPending
	}
	if !status.IsValid() {
		s.writeError(w, fmt.Errorf("%w: unknown review status %q", errBadParam, status))
		return
	}
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	reviews, err := s.cfg.Reviews.ListReviews(r.Context(), status, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]Review, 0, len(reviews))
	for i := range reviews {
		out = append(out, ReviewFromModel(&reviews[i]))
	}
	s.writeJSON(w, http.StatusOK, out)
}

// ReviewDecision is the body of an approve or reject call.
type ReviewDecision struct {
	Reviewer string `json:"reviewer"`
	Notes    string `json:"notes,omitempty"`
}

func (s *Server) handleApproveReview(w http.ResponseWriter, r *http.Request) {
	var req ReviewDecision
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.cfg.Reviews.ApproveReview(r.Context(), r.PathValue("id"), req.Reviewer)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ApprovalFromResult(res))
}

func (s *Server) handleRejectReview(w http.ResponseWriter, r *http.Request) {
	var req ReviewDecision
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	review, err := s.cfg.Reviews.RejectReview(r.Context(), r.PathValue("id"), req.Reviewer, req.Notes)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ReviewFromModel(review))
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.cfg.Logger.Warn("encode response failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.cfg.Logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, ErrorBody{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadParam),
		errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, service.ErrEmptyScope):
		return http.StatusBadRequest
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrTaskConflict),
		errors.Is(err, service.ErrNotRetryable),
		errors.Is(err, service.ErrDynamicScope),
		errors.Is(err, service.ErrNothingToRetry),
		errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrConflict),
		errors.Is(err, db.ErrReviewNotPending),
		errors.Is(err, db.ErrVersionConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decode body: %v", errBadParam, err)
	}
	return nil
}

func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) error {
	if r.ContentLength == 0 {
		return nil
	}
	return decodeBody(w, r, v)
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q is not a non-negative integer", errBadParam, raw)
	}
	return n, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// timeRange reads the from/to query parameters. Both accept RFC 3339 or a
// plain date; zero values leave the default window to the service.
func timeRange(r *http.Request) (from, to time.Time, err error) {
	q := r.URL.Query()
	if from, err = ParseTime(q.Get("from")); err != nil {
		return
	}
	to, err = ParseTime(q.Get("to"))
	return
}

// ParseTime accepts RFC 3339 timestamps and YYYY-MM-DD dates.
func ParseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid time %q", errBadParam, raw)
	}
	return t, nil
}

// Package client provides an HTTP client for the quizproc server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/quizproc-go/internal/api"
	"github.com/raphaelgruber/quizproc-go/internal/service"
)

// RequestIDHeader carries a per-request id for server-side log correlation.
const RequestIDHeader = "X-Request-ID"

// Client talks to the quizproc REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new client.
// If baseURL is empty, uses QUIZPROC_SERVER_URL or defaults to localhost:8484.
// Timeout can be configured via QUIZPROC_CLIENT_TIMEOUT (default 30s).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("QUIZPROC_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8484"
	}

	timeout := 30 * time.Second
	if t := os.Getenv("QUIZPROC_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error: %d %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsConflict reports whether err is a 409 from the server.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(RequestIDHeader, uuid.New().String())
	return req, nil
}

// do sends a request and decodes a JSON response into result.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, result any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, data)
	}
	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func decodeError(status int, data []byte) error {
	var body api.ErrorBody
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return &APIError{StatusCode: status, Message: body.Error}
	}
	return &APIError{StatusCode: status, Message: strings.TrimSpace(string(data))}
}

// =============================================================================
// TASKS
// =============================================================================

// TaskListOptions filters ListTasks.
type TaskListOptions struct {
	Statuses []string
	Limit    int
	Offset   int
}

// CreateTask plans a new task. The server starts it right away.
func (c *Client) CreateTask(ctx context.Context, req service.CreateTaskRequest) (*api.Task, error) {
	var task api.Task
	if err := c.do(ctx, http.MethodPost, "/api/tasks", nil, req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasks returns tasks newest first plus the unpaged total.
func (c *Client) ListTasks(ctx context.Context, opts TaskListOptions) (*api.TaskList, error) {
	q := url.Values{}
	if len(opts.Statuses) > 0 {
		q.Set("status", strings.Join(opts.Statuses, ","))
	}
	setInt(q, "limit", opts.Limit)
	setInt(q, "offset", opts.Offset)

	var list api.TaskList
	if err := c.do(ctx, http.MethodGet, "/api/tasks", q, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// GetTask fetches one task with its progress.
func (c *Client) GetTask(ctx context.Context, id string) (*api.Task, error) {
	var task api.Task
	if err := c.do(ctx, http.MethodGet, taskPath(id, ""), nil, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ItemListOptions filters ListItems.
type ItemListOptions struct {
	Operation string
	Status    string
	Lang      string
	Limit     int
}

// ListItems returns the items of a task.
func (c *Client) ListItems(ctx context.Context, taskID string, opts ItemListOptions) ([]api.Item, error) {
	q := url.Values{}
	setString(q, "operation", opts.Operation)
	setString(q, "status", opts.Status)
	setString(q, "lang", opts.Lang)
	setInt(q, "limit", opts.Limit)

	var items []api.Item
	if err := c.do(ctx, http.MethodGet, taskPath(taskID, "/items"), q, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// CancelTask cancels a pending, processing or paused task.
func (c *Client) CancelTask(ctx context.Context, id string) (*api.Task, error) {
	return c.control(ctx, id, "/cancel", nil)
}

// PauseTask pauses a running task.
func (c *Client) PauseTask(ctx context.Context, id string) (*api.Task, error) {
	return c.control(ctx, id, "/pause", nil)
}

// RetryTask creates a new task for the unfinished part of id.
func (c *Client) RetryTask(ctx context.Context, id, createdBy string) (*api.Task, error) {
	return c.control(ctx, id, "/retry", api.RetryRequest{CreatedBy: createdBy})
}

func (c *Client) control(ctx context.Context, id, action string, body any) (*api.Task, error) {
	var task api.Task
	if err := c.do(ctx, http.MethodPost, taskPath(id, action), nil, body, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Logs returns the reconstructed activity of a task.
func (c *Client) Logs(ctx context.Context, id string) (*service.LogView, error) {
	var view service.LogView
	if err := c.do(ctx, http.MethodGet, taskPath(id, "/logs"), nil, nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// StreamLogs follows a task's activity over a websocket. onEvent is called
// for every event; return an error from it to stop. StreamLogs returns nil
// once the server reports the task done.
func (c *Client) StreamLogs(ctx context.Context, id string, onEvent func(api.LogEvent) error) error {
	wsURL := c.baseURL + taskPath(id, "/logs/stream")
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := http.Header{}
	header.Set(RequestIDHeader, uuid.New().String())

	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			defer func() { _ = resp.Body.Close() }()
			data, _ := io.ReadAll(resp.Body)
			return decodeError(resp.StatusCode, data)
		}
		return fmt.Errorf("websocket connect: %w", err)
	}

	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			_ = conn.Close()
		}
	}
	defer closeConn()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	for {
		var ev api.LogEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		if err := onEvent(ev); err != nil {
			return err
		}
		switch ev.Type {
		case api.EventDone:
			return nil
		case api.EventError:
			return fmt.Errorf("stream error: %s", ev.Error)
		}
	}
}

// =============================================================================
// ANALYTICS
// =============================================================================

// AnalyticsOptions selects the time window and operation of a report.
// Zero times leave the window to the server default.
type AnalyticsOptions struct {
	From      time.Time
	To        time.Time
	Operation string
	Page      int
	PageSize  int
}

func (o AnalyticsOptions) values() url.Values {
	q := url.Values{}
	if !o.From.IsZero() {
		q.Set("from", o.From.Format(time.RFC3339))
	}
	if !o.To.IsZero() {
		q.Set("to", o.To.Format(time.RFC3339))
	}
	setString(q, "operation", o.Operation)
	setInt(q, "page", o.Page)
	setInt(q, "page_size", o.PageSize)
	return q
}

// ErrorStats fetches failure statistics for a window.
func (c *Client) ErrorStats(ctx context.Context, opts AnalyticsOptions) (*service.ErrorStats, error) {
	var stats service.ErrorStats
	if err := c.do(ctx, http.MethodGet, "/api/analytics/errors", opts.values(), nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Consistency fetches one page of explanation consistency failures.
func (c *Client) Consistency(ctx context.Context, opts AnalyticsOptions) (*service.ConsistencyPage, error) {
	var page service.ConsistencyPage
	if err := c.do(ctx, http.MethodGet, "/api/analytics/consistency", opts.values(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ConsistencyCSV streams the consistency export into w.
func (c *Client) ConsistencyCSV(ctx context.Context, opts AnalyticsOptions, w io.Writer) error {
	q := opts.values()
	q.Set("format", "csv")
	req, err := c.newRequest(ctx, http.MethodGet, "/api/analytics/consistency", q, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return decodeError(resp.StatusCode, data)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("copy export: %w", err)
	}
	return nil
}

// =============================================================================
// REVIEWS
// =============================================================================

// ListReviews lists polish reviews by status.
func (c *Client) ListReviews(ctx context.Context, status string, limit int) ([]api.Review, error) {
	q := url.Values{}
	setString(q, "status", status)
	setInt(q, "limit", limit)

	var reviews []api.Review
	if err := c.do(ctx, http.MethodGet, "/api/reviews", q, nil, &reviews); err != nil {
		return nil, err
	}
	return reviews, nil
}

// ApproveReview applies a pending review to its question.
func (c *Client) ApproveReview(ctx context.Context, id, reviewer string) (*api.Approval, error) {
	var out api.Approval
	if err := c.do(ctx, http.MethodPost, reviewPath(id, "/approve"), nil, api.ReviewDecision{Reviewer: reviewer}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RejectReview rejects a pending review.
func (c *Client) RejectReview(ctx context.Context, id, reviewer, notes string) (*api.Review, error) {
	var out api.Review
	if err := c.do(ctx, http.MethodPost, reviewPath(id, "/reject"), nil, api.ReviewDecision{Reviewer: reviewer, Notes: notes}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats returns server metrics and in-process runs.
func (c *Client) Stats(ctx context.Context) (*api.Stats, error) {
	var stats api.Stats
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func taskPath(id, suffix string) string {
	return "/api/tasks/" + url.PathEscape(id) + suffix
}

func reviewPath(id, suffix string) string {
	return "/api/reviews/" + url.PathEscape(id) + suffix
}

func setString(q url.Values, key, v string) {
	if v != "" {
		q.Set(key, v)
	}
}

func setInt(q url.Values, key string, v int) {
	if v > 0 {
		q.Set(key, strconv.Itoa(v))
	}
}

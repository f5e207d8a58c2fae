// Package api serves the task engine over HTTP: JSON endpoints for tasks,
// items, analytics and reviews, plus a websocket stream of task activity.
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/quizproc-go/internal/db"
	"github.com/raphaelgruber/quizproc-go/internal/metrics"
	"github.com/raphaelgruber/quizproc-go/internal/models"
	"github.com/raphaelgruber/quizproc-go/internal/service"
)

// Tasks is the task surface the API depends on.
type Tasks interface {
	CreateTask(ctx context.Context, req service.CreateTaskRequest) (*service.TaskView, error)
	GetTask(ctx context.Context, id string) (*service.TaskView, error)
	ListTasks(ctx context.Context, filter db.TaskFilter) ([]service.TaskView, int, error)
	ListItems(ctx context.Context, taskID string, filter db.ItemFilter) ([]models.Item, error)
	CancelTask(ctx context.Context, id string) (*service.TaskView, error)
	PauseTask(ctx context.Context, id string) (*service.TaskView, error)
	RetryTask(ctx context.Context, originalID, createdBy string) (*service.TaskView, error)
	ProcessingLogs(ctx context.Context, taskID string) (*service.LogView, error)
}

// Analytics is the reporting surface the API depends on.
type Analytics interface {
	ErrorStats(ctx context.Context, q service.ErrorStatsQuery) (*service.ErrorStats, error)
	Consistency(ctx context.Context, q service.ConsistencyQuery) (*service.ConsistencyPage, error)
	ExportConsistencyCSV(ctx context.Context, q service.ConsistencyQuery, w io.Writer) (int, error)
}

// Reviews is the review surface the API depends on.
type Reviews interface {
	ListReviews(ctx context.Context, status models.ReviewStatus, limit int) ([]models.PolishReview, error)
	ApproveReview(ctx context.Context, id, approver string) (*models.ApprovalResult, error)
	RejectReview(ctx context.Context, id, reviewer, notes string) (*models.PolishReview, error)
}

// Runner starts task runs in the background.
type Runner interface {
	Start(ctx context.Context, taskID string) bool
	Runs() []service.RunState
}

const defaultStreamInterval = 2 * time.Second

// Config holds the dependencies of a Server. Runner and Metrics are optional:
// without a runner, created tasks stay pending until a polling process picks
// them up.
type Config struct {
	Tasks          Tasks
	Analytics      Analytics
	Reviews        Reviews
	Runner         Runner
	Metrics        *metrics.Collector
	Logger         *slog.Logger
	StreamInterval time.Duration
}

// Server routes API requests to the services.
type Server struct {
	cfg      Config
	baseCtx  context.Context
	mux      *http.ServeMux
	upgrader websocket.Upgrader
}

// New builds a Server. Runs started through the API are bound to ctx rather
// than to the request that created them.
func New(ctx context.Context, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = defaultStreamInterval
	}
	s := &Server{
		cfg:     cfg,
		baseCtx: ctx,
		mux:     http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.mux.HandleFunc("GET /api/stats", s.handleStats)

	s.mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	s.mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	s.mux.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	s.mux.HandleFunc("GET /api/tasks/{id}/items", s.handleListItems)
	s.mux.HandleFunc("POST /api/tasks/{id}/cancel", s.handleCancelTask)
	s.mux.HandleFunc("POST /api/tasks/{id}/pause", s.handlePauseTask)
	s.mux.HandleFunc("POST /api/tasks/{id}/retry", s.handleRetryTask)
	s.mux.HandleFunc("GET /api/tasks/{id}/logs", s.handleLogs)
	s.mux.HandleFunc("GET /api/tasks/{id}/logs/stream", s.handleLogStream)

	s.mux.HandleFunc("GET /api/analytics/errors", s.handleErrorStats)
	s.mux.HandleFunc("GET /api/analytics/consistency", s.handleConsistency)

	s.mux.HandleFunc("GET /api/reviews", s.handleListReviews)
	s.mux.HandleFunc("POST /api/reviews/{id}/approve", s.handleApproveReview)
	s.mux.HandleFunc("POST /api/reviews/{id}/reject", s.handleRejectReview)
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	return LoggingMiddleware(s.cfg.Logger)(s.mux)
}

func (s *Server) start(taskID string) {
	if s.cfg.Runner == nil {
		return
	}
	if !s.cfg.Runner.Start(s.baseCtx, taskID) {
		s.cfg.Logger.Debug("task already running", "task_id", taskID)
	}
}

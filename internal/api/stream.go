package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/quizproc-go/internal/models"
	"github.com/raphaelgruber/quizproc-go/internal/service"
)

const writeTimeout = 10 * time.Second

// handleLogStream upgrades to a websocket and pushes new activity lines until
// the task stops running or the client goes away.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")

	// Resolve before upgrading so an unknown task is a plain 404.
	view, err := s.cfg.Tasks.ProcessingLogs(r.Context(), taskID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.cfg.Logger.Debug("websocket upgrade failed", "task_id", taskID, "error", err)
		return
	}
	defer func() { _ = conn.Close() }()
	// The server's read timeout would otherwise end the stream early.
	_ = conn.SetReadDeadline(time.Time{})

	ctx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.cfg.StreamInterval)
	defer ticker.Stop()

	seen := make(map[string]bool)
	first := true
	for {
		fresh := unseen(view.Logs, seen)
		if first || len(fresh) > 0 {
			if err := send(conn, LogEvent{
				Type:      EventLogs,
				Status:    view.Status,
				Logs:      fresh,
				Processed: view.Progress.Processed,
				Total:     view.Progress.Total,
			}); err != nil {
				return
			}
			first = false
		}

		if streamDone(view.Status) {
			_ = send(conn, LogEvent{
				Type:      EventDone,
				Status:    view.Status,
				Processed: view.Progress.Processed,
				Total:     view.Progress.Total,
			})
			closeNormal(conn)
			return
		}

		select {
		case <-ctx.Done():
			closeNormal(conn)
			return
		case <-ticker.C:
		}

		view, err = s.cfg.Tasks.ProcessingLogs(ctx, taskID)
		if err != nil {
			if ctx.Err() == nil {
				s.cfg.Logger.Warn("log stream refresh failed", "task_id", taskID, "error", err)
				_ = send(conn, LogEvent{Type: EventError, Error: err.Error()})
			}
			closeNormal(conn)
			return
		}
	}
}

func streamDone(status models.TaskStatus) bool {
	return status.IsTerminal() || status == models.TaskPaused
}

// unseen returns lines not sent yet. Lines are keyed by content rather than
// position because reconstruction orders by time and late lines can land
// anywhere.
func unseen(lines []service.LogLine, seen map[string]bool) []service.LogLine {
	var out []service.LogLine
	for _, l := range lines {
		key := fmt.Sprintf("%d|%s|%d|%s|%s", l.Timestamp.UnixNano(), l.Type, l.QuestionID, l.Operation, l.Message)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, l)
	}
	return out
}

func send(conn *websocket.Conn, ev LogEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(ev)
}

func closeNormal(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

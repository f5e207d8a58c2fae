package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/raphaelgruber/quizproc-go/internal/api"
	"github.com/raphaelgruber/quizproc-go/internal/client"
	"github.com/raphaelgruber/quizproc-go/internal/models"
)

const pollInterval = time.Second

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Warn    lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"),
	Success: lipgloss.Color("#00D787"),
	Warn:    lipgloss.Color("#FFAF00"),
	Error:   lipgloss.Color("#FF005F"),
	Hint:    lipgloss.Color("#6C6C6C"),
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) warnStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Warn).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// tickMsg triggers polling the task.
type tickMsg time.Time

// taskUpdateMsg carries the refreshed task.
type taskUpdateMsg struct {
	task *api.Task
	err  error
}

// errTaskUnsuccessful marks a watched task that ended failed or cancelled.
var errTaskUnsuccessful = errors.New("task did not succeed")

// progressModel is the bubbletea model for task progress.
type progressModel struct {
	fetch    func(ctx context.Context, id string) (*api.Task, error)
	taskID   string
	task     *api.Task
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
	err      error
}

func newProgressModel(c *client.Client, task *api.Task) progressModel {
	return progressModel{
		fetch:    c.GetTask,
		taskID:   task.ID,
		task:     task,
		progress: progress.New(progress.WithDefaultBlend(), progress.WithWidth(40)),
		theme:    defaultTheme,
	}
}

func (m progressModel) Init() tea.Cmd {
	return tea.Batch(tickCmd(), m.progress.Init())
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetchTask()

	case taskUpdateMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("fetch task: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}
		m.task = msg.task
		if stopped(m.task.Status) {
			m.done = true
			m.err = outcomeError(m.task)
			return m, tea.Quit
		}
		return m, tickCmd()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}
	if m.task == nil {
		return "Loading task...\n"
	}

	p := m.task.Progress
	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.task.Status))
	bar := m.progress.ViewAs(p.Percent / 100)
	counts := fmt.Sprintf("%s questions", progressCell(*m.task))
	items := fmt.Sprintf("items: %d ok, %d failed, %d running", p.CompletedItems, p.FailedItems, p.ProcessingItems)
	hint := m.theme.hintStyle().Render("Press q to stop watching; the task keeps running")

	return fmt.Sprintf("%s %s %s\n%s\n%s\n", status, bar, counts, items, hint)
}

func (m progressModel) finalView() string {
	if m.quitting {
		return m.theme.hintStyle().Render(fmt.Sprintf(
			"\nTask %s keeps running.\nUse 'quizproc tasks watch %s' to follow it again.\n", m.taskID, m.taskID))
	}
	if m.task == nil || !stopped(m.task.Status) {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ %s\n", m.err))
	}
	return summary(m.theme, m.task)
}

func summary(theme Theme, t *api.Task) string {
	var b strings.Builder
	switch t.Status {
	case models.TaskSucceeded, models.TaskCompleted:
		b.WriteString(theme.completedStyle().Render("✓ " + string(t.Status)))
	case models.TaskPartiallySucceeded, models.TaskPaused:
		b.WriteString(theme.warnStyle().Render("! " + string(t.Status)))
	default:
		b.WriteString(theme.errorStyle().Render("✗ " + string(t.Status)))
	}
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "  Questions:  %s\n", progressCell(*t))
	fmt.Fprintf(&b, "  Succeeded:  %d\n", t.SucceededCount)
	fmt.Fprintf(&b, "  Failed:     %d\n", t.FailedCount)
	if t.Status.IsRetryable() {
		fmt.Fprintf(&b, "\nRetry with 'quizproc tasks retry %s'\n", t.ID)
	}
	return b.String()
}

func stopped(s models.TaskStatus) bool {
	return s.IsTerminal() || s == models.TaskPaused
}

func outcomeError(t *api.Task) error {
	switch t.Status {
	case models.TaskFailed, models.TaskCancelled:
		return fmt.Errorf("%w: %s is %s", errTaskUnsuccessful, t.ID, t.Status)
	}
	return nil
}

// fetchTask runs in a command goroutine so Update never blocks.
func (m progressModel) fetchTask() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		task, err := m.fetch(ctx, m.taskID)
		return taskUpdateMsg{task: task, err: err}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// watchTask follows a task until it stops. On a terminal it shows a live
// progress bar; otherwise it prints the activity stream line by line.
// It returns an error when the task ends failed or cancelled.
func watchTask(ctx context.Context, task *api.Task) error {
	if stopped(task.Status) {
		fmt.Print(summary(defaultTheme, task))
		return outcomeError(task)
	}
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		if err := followLogs(ctx, task.ID); err != nil || ctx.Err() != nil {
			return err
		}
		final, err := apiClient.GetTask(ctx, task.ID)
		if err != nil {
			return fmt.Errorf("get task: %w", err)
		}
		return outcomeError(final)
	}

	final, err := tea.NewProgram(newProgressModel(apiClient, task)).Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}
	if m, ok := final.(progressModel); ok && !m.quitting {
		return m.err
	}
	return nil
}

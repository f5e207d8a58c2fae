package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/quizproc-go/internal/api"
	"github.com/raphaelgruber/quizproc-go/internal/client"
	"github.com/raphaelgruber/quizproc-go/internal/models"
	"github.com/raphaelgruber/quizproc-go/internal/service"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Create, list and control tasks",
}

var (
	createFile        string
	createOps         []string
	createQuestions   string
	createFrom        string
	createTo          []string
	createLocale      string
	createProvider    string
	createModel       string
	createBatchSize   int
	createPolicy      string
	createStopOnError bool
	createBy          string
	createWatch       bool
)

var tasksCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Plan a new task",
	Long: `Plan a new task from flags or from a YAML file.

Without --questions the scope is every question that still needs work for
the requested operations.

Examples:
  quizproc tasks create --op translate --from zh --to en,ja --questions 1-50
  quizproc tasks create --op polish --locale en --watch
  quizproc tasks create --file nightly.yaml`,
	Args: cobra.NoArgs,
	RunE: runTasksCreate,
}

var (
	listStatus []string
	listLimit  int
	listOffset int
)

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, newest first",
	Args:  cobra.NoArgs,
	RunE:  runTasksList,
}

var tasksShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show a task with its progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksShow,
}

var (
	itemsOp     string
	itemsStatus string
	itemsLang   string
	itemsLimit  int
)

var tasksItemsCmd = &cobra.Command{
	Use:   "items <task-id>",
	Short: "List the items of a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksItems,
}

var tasksCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		task, err := apiClient.CancelTask(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("cancel task: %w", err)
		}
		return printTaskResult(task, "Cancelled")
	},
}

var tasksPauseCmd = &cobra.Command{
	Use:   "pause <task-id>",
	Short: "Pause a running task",
	Long: `Pause a running task. In-flight questions finish; the rest stay pending
and can be picked up again with "tasks retry".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		task, err := apiClient.PauseTask(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("pause task: %w", err)
		}
		return printTaskResult(task, "Paused")
	},
}

var (
	retryBy    string
	retryWatch bool
)

var tasksRetryCmd = &cobra.Command{
	Use:   "retry <task-id>",
	Short: "Retry the unfinished questions of a failed, cancelled or paused task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		task, err := apiClient.RetryTask(cmd.Context(), args[0], retryBy)
		if err != nil {
			return fmt.Errorf("retry task: %w", err)
		}
		if retryWatch {
			return watchTask(cmd.Context(), task)
		}
		return printTaskResult(task, "Created retry task")
	},
}

var tasksWatchCmd = &cobra.Command{
	Use:   "watch <task-id>",
	Short: "Follow a task's progress until it stops",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		task, err := apiClient.GetTask(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("get task: %w", err)
		}
		return watchTask(cmd.Context(), task)
	},
}

func init() {
	f := tasksCreateCmd.Flags()
	f.StringVarP(&createFile, "file", "f", "", "YAML file with the task request")
	f.StringSliceVar(&createOps, "op", nil, "operation: translate, polish, category_tags (repeatable)")
	f.StringVarP(&createQuestions, "questions", "q", "", "question ids, e.g. 1,2,10-20")
	f.StringVar(&createFrom, "from", "", "translation source locale")
	f.StringSliceVar(&createTo, "to", nil, "translation target locales")
	f.StringVar(&createLocale, "locale", "", "polish locale")
	f.StringVar(&createProvider, "provider", "", "LLM provider override")
	f.StringVar(&createModel, "model", "", "LLM model override")
	f.IntVar(&createBatchSize, "batch-size", 0, "questions per batch (default from server)")
	f.StringVar(&createPolicy, "policy", "", "terminal policy: any_failure or all_failed")
	f.BoolVar(&createStopOnError, "stop-on-error", false, "stop after the first failed batch")
	f.StringVar(&createBy, "created-by", defaultUser(), "creator recorded on the task")
	f.BoolVarP(&createWatch, "watch", "w", false, "follow progress after creating")

	tasksListCmd.Flags().StringSliceVarP(&listStatus, "status", "s", nil, "filter by status (repeatable)")
	tasksListCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "maximum tasks to show")
	tasksListCmd.Flags().IntVar(&listOffset, "offset", 0, "tasks to skip")

	tasksItemsCmd.Flags().StringVar(&itemsOp, "op", "", "filter by operation")
	tasksItemsCmd.Flags().StringVarP(&itemsStatus, "status", "s", "", "filter by item status")
	tasksItemsCmd.Flags().StringVar(&itemsLang, "lang", "", "filter by target locale")
	tasksItemsCmd.Flags().IntVarP(&itemsLimit, "limit", "n", 100, "maximum items to show")

	tasksRetryCmd.Flags().StringVar(&retryBy, "created-by", defaultUser(), "creator recorded on the retry task")
	tasksRetryCmd.Flags().BoolVarP(&retryWatch, "watch", "w", false, "follow progress after creating")

	tasksCmd.AddCommand(tasksCreateCmd, tasksListCmd, tasksShowCmd, tasksItemsCmd,
		tasksCancelCmd, tasksPauseCmd, tasksRetryCmd, tasksWatchCmd)
}

func runTasksCreate(cmd *cobra.Command, _ []string) error {
	req, err := buildCreateRequest()
	if err != nil {
		return err
	}
	task, err := apiClient.CreateTask(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	if createWatch {
		return watchTask(cmd.Context(), task)
	}
	return printTaskResult(task, "Created task")
}

// buildCreateRequest reads --file when given, then lets explicit flags
// override what the file set.
func buildCreateRequest() (service.CreateTaskRequest, error) {
	var req service.CreateTaskRequest
	if createFile != "" {
		data, err := os.ReadFile(createFile)
		if err != nil {
			return req, fmt.Errorf("read task file: %w", err)
		}
		if err := yaml.Unmarshal(data, &req); err != nil {
			return req, fmt.Errorf("parse task file: %w", err)
		}
	}

	for _, op := range createOps {
		req.Operations = append(req.Operations, models.Operation(strings.TrimSpace(op)))
	}
	if createQuestions != "" {
		ids, err := parseQuestionIDs(createQuestions)
		if err != nil {
			return req, err
		}
		req.QuestionIDs = ids
	}
	if createFrom != "" || len(createTo) > 0 {
		if req.Options.Translate == nil {
			req.Options.Translate = &models.TranslateOptions{}
		}
		if createFrom != "" {
			req.Options.Translate.From = createFrom
		}
		if len(createTo) > 0 {
			req.Options.Translate.To = models.LocaleList(createTo)
		}
	}
	if createLocale != "" {
		req.Options.Polish = &models.PolishOptions{Locale: createLocale}
	}
	if createProvider != "" {
		req.Options.Execution.Provider = createProvider
	}
	if createModel != "" {
		req.Options.Execution.Model = createModel
	}
	if createBatchSize > 0 {
		req.Options.BatchSize = createBatchSize
	}
	if createPolicy != "" {
		req.Options.TerminalPolicy = models.TerminalPolicy(createPolicy)
	}
	if createStopOnError {
		off := false
		req.Options.ContinueOnError = &off
	}
	if req.CreatedBy == "" {
		req.CreatedBy = createBy
	}
	if len(req.Operations) == 0 {
		return req, fmt.Errorf("at least one --op is required")
	}
	return req, nil
}

// parseQuestionIDs parses "1,2,10-12" into ids. Ranges are inclusive.
func parseQuestionIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		start, err := strconv.ParseInt(strings.TrimSpace(lo), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid question id %q", part)
		}
		end := start
		if isRange {
			if end, err = strconv.ParseInt(strings.TrimSpace(hi), 10, 64); err != nil || end < start {
				return nil, fmt.Errorf("invalid question range %q", part)
			}
		}
		for id := start; id <= end; id++ {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no question ids in %q", raw)
	}
	return ids, nil
}

func runTasksList(cmd *cobra.Command, _ []string) error {
	list, err := apiClient.ListTasks(cmd.Context(), client.TaskListOptions{
		Statuses: listStatus,
		Limit:    listLimit,
		Offset:   listOffset,
	})
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	if asJSON {
		return printJSON(list)
	}
	if len(list.Tasks) == 0 {
		fmt.Println("No tasks found")
		return nil
	}

	fmt.Printf("%-22s %-20s %-28s %-12s %s\n", "ID", "STATUS", "OPERATIONS", "PROGRESS", "CREATED")
	fmt.Println(strings.Repeat("-", 100))
	for _, t := range list.Tasks {
		fmt.Printf("%-22s %-20s %-28s %-12s %s\n",
			t.ID, t.Status, joinOps(t.Operations), progressCell(t), t.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	if shown := listOffset + len(list.Tasks); shown < list.Total {
		fmt.Printf("\n%d of %d tasks shown\n", shown, list.Total)
	}
	return nil
}

func runTasksShow(cmd *cobra.Command, args []string) error {
	task, err := apiClient.GetTask(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	if asJSON {
		return printJSON(task)
	}
	printTask(task)
	return nil
}

func runTasksItems(cmd *cobra.Command, args []string) error {
	items, err := apiClient.ListItems(cmd.Context(), args[0], client.ItemListOptions{
		Operation: itemsOp,
		Status:    itemsStatus,
		Lang:      itemsLang,
		Limit:     itemsLimit,
	})
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}
	if asJSON {
		return printJSON(items)
	}
	if len(items) == 0 {
		fmt.Println("No items found")
		return nil
	}

	fmt.Printf("%-10s %-14s %-6s %-20s %s\n", "QUESTION", "OPERATION", "LANG", "STATUS", "ERROR")
	for _, it := range items {
		lang := "-"
		if it.TargetLang != nil {
			lang = *it.TargetLang
		}
		fmt.Printf("%-10d %-14s %-6s %-20s %s\n", it.QuestionID, it.Operation, lang, it.Status, it.ErrorCode)
	}
	return nil
}

func printTaskResult(task *api.Task, verb string) error {
	if asJSON {
		return printJSON(task)
	}
	fmt.Printf("%s %s (%s)\n", verb, task.ID, task.Status)
	return nil
}

func printTask(t *api.Task) {
	fmt.Printf("Task: %s\n", t.ID)
	fmt.Printf("  Status:     %s\n", t.Status)
	fmt.Printf("  Operations: %s\n", joinOps(t.Operations))
	if tr := t.Options.Translate; tr != nil {
		fmt.Printf("  Translate:  %s -> %s\n", tr.From, strings.Join(tr.To, ", "))
	}
	if p := t.Options.Polish; p != nil {
		fmt.Printf("  Polish:     %s\n", p.Locale)
	}
	if ex := t.Options.Execution; ex.Provider != "" {
		fmt.Printf("  Model:      %s %s\n", ex.Provider, ex.Model)
	}
	fmt.Printf("  Progress:   %s (%.0f%%)\n", progressCell(*t), t.Progress.Percent)
	fmt.Printf("  Items:      %d done, %d failed, %d partial, %d processing, %d pending\n",
		t.Progress.CompletedItems, t.Progress.FailedItems, t.Progress.PartialItems,
		t.Progress.ProcessingItems, t.Progress.PendingItems)
	fmt.Printf("  Batch:      %d (size %d)\n", t.CurrentBatch, t.Options.BatchSize)
	fmt.Printf("  Created:    %s by %s\n", t.CreatedAt.Local().Format(time.RFC3339), t.CreatedBy)
	if t.StartedAt != nil {
		fmt.Printf("  Started:    %s\n", t.StartedAt.Local().Format(time.RFC3339))
	}
	if t.CompletedAt != nil {
		fmt.Printf("  Finished:   %s\n", t.CompletedAt.Local().Format(time.RFC3339))
	}
	if verbose && len(t.ServerLogs) > 0 {
		fmt.Println("  Server logs:")
		for _, l := range t.ServerLogs {
			fmt.Printf("    %s [%s] %s\n", l.Timestamp.Local().Format("15:04:05"), l.Level, l.Message)
		}
	}
}

func progressCell(t api.Task) string {
	if t.Progress.TotalQuestions == 0 {
		return fmt.Sprintf("%d/?", t.ProcessedCount)
	}
	return fmt.Sprintf("%d/%d", t.Progress.ProcessedQuestions, t.Progress.TotalQuestions)
}

func joinOps(ops []models.Operation) string {
	parts := make([]string, len(ops))
	for i, op := range ops {
		parts[i] = string(op)
	}
	return strings.Join(parts, ",")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func defaultUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/quizproc-go/internal/api"
	"github.com/raphaelgruber/quizproc-go/internal/service"
)

var logsFollow bool

var logsCmd = &cobra.Command{
	Use:   "logs <task-id>",
	Short: "Show a task's processing activity",
	Long: `Show the activity of a task, rebuilt from its server log and the
per-question traces.

Examples:
  quizproc logs t_abc          # print the activity so far
  quizproc logs t_abc -f       # keep following until the task stops`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if logsFollow {
			return followLogs(cmd.Context(), args[0])
		}
		view, err := apiClient.Logs(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("get logs: %w", err)
		}
		if asJSON {
			return printJSON(view)
		}
		for _, l := range view.Logs {
			printLogLine(l)
		}
		fmt.Printf("\n[%s] %s\n", view.Status, processedText(view.Progress.Processed, view.Progress.Total))
		return nil
	},
}

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "follow until the task stops")
}

// followLogs streams a task's activity to stdout until the task stops.
func followLogs(ctx context.Context, taskID string) error {
	var last api.LogEvent
	err := apiClient.StreamLogs(ctx, taskID, func(ev api.LogEvent) error {
		for _, l := range ev.Logs {
			printLogLine(l)
		}
		last = ev
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("follow logs: %w", err)
	}
	if last.Type == api.EventDone {
		fmt.Printf("\n[%s] %s\n", last.Status, processedText(last.Processed, last.Total))
	}
	return nil
}

func printLogLine(l service.LogLine) {
	fmt.Printf("%s %-5s %s\n", l.Timestamp.Local().Format("15:04:05"), l.Level, l.Message)
}

func processedText(processed int, total *int) string {
	if total == nil {
		return fmt.Sprintf("%d questions processed", processed)
	}
	return fmt.Sprintf("%d/%d questions processed", processed, *total)
}

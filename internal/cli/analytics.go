package cli

import (
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/quizproc-go/internal/api"
	"github.com/raphaelgruber/quizproc-go/internal/client"
	"github.com/raphaelgruber/quizproc-go/internal/models"
)

var (
	reportFrom string
	reportTo   string
	reportOp   string
	reportDays int
)

var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "Summarize item failures",
	Long: `Summarize failed items by error code, target locale and stage, and list
the questions that failed most often. The default window is the last 7 days.

Examples:
  quizproc errors
  quizproc errors --days 30 --op translate
  quizproc errors --from 2026-03-01 --to 2026-03-08`,
	Args: cobra.NoArgs,
	RunE: runErrors,
}

var (
	consistencyCSV      string
	consistencyPage     int
	consistencyPageSize int
)

var consistencyCmd = &cobra.Command{
	Use:   "consistency",
	Short: "List explanations that contradict the correct answer",
	Long: `List items whose generated explanation concluded a different answer than
the stored one in at least one locale.

Examples:
  quizproc consistency
  quizproc consistency --page 2 --page-size 50
  quizproc consistency --csv report.csv`,
	Args: cobra.NoArgs,
	RunE: runConsistency,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show server metrics and in-process runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		stats, err := apiClient.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}
		return printJSON(stats)
	},
}

func init() {
	for _, c := range []*cobra.Command{errorsCmd, consistencyCmd} {
		c.Flags().StringVar(&reportFrom, "from", "", "window start (RFC 3339 or YYYY-MM-DD)")
		c.Flags().StringVar(&reportTo, "to", "", "window end (RFC 3339 or YYYY-MM-DD)")
		c.Flags().IntVar(&reportDays, "days", 0, "window of the last N days (overrides --from)")
		c.Flags().StringVar(&reportOp, "op", "", "only this operation")
	}
	consistencyCmd.Flags().StringVar(&consistencyCSV, "csv", "", "write the full export to this file ('-' for stdout)")
	consistencyCmd.Flags().IntVar(&consistencyPage, "page", 1, "page number")
	consistencyCmd.Flags().IntVar(&consistencyPageSize, "page-size", 20, "rows per page")
}

func reportOptions() (client.AnalyticsOptions, error) {
	opts := client.AnalyticsOptions{Operation: reportOp}
	var err error
	if opts.From, err = api.ParseTime(reportFrom); err != nil {
		return opts, err
	}
	if opts.To, err = api.ParseTime(reportTo); err != nil {
		return opts, err
	}
	if reportDays > 0 {
		opts.From = time.Now().AddDate(0, 0, -reportDays)
	}
	return opts, nil
}

func runErrors(cmd *cobra.Command, _ []string) error {
	opts, err := reportOptions()
	if err != nil {
		return err
	}
	stats, err := apiClient.ErrorStats(cmd.Context(), opts)
	if err != nil {
		return fmt.Errorf("error stats: %w", err)
	}
	if asJSON {
		return printJSON(stats)
	}

	fmt.Printf("Failures %s .. %s: %d\n", stats.From.Local().Format("2006-01-02 15:04"),
		stats.To.Local().Format("2006-01-02 15:04"), stats.TotalFailed)
	if stats.TotalFailed == 0 {
		return nil
	}

	fmt.Println("\nBy error code:")
	printCounts(stats.ByErrorCode)
	fmt.Println("\nBy stage:")
	printCounts(stats.ByErrorStage)

	fmt.Println("\nBy target locale:")
	for _, lang := range slices.Sorted(maps.Keys(stats.ByTargetLanguage)) {
		l := stats.ByTargetLanguage[lang]
		fmt.Printf("  %-10s %5d / %-5d %5.1f%%\n", lang, l.FailedCount, l.TotalCount, l.FailureRate*100)
	}

	fmt.Println("\nTop questions:")
	for _, q := range stats.TopQuestions {
		fmt.Printf("  %-10d %3d  %s\n", q.QuestionID, q.FailedCount, q.LastErrorCode)
	}
	return nil
}

// printCounts prints a count map, largest first.
func printCounts(m map[string]int) {
	keys := slices.Collect(maps.Keys(m))
	slices.SortFunc(keys, func(a, b string) int {
		if m[a] != m[b] {
			return m[b] - m[a]
		}
		return strings.Compare(a, b)
	})
	for _, k := range keys {
		fmt.Printf("  %-30s %d\n", k, m[k])
	}
}

func runConsistency(cmd *cobra.Command, _ []string) error {
	opts, err := reportOptions()
	if err != nil {
		return err
	}

	if consistencyCSV != "" {
		err := writeExport(consistencyCSV, func(w io.Writer) error {
			return apiClient.ConsistencyCSV(cmd.Context(), opts, w)
		})
		if err != nil {
			return fmt.Errorf("export consistency: %w", err)
		}
		if consistencyCSV != "-" {
			fmt.Printf("Wrote %s\n", consistencyCSV)
		}
		return nil
	}

	opts.Page, opts.PageSize = consistencyPage, consistencyPageSize
	page, err := apiClient.Consistency(cmd.Context(), opts)
	if err != nil {
		return fmt.Errorf("consistency: %w", err)
	}
	if asJSON {
		return printJSON(page)
	}
	if page.Total == 0 {
		fmt.Println("No inconsistent explanations found")
		return nil
	}

	fmt.Printf("%-10s %-14s %-7s %-9s %-9s %s\n", "QUESTION", "HASH", "LOCALE", "EXPECTED", "INFERRED", "SOURCE")
	for _, row := range page.Items {
		for _, e := range row.Entries {
			if e.Status == models.ConsistencyConsistent {
				continue
			}
			fmt.Printf("%-10d %-14s %-7s %-9s %-9s %s\n", row.QuestionID, shortHash(row.ContentHash),
				e.Locale, e.Expected, e.Inferred, e.Source)
		}
	}
	fmt.Printf("\nPage %d, %d of %d items\n", page.Page, len(page.Items), page.Total)
	if page.HasMore {
		fmt.Printf("Next: --page %d\n", page.Page+1)
	}
	return nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	if h == "" {
		return "-"
	}
	return h
}

// createExport opens an export destination file.
var createExport = func(path string) (io.WriteCloser, error) {
	return os.Create(path)
}

// writeExport runs export against path, or stdout for "-". A failed close
// fails the export since buffered rows may not have reached the disk.
func writeExport(path string, export func(io.Writer) error) (err error) {
	if path == "-" {
		return export(os.Stdout)
	}
	f, err := createExport(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close export file: %w", cerr)
		}
	}()
	return export(f)
}

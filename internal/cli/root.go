// Package cli provides the command-line interface for quizproc.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/quizproc-go/internal/client"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string
	asJSON    bool

	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "quizproc",
	Short: "Batch question processing",
	Long: `quizproc plans and follows batch tasks over a question bank: translating
questions into more locales, polishing their wording and assigning category
and topic tags with an LLM.

Most commands talk to a running quizproc-server (see --server or
QUIZPROC_SERVER_URL). "quizproc run" executes a task in this process instead.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		apiClient = client.New(serverURL)
		return nil
	},
}

// Execute runs the root command. Commands see a context that is cancelled
// on SIGINT or SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (default $QUIZPROC_SERVER_URL or http://localhost:8484)")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print raw JSON")

	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(errorsCmd)
	rootCmd.AddCommand(consistencyCmd)
	rootCmd.AddCommand(reviewsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(runCmd)
}

// exitWithError prints an error message and exits with code 1.
func exitWithError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

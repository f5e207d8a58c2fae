package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var reviewsCmd = &cobra.Command{
	Use:   "reviews",
	Short: "Inspect and decide polish reviews",
}

var (
	reviewsStatus string
	reviewsLimit  int
	reviewer      string
	rejectNotes   string
)

var reviewsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List polish reviews",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		reviews, err := apiClient.ListReviews(cmd.Context(), reviewsStatus, reviewsLimit)
		if err != nil {
			return fmt.Errorf("list reviews: %w", err)
		}
		if asJSON {
			return printJSON(reviews)
		}
		if len(reviews) == 0 {
			fmt.Printf("No %s reviews\n", reviewsStatus)
			return nil
		}
		for _, r := range reviews {
			fmt.Printf("%s  %s  [%s]  %s\n", r.ID, shortHash(r.ContentHash), r.Locale, r.Status)
			if text := r.ProposedContent[r.Locale]; text != "" {
				fmt.Printf("    %s\n", oneLine(text, 100))
			}
		}
		return nil
	},
}

var reviewsApproveCmd = &cobra.Command{
	Use:   "approve <review-id>",
	Short: "Apply a pending review to its question",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := apiClient.ApproveReview(cmd.Context(), args[0], reviewer)
		if err != nil {
			return fmt.Errorf("approve review: %w", err)
		}
		if asJSON {
			return printJSON(res)
		}
		fmt.Printf("Approved %s: question %d is now at version %d\n", res.Review.ID, res.QuestionID, res.QuestionVersion)
		return nil
	},
}

var reviewsRejectCmd = &cobra.Command{
	Use:   "reject <review-id>",
	Short: "Reject a pending review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := apiClient.RejectReview(cmd.Context(), args[0], reviewer, rejectNotes)
		if err != nil {
			return fmt.Errorf("reject review: %w", err)
		}
		if asJSON {
			return printJSON(r)
		}
		fmt.Printf("Rejected %s\n", r.ID)
		return nil
	},
}

func init() {
	reviewsListCmd.Flags().StringVarP(&reviewsStatus, "status", "s", "pending", "pending, approved or rejected")
	reviewsListCmd.Flags().IntVarP(&reviewsLimit, "limit", "n", 50, "maximum reviews to show")
	for _, c := range []*cobra.Command{reviewsApproveCmd, reviewsRejectCmd} {
		c.Flags().StringVar(&reviewer, "reviewer", defaultUser(), "who decided")
	}
	reviewsRejectCmd.Flags().StringVar(&rejectNotes, "notes", "", "reason for the rejection")

	reviewsCmd.AddCommand(reviewsListCmd, reviewsApproveCmd, reviewsRejectCmd)
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

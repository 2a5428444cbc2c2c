package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/trustroute/internal/document"
	"github.com/MeKo-Tech/trustroute/internal/review"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work the human review queue",
	Long: `List low trust regions, apply reviewer decisions and show review statistics.

Examples:
  trustroute review queue --limit 10
  trustroute review apply job-1-r0 --user alice --action approve
  trustroute review apply job-1-r2 --user alice --action correct --value "Paracetamol 500mg"
  trustroute review stats`,
}

var reviewQueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List unverified regions below the trust threshold",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		skip, _ := cmd.Flags().GetInt("skip")
		limit, _ := cmd.Flags().GetInt("limit")
		return withWorkflow(cmd, func(ctx context.Context, wf *review.Workflow) error {
			items, err := wf.Queue(ctx, skip, limit)
			if err != nil {
				return err
			}
			if format, _ := cmd.Flags().GetString("format"); format == outputFormatJSON {
				return writeJSON(cmd.OutOrStdout(), items)
			}
			return printQueue(cmd.OutOrStdout(), items)
		})
	},
}

var reviewApplyCmd = &cobra.Command{
	Use:   "apply <region-id>",
	Short: "Approve, correct or skip a region",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		user, _ := flags.GetString("user")
		action, _ := flags.GetString("action")
		note, _ := flags.GetString("note")
		req := review.Request{
			RegionID: args[0],
			UserID:   user,
			Action:   document.ReviewAction(strings.ToLower(action)),
			Note:     note,
		}
		if flags.Changed("value") {
			v, _ := flags.GetString("value")
			req.VerifiedValue = &v
		}

		return withWorkflow(cmd, func(ctx context.Context, wf *review.Workflow) error {
			entry, err := wf.Review(ctx, req)
			if err != nil {
				return err
			}
			if format, _ := flags.GetString("format"); format == outputFormatJSON {
				return writeJSON(cmd.OutOrStdout(), entry)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Region %s (job %s): %s by %s, trust %.3f -> %.3f\n",
				entry.RegionID, entry.JobID, entry.Action, entry.UserID, entry.Before.TrustScore, entry.After.TrustScore)
			return err
		})
	},
}

var reviewStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show review progress",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkflow(cmd, func(ctx context.Context, wf *review.Workflow) error {
			stats, err := wf.Stats(ctx)
			if err != nil {
				return err
			}
			if format, _ := cmd.Flags().GetString("format"); format == outputFormatJSON {
				return writeJSON(cmd.OutOrStdout(), stats)
			}
			var b strings.Builder
			fmt.Fprintf(&b, "Total regions:     %d\n", stats.TotalRegions)
			fmt.Fprintf(&b, "Verified:          %d (%.1f%%)\n", stats.VerifiedRegions, stats.VerificationRate)
			fmt.Fprintf(&b, "Pending review:    %d\n", stats.PendingReview)
			for _, a := range []document.ReviewAction{document.ActionApprove, document.ActionCorrect, document.ActionSkip} {
				fmt.Fprintf(&b, "  %-8s %d\n", a, stats.ActionBreakdown[string(a)])
			}
			_, err = io.WriteString(cmd.OutOrStdout(), b.String())
			return err
		})
	},
}

// withWorkflow opens the configured store for the duration of fn.
func withWorkflow(cmd *cobra.Command, fn func(context.Context, *review.Workflow) error) error {
	cfg := GetConfig()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	return fn(ctx, review.New(s, cfg.Review, nil))
}

func printQueue(w io.Writer, items []document.QueueItem) error {
	if len(items) == 0 {
		_, err := io.WriteString(w, "Review queue is empty\n")
		return err
	}
	var b strings.Builder
	for _, it := range items {
		fmt.Fprintf(&b, "%-24s job=%-16s page=%d trust=%.3f %-10s %q\n",
			it.RegionID, it.JobID, it.Page, it.TrustScore, it.Label, it.NormalizedText)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func init() {
	rootCmd.AddCommand(reviewCmd)
	reviewCmd.AddCommand(reviewQueueCmd, reviewApplyCmd, reviewStatsCmd)
	reviewCmd.PersistentFlags().StringP("format", "f", outputFormatText, "output format (text, json)")

	reviewQueueCmd.Flags().Int("skip", 0, "number of queue items to skip")
	reviewQueueCmd.Flags().Int("limit", 0, "page size (default review.default_limit)")

	reviewApplyCmd.Flags().String("user", "", "reviewer id (required)")
	reviewApplyCmd.Flags().String("action", "", "approve, correct or skip (required)")
	reviewApplyCmd.Flags().String("value", "", "verified value for correct")
	reviewApplyCmd.Flags().String("note", "", "free text note for the audit log")
	_ = reviewApplyCmd.MarkFlagRequired("user")
	_ = reviewApplyCmd.MarkFlagRequired("action")
}

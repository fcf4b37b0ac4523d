package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/trizel-monitor/internal/daykey"
)

var (
	errMissingBounds = errors.New("backfill requires both --start and --end")
	errBackfillDays  = errors.New("backfill finished with failed days")
)

// newBackfillCmd creates the 'backfill' subcommand, which walks a day range.
func newBackfillCmd() *cobra.Command {
	var (
		start string
		end   string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Collect and archive an inclusive range of days",
		Long: `Processes every day from --start to --end in ascending order. A failing
day is reported and the remaining days still run; the command exits
non-zero when any day failed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if start == "" || end == "" {
				return errMissingBounds
			}
			first, err := daykey.Parse(start)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			last, err := daykey.Parse(end)
			if err != nil {
				return fmt.Errorf("--end: %w", err)
			}
			if limit < 0 {
				return fmt.Errorf("--limit must be >= 0")
			}

			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			runner, err := appInstance.GetRunner(cmd.Context())
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			summary, err := runner.Backfill(cmd.Context(), first, last, limit)
			finishRun(appInstance)

			out := cmd.OutOrStdout()
			for _, report := range summary.Reports {
				if report.Failed() {
					fmt.Fprintf(out, "%s failed\n", report.Day)
					continue
				}
				fmt.Fprintf(out, "%s %s\n", report.Day, report.Outcome)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "backfill: %d days, %d written, %d noop_unchanged, %d skipped_exists, %d failed\n",
				len(summary.Reports), summary.Written, summary.Noop, summary.Skipped, summary.Failed)
			if summary.Truncated {
				fmt.Fprintf(out, "backfill: range truncated to %d days\n", len(summary.Reports))
			}
			if !summary.OK() {
				fmt.Fprintf(out, "failed days: %s\n", strings.Join(summary.FailedDays, " "))
				return errBackfillDays
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "first day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "last day, inclusive (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of days (default backfill.max_days)")
	return cmd
}

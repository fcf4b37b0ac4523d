package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/trizel-monitor/internal/archive"
	"github.com/JakeFAU/trizel-monitor/internal/daykey"
)

var errVerifyFailed = errors.New("archive verification failed")

// newVerifyCmd creates the 'verify' subcommand, which re-digests archived
// snapshots and compares them with their manifests.
func newVerifyCmd() *cobra.Command {
	var (
		date string
		all  bool
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check archived snapshots against their manifests",
		Long: `Recomputes the SHA-256 of stored snapshots and compares it with the
digest and size recorded in each manifest. Without flags every archived
day is checked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			arch := appInstance.GetArchive()

			var reports []archive.Report
			if date != "" && !all {
				day, err := daykey.Parse(date)
				if err != nil {
					return fmt.Errorf("--date: %w", err)
				}
				report, err := arch.Verify(cmd.Context(), day)
				if err != nil {
					return err
				}
				reports = append(reports, report)
			} else {
				reports, err = arch.VerifyAll(cmd.Context())
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			failed := 0
			for _, report := range reports {
				if report.OK {
					fmt.Fprintf(out, "%s ok\n", report.Day)
					continue
				}
				failed++
				fmt.Fprintf(out, "%s mismatch: %s\n", report.Day, report.Problem)
			}
			fmt.Fprintf(out, "verify: %d days, %d failed\n", len(reports), failed)
			if failed > 0 {
				return errVerifyFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day to verify (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&all, "all", false, "verify every archived day")
	cmd.MarkFlagsMutuallyExclusive("date", "all")
	return cmd
}

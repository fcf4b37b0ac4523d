package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/trizel-monitor/internal/daykey"
	"github.com/JakeFAU/trizel-monitor/internal/metrics"
)

// newCollectCmd creates the 'collect' subcommand, which snapshots one day.
func newCollectCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect and archive a single day",
		Long: `Fetches every registry source once and applies the write policy to the
resulting snapshot. Prints "<day> <outcome>".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			day := daykey.FromTime(appInstance.GetClock().Now())
			if date != "" {
				day, err = daykey.Parse(date)
				if err != nil {
					return fmt.Errorf("--date: %w", err)
				}
			}

			runner, err := appInstance.GetRunner(cmd.Context())
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			res, err := runner.RunDay(cmd.Context(), day)
			finishRun(appInstance)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", res.Day, res.Outcome)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day to collect (YYYY-MM-DD, default today UTC)")
	return cmd
}

// finishRun stamps the run time and writes the metrics textfile when configured.
func finishRun(appInstance App) {
	metrics.MarkRun(appInstance.GetClock().Now())
	path := appInstance.GetConfig().Metrics.Textfile
	if path == "" {
		return
	}
	if err := metrics.WriteTextfile(path); err != nil {
		appInstance.GetLogger().Warn("metrics textfile write failed", zap.String("path", path), zap.Error(err))
	}
}

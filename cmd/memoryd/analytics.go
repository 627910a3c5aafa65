package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xaenox/memory-service/internal/models"
)

func newStatsCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the analytics report as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.service.GetAnalytics(cmd.Context(), days)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "Report window in days")
	return cmd
}

func newRealTimeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "realtime",
		Short: "Print activity over the last five minutes as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			metrics, err := a.service.GetRealTimeMetrics(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), metrics)
		},
	}
}

func newAggregateCmd() *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Roll up one day of analytics events (default yesterday, UTC)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if date == "" {
				date = models.Day(time.Now().UTC().AddDate(0, 0, -1))
			}
			if _, err := time.Parse(models.DateLayout, date); err != nil {
				return fmt.Errorf("invalid --date %q, want YYYY-MM-DD", date)
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.tracker.AggregateDailyStats(cmd.Context(), date)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Day to aggregate (YYYY-MM-DD)")
	return cmd
}

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Delete raw analytics events past the retention period",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			deleted, err := a.tracker.CleanOldEvents(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d events deleted\n", deleted)
			return nil
		},
	}
}

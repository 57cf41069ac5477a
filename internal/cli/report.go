package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"balance-tracker/internal/app"
)

var (
	reportFrom  string
	reportTo    string
	reportLimit int
	reportAll   bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print daily, monthly and intraday balance aggregates",
	RunE: func(cmd *cobra.Command, args []string) error {
		if reportLimit < 0 {
			return fmt.Errorf("--limit cannot be negative")
		}
		from, err := parseTime("from", reportFrom)
		if err != nil {
			return err
		}
		to, err := parseTime("to", reportTo)
		if err != nil {
			return err
		}

		opts := app.ReportOptions{
			From:       from,
			To:         to,
			DailyLimit: reportLimit,
			All:        reportAll,
		}
		return getApp().Report(cmd.Context(), cmd.OutOrStdout(), opts)
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportFrom, "from", "", "Start (RFC3339 or YYYY-MM-DD, inclusive)")
	reportCmd.Flags().StringVar(&reportTo, "to", "", "End (RFC3339 or YYYY-MM-DD, exclusive)")
	reportCmd.Flags().IntVar(&reportLimit, "limit", 0, "Daily rows to show (defaults to config)")
	reportCmd.Flags().BoolVar(&reportAll, "all", false, "Show every daily row")
}

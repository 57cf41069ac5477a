package cli

import (
	"github.com/spf13/cobra"

	"balance-tracker/internal/app"
)

var (
	exportFrom       string
	exportTo         string
	exportPNGPath    string
	exportCSVPath    string
	exportLedgerPath string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export daily aggregates as CSV and/or PNG chart, or copy the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			PNGPath:    exportPNGPath,
			CSVPath:    exportCSVPath,
			LedgerPath: exportLedgerPath,
		}

		var err error
		if opts.From, err = parseTime("from", exportFrom); err != nil {
			return err
		}
		if opts.To, err = parseTime("to", exportTo); err != nil {
			return err
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start (RFC3339 or YYYY-MM-DD, inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End (RFC3339 or YYYY-MM-DD, exclusive)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart of daily avg/min/max")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write daily aggregates as CSV")
	exportCmd.Flags().StringVar(&exportLedgerPath, "ledger", "", "Path to write the raw ledger rows as CSV")
}

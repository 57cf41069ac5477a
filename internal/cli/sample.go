package cli

import (
	"github.com/spf13/cobra"
)

var sampleRecord bool

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Fetch the balance once and print it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Sample(cmd.Context(), cmd.OutOrStdout(), sampleRecord)
	},
}

func init() {
	sampleCmd.Flags().BoolVar(&sampleRecord, "record", false, "Append the reading to the ledger")
}

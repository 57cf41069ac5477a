package cli

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ledger and notification loops",
	Long: `Run the ledger and notification loops until interrupted.

Send SIGHUP to reload the configuration file and SIGUSR1 to resume sampling
after renewing expired credentials.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

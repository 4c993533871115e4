package cli

import (
	"github.com/spf13/cobra"

	"github.com/uprootnetworks/uproot/internal/update"
)

func init() {
	rootCmd.AddCommand(updateCmd)
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Download and install the latest lab content release",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return update.New().Run(cmd.Context())
	},
}

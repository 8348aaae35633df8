package cmd

import (
	"github.com/spf13/cobra"
)

var updateForce bool

func init() {
	updateCmd.Flags().BoolVarP(&updateForce, "force", "f", false, "Refresh even inside the update interval")
	rootCmd.AddCommand(updateCmd)
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Fetch all remotes and rebuild the environment cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, _, err := newEngine()
		if err != nil {
			return err
		}
		defer closeEngine()
		return srv.Update(cmd.Context(), updateForce)
	},
}

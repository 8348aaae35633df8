package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var envsIgnoreCache bool

func init() {
	envsCmd.Flags().BoolVar(&envsIgnoreCache, "ignore-cache", false, "Bypass the persisted environment list")
	rootCmd.AddCommand(envsCmd)
}

var envsCmd = &cobra.Command{
	Use:   "envs",
	Short: "List exposed environments",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, _, err := newEngine()
		if err != nil {
			return err
		}
		defer closeEngine()
		for _, env := range srv.Envs(envsIgnoreCache) {
			fmt.Println(env)
		}
		return nil
	},
}

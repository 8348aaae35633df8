package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(fileListCmd, dirListCmd)
}

var fileListCmd = &cobra.Command{
	Use:   "file-list",
	Short: "List all files of an environment",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, _, err := newEngine()
		if err != nil {
			return err
		}
		defer closeEngine()
		for _, p := range srv.FileList(saltenv) {
			fmt.Println(p)
		}
		return nil
	},
}

var dirListCmd = &cobra.Command{
	Use:   "dir-list",
	Short: "List all directories of an environment",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, _, err := newEngine()
		if err != nil {
			return err
		}
		defer closeEngine()
		for _, p := range srv.DirList(saltenv) {
			fmt.Println(p)
		}
		return nil
	},
}

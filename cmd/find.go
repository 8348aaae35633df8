package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(findCmd, catCmd)
}

var findCmd = &cobra.Command{
	Use:   "find [path]",
	Short: "Locate a file in an environment and print its cache path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, _, err := newEngine()
		if err != nil {
			return err
		}
		defer closeEngine()
		fnd, err := srv.FindFile(cmd.Context(), args[0], saltenv)
		if err != nil {
			return err
		}
		if fnd == nil {
			return fmt.Errorf("%s: not found in saltenv %s", args[0], saltenv)
		}
		fmt.Println(fnd.Path)
		return nil
	},
}

var catCmd = &cobra.Command{
	Use:   "cat [path]",
	Short: "Stream a file from an environment to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, _, err := newEngine()
		if err != nil {
			return err
		}
		defer closeEngine()
		fnd, err := srv.FindFile(cmd.Context(), args[0], saltenv)
		if err != nil {
			return err
		}
		if fnd == nil {
			return fmt.Errorf("%s: not found in saltenv %s", args[0], saltenv)
		}
		var loc int64
		for loc < fnd.Size {
			chunk, err := srv.ServeFile(fnd, loc)
			if err != nil {
				return err
			}
			if len(chunk) == 0 {
				break
			}
			if _, err := os.Stdout.Write(chunk); err != nil {
				return err
			}
			loc += int64(len(chunk))
		}
		return nil
	},
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"covdiff/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if OutputFormat(formatFlag) == FormatJSON {
			return printResult(version.Current())
		}
		fmt.Println(version.Full())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

package main

import (
	"github.com/spf13/cobra"
)

var (
	buildsGroup string
	buildsApp   string
)

var buildsCmd = &cobra.Command{
	Use:   "builds",
	Short: "List stored builds",
	Long: `List stored builds in version order, oldest first.

Examples:
  covdiff builds
  covdiff builds --group acme --app shop`,
	Args: cobra.NoArgs,
	RunE: runBuilds,
}

func init() {
	buildsCmd.Flags().StringVar(&buildsGroup, "group", "", "Only builds of this group")
	buildsCmd.Flags().StringVar(&buildsApp, "app", "", "Only builds of this application")
	rootCmd.AddCommand(buildsCmd)
}

func runBuilds(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := newContext()
	defer cancel()

	builds, err := a.engine.Builds(ctx, buildsGroup, buildsApp)
	if err != nil {
		return err
	}
	return printResult(builds)
}

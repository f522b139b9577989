package main

import (
	"github.com/spf13/cobra"

	"covdiff/internal/version"
)

var (
	// rootFlag is the directory holding .covdiff/
	rootFlag     string
	formatFlag   string
	logLevelFlag string
	verboseFlag  int
	quietFlag    bool
)

var rootCmd = &cobra.Command{
	Use:   "covdiff",
	Short: "covdiff - coverage differencing and test impact analysis",
	Long: `covdiff records the instrumented methods of each build and the probe
coverage of every test execution, then answers questions across builds:
which methods changed, which tests a change impacts, which tests can be
skipped, and how coverage and risk evolve from build to build.`,
	Version:       version.Info(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("covdiff version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&rootFlag, "root", ".", "Directory holding the .covdiff state directory")
	rootCmd.PersistentFlags().StringVar(&formatFlag, "format", "human", "Output format (json, human)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error); overrides logging.level")
	rootCmd.PersistentFlags().CountVarP(&verboseFlag, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress log output on stderr")
}

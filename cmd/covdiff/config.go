package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"covdiff/internal/config"
	cerrors "covdiff/internal/errors"
	"covdiff/internal/storage"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage covdiff configuration",
	Long:  "View and manage covdiff configuration stored in .covdiff/config.json",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Display the configuration after defaults, the config file and
COVDIFF_* environment overrides are applied.

Examples:
  covdiff config show
  COVDIFF_LOGGING_LEVEL=debug covdiff config show --format json`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

// ConfigShowResponse is the response format for config show
type ConfigShowResponse struct {
	ConfigPath   string         `json:"configPath"`
	UsedDefaults bool           `json:"usedDefaults"`
	Config       *config.Config `json:"config"`
}

func configPath() string {
	return filepath.Join(rootFlag, storage.DirName, "config.json")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	_, statErr := os.Stat(configPath())
	return printResult(&ConfigShowResponse{
		ConfigPath:   configPath(),
		UsedDefaults: os.IsNotExist(statErr),
		Config:       cfg,
	})
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configPath()); err == nil && !configForce {
		return cerrors.Newf(cerrors.InvalidArgument, "%s already exists; use --force to overwrite", configPath())
	}
	if err := config.DefaultConfig().Save(rootFlag); err != nil {
		return cerrors.New(cerrors.ConfigInvalid, "failed to write configuration", err)
	}
	fmt.Printf("Wrote %s\n", configPath())
	return nil
}

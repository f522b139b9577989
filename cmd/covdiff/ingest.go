package main

import (
	"github.com/spf13/cobra"

	"covdiff/internal/service"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <manifest>...",
	Short: "Store build methods and test executions",
	Long: `Read one or more manifests and store their contents.

A manifest names a build and carries its instrumented methods, its test
executions, or both. The format follows the file extension: .json, .yaml,
.yml or .toml.

Examples:
  covdiff ingest build-1.2.0.json
  covdiff ingest methods.yaml run-unit.yaml run-it.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := newContext()
	defer cancel()

	results := make([]*service.IngestResult, 0, len(args))
	for _, path := range args {
		m, err := service.LoadManifest(path)
		if err != nil {
			return err
		}
		res, err := a.engine.Ingest(ctx, m)
		if err != nil {
			return err
		}
		a.logger.Debug("Manifest ingested", "path", path, "build", res.Build.String())
		if len(args) == 1 {
			return printResult(res)
		}
		results = append(results, res)
	}
	return printResult(results)
}

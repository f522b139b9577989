package main

import (
	"github.com/spf13/cobra"
)

var (
	treeTreemap bool
	treePrefix  string
)

var treeCmd = &cobra.Command{
	Use:   "tree <build>",
	Short: "Show coverage by package, class and method",
	Long: `Project a build's coverage onto its package, class and method tree.

With --treemap the tree is flattened into treemap nodes, optionally rooted
at a package or class prefix.

Examples:
  covdiff tree acme:shop:1.1.0
  covdiff tree acme:shop:1.1.0 --treemap --prefix com/acme/shop`,
	Args: cobra.ExactArgs(1),
	RunE: runTree,
}

func init() {
	treeCmd.Flags().BoolVar(&treeTreemap, "treemap", false, "Output flattened treemap nodes")
	treeCmd.Flags().StringVar(&treePrefix, "prefix", "", "Treemap root prefix")
	rootCmd.AddCommand(treeCmd)
}

func runTree(cmd *cobra.Command, args []string) error {
	keys, err := buildArgs(args)
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := newContext()
	defer cancel()

	if treeTreemap {
		nodes, err := a.engine.Treemap(ctx, keys[0], treePrefix)
		if err != nil {
			return err
		}
		return printResult(nodes)
	}

	t, err := a.engine.Tree(ctx, keys[0])
	if err != nil {
		return err
	}
	return printResult(t)
}

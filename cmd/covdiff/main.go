package main

import (
	"fmt"
	"os"

	cerrors "covdiff/internal/errors"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		for _, fix := range suggestedFixes(err) {
			fmt.Fprintf(os.Stderr, "  hint: %s\n", fix.Description)
			if fix.Command != "" {
				fmt.Fprintf(os.Stderr, "    $ %s\n", fix.Command)
			}
		}
		os.Exit(exitCode(err))
	}
}

func suggestedFixes(err error) []cerrors.FixAction {
	return cerrors.GetSuggestedFixes(cerrors.CodeOf(err))
}

// exitCode separates not-found answers from failures for scripts.
func exitCode(err error) int {
	switch cerrors.CodeOf(err) {
	case cerrors.BuildNotFound, cerrors.UnknownBaseline, cerrors.JobNotFound:
		return 2
	case cerrors.InvalidArgument, cerrors.ConfigInvalid:
		return 3
	default:
		return 1
	}
}

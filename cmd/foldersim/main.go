package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	os.Exit(run())
}

func run() int {
	root := &cobra.Command{
		Use:     "foldersim",
		Short:   "Find and group similar folders for review and guarded deletion",
		Version: version + " (" + commit + ")",
	}

	root.AddCommand(newScanCmd())
	root.AddCommand(newPlanCmd())
	root.AddCommand(newConfirmCmd())
	root.AddCommand(newDiffCmd())

	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foldersim/simcore/internal/diffproj"
	"github.com/foldersim/simcore/internal/store"
)

// diffOptions holds CLI flags for the diff command.
type diffOptions struct {
	storePath string
}

// newDiffCmd creates the diff subcommand.
func newDiffCmd() *cobra.Command {
	opts := &diffOptions{}

	cmd := &cobra.Command{
		Use:   "diff <left-relative> <right-relative>",
		Short: "Show the file-level difference between two folders from the same scan",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return runDiff(args[0], args[1], opts)
		},
	}

	cmd.Flags().StringVar(&opts.storePath, "store", "", "Path to the scan's persisted folder index (required)")
	_ = cmd.MarkFlagRequired("store")

	return cmd
}

func runDiff(left, right string, opts *diffOptions) error {
	st, err := store.Open(opts.storePath)
	if err != nil {
		return fmt.Errorf("open folder index: %w", err)
	}
	defer func() { _ = st.Close() }()

	diff, err := diffproj.New(st).Diff(left, right)
	if err != nil {
		return err
	}
	return printJSON(diff)
}

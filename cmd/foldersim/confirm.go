package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foldersim/simcore/internal/pathnorm"
	"github.com/foldersim/simcore/internal/planner"
	"github.com/foldersim/simcore/internal/store"
)

// confirmOptions holds CLI flags for the confirm command.
type confirmOptions struct {
	root      string
	storePath string
	planID    string
	token     string
}

// newConfirmCmd creates the confirm subcommand.
func newConfirmCmd() *cobra.Command {
	opts := &confirmOptions{}

	cmd := &cobra.Command{
		Use:   "confirm",
		Short: "Apply a previously staged deletion plan",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runConfirm(opts)
		},
	}

	cmd.Flags().StringVar(&opts.root, "root", "", "Scan root path (required)")
	cmd.Flags().StringVar(&opts.storePath, "store", "", "Path to the scan's persisted folder index (required)")
	cmd.Flags().StringVar(&opts.planID, "plan-id", "", "Plan ID returned by `plan` (required)")
	cmd.Flags().StringVar(&opts.token, "token", "", "Single-use token returned by `plan` (required)")
	_ = cmd.MarkFlagRequired("root")
	_ = cmd.MarkFlagRequired("store")
	_ = cmd.MarkFlagRequired("plan-id")
	_ = cmd.MarkFlagRequired("token")

	return cmd
}

func runConfirm(opts *confirmOptions) error {
	resolved, err := pathnorm.ResolveRoot(opts.root)
	if err != nil {
		return err
	}
	norm := pathnorm.New(resolved, false)

	st, err := store.Open(opts.storePath)
	if err != nil {
		return fmt.Errorf("open folder index: %w", err)
	}
	defer func() { _ = st.Close() }()

	plan, err := loadPlanFile(opts.planID)
	if err != nil {
		return fmt.Errorf("load plan %s: %w", opts.planID, err)
	}

	p := planner.New(norm, st)
	p.Register(*plan)

	result, err := p.Confirm(opts.planID, opts.token)
	if err != nil {
		return err
	}

	return printJSON(result)
}

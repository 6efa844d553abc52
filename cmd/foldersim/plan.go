package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foldersim/simcore/internal/pathnorm"
	"github.com/foldersim/simcore/internal/planner"
	"github.com/foldersim/simcore/internal/store"
)

// planOptions holds CLI flags for the plan command.
type planOptions struct {
	root      string
	storePath string
	scanID    string
	canonical []string
}

// newPlanCmd creates the plan subcommand.
func newPlanCmd() *cobra.Command {
	opts := &planOptions{}

	cmd := &cobra.Command{
		Use:   "plan <relative-path>...",
		Short: "Stage relative paths for guarded deletion",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runPlan(args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.root, "root", "", "Scan root path (required)")
	cmd.Flags().StringVar(&opts.storePath, "store", "", "Path to the scan's persisted folder index (required)")
	cmd.Flags().StringVar(&opts.scanID, "scan-id", "", "Scan ID this plan belongs to")
	cmd.Flags().StringSliceVar(&opts.canonical, "canonical", nil, "Relative paths that are group canonicals (rejected if planned)")
	_ = cmd.MarkFlagRequired("root")
	_ = cmd.MarkFlagRequired("store")

	return cmd
}

func runPlan(relativePaths []string, opts *planOptions) error {
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

	canonical := make(planner.CanonicalSet, len(opts.canonical))
	for _, rel := range opts.canonical {
		canonical[rel] = true
	}

	p := planner.New(norm, st)
	plan, err := p.Create(opts.scanID, relativePaths, canonical)
	if err != nil {
		return err
	}

	if err := savePlanFile(*plan); err != nil {
		return fmt.Errorf("persist plan: %w", err)
	}
	return printJSON(plan)
}

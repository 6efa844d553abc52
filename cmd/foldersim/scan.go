package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/foldersim/simcore/internal/cache"
	"github.com/foldersim/simcore/internal/progress"
	"github.com/foldersim/simcore/internal/scheduler"
	"github.com/foldersim/simcore/internal/types"
)

// scanOptions holds CLI flags for the scan command.
type scanOptions struct {
	include              []string
	exclude              []string
	fileEquality         string
	threshold            float64
	structurePolicy      string
	forceCaseInsensitive bool
	concurrency          int
	noProgress           bool
	cacheFile            string
	storePath            string
}

// newScanCmd creates the scan subcommand.
func newScanCmd() *cobra.Command {
	opts := &scanOptions{
		fileEquality:    string(types.EqualityNameSize),
		threshold:       0.80,
		structurePolicy: string(types.StructureRelative),
	}

	cmd := &cobra.Command{
		Use:   "scan <root>",
		Short: "Scan a folder tree and group similar folders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.Context(), args[0], opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.include, "include", "i", nil, "Glob patterns; only matching files are scanned")
	cmd.Flags().StringSliceVarP(&opts.exclude, "exclude", "e", nil, "Glob patterns to exclude (defaults to .git/, node_modules/, etc.)")
	cmd.Flags().StringVar(&opts.fileEquality, "file-equality", opts.fileEquality, "File identity mode: name_size|sha256")
	cmd.Flags().Float64VarP(&opts.threshold, "threshold", "t", opts.threshold, "Minimum similarity for a near-duplicate group")
	cmd.Flags().StringVar(&opts.structurePolicy, "structure-policy", opts.structurePolicy, "Identity key construction: relative|bag_of_files")
	cmd.Flags().BoolVar(&opts.forceCaseInsensitive, "case-insensitive", false, "Lowercase names before computing identity")
	cmd.Flags().IntVarP(&opts.concurrency, "workers", "w", 0, "Worker pool size cap (0 = auto)")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Disable progress output")
	cmd.Flags().StringVar(&opts.cacheFile, "cache-file", "", "Path to fingerprint cache file (enables caching across scans)")
	cmd.Flags().StringVar(&opts.storePath, "store", "", "Path to persist the folder index (default: ephemeral, removed on exit)")

	return cmd
}

func runScan(ctx context.Context, root string, opts *scanOptions) error {
	if _, err := parseSimilarity(opts.threshold); err != nil {
		return err
	}
	if err := validateGlobPatterns(opts.include); err != nil {
		return fmt.Errorf("invalid --include: %w", err)
	}
	if err := validateGlobPatterns(opts.exclude); err != nil {
		return fmt.Errorf("invalid --exclude: %w", err)
	}

	var fpCache *cache.Cache
	if opts.cacheFile != "" {
		c, err := cache.Open(opts.cacheFile)
		if err != nil {
			return fmt.Errorf("open cache: %w", err)
		}
		defer func() { _ = c.Close() }()
		fpCache = c
	}

	sched := scheduler.New(scheduler.Deps{Cache: fpCache, StorePath: opts.storePath}, 1)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	bar := progress.New(!opts.noProgress, -1)
	snapshots, unsubscribe := sched.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for snap := range snapshots {
			bar.Describe(scanStatusLine{snap})
		}
	}()

	go func() {
		<-ctx.Done()
		sched.Cancel()
	}()

	report, err := sched.Run(ctx, types.ScanRequest{
		RootPath:             root,
		Include:               opts.include,
		Exclude:               opts.exclude,
		FileEquality:          types.FileEqualityMode(opts.fileEquality),
		SimilarityThreshold:   opts.threshold,
		StructurePolicy:       types.StructurePolicy(opts.structurePolicy),
		ForceCaseInsensitive:  opts.forceCaseInsensitive,
		Concurrency:           opts.concurrency,
	})
	unsubscribe()
	<-done

	if err != nil {
		return err
	}
	bar.Finish(scanDoneLine{report})

	return printJSON(report)
}

type scanStatusLine struct{ snap types.ScanSnapshot }

func (s scanStatusLine) String() string {
	return fmt.Sprintf("%s: %d folders, %d files, last: %s", s.snap.Phase, s.snap.Stats.FoldersScanned, s.snap.Stats.FilesScanned, s.snap.LastPath)
}

type scanDoneLine struct{ report *types.ScanReport }

func (s scanDoneLine) String() string {
	return fmt.Sprintf("scan %s complete: %d groups found", s.report.ScanID, len(s.report.Groups))
}

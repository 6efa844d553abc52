//go:build unix && !e2e

package internal

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/foldersim/simcore/internal/planner"
	"github.com/foldersim/simcore/internal/scheduler"
	"github.com/foldersim/simcore/internal/testfs"
	"github.com/foldersim/simcore/internal/types"
)

// =============================================================================
// Full Pipeline Integration Tests: scan -> group -> plan -> confirm
// =============================================================================

// TestFullPipelineGroupsIdenticalFolders scans a root with two folders
// holding byte-identical content and expects a single group.
func TestFullPipelineGroupsIdenticalFolders(t *testing.T) {
	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{MountPoint: "/a", Files: []testfs.File{{Path: []string{"f.bin"}, Chunks: []testfs.Chunk{{Pattern: 'D', Size: "8KiB"}}}}},
			{MountPoint: "/b", Files: []testfs.File{{Path: []string{"f.bin"}, Chunks: []testfs.Chunk{{Pattern: 'D', Size: "8KiB"}}}}},
		},
	}
	h := testfs.New(t, spec)

	report := h.Scan(0.80)
	if len(report.Groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(report.Groups))
	}
	if len(report.Groups[0].Members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(report.Groups[0].Members))
	}
}

// TestFullPipelineUniqueFoldersStayUngrouped scans a root with two
// unrelated folders and expects no groups to form.
func TestFullPipelineUniqueFoldersStayUngrouped(t *testing.T) {
	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{MountPoint: "/a", Files: []testfs.File{{Path: []string{"f.bin"}, Chunks: []testfs.Chunk{{Pattern: 'A', Size: "4KiB"}}}}},
			{MountPoint: "/b", Files: []testfs.File{{Path: []string{"f.bin"}, Chunks: []testfs.Chunk{{Pattern: 'Z', Size: "64KiB"}}}}},
		},
	}
	h := testfs.New(t, spec)

	report := h.Scan(0.80)
	if len(report.Groups) != 0 {
		t.Fatalf("expected 0 groups, got %d", len(report.Groups))
	}
}

// TestFullPipelineExcludePatternShrinksGroup seeds a matching pair plus
// a backup-file sibling, and confirms --exclude-shaped behavior by
// scanning with an exclude for *.bak and verifying the excluded file
// never contributes to the similarity that formed the group.
func TestFullPipelineExcludePatternShrinksGroup(t *testing.T) {
	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{MountPoint: "/a", Files: []testfs.File{
				{Path: []string{"f.bin"}, Chunks: []testfs.Chunk{{Pattern: 'K', Size: "4KiB"}}},
				{Path: []string{"f.bak"}, Chunks: []testfs.Chunk{{Pattern: 'Q', Size: "1MiB"}}},
			}},
			{MountPoint: "/b", Files: []testfs.File{
				{Path: []string{"f.bin"}, Chunks: []testfs.Chunk{{Pattern: 'K', Size: "4KiB"}}},
			}},
		},
	}
	h := testfs.New(t, spec)

	sched := scheduler.New(scheduler.Deps{}, 1)
	report, err := sched.Run(context.Background(), types.ScanRequest{
		RootPath:            h.Root(),
		Exclude:             []string{"*.bak"},
		FileEquality:        types.EqualityNameSize,
		SimilarityThreshold: 0.80,
		StructurePolicy:     types.StructureRelative,
	})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(report.Groups) != 1 {
		t.Fatalf("expected 1 group despite the unmatched .bak sibling, got %d", len(report.Groups))
	}
}

// TestFullPipelinePlanConfirmQuarantinesNonCanonicalMember scans two
// identical folders, plans deletion of the group's non-canonical member,
// confirms it, and checks it was moved into quarantine and no longer
// exists at its original location.
func TestFullPipelinePlanConfirmQuarantinesNonCanonicalMember(t *testing.T) {
	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{MountPoint: "/a", Files: []testfs.File{{Path: []string{"f.bin"}, Chunks: []testfs.Chunk{{Pattern: 'D', Size: "8KiB"}}}}},
			{MountPoint: "/b", Files: []testfs.File{{Path: []string{"f.bin"}, Chunks: []testfs.Chunk{{Pattern: 'D', Size: "8KiB"}}}}},
		},
	}
	h := testfs.New(t, spec)

	report := h.Scan(0.80)
	if len(report.Groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(report.Groups))
	}

	group := report.Groups[0]
	canonical := group.Members[group.CanonicalIndex].RelativePath
	var nonCanonical string
	for _, m := range group.Members {
		if m.RelativePath != canonical {
			nonCanonical = m.RelativePath
		}
	}
	if nonCanonical == "" {
		t.Fatal("expected a non-canonical member to plan for deletion")
	}

	canonicalSet := planner.CanonicalSetFromGroups(report.Groups)
	result := h.PlanAndConfirm(report.FolderIndexRef, []string{nonCanonical}, canonicalSet)
	if result.MovedCount != 1 {
		t.Fatalf("expected 1 folder moved, got %d (failed: %v)", result.MovedCount, result.FailedPaths)
	}

	if _, err := os.Stat(filepath.Join(h.Root(), nonCanonical)); !os.IsNotExist(err) {
		t.Fatalf("expected %s to be gone from its original location, stat err: %v", nonCanonical, err)
	}
	if _, err := os.Stat(filepath.Join(result.QuarantineRoot, nonCanonical)); err != nil {
		t.Fatalf("expected %s under quarantine root %s: %v", nonCanonical, result.QuarantineRoot, err)
	}
}

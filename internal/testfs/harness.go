//go:build unix && !e2e

package testfs

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/foldersim/simcore/internal/pathnorm"
	"github.com/foldersim/simcore/internal/planner"
	"github.com/foldersim/simcore/internal/scheduler"
	"github.com/foldersim/simcore/internal/store"
	"github.com/foldersim/simcore/internal/types"
)

// -----------------------------------------------------------------------------
// Harness - Integration Test API
// -----------------------------------------------------------------------------

// Harness provides integration test infrastructure using t.TempDir().
//
// Unlike the e2e Harness, which runs the foldersim binary inside Docker
// containers with tmpfs mounts, this Harness drives the scheduler and
// planner packages directly, in the same process as the test.
//
// Limitations:
//   - Cannot test cross-device scenarios (EXDEV errors) — all "volumes"
//     are directories on the same filesystem.
//   - Use the e2e Harness for cross-device quarantine-move testing.
//
// Usage:
//
//	given := testfs.FileTree{
//	    Volumes: []Volume{
//	        {MountPoint: "/a", Files: []File{{Path: []string{"f.bin"}, Chunks: []Chunk{{Pattern: 'A', Size: "1MiB"}}}}},
//	        {MountPoint: "/b", Files: []File{{Path: []string{"f.bin"}, Chunks: []Chunk{{Pattern: 'A', Size: "1MiB"}}}}},
//	    },
//	}
//	h := testfs.New(t, given)
//	report := h.Scan(0.80)
//	// ... assert on report.Groups
type Harness struct {
	t     *testing.T
	root  string   // temporary directory root
	given FileTree // original spec
}

// New creates a new Harness with the given FileTree specification.
//
// The harness creates a temporary directory via t.TempDir(), then creates
// subdirectories for each Volume's MountPoint, then creates files,
// hardlinks, and symlinks according to the spec.
func New(t *testing.T, given FileTree) *Harness {
	t.Helper()

	root := t.TempDir()
	h := &Harness{t: t, root: root, given: given}

	if err := SowFileTree(root, given); err != nil {
		t.Fatalf("failed to setup files: %v", err)
	}

	return h
}

// Root returns the temporary directory root path.
func (h *Harness) Root() string {
	return h.root
}

// Scan runs a full scheduler scan against the harness's root, failing the
// test on error. The folder index is written to a store file in a separate
// temporary directory that outlives the scan, so report.FolderIndexRef can
// be handed to PlanAndConfirm.
func (h *Harness) Scan(threshold float64) *types.ScanReport {
	h.t.Helper()

	sched := scheduler.New(scheduler.Deps{StorePath: filepath.Join(h.t.TempDir(), "index.db")}, 1)
	report, err := sched.Run(context.Background(), types.ScanRequest{
		RootPath:            h.root,
		FileEquality:        types.EqualityNameSize,
		SimilarityThreshold: threshold,
		StructurePolicy:     types.StructureRelative,
	})
	if err != nil {
		h.t.Fatalf("scan failed: %v", err)
	}
	return report
}

// PlanAndConfirm stages relativePaths for deletion against the folder
// index at storePath and immediately confirms the resulting plan,
// returning the result. Fails the test on error.
func (h *Harness) PlanAndConfirm(storePath string, relativePaths []string, canonical planner.CanonicalSet) *types.DeletionResult {
	h.t.Helper()

	resolved, err := pathnorm.ResolveRoot(h.root)
	if err != nil {
		h.t.Fatalf("resolve root: %v", err)
	}
	norm := pathnorm.New(resolved, false)

	st, err := store.Open(storePath)
	if err != nil {
		h.t.Fatalf("open store: %v", err)
	}
	defer func() { _ = st.Close() }()

	p := planner.New(norm, st)
	plan, err := p.Create("", relativePaths, canonical)
	if err != nil {
		h.t.Fatalf("plan create: %v", err)
	}

	result, err := p.Confirm(plan.PlanID, plan.Token)
	if err != nil {
		h.t.Fatalf("plan confirm: %v", err)
	}
	return result
}

// Assert verifies the filesystem state matches the expected FileTree.
func (h *Harness) Assert(expected FileTree) {
	h.t.Helper()

	for _, vol := range expected.Volumes {
		h.assertState(vol)
	}
}

// AssertAbsent verifies that none of the given paths, relative to
// mountPoint, remain on disk.
func (h *Harness) AssertAbsent(mountPoint string, paths ...string) {
	h.t.Helper()

	actual, err := ReapPaths(h.root, []string{mountPoint})
	if err != nil {
		h.t.Fatalf("reap %s: %v", mountPoint, err)
	}
	if len(actual.Volumes) == 0 {
		return
	}
	AssertAbsent(h.t, actual.Volumes[0], paths...)
}

// -----------------------------------------------------------------------------
// Assertion Helpers
// -----------------------------------------------------------------------------

// assertState verifies files and symlinks match expected state for a volume.
func (h *Harness) assertState(vol Volume) {
	h.t.Helper()

	actual, err := ReapPaths(h.root, []string{vol.MountPoint})
	if err != nil {
		h.t.Fatalf("reap %s: %v", vol.MountPoint, err)
	}
	if len(actual.Volumes) == 0 {
		h.t.Fatalf("reap returned no volumes for %s", vol.MountPoint)
	}

	AssertVolume(h.t, vol, actual.Volumes[0])
}

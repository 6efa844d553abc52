//go:build e2e

package internal

import (
	"encoding/json"
	"testing"

	"github.com/foldersim/simcore/internal/testfs"
	"github.com/foldersim/simcore/internal/types"
)

// =============================================================================
// Core E2E Tests: drive the real foldersim binary inside Docker containers
// =============================================================================

const storePath = "/tmp/index.db"

// TestE2EScanFindsGroup runs `foldersim scan` against two tmpfs volumes
// holding identical content and checks the resulting group.
func TestE2EScanFindsGroup(t *testing.T) {
	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{MountPoint: "/data/a", Files: []testfs.File{{Path: []string{"f.bin"}, Chunks: []testfs.Chunk{{Pattern: 'A', Size: "1MiB"}}}}},
			{MountPoint: "/data/b", Files: []testfs.File{{Path: []string{"f.bin"}, Chunks: []testfs.Chunk{{Pattern: 'A', Size: "1MiB"}}}}},
		},
	}
	h := testfs.New(t, spec)

	result := h.RunScan("/data", "--store", storePath)
	if result.ExitCode != 0 {
		t.Fatalf("scan failed (exit %d): %s", result.ExitCode, result.Stderr)
	}

	var report types.ScanReport
	if err := json.Unmarshal([]byte(result.Stdout), &report); err != nil {
		t.Fatalf("parse scan report: %v", err)
	}
	if len(report.Groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(report.Groups))
	}
}

// TestE2EPlanConfirmQuarantinesAcrossDevices is the scenario this harness
// exists for: /data/a and /data/b are each their own tmpfs mount, so
// they carry distinct device IDs. The scan root is /data, meaning the
// confirmed plan's quarantine directory (/data/.quarantine/...) lives on
// a third device too. Moving a queued folder out of /data/b and into
// /data/.quarantine therefore cannot succeed via a plain rename — it
// must take internal/planner's EXDEV copy-then-remove fallback.
func TestE2EPlanConfirmQuarantinesAcrossDevices(t *testing.T) {
	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{MountPoint: "/data", Files: nil},
			{MountPoint: "/data/a", Files: []testfs.File{{Path: []string{"f.bin"}, Chunks: []testfs.Chunk{{Pattern: 'A', Size: "1MiB"}}}}},
			{MountPoint: "/data/b", Files: []testfs.File{{Path: []string{"f.bin"}, Chunks: []testfs.Chunk{{Pattern: 'A', Size: "1MiB"}}}}},
		},
	}
	h := testfs.New(t, spec)

	scanResult := h.RunScan("/data", "--store", storePath)
	if scanResult.ExitCode != 0 {
		t.Fatalf("scan failed (exit %d): %s", scanResult.ExitCode, scanResult.Stderr)
	}
	var report types.ScanReport
	if err := json.Unmarshal([]byte(scanResult.Stdout), &report); err != nil {
		t.Fatalf("parse scan report: %v", err)
	}
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
		t.Fatal("expected a non-canonical member")
	}

	planResult := h.RunPlan("/data", storePath, nonCanonical)
	if planResult.ExitCode != 0 {
		t.Fatalf("plan failed (exit %d): %s", planResult.ExitCode, planResult.Stderr)
	}
	var plan types.DeletionPlan
	if err := json.Unmarshal([]byte(planResult.Stdout), &plan); err != nil {
		t.Fatalf("parse plan: %v", err)
	}

	confirmResult := h.RunConfirm("/data", storePath, plan.PlanID, plan.Token)
	if confirmResult.ExitCode != 0 {
		t.Fatalf("confirm failed (exit %d): %s", confirmResult.ExitCode, confirmResult.Stderr)
	}
	var delResult types.DeletionResult
	if err := json.Unmarshal([]byte(confirmResult.Stdout), &delResult); err != nil {
		t.Fatalf("parse deletion result: %v", err)
	}
	if delResult.MovedCount != 1 {
		t.Fatalf("expected 1 folder moved across devices, got %d (failed: %v)", delResult.MovedCount, delResult.FailedPaths)
	}

	h.AssertAbsent("/data/"+nonCanonical, "f.bin")
}

// TestE2ENestedMountsDoNotSelfGroup scans a root containing a nested
// mount whose content matches a file in its parent, and checks that the
// scan does not treat the nested folder as a duplicate of its own
// ancestor: ancestor/descendant pairs are never compared, so no group
// forms.
func TestE2ENestedMountsDoNotSelfGroup(t *testing.T) {
	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{MountPoint: "/data", Files: []testfs.File{{Path: []string{"root.bin"}, Chunks: []testfs.Chunk{{Pattern: 'R', Size: "1MiB"}}}}},
			{MountPoint: "/data/subdir", Files: []testfs.File{{Path: []string{"root.bin"}, Chunks: []testfs.Chunk{{Pattern: 'R', Size: "1MiB"}}}}},
		},
	}
	h := testfs.New(t, spec)

	result := h.RunScan("/data", "--store", storePath)
	if result.ExitCode != 0 {
		t.Fatalf("scan failed (exit %d): %s", result.ExitCode, result.Stderr)
	}

	var report types.ScanReport
	if err := json.Unmarshal([]byte(result.Stdout), &report); err != nil {
		t.Fatalf("parse scan report: %v", err)
	}
	if len(report.Groups) != 0 {
		t.Fatalf("expected /data/subdir not to group with its parent, got %d groups", len(report.Groups))
	}
}

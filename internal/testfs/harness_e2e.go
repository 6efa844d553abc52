//go:build e2e

package testfs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/docker/docker/api/types/container"
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

const (
	// baseImage is the Docker image used for E2E tests.
	baseImage = "alpine:3.21"

	// Binary names and paths inside container.
	binaryName       = "foldersim"
	helperBinaryName = "testfs-helper"
	binaryPath       = "/tmp/" + binaryName
	helperBinaryPath = "/tmp/" + helperBinaryName
)

// -----------------------------------------------------------------------------
// Harness - Public API
// -----------------------------------------------------------------------------

// Harness provides E2E test infrastructure using Docker containers.
//
// Each declared Volume gets its own tmpfs mount, so two volumes are
// guaranteed to have distinct device IDs — the scenario this harness
// exists for is confirming a deletion plan whose queued folder lives on
// one volume while the scan root's .quarantine directory resolves onto
// another, forcing internal/planner's quarantine move across an EXDEV
// boundary instead of a same-device rename.
//
// Usage:
//
//	given := testfs.FileTree{
//	    Volumes: []Volume{
//	        {MountPoint: "/data/a", Files: []File{{Path: []string{"f.bin"}, Chunks: []Chunk{{Pattern: 'A', Size: "1MiB"}}}}},
//	        {MountPoint: "/data/a/b", Files: []File{{Path: []string{"f.bin"}, Chunks: []Chunk{{Pattern: 'A', Size: "1MiB"}}}}},
//	    },
//	}
//	h := testfs.New(t, given)
//	h.RunScan("/data/a", "--store", "/tmp/index.db")
//	h.RunPlan("/data/a", "/tmp/index.db", "b")
//	h.RunConfirm("/data/a", "/tmp/index.db", planID, token)
type Harness struct {
	t          *testing.T
	ctx        context.Context
	given      FileTree
	container  *Container
	lastResult *RunResult
}

// New creates a new Harness with the given FileTree specification.
//
// The harness:
//  1. Starts a Docker container with one tmpfs mount per Volume in the spec
//  2. Bind-mounts pre-built foldersim and testfs-helper binaries into the container
//  3. Creates files, hardlinks, and symlinks according to the spec
//
// Requires the FOLDERSIM_E2E_BINDIR env var, naming the directory that holds
// the built foldersim and testfs-helper binaries. The container is cleaned
// up automatically via t.Cleanup().
func New(t *testing.T, given FileTree) *Harness {
	t.Helper()

	ctx := context.Background()
	h := &Harness{t: t, ctx: ctx, given: given}

	cfg, hostCfg, err := h.buildContainerConfig()
	if err != nil {
		t.Fatalf("failed to build container config: %v", err)
	}

	c, err := NewContainer(ctx, cfg, hostCfg)
	if err != nil {
		t.Fatalf("failed to create container: %v", err)
	}
	h.container = c

	t.Cleanup(func() { h.Cleanup() })

	if err := h.sowFileTree(); err != nil {
		t.Fatalf("failed to setup files: %v", err)
	}

	return h
}

// run executes the foldersim binary inside the container with the given
// subcommand and arguments. The result (exit code, stdout, stderr) is
// stored for later assertion and also returned.
func (h *Harness) run(args ...string) *RunResult {
	h.t.Helper()

	cmd := append([]string{binaryPath}, args...)
	stdout, stderr, exitCode, err := h.container.Run(h.ctx, cmd, nil)
	if err != nil {
		h.t.Fatalf("failed to run foldersim %v: %v", args, err)
	}

	h.lastResult = &RunResult{ExitCode: exitCode, Stdout: stdout, Stderr: stderr}
	return h.lastResult
}

// RunScan runs `foldersim scan` inside the container.
func (h *Harness) RunScan(root string, extra ...string) *RunResult {
	h.t.Helper()
	return h.run(append([]string{"scan", root}, extra...)...)
}

// RunPlan runs `foldersim plan` inside the container.
func (h *Harness) RunPlan(root, storePath string, relativePaths ...string) *RunResult {
	h.t.Helper()
	args := append([]string{"plan", "--root", root, "--store", storePath}, relativePaths...)
	return h.run(args...)
}

// RunConfirm runs `foldersim confirm` inside the container.
func (h *Harness) RunConfirm(root, storePath, planID, token string) *RunResult {
	h.t.Helper()
	return h.run("confirm", "--root", root, "--store", storePath, "--plan-id", planID, "--token", token)
}

// Assert verifies the filesystem state matches the expected FileTree.
//
// Checks:
//   - Files exist at all specified paths, with expected sizes
//   - Symlinks point to the expected targets
//   - Exit code matches, whenever a Run* has happened or expected is non-zero
func (h *Harness) Assert(expected FileTree) {
	h.t.Helper()

	if expected.ExitCode != 0 || h.lastResult != nil {
		if h.lastResult == nil {
			h.t.Fatal("Assert called before any Run*")
		}
		if h.lastResult.ExitCode != expected.ExitCode {
			h.t.Errorf("exit code: got %d, want %d\nstdout: %s\nstderr: %s",
				h.lastResult.ExitCode, expected.ExitCode,
				h.lastResult.Stdout, h.lastResult.Stderr)
		}
	}

	for _, vol := range expected.Volumes {
		h.assertState(vol)
	}
}

// AssertAbsent verifies that none of the given paths, relative to
// mountPoint, remain on disk inside the container.
func (h *Harness) AssertAbsent(mountPoint string, paths ...string) {
	h.t.Helper()

	actual, err := h.reapPaths([]string{mountPoint})
	if err != nil {
		h.t.Fatalf("reap %s: %v", mountPoint, err)
	}
	if len(actual.Volumes) == 0 {
		return
	}
	AssertAbsent(h.t, actual.Volumes[0], paths...)
}

// Cleanup terminates the container and releases resources.
func (h *Harness) Cleanup() {
	if h.container != nil {
		_ = h.container.Close(h.ctx)
		h.container = nil
	}
}

// -----------------------------------------------------------------------------
// Container Configuration
// -----------------------------------------------------------------------------

// buildContainerConfig creates Docker container and host configs for E2E tests.
func (h *Harness) buildContainerConfig() (*container.Config, *container.HostConfig, error) {
	binDir := os.Getenv("FOLDERSIM_E2E_BINDIR")
	if binDir == "" {
		return nil, nil, fmt.Errorf("FOLDERSIM_E2E_BINDIR not set - point it at the directory holding the foldersim and testfs-helper binaries")
	}

	mountPaths := make([]string, len(h.given.Volumes))
	for i, v := range h.given.Volumes {
		mountPaths[i] = v.MountPoint
	}

	// Sort mount paths so parents come before children.
	sort.Strings(mountPaths)

	tmpfs := make(map[string]string)
	for _, path := range mountPaths {
		tmpfs[path] = "size=100m"
	}

	binds := []string{
		fmt.Sprintf("%s:%s:ro", filepath.Join(binDir, binaryName), binaryPath),
		fmt.Sprintf("%s:%s:ro", filepath.Join(binDir, helperBinaryName), helperBinaryPath),
	}

	cfg := &container.Config{
		Image: baseImage,
		Cmd:   []string{"sleep", "infinity"},
	}

	hostCfg := &container.HostConfig{
		Binds:      binds,
		Tmpfs:      tmpfs,
		AutoRemove: true,
	}

	return cfg, hostCfg, nil
}

// -----------------------------------------------------------------------------
// FileTree Operations
// -----------------------------------------------------------------------------

// sowFileTree creates filesystem from FileTree spec using testfs-helper.
func (h *Harness) sowFileTree() error {
	specJSON, err := json.Marshal(h.given)
	if err != nil {
		return fmt.Errorf("marshal spec: %w", err)
	}

	cmd := []string{helperBinaryPath, "sow"}
	stdout, stderr, exitCode, err := h.container.Run(h.ctx, cmd, specJSON)
	if err != nil {
		return fmt.Errorf("run sow: %w", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("sow failed (exit %d): %s%s", exitCode, stdout, stderr)
	}
	return nil
}

// reapPaths captures filesystem state using testfs-helper.
func (h *Harness) reapPaths(paths []string) (*ReapResult, error) {
	cmd := append([]string{helperBinaryPath, "reap"}, paths...)
	stdout, stderr, exitCode, err := h.container.Run(h.ctx, cmd, nil)
	if err != nil {
		return nil, fmt.Errorf("run reap: %w", err)
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("reap failed (exit %d): %s%s", exitCode, stdout, stderr)
	}

	var result ReapResult
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		return nil, fmt.Errorf("parse reap output: %w", err)
	}
	return &result, nil
}

// -----------------------------------------------------------------------------
// Assertion Helpers
// -----------------------------------------------------------------------------

// assertState verifies files and symlinks match expected state for a volume.
func (h *Harness) assertState(vol Volume) {
	h.t.Helper()

	actual, err := h.reapPaths([]string{vol.MountPoint})
	if err != nil {
		h.t.Fatalf("reap %s: %v", vol.MountPoint, err)
	}
	if len(actual.Volumes) == 0 {
		h.t.Fatalf("reap returned no volumes for %s", vol.MountPoint)
	}

	AssertVolume(h.t, vol, actual.Volumes[0])
}

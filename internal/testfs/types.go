// Package testfs provides test infrastructure for exercising foldersim's
// scan/plan/confirm pipeline against real filesystem state.
//
// It supports two modes:
//   - Integration tests: Harness (unix && !e2e) sows files under t.TempDir()
//     and drives the scheduler/planner packages directly, in-process.
//   - E2E tests: Harness (e2e) uses Docker containers with one tmpfs mount
//     per declared Volume, giving each volume a distinct device ID so a
//     quarantine move that crosses volumes genuinely exercises the EXDEV
//     fallback path in internal/planner, not just a same-device rename.
//
// # Unified FileTree Specification
//
// Tests use a single FileTree type for both setup and verification:
//
//	given := testfs.FileTree{
//	    Volumes: []Volume{
//	        {
//	            MountPoint: "/data/photos_a",
//	            Files: []File{
//	                {Path: []string{"img.bin"}, Chunks: []Chunk{{Pattern: 'A', Size: "1MiB"}}},
//	            },
//	        },
//	        {
//	            MountPoint: "/data/photos_b", // separate tmpfs mount, separate device
//	            Files: []File{
//	                {Path: []string{"img.bin"}, Chunks: []Chunk{{Pattern: 'A', Size: "1MiB"}}},
//	            },
//	        },
//	    },
//	}
//	then := testfs.FileTree{
//	    Volumes: []Volume{
//	        {MountPoint: "/data/photos_a", Files: []File{{Path: []string{"img.bin"}}}},
//	        {MountPoint: "/data/photos_b"}, // img.bin moved out, volume now empty
//	    },
//	}
//
// Subdirectories are created automatically from file paths (mkdir -p semantics).
// File paths are relative to the volume mount point.
//
// # Context-Dependent Field Usage
//
//	| Field          | Setup              | Verification                |
//	|----------------|--------------------|------------------------------|
//	| Volumes        | Creates mounts     | Scope for assertions         |
//	| File.Path      | Create file/links  | Assert existence + size      |
//	| File.Chunks    | Generate content   | Expected size (if non-empty) |
//	| Symlink.Path   | Create symlink     | Assert is symlink            |
//	| Symlink.Target | Symlink target     | Assert symlink target        |
//	| ExitCode       | Ignored            | Assert matches (e2e only)    |
package testfs

import "github.com/dustin/go-humanize"

// -----------------------------------------------------------------------------
// FileTree Specification Types
// -----------------------------------------------------------------------------

// FileTree describes a filesystem state (used for both setup and verification).
type FileTree struct {
	// Volumes in the filesystem (each is a separate tmpfs mount under e2e).
	Volumes []Volume `json:"volumes"`

	// ExitCode expected from the foldersim binary (verification only, e2e, default 0).
	ExitCode int `json:"-"` // not serialized - harness-only field
}

// Volume represents a separate filesystem (tmpfs mount under e2e).
//
// Under e2e, each volume appears as a distinct filesystem with its own
// device ID, so a quarantine move that relocates a folder from one volume
// into another volume's .quarantine directory crosses devices (EXDEV).
type Volume struct {
	// MountPoint is the absolute path where this volume is mounted.
	// Examples: "/data/a", "/data/b"
	// Nested mounts are supported (e.g. "/data/b" inside "/data").
	MountPoint string `json:"mountPoint"`

	// Files in this volume.
	Files []File `json:"files,omitempty"`

	// Symlinks in this volume. foldersim's walker never follows or moves
	// these; they exist to verify the walker and planner both leave them
	// untouched.
	Symlinks []Symlink `json:"symlinks,omitempty"`
}

// File defines a regular file, optionally hardlinked to itself under
// additional paths (useful for exercising the walker's inode-collapsing
// logic independently of similarity grouping).
//
// In setup context:
//   - Path[0] is created with content from Chunks
//   - Path[1:] are hardlinked to Path[0]
//
// In verification context, all paths must exist with the size implied by
// Chunks (or, if Chunks is empty, existence alone is checked).
//
// Two folders containing a File with matching Chunks — as independent
// files, not hardlinks — is how a scenario seeds a duplicate for the
// grouper to find.
type File struct {
	// Path contains one or more paths (relative to volume).
	// Multiple paths indicate hardlinks sharing the same inode.
	Path []string `json:"path"`

	// Chunks specifies file content as a sequence of filled regions.
	// Each chunk fills its size with the pattern byte.
	// Use IEC units for sizes: "1KiB", "1MiB", "1GiB".
	Chunks []Chunk `json:"chunks,omitempty"`
}

// Chunk defines a region of file content filled with a pattern byte.
type Chunk struct {
	// Pattern is the fill byte for this chunk region.
	// Example: 'A' fills the region with 0x41 bytes.
	Pattern rune `json:"pattern"`

	// Size in IEC units (1024-based): "1KiB", "1MiB", "1GiB".
	Size string `json:"size"`
}

// TotalSize calculates the sum of all chunk sizes in bytes.
func (f *File) TotalSize() int64 {
	var total int64
	for _, c := range f.Chunks {
		size, _ := humanize.ParseBytes(c.Size)
		total += int64(size)
	}
	return total
}

// Symlink defines a symbolic link.
type Symlink struct {
	// Path is relative to the volume mount point.
	Path string `json:"path"`

	// Target is the path the symlink points to.
	Target string `json:"target"`
}

// -----------------------------------------------------------------------------
// Execution Result Types
// -----------------------------------------------------------------------------

// RunResult captures the result of a foldersim CLI invocation (e2e harness).
type RunResult struct {
	ExitCode int    // process exit code
	Stdout   string // standard output
	Stderr   string // standard error
}

// -----------------------------------------------------------------------------
// Reap Types (filesystem state captured from disk or container)
// -----------------------------------------------------------------------------

// ReapResult is the output format from the testfs-helper reap command. It
// captures the actual filesystem state for verification against an
// expected FileTree.
type ReapResult struct {
	Volumes []ReapVolume `json:"volumes"`
}

// ReapVolume contains scanned filesystem state for a single volume.
type ReapVolume struct {
	Name     string        `json:"name"`               // mount point path (e.g. "/data/a")
	Files    []ReapFile    `json:"files,omitempty"`     // regular files
	Symlinks []ReapSymlink `json:"symlinks,omitempty"`  // symbolic links
}

// ReapFile describes one regular file on disk. foldersim never creates
// hardlinks as an output of its own operations (unlike the teacher's
// dedupe pipeline), so unlike that pipeline's reap format this carries a
// single path and size rather than an inode-grouped set of aliases.
type ReapFile struct {
	Path string `json:"path"` // path relative to the volume mount point
	Size int64  `json:"size"` // file size in bytes
}

// ReapSymlink contains symlink metadata.
type ReapSymlink struct {
	Path   string `json:"path"`   // symlink path (relative to volume)
	Target string `json:"target"` // symlink target
}

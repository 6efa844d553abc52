//go:build unix

package testfs

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// -----------------------------------------------------------------------------
// Reap Operations - Capture filesystem state
// -----------------------------------------------------------------------------

// ReapPaths captures the filesystem state for the given paths.
//
// Each path becomes a ReapVolume with files listed individually (foldersim
// never produces hardlinked output, so there is no inode grouping to do)
// and symlinks captured with their targets.
//
// The root parameter specifies the base directory to subtract from paths.
// For E2E tests, root is "" or "/" so paths are used as-is.
// For integration tests, root is the harness's t.TempDir() root.
func ReapPaths(root string, paths []string) (*ReapResult, error) {
	result := &ReapResult{}

	for _, path := range paths {
		// Determine actual path to scan
		actualPath := path
		if root != "" && root != "/" {
			actualPath = filepath.Join(root, path)
		}

		vol, err := reapPath(actualPath, path)
		if err != nil {
			return nil, fmt.Errorf("reap %s: %w", path, err)
		}
		result.Volumes = append(result.Volumes, vol)
	}

	return result, nil
}

// ReapToWriter captures filesystem state and writes JSON to the writer.
// Used by testfs-helper CLI tool to write to stdout.
func ReapToWriter(w io.Writer, paths []string) error {
	result, err := ReapPaths("", paths)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// reapPath scans a directory and returns its state.
// rootPath is the actual filesystem path to scan.
// logicalPath is the path to report in the result (for volume name).
//
// A missing rootPath is not an error: a confirmed plan can quarantine the
// only folder a mount point held, leaving the mount point itself absent,
// and callers asserting absence need that to report as an empty volume.
func reapPath(rootPath, logicalPath string) (ReapVolume, error) {
	vol := ReapVolume{Name: logicalPath}

	if _, err := os.Lstat(rootPath); os.IsNotExist(err) {
		return vol, nil
	}

	err := filepath.Walk(rootPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == rootPath {
			return nil // skip root
		}

		relPath, _ := filepath.Rel(rootPath, path)

		// Handle symlinks - must check before IsDir since Lstat is used
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(path)
			if err != nil {
				return fmt.Errorf("readlink %s: %w", path, err)
			}
			vol.Symlinks = append(vol.Symlinks, ReapSymlink{
				Path:   relPath,
				Target: target,
			})
			return nil
		}

		if info.IsDir() {
			return nil
		}

		vol.Files = append(vol.Files, ReapFile{Path: relPath, Size: info.Size()})
		return nil
	})
	if err != nil {
		return vol, err
	}

	return vol, nil
}

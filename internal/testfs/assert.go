package testfs

import "testing"

// -----------------------------------------------------------------------------
// Assertion Functions - Shared between the integration and e2e Harnesses
// -----------------------------------------------------------------------------

// AssertVolume verifies the actual filesystem state matches expected.
//
// Checks:
//   - Files exist at all specified paths, with the size implied by Chunks
//     (if any were given)
//   - Symlinks point to the expected targets
func AssertVolume(t *testing.T, expected Volume, actual ReapVolume) {
	t.Helper()
	AssertFiles(t, expected.Files, actual.Files)
	AssertSymlinks(t, expected.Symlinks, actual.Symlinks)
}

// AssertFiles verifies that every expected file exists with the right size.
func AssertFiles(t *testing.T, expected []File, actual []ReapFile) {
	t.Helper()

	sizes := make(map[string]int64, len(actual))
	for _, rf := range actual {
		sizes[rf.Path] = rf.Size
	}

	for _, ef := range expected {
		for _, p := range ef.Path {
			size, ok := sizes[p]
			if !ok {
				t.Errorf("expected file not found: %s", p)
				continue
			}
			if want := ef.TotalSize(); len(ef.Chunks) > 0 && size != want {
				t.Errorf("file %s: got size %d, want %d", p, size, want)
			}
		}
	}
}

// AssertSymlinks verifies expected symlinks exist with correct targets.
func AssertSymlinks(t *testing.T, expected []Symlink, actual []ReapSymlink) {
	t.Helper()

	pathToTarget := make(map[string]string, len(actual))
	for _, rs := range actual {
		pathToTarget[rs.Path] = rs.Target
	}

	for _, expectedSym := range expected {
		target, ok := pathToTarget[expectedSym.Path]
		if !ok {
			t.Errorf("expected symlink not found: %s", expectedSym.Path)
			continue
		}
		if target != expectedSym.Target {
			t.Errorf("symlink %s: got target %q, want %q",
				expectedSym.Path, target, expectedSym.Target)
		}
	}
}

// AssertAbsent verifies that none of the given relative paths (files or
// symlinks) remain in a volume. Used after a confirmed deletion plan to
// check that the quarantined originals are actually gone from their
// source location, not merely duplicated into quarantine.
func AssertAbsent(t *testing.T, actual ReapVolume, paths ...string) {
	t.Helper()

	present := make(map[string]bool, len(actual.Files)+len(actual.Symlinks))
	for _, rf := range actual.Files {
		present[rf.Path] = true
	}
	for _, rs := range actual.Symlinks {
		present[rs.Path] = true
	}

	for _, p := range paths {
		if present[p] {
			t.Errorf("expected %s to be absent, but it still exists", p)
		}
	}
}

// Package pathnorm implements the path & name normalizer (§4.1): NFC
// normalization, an optional case-insensitive comparison policy, and
// root-confinement checks that reject any path resolving outside the scan
// root.
package pathnorm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrRootEscape is returned when a resolved path does not stay within the
// scan root.
var ErrRootEscape = errors.New("root_escape")

// ErrRootNotFound is returned when the root path does not exist.
var ErrRootNotFound = errors.New("root_not_found")

// ErrRootNotDirectory is returned when the root path exists but is not a
// directory.
var ErrRootNotDirectory = errors.New("root_not_directory")

// Normalizer resolves and normalizes paths relative to a fixed scan root.
type Normalizer struct {
	root                 string
	forceCaseInsensitive bool
}

// New creates a Normalizer confined to root. root must already be an
// absolute, symlink-resolved path; callers obtain one via ResolveRoot.
func New(root string, forceCaseInsensitive bool) *Normalizer {
	return &Normalizer{root: root, forceCaseInsensitive: forceCaseInsensitive}
}

// ResolveRoot validates that rootPath exists, is a directory, and returns
// its absolute, symlink-resolved form for use as a Normalizer's root.
func ResolveRoot(rootPath string) (string, error) {
	abs, err := filepath.Abs(rootPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRootNotFound, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrRootNotFound, rootPath)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrRootNotFound, rootPath)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrRootNotDirectory, rootPath)
	}
	return NFC(resolved), nil
}

// NFC normalizes name bytes to Unicode Normalization Form C.
func NFC(name string) string {
	return norm.NFC.String(name)
}

// CaseFold lowercases s when the normalizer's case policy requires it. The
// original (non-folded) form must still be used for display (§4.1).
func (n *Normalizer) CaseFold(s string) string {
	if n.forceCaseInsensitive {
		return strings.ToLower(s)
	}
	return s
}

// Relative returns the "/"-separated, NFC-normalized path of p relative to
// the root, with no leading slash, or "." for the root itself (§4.1).
func (n *Normalizer) Relative(p string) (string, error) {
	rel, err := filepath.Rel(n.root, p)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRootEscape, err)
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		return ".", nil
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", ErrRootEscape
	}
	return NFC(rel), nil
}

// Confine resolves p's symlinked components and verifies the resolved
// absolute path stays within the root: resolved == root, or resolved
// begins with root + "/" (§4.1). It returns the resolved absolute path.
func (n *Normalizer) Confine(p string) (string, error) {
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		resolved = p // symlink resolution failures are reported by the caller's stat, not here
	}
	resolved = filepath.Clean(resolved)
	if resolved == n.root || strings.HasPrefix(resolved, n.root+string(filepath.Separator)) {
		return resolved, nil
	}
	return "", ErrRootEscape
}

// Root returns the normalizer's confinement root.
func (n *Normalizer) Root() string { return n.root }

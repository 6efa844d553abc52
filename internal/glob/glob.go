// Package glob matches scan-relative paths against include/exclude glob
// patterns. filepath.Match (used by the teacher CLI) only matches a single
// path segment; the spec's own defaults (".git/", "node_modules/", a
// recursive quarantine directory) need "**" support, so patterns are
// matched with doublestar instead.
package glob

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar"
)

// DefaultExcludes are the exclude globs applied when a scan request leaves
// Exclude empty (§4.3).
func DefaultExcludes(quarantineRelative string) []string {
	return []string{
		".git/**",
		"node_modules/**",
		"__pycache__/**",
		".cache/**",
		"Thumbs.db",
		".DS_Store",
		quarantineRelative + "/**",
	}
}

// Matcher evaluates a relative, "/"-separated path against include and
// exclude pattern sets.
type Matcher struct {
	include []string
	exclude []string
}

// New builds a Matcher. An empty include set means "everything is
// included" (§4.3: "If non-empty, only matching files emit").
func New(include, exclude []string) *Matcher {
	return &Matcher{include: include, exclude: exclude}
}

// Excluded reports whether rel (or any ancestor directory of rel) matches
// an exclude pattern. A "dir/**" pattern also matches dir itself.
func (m *Matcher) Excluded(rel string) bool {
	rel = strings.TrimPrefix(rel, "/")
	for p := rel; p != "" && p != "."; p = path.Dir(p) {
		if matchesAny(m.exclude, p) {
			return true
		}
		for _, pattern := range m.exclude {
			if dir, ok := strings.CutSuffix(pattern, "/**"); ok && matchesAny([]string{dir}, p) {
				return true
			}
		}
	}
	return false
}

// Included reports whether rel passes the include filter.
func (m *Matcher) Included(rel string) bool {
	if len(m.include) == 0 {
		return true
	}
	return matchesAny(m.include, rel)
}

func matchesAny(patterns []string, rel string) bool {
	rel = strings.TrimPrefix(rel, "/")
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		// Also try matching just the base name, so bare patterns like
		// "Thumbs.db" or "*.tmp" work regardless of directory depth.
		if ok, _ := doublestar.Match(pattern, path.Base(rel)); ok {
			return true
		}
	}
	return false
}

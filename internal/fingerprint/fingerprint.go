// Package fingerprint defines the identity of a single scanned file and the
// tagged-variant dispatch (§9 "Dynamic dispatch by file-equality mode")
// between the name_size and sha256 equality modes.
package fingerprint

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/foldersim/simcore/internal/types"
)

// File is the identity record for one file beneath the scan root (§3
// FileFingerprint). Digest is empty unless the scan runs in sha256 mode.
type File struct {
	RelativePath string
	Size         int64
	MTime        time.Time
	Device       uint64
	Inode        uint64
	HasDevIno    bool
	Digest       string
	Unstable     bool
}

// InodeKey identifies a file by device+inode, used to collapse hard-link
// aliases to a single contributor during walking and aggregation.
type InodeKey struct {
	Device, Inode uint64
}

// Key returns the InodeKey for f. Callers must check HasDevIno first;
// filesystems without stable inode numbers (e.g. some network mounts)
// report HasDevIno=false and every file is treated as unique.
func (f *File) Key() InodeKey { return InodeKey{f.Device, f.Inode} }

// Identity computes the equality key used by the aggregator and grouper to
// decide whether two files are "the same file" for weighting purposes.
//
// mode selects name_size (relative_path, size) vs sha256 (digest) equality
// (§3). policy additionally controls whether the path component of the key
// is the full relative-to-folder path (relative) or just the basename
// (bag_of_files, §4.5) — path components are discarded in that mode so two
// files with the same name and content anywhere in a folder collapse to one
// identity regardless of nesting.
//
// folderRelative is the file's path relative to the *folder* being
// fingerprinted, not the scan root. The walker calls Identity once per file
// with the file's basename (relative to its own folder); the aggregator
// re-roots those keys for each ancestor instead of calling Identity again.
func Identity(f *File, folderRelative string, mode types.FileEqualityMode, policy types.StructurePolicy) string {
	base := folderRelative
	if policy == types.StructureBagOfFiles {
		base = path.Base(folderRelative)
	}
	if mode == types.EqualitySHA256 {
		return fmt.Sprintf("%s#%s", base, f.Digest)
	}
	return fmt.Sprintf("%s:%d", base, f.Size)
}

// IdentityPath extracts the path component back out of an identity key
// produced by Identity, turning a raw identity string back into a human
// readable path.
func IdentityPath(identity string) string {
	if i := strings.Index(identity, "#"); i >= 0 {
		return identity[:i]
	}
	if i := strings.LastIndex(identity, ":"); i >= 0 {
		return identity[:i]
	}
	return identity
}

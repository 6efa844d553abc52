// Package aggregator folds a walker.Result's per-folder direct weights
// into the full FolderInfo arena (§4.4): every folder's file_weights
// becomes the elementwise sum of its own direct files and the already
// rolled-up weights of its immediate subdirectories. Under the relative
// structure policy, a child's identities are prefixed by the child's path
// relative to the parent; under bag_of_files (§4.5) they are instead
// re-based to a bare basename at every level, so nesting never affects
// identity.
//
// The roll-up is naturally recursive, but recursion risks stack depth on
// deep trees (§9 Design Notes). Instead this processes folders in a single
// iterative pass ordered by path depth descending — children always sort
// after their parents lexically but strictly deeper, so by the time a
// folder is visited every one of its immediate children has already been
// rolled up and can simply be looked up and merged in.
package aggregator

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/foldersim/simcore/internal/store"
	"github.com/foldersim/simcore/internal/types"
	"github.com/foldersim/simcore/internal/walker"
)

// representative tracks the one file an aggregated folder will offer the
// deletion planner as its drift-check target (§4.7).
type representative struct {
	path  string
	size  int64
	mtime time.Time
}

// Aggregator builds the FolderInfo arena from a completed walk and
// persists each record to a Store as it is produced.
type Aggregator struct {
	store  *store.Store
	policy types.StructurePolicy
}

// New creates an Aggregator that persists into s and rolls up child
// identities according to policy. Under bag_of_files (§4.5) a child's
// identities are re-based to a bare basename at every level rather than
// prefixed with the child's sub-path, so a file with the same name and
// size/digest anywhere beneath a folder collapses to one identity
// regardless of nesting depth.
func New(s *store.Store, policy types.StructurePolicy) *Aggregator {
	return &Aggregator{store: s, policy: policy}
}

// Result is the outcome of a completed aggregation pass.
type Result struct {
	Folders        []types.FolderInfo // arena, index == types.FolderInfo.Index
	RootIndex      int
	PathToIndex    map[string]int
}

// Run rolls up w.Folders into the FolderInfo arena, persisting every
// record to the store and returning the arena for the grouper to consume.
func (a *Aggregator) Run(w *walker.Result) (*Result, error) {
	relPaths := make([]string, 0, len(w.Folders))
	for rel := range w.Folders {
		relPaths = append(relPaths, rel)
	}
	sortByDepthDescending(relPaths)

	rolled := make(map[string]map[string]int64, len(relPaths))
	unstableByPath := make(map[string]bool, len(relPaths))
	representativeByPath := make(map[string]representative, len(relPaths))
	arena := make([]types.FolderInfo, 0, len(relPaths))
	pathToIndex := make(map[string]int, len(relPaths))

	children := childrenByParent(relPaths)

	for _, rel := range relPaths {
		direct := w.Folders[rel]

		combined := make(map[string]int64, len(direct.DirectWeights))
		for identity, weight := range direct.DirectWeights {
			combined[identity] += weight
		}

		unstable := direct.Unstable
		rep := representative{path: direct.RepresentativePath, size: direct.RepresentativeSize, mtime: direct.RepresentativeMTime}
		for _, childRel := range children[rel] {
			childWeights, ok := rolled[childRel]
			if !ok {
				continue
			}
			prefix := childPrefix(rel, childRel)
			for identity, weight := range childWeights {
				key := identity
				if a.policy == types.StructureBagOfFiles {
					key = basenameIdentity(identity)
				} else {
					key = prefixIdentity(prefix, identity)
				}
				combined[key] += weight
			}
			if unstableByPath[childRel] {
				unstable = true
			}
			if rep.path == "" {
				if childRep, ok := representativeByPath[childRel]; ok {
					rep = childRep
				}
			}
			delete(rolled, childRel) // dropped from RAM once merged into the parent (§4.4)
		}

		rolled[rel] = combined
		unstableByPath[rel] = unstable
		representativeByPath[rel] = rep

		var totalBytes int64
		for _, weight := range combined {
			totalBytes += weight
		}

		index := len(arena)
		info := types.FolderInfo{
			Path:                direct.Path,
			RelativePath:        rel,
			TotalBytes:          totalBytes,
			FileCount:           len(combined),
			FileWeights:         combined,
			FingerprintHash:     fingerprintHash(combined),
			Unstable:            unstable,
			ParentIndex:         -1,
			Index:               index,
			RepresentativePath:  rep.path,
			RepresentativeSize:  rep.size,
			RepresentativeMTime: rep.mtime,
		}
		arena = append(arena, info)
		pathToIndex[rel] = index
	}

	// Children are visited before their parents (depth-descending order),
	// so a child's ParentIndex can't be known until its parent's arena slot
	// exists. Backfill it now, then persist — every record's final,
	// correct form is written exactly once.
	for i := range arena {
		if arena[i].RelativePath == "." {
			continue
		}
		parentRel := parentOf(arena[i].RelativePath)
		if parentIndex, ok := pathToIndex[parentRel]; ok {
			arena[i].ParentIndex = parentIndex
		}
	}

	if a.store != nil {
		for i := range arena {
			if err := a.store.Put(&arena[i]); err != nil {
				return nil, fmt.Errorf("persist folder %s: %w", arena[i].RelativePath, err)
			}
		}
	}

	rootIndex, ok := pathToIndex["."]
	if !ok {
		return nil, fmt.Errorf("aggregate: missing root folder record")
	}

	return &Result{Folders: arena, RootIndex: rootIndex, PathToIndex: pathToIndex}, nil
}

// sortByDepthDescending orders relative paths deepest-first so that, when
// processed in order, every folder's children have already been visited.
func sortByDepthDescending(paths []string) {
	depth := func(p string) int {
		if p == "." {
			return 0
		}
		return strings.Count(p, "/") + 1
	}
	sort.Slice(paths, func(i, j int) bool {
		di, dj := depth(paths[i]), depth(paths[j])
		if di != dj {
			return di > dj
		}
		return paths[i] < paths[j]
	})
}

// childrenByParent groups every relative path under its immediate parent's
// relative path.
func childrenByParent(relPaths []string) map[string][]string {
	children := make(map[string][]string)
	for _, rel := range relPaths {
		if rel == "." {
			continue
		}
		children[parentOf(rel)] = append(children[parentOf(rel)], rel)
	}
	return children
}

func parentOf(rel string) string {
	dir := path.Dir(rel)
	if dir == "" {
		return "."
	}
	return dir
}

// childPrefix returns childRel's path relative to parentRel, e.g.
// parent "a", child "a/b/c" -> "b/c"; parent ".", child "x" -> "x".
func childPrefix(parentRel, childRel string) string {
	if parentRel == "." {
		return childRel
	}
	return strings.TrimPrefix(childRel, parentRel+"/")
}

// prefixIdentity prepends prefix to identity's path component, preserving
// whichever suffix (a "#digest" or ":size" tag) the identity carries. This
// mirrors how a child folder's file identities must be re-rooted once
// folded into a parent's file_weights map.
func prefixIdentity(prefix, identity string) string {
	if prefix == "" || prefix == "." {
		return identity
	}
	if i := strings.Index(identity, "#"); i >= 0 {
		return joinIdentityBase(prefix, identity[:i]) + "#" + identity[i+1:]
	}
	if i := strings.LastIndex(identity, ":"); i >= 0 {
		return joinIdentityBase(prefix, identity[:i]) + ":" + identity[i+1:]
	}
	return joinIdentityBase(prefix, identity)
}

// basenameIdentity re-bases identity's path component to its own basename,
// discarding every directory component accumulated during roll-up so far.
// Used under bag_of_files (§4.5), where a file's identity is (basename,
// size) at every level regardless of nesting.
func basenameIdentity(identity string) string {
	if i := strings.Index(identity, "#"); i >= 0 {
		return path.Base(identity[:i]) + "#" + identity[i+1:]
	}
	if i := strings.LastIndex(identity, ":"); i >= 0 {
		return path.Base(identity[:i]) + ":" + identity[i+1:]
	}
	return path.Base(identity)
}

func joinIdentityBase(prefix, base string) string {
	base = strings.TrimPrefix(base, "/")
	if base == "" {
		return prefix
	}
	return prefix + "/" + base
}

// fingerprintHash computes a stable hash over a deterministic sort of
// (identity, weight) pairs (§3 "fingerprint_hash").
func fingerprintHash(weights map[string]int64) uint64 {
	identities := make([]string, 0, len(weights))
	for identity := range weights {
		identities = append(identities, identity)
	}
	sort.Strings(identities)

	h := fnv.New64a()
	buf := make([]byte, 8)
	for _, identity := range identities {
		_, _ = h.Write([]byte(identity))
		_, _ = h.Write([]byte{0})
		binary.BigEndian.PutUint64(buf, uint64(weights[identity]))
		_, _ = h.Write(buf)
	}
	return h.Sum64()
}

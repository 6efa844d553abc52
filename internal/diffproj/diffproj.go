// Package diffproj implements the diff projector (§4.8): given two
// relative paths from the same scan, it loads their FolderInfo records
// from the folder store and reports which file identities are unique to
// each side and which are present on both sides with differing byte
// weights.
//
// This is grounded directly on the reference implementation's
// compute_fingerprint_diff, which walks both sides' identity maps the
// same way.
package diffproj

import (
	"fmt"
	"sort"

	"github.com/foldersim/simcore/internal/store"
	"github.com/foldersim/simcore/internal/types"
)

// ErrNotFound is returned when either side's relative path is absent from
// the folder store.
var ErrNotFound = fmt.Errorf("folder_not_found")

// Projector computes GroupDiffs against a single scan's folder store.
type Projector struct {
	st *store.Store
}

// New creates a Projector over st.
func New(st *store.Store) *Projector {
	return &Projector{st: st}
}

// Diff loads leftRelative and rightRelative and projects their difference.
func (p *Projector) Diff(leftRelative, rightRelative string) (*types.GroupDiff, error) {
	left, found, err := p.st.Get(leftRelative)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, leftRelative)
	}

	right, found, err := p.st.Get(rightRelative)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rightRelative)
	}

	return Project(*left, *right), nil
}

// Project computes the diff between two already-loaded FolderInfo records.
func Project(left, right types.FolderInfo) *types.GroupDiff {
	diff := &types.GroupDiff{Left: left, Right: right}

	for identity, bytes := range left.FileWeights {
		rightBytes, onRight := right.FileWeights[identity]
		switch {
		case !onRight:
			diff.OnlyLeft = append(diff.OnlyLeft, types.DiffEntry{Identity: identity, Bytes: bytes})
		case rightBytes != bytes:
			diff.Mismatched = append(diff.Mismatched, types.MismatchEntry{Identity: identity, LeftBytes: bytes, RightBytes: rightBytes})
		}
	}
	for identity, bytes := range right.FileWeights {
		if _, onLeft := left.FileWeights[identity]; !onLeft {
			diff.OnlyRight = append(diff.OnlyRight, types.DiffEntry{Identity: identity, Bytes: bytes})
		}
	}

	sortDiffEntries(diff.OnlyLeft)
	sortDiffEntries(diff.OnlyRight)
	sort.Slice(diff.Mismatched, func(i, j int) bool {
		a, b := diff.Mismatched[i], diff.Mismatched[j]
		maxA, maxB := maxInt64(a.LeftBytes, a.RightBytes), maxInt64(b.LeftBytes, b.RightBytes)
		if maxA != maxB {
			return maxA > maxB
		}
		return a.Identity < b.Identity
	})

	return diff
}

// sortDiffEntries orders entries by weight descending, then identity
// ascending (§4.8 "deterministic output").
func sortDiffEntries(entries []types.DiffEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Bytes != entries[j].Bytes {
			return entries[i].Bytes > entries[j].Bytes
		}
		return entries[i].Identity < entries[j].Identity
	})
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

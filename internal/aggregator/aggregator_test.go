package aggregator

import (
	"testing"

	"github.com/foldersim/simcore/internal/types"
	"github.com/foldersim/simcore/internal/walker"
)

func direct(relativePath string, weights map[string]int64, unstable bool) *walker.FolderDirect {
	d := &walker.FolderDirect{
		Path:          "/root/" + relativePath,
		RelativePath:  relativePath,
		DirectWeights: weights,
		DirectCount:   len(weights),
		Unstable:      unstable,
	}
	return d
}

func TestRunRollsUpChildIntoParent(t *testing.T) {
	w := &walker.Result{Folders: map[string]*walker.FolderDirect{
		".":     direct(".", nil, false),
		"a":     direct("a", nil, false),
		"a/x":   direct("a/x", map[string]int64{"f.txt:1024": 1024}, false),
	}}

	res, err := New(nil, types.StructureRelative).Run(w)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	byPath := res.PathToIndex
	root := res.Folders[byPath["."]]
	if root.TotalBytes != 1024 {
		t.Errorf("root TotalBytes = %d, want 1024", root.TotalBytes)
	}
	a := res.Folders[byPath["a"]]
	if a.TotalBytes != 1024 {
		t.Errorf("a TotalBytes = %d, want 1024", a.TotalBytes)
	}
	ax := res.Folders[byPath["a/x"]]
	if ax.TotalBytes != 1024 {
		t.Errorf("a/x TotalBytes = %d, want 1024", ax.TotalBytes)
	}

	if len(root.FileWeights) != 1 {
		t.Fatalf("root FileWeights has %d entries, want 1", len(root.FileWeights))
	}
	for identity, weight := range root.FileWeights {
		if weight != 1024 {
			t.Errorf("root identity %q weight = %d, want 1024", identity, weight)
		}
	}
}

func TestRunEmptyFoldersHaveZeroBytes(t *testing.T) {
	w := &walker.Result{Folders: map[string]*walker.FolderDirect{
		".":               direct(".", nil, false),
		"empty_a":         direct("empty_a", nil, false),
		"empty_c":         direct("empty_c", nil, false),
		"empty_c/subdir":  direct("empty_c/subdir", nil, false),
	}}

	res, err := New(nil, types.StructureRelative).Run(w)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	byPath := res.PathToIndex
	for _, rel := range []string{"empty_a", "empty_c", "empty_c/subdir"} {
		f := res.Folders[byPath[rel]]
		if f.TotalBytes != 0 || f.FileCount != 0 {
			t.Errorf("%s: TotalBytes=%d FileCount=%d, want 0,0", rel, f.TotalBytes, f.FileCount)
		}
	}
}

func TestRunUnstablePropagatesToAncestors(t *testing.T) {
	w := &walker.Result{Folders: map[string]*walker.FolderDirect{
		".":   direct(".", nil, false),
		"a":   direct("a", nil, false),
		"a/x": direct("a/x", map[string]int64{"f:10": 10}, true),
	}}

	res, err := New(nil, types.StructureRelative).Run(w)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	byPath := res.PathToIndex
	if !res.Folders[byPath["a"]].Unstable {
		t.Error("parent of an unstable folder should itself be marked unstable")
	}
	if !res.Folders[byPath["."]].Unstable {
		t.Error("root should inherit unstable from a deep descendant")
	}
}

func TestRunParentIndexPointsAtParent(t *testing.T) {
	w := &walker.Result{Folders: map[string]*walker.FolderDirect{
		".":   direct(".", nil, false),
		"a":   direct("a", nil, false),
		"a/x": direct("a/x", nil, false),
	}}

	res, err := New(nil, types.StructureRelative).Run(w)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	byPath := res.PathToIndex
	ax := res.Folders[byPath["a/x"]]
	if ax.ParentIndex != byPath["a"] {
		t.Errorf("a/x ParentIndex = %d, want %d", ax.ParentIndex, byPath["a"])
	}
	root := res.Folders[byPath["."]]
	if root.ParentIndex != -1 {
		t.Errorf("root ParentIndex = %d, want -1", root.ParentIndex)
	}
}

// TestRunBagOfFilesDiscardsPathAtEveryLevel verifies that under
// bag_of_files (§4.5) two files with the same basename and size collapse
// to a single identity even once a folder boundary separates them during
// roll-up, not just at the direct-file leaf level.
func TestRunBagOfFilesDiscardsPathAtEveryLevel(t *testing.T) {
	w := &walker.Result{Folders: map[string]*walker.FolderDirect{
		".":   direct(".", nil, false),
		"a":   direct("a", nil, false),
		"a/x": direct("a/x", map[string]int64{"f.txt:1024": 1024}, false),
		"a/y": direct("a/y", map[string]int64{"f.txt:1024": 1024}, false),
	}}

	res, err := New(nil, types.StructureBagOfFiles).Run(w)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	byPath := res.PathToIndex
	a := res.Folders[byPath["a"]]
	if len(a.FileWeights) != 1 {
		t.Fatalf("a FileWeights has %d entries, want 1 (x/f.txt and y/f.txt should collapse), got %v", len(a.FileWeights), a.FileWeights)
	}
	for identity, weight := range a.FileWeights {
		if weight != 2048 {
			t.Errorf("a identity %q weight = %d, want 2048 (sum of both x/f.txt and y/f.txt)", identity, weight)
		}
	}

	root := res.Folders[byPath["."]]
	if len(root.FileWeights) != 1 {
		t.Fatalf("root FileWeights has %d entries, want 1, got %v", len(root.FileWeights), root.FileWeights)
	}
}

func TestRunTotalBytesInvariant(t *testing.T) {
	w := &walker.Result{Folders: map[string]*walker.FolderDirect{
		".": direct(".", map[string]int64{"root.txt:5": 5}, false),
		"a": direct("a", map[string]int64{"a.txt:7": 7, "b.txt:3": 3}, false),
	}}

	res, err := New(nil, types.StructureRelative).Run(w)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	for _, f := range res.Folders {
		var sum int64
		for _, weight := range f.FileWeights {
			sum += weight
		}
		if sum != f.TotalBytes {
			t.Errorf("%s: TotalBytes=%d but Σ weights=%d", f.RelativePath, f.TotalBytes, sum)
		}
	}
}

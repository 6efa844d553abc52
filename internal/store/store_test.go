package store

import (
	"path/filepath"
	"testing"

	"github.com/foldersim/simcore/internal/types"
)

func TestPutGetRoundTrip(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer func() { _ = s.Close() }()

	f := &types.FolderInfo{
		RelativePath: "a/b",
		TotalBytes:   1024,
		FileCount:    2,
		FileWeights:  map[string]int64{"f1:512": 512, "f2:512": 512},
	}
	if err := s.Put(f); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	got, ok, err := s.Get("a/b")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !ok {
		t.Fatal("Get() reported not found")
	}
	if got.TotalBytes != 1024 || got.FileCount != 2 {
		t.Errorf("Get() = %+v, want TotalBytes=1024 FileCount=2", got)
	}
}

func TestGetMissing(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer func() { _ = s.Close() }()

	_, ok, err := s.Get("does/not/exist")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if ok {
		t.Error("Get() on a missing key reported found")
	}
}

func TestAllEnumeratesEveryFolder(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer func() { _ = s.Close() }()

	for _, rel := range []string{".", "a", "a/b"} {
		if err := s.Put(&types.FolderInfo{RelativePath: rel}); err != nil {
			t.Fatalf("Put(%q) failed: %v", rel, err)
		}
	}

	all, err := s.All()
	if err != nil {
		t.Fatalf("All() failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("All() returned %d paths, want 3", len(all))
	}
}

func TestCountMatchesPutCount(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer func() { _ = s.Close() }()

	for _, rel := range []string{".", "a"} {
		_ = s.Put(&types.FolderInfo{RelativePath: rel})
	}
	n, err := s.Count()
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Count() = %d, want 2", n)
	}
}

func TestEphemeralStoreWithEmptyPath(t *testing.T) {
	s, err := Open("")
	if err != nil {
		t.Fatalf("Open(\"\") failed: %v", err)
	}
	if err := s.Put(&types.FolderInfo{RelativePath: "."}); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
}

func TestSurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "store.db")

	s1, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	_ = s1.Put(&types.FolderInfo{RelativePath: "x", TotalBytes: 42})
	_ = s1.Close()

	s2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = s2.Close() }()

	got, ok, err := s2.Get("x")
	if err != nil || !ok {
		t.Fatalf("Get() after reopen: ok=%v err=%v", ok, err)
	}
	if got.TotalBytes != 42 {
		t.Errorf("TotalBytes = %d, want 42", got.TotalBytes)
	}
}

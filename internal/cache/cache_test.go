package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/foldersim/simcore/internal/fingerprint"
)

const digest = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef" // 64 hex chars

func TestCacheDisabled(t *testing.T) {
	c, err := Open("")
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer func() { _ = c.Close() }()

	f := &fingerprint.File{Size: 100, Inode: 1234, HasDevIno: true, MTime: time.Now()}
	if err := c.Insert(f, digest); err != nil {
		t.Fatalf("Insert() on disabled cache: %v", err)
	}
	got, err := c.Lookup(f)
	if err != nil {
		t.Fatalf("Lookup() on disabled cache: %v", err)
	}
	if got != "" {
		t.Errorf("Lookup() on disabled cache = %q, want empty", got)
	}
}

func TestCacheRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	cachePath := filepath.Join(tmpDir, "cache.db")

	c1, err := Open(cachePath)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	f := &fingerprint.File{
		Size: 1024, Device: 1, Inode: 12345, HasDevIno: true,
		MTime: time.Unix(1609459200, 0),
	}
	if err := c1.Insert(f, digest); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	if err := c1.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	c2, err := Open(cachePath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = c2.Close() }()

	got, err := c2.Lookup(f)
	if err != nil {
		t.Fatalf("Lookup() failed: %v", err)
	}
	if got != digest {
		t.Errorf("Lookup() = %q, want %q", got, digest)
	}
}

func TestCacheMissOnMtimeChange(t *testing.T) {
	tmpDir := t.TempDir()
	cachePath := filepath.Join(tmpDir, "cache.db")

	c1, _ := Open(cachePath)
	f := &fingerprint.File{Size: 1024, Inode: 12345, HasDevIno: true, MTime: time.Unix(1609459200, 0)}
	_ = c1.Insert(f, digest)
	_ = c1.Close()

	c2, _ := Open(cachePath)
	defer func() { _ = c2.Close() }()

	modified := &fingerprint.File{Size: f.Size, Inode: f.Inode, HasDevIno: true, MTime: time.Unix(1609459201, 0)}
	got, _ := c2.Lookup(modified)
	if got != "" {
		t.Errorf("Lookup() with different mtime = %q, want empty", got)
	}
}

func TestCacheMissOnSizeChange(t *testing.T) {
	tmpDir := t.TempDir()
	cachePath := filepath.Join(tmpDir, "cache.db")

	c1, _ := Open(cachePath)
	f := &fingerprint.File{Size: 1024, Inode: 12345, HasDevIno: true, MTime: time.Now()}
	_ = c1.Insert(f, digest)
	_ = c1.Close()

	c2, _ := Open(cachePath)
	defer func() { _ = c2.Close() }()

	resized := &fingerprint.File{Size: 2048, Inode: f.Inode, HasDevIno: true, MTime: f.MTime}
	got, _ := c2.Lookup(resized)
	if got != "" {
		t.Errorf("Lookup() with different size = %q, want empty", got)
	}
}

func TestCacheMissOnInodeChange(t *testing.T) {
	tmpDir := t.TempDir()
	cachePath := filepath.Join(tmpDir, "cache.db")

	c1, _ := Open(cachePath)
	f := &fingerprint.File{Size: 1024, Inode: 12345, HasDevIno: true, MTime: time.Now()}
	_ = c1.Insert(f, digest)
	_ = c1.Close()

	c2, _ := Open(cachePath)
	defer func() { _ = c2.Close() }()

	// Simulates: file deleted, new file created at same path with a new inode.
	renamed := &fingerprint.File{Size: f.Size, Inode: 99999, HasDevIno: true, MTime: f.MTime}
	got, _ := c2.Lookup(renamed)
	if got != "" {
		t.Errorf("Lookup() with different inode = %q, want empty", got)
	}
}

func TestCacheDisabledWithoutDevIno(t *testing.T) {
	tmpDir := t.TempDir()
	c, _ := Open(filepath.Join(tmpDir, "cache.db"))
	defer func() { _ = c.Close() }()

	f := &fingerprint.File{Size: 1024, HasDevIno: false, MTime: time.Now()}
	if err := c.Insert(f, digest); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	got, _ := c.Lookup(f)
	if got != "" {
		t.Errorf("Lookup() for a file without stable dev/ino = %q, want empty", got)
	}
}

func TestInvalidDigestSizeIgnored(t *testing.T) {
	tmpDir := t.TempDir()
	c, _ := Open(filepath.Join(tmpDir, "cache.db"))
	defer func() { _ = c.Close() }()

	f := &fingerprint.File{Size: 100, Inode: 1, HasDevIno: true, MTime: time.Now()}
	if err := c.Insert(f, "too-short"); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	got, _ := c.Lookup(f)
	if got != "" {
		t.Errorf("Lookup() after invalid Insert = %q, want empty", got)
	}
}

func TestMakeKeyDeterministic(t *testing.T) {
	f := &fingerprint.File{Size: 1024, Inode: 12345, HasDevIno: true, MTime: time.Unix(1609459200, 123456789)}
	if string(makeKey(f)) != string(makeKey(f)) {
		t.Error("makeKey() not deterministic")
	}
}

func TestReset(t *testing.T) {
	tmpDir := t.TempDir()
	c, _ := Open(filepath.Join(tmpDir, "cache.db"))
	defer func() { _ = c.Close() }()

	f := &fingerprint.File{Size: 100, Inode: 1, HasDevIno: true, MTime: time.Now()}
	_ = c.Insert(f, digest)

	if err := c.Reset(); err != nil {
		t.Fatalf("Reset() failed: %v", err)
	}
	got, _ := c.Lookup(f)
	if got != "" {
		t.Errorf("Lookup() after Reset() = %q, want empty", got)
	}
}

// Package cache implements the persistent fingerprint cache (§4.2): a
// process-wide (device, inode, size, mtime) → digest mapping that lets
// rescans skip re-hashing files that have not changed. It is backed by
// BoltDB, the same embedded store the teacher uses for its hash cache, and
// survives across scans — unlike the per-scan fingerprint store
// (internal/store), which is scoped to one scan's lifetime.
package cache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foldersim/simcore/internal/fingerprint"
)

const (
	bucketName = "fingerprints"
	digestSize = 32 // sha256
)

// Cache is a concurrent-reader, serialized-per-key-writer cache of file
// digests keyed by (device, inode, size, mtime). Any change to mtime or
// size invalidates the entry (§4.2 Policy) — the key simply won't match.
type Cache struct {
	db      *bolt.DB
	enabled bool
}

// Open opens (creating if necessary) the cache database at path. An empty
// path disables the cache: all Lookup calls report a miss and Insert is a
// no-op, which is the correct behavior in name_size mode where no digest is
// ever computed (§4.2 Policy).
func Open(path string) (*Cache, error) {
	if path == "" {
		return &Cache{enabled: false}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open fingerprint cache: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init fingerprint cache: %w", err)
	}
	return &Cache{db: db, enabled: true}, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

const keyVersion byte = 1

func makeKey(f *fingerprint.File) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(keyVersion)
	_ = binary.Write(buf, binary.BigEndian, f.Device)
	_ = binary.Write(buf, binary.BigEndian, f.Inode)
	_ = binary.Write(buf, binary.BigEndian, f.Size)
	_ = binary.Write(buf, binary.BigEndian, f.MTime.UnixNano())
	return buf.Bytes()
}

// Lookup returns the cached digest for f, or "" if absent. The cache is
// authoritative only when device, inode, size, and mtime all match — this
// is enforced structurally since all four compose the key.
func (c *Cache) Lookup(f *fingerprint.File) (string, error) {
	if !c.enabled || !f.HasDevIno {
		return "", nil
	}
	var digest string
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}
		if v := b.Get(makeKey(f)); len(v) == digestSize*2 {
			digest = string(v)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("cache lookup: %w", err)
	}
	return digest, nil
}

// Insert stores hexDigest for f. Errors are non-fatal to the caller — a
// failed cache write just means the next scan re-hashes this file.
func (c *Cache) Insert(f *fingerprint.File, hexDigest string) error {
	if !c.enabled || !f.HasDevIno || len(hexDigest) != digestSize*2 {
		return nil
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		return b.Put(makeKey(f), []byte(hexDigest))
	})
}

// Reset discards and recreates the cache database in place, used when
// cache_corruption (§7) is detected and the cache must be rebuilt from
// scratch rather than trusted.
func (c *Cache) Reset() error {
	if !c.enabled {
		return nil
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(bucketName)); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket([]byte(bucketName))
		return err
	})
}

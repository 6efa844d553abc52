// Package store implements the per-scan fingerprint store (§4.4, §9
// "Fingerprint store"): random access to any FolderInfo by relative_path,
// backed by BoltDB so large scans can spill file_weights maps out of RAM,
// fronted by an LRU so repeated access during diffing and planning stays
// cheap. The store is single-writer during a scan (the aggregator) and
// multi-reader afterward (diff projector, deletion planner) —
// the same ownership split the teacher's own cache package observes.
package store

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru"
	bolt "go.etcd.io/bbolt"

	"github.com/foldersim/simcore/internal/types"
)

const (
	bucketName   = "folders"
	metaBucket   = "meta"
	defaultLRU   = 4096
)

// Store is a random-access, spillable index of FolderInfo records for one
// scan's lifetime.
type Store struct {
	db            *bolt.DB
	cache         *lru.Cache
	path          string
	ephemeralPath string
}

// Open creates or opens the store file at path. An empty path creates an
// ephemeral store backed by a temp file that is removed on Close — used by
// tests and by scans run without a store path.
func Open(path string) (*Store, error) {
	ephemeral := false
	if path == "" {
		tmp, err := os.CreateTemp("", "foldersim-store-*.db")
		if err != nil {
			return nil, fmt.Errorf("create ephemeral store: %w", err)
		}
		path = tmp.Name()
		_ = tmp.Close()
		ephemeral = true
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open fingerprint store: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketName)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(metaBucket))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init fingerprint store: %w", err)
	}

	c, err := lru.New(defaultLRU)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init store LRU: %w", err)
	}

	s := &Store{db: db, cache: c, path: path}
	if ephemeral {
		s.ephemeralPath = path
	}
	return s, nil
}

// Close releases the database handle and, for ephemeral stores, removes
// the backing file.
func (s *Store) Close() error {
	err := s.db.Close()
	if s.ephemeralPath != "" {
		_ = os.Remove(s.ephemeralPath)
	}
	return err
}

// Put persists a FolderInfo, keyed by its RelativePath, and refreshes the
// LRU so the most recently written record is the cheapest to re-read.
func (s *Store) Put(f *types.FolderInfo) error {
	buf := new(bytes.Buffer)
	if err := gob.NewEncoder(buf).Encode(f); err != nil {
		return fmt.Errorf("encode folder %s: %w", f.RelativePath, err)
	}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(f.RelativePath), buf.Bytes())
	}); err != nil {
		return fmt.Errorf("persist folder %s: %w", f.RelativePath, err)
	}
	s.cache.Add(f.RelativePath, f)
	return nil
}

// Get retrieves a FolderInfo by relative path, consulting the LRU before
// falling back to BoltDB.
func (s *Store) Get(relativePath string) (*types.FolderInfo, bool, error) {
	if v, ok := s.cache.Get(relativePath); ok {
		return v.(*types.FolderInfo), true, nil
	}

	var f *types.FolderInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(bucketName)).Get([]byte(relativePath))
		if raw == nil {
			return nil
		}
		decoded := new(types.FolderInfo)
		if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(decoded); err != nil {
			return err
		}
		f = decoded
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("read folder %s: %w", relativePath, err)
	}
	if f == nil {
		return nil, false, nil
	}
	s.cache.Add(relativePath, f)
	return f, true, nil
}

// All returns every relative path present in the store, for callers that
// must enumerate the whole folder index.
func (s *Store) All() ([]string, error) {
	var paths []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).ForEach(func(k, _ []byte) error {
			paths = append(paths, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate folder index: %w", err)
	}
	return paths, nil
}

// Count reports the number of persisted folders without decoding any of
// them.
func (s *Store) Count() (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(bucketName)).Stats().KeyN
		return nil
	})
	return n, err
}

// Path returns the backing file's path, recorded in ScanReport.FolderIndexRef.
func (s *Store) Path() string { return s.path }

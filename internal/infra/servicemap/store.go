package servicemap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	storeSchemaVersion = 1

	rootBucketName  = "service_map"
	metaBucketName  = "meta"
	cacheBucketName = "cache"
	versionKey      = "version"
	manifestKey     = "manifest"
	fetchedAtKey    = "fetched_at"
)

var ErrStoreClosed = errors.New("manifest store is closed")
var ErrNoStoredManifest = errors.New("no stored manifest")

// Store persists the last verified manifest across restarts so a process
// can come up with connector state before its first fetch. Stored bytes
// are untrusted until the loader re-verifies their signature.
type Store struct {
	mu     sync.RWMutex
	db     *bolt.DB
	path   string
	closed bool
}

func OpenStore(path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("manifest cache path is required")
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, fmt.Errorf("ensure cache dir: %w", err)
	}
	options := &bolt.Options{Timeout: time.Second}
	base, err := bolt.Open(trimmed, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if err := ensureSchema(base); err != nil {
		_ = base.Close()
		return nil, err
	}
	return &Store{db: base, path: trimmed}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Put stores the raw signed manifest bytes and their fetch time.
func (s *Store) Put(raw []byte, fetchedAt time.Time) error {
	if len(raw) == 0 {
		return fmt.Errorf("manifest bytes are required")
	}
	return s.update(func(tx *bolt.Tx) error {
		bucket, err := cacheBucket(tx)
		if err != nil {
			return err
		}
		if err := bucket.Put([]byte(manifestKey), raw); err != nil {
			return fmt.Errorf("write manifest: %w", err)
		}
		stamp := fetchedAt.UTC().Format(time.RFC3339Nano)
		if err := bucket.Put([]byte(fetchedAtKey), []byte(stamp)); err != nil {
			return fmt.Errorf("write fetch time: %w", err)
		}
		return nil
	})
}

// Get returns the stored manifest bytes and fetch time, or
// ErrNoStoredManifest when nothing has been persisted yet.
func (s *Store) Get() ([]byte, time.Time, error) {
	var raw []byte
	var fetchedAt time.Time
	err := s.view(func(tx *bolt.Tx) error {
		bucket, err := cacheBucket(tx)
		if err != nil {
			return err
		}
		stored := bucket.Get([]byte(manifestKey))
		if len(stored) == 0 {
			return ErrNoStoredManifest
		}
		raw = append([]byte(nil), stored...)
		if stamp := bucket.Get([]byte(fetchedAtKey)); len(stamp) > 0 {
			parsed, parseErr := time.Parse(time.RFC3339Nano, string(stamp))
			if parseErr != nil {
				return fmt.Errorf("parse stored fetch time: %w", parseErr)
			}
			fetchedAt = parsed
		}
		return nil
	})
	if err != nil {
		return nil, time.Time{}, err
	}
	return raw, fetchedAt, nil
}

func (s *Store) view(fn func(*bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.db.View(fn)
}

func (s *Store) update(fn func(*bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.db.Update(fn)
}

func cacheBucket(tx *bolt.Tx) (*bolt.Bucket, error) {
	root := tx.Bucket([]byte(rootBucketName))
	if root == nil {
		return nil, fmt.Errorf("missing root bucket")
	}
	bucket := root.Bucket([]byte(cacheBucketName))
	if bucket == nil {
		return nil, fmt.Errorf("missing cache bucket")
	}
	return bucket, nil
}

func ensureSchema(db *bolt.DB) error {
	return db.Update(func(tx *bolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists([]byte(rootBucketName))
		if err != nil {
			return fmt.Errorf("create root bucket: %w", err)
		}
		meta, err := root.CreateBucketIfNotExists([]byte(metaBucketName))
		if err != nil {
			return fmt.Errorf("create meta bucket: %w", err)
		}
		if _, err := root.CreateBucketIfNotExists([]byte(cacheBucketName)); err != nil {
			return fmt.Errorf("create cache bucket: %w", err)
		}

		currentVersion := readSchemaVersion(meta)
		switch {
		case currentVersion == 0:
			return writeSchemaVersion(meta, storeSchemaVersion)
		case currentVersion > storeSchemaVersion:
			return fmt.Errorf("unsupported manifest cache schema version %d", currentVersion)
		default:
			return nil
		}
	})
}

func readSchemaVersion(meta *bolt.Bucket) int {
	if meta == nil {
		return 0
	}
	raw := meta.Get([]byte(versionKey))
	if len(raw) != 8 {
		return 0
	}
	return int(binary.BigEndian.Uint64(raw))
}

func writeSchemaVersion(meta *bolt.Bucket, version int) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(version))
	return meta.Put([]byte(versionKey), buf)
}

package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/crytic/vyperlens/utils"
	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

// ErrCacheMiss is returned when a key is absent or expired.
var ErrCacheMiss = errors.New("not found in cache")

// Store persists JSON documents in one bucket of a bbolt database. Entries may carry an expiry.
type Store struct {
	db     *bbolt.DB
	bucket []byte

	// now is replaced in tests.
	now func() time.Time
}

// entry wraps a stored document with its expiry, in unix seconds. Zero never expires.
type entry struct {
	Expires int64           `json:"expires,omitempty"`
	Value   json.RawMessage `json:"value"`
}

// Open opens (creating if needed) the database file inside directory and ensures the bucket exists.
func Open(directory string, fileName string, bucket string) (*Store, error) {
	if err := utils.MakeDirectory(directory); err != nil {
		return nil, errors.Wrap(err, "failed to create cache directory")
	}
	db, err := bbolt.Open(filepath.Join(directory, fileName), 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "could not open cache database")
	}

	// create the bucket if it doesn't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.WithStack(err)
	}
	return &Store{db: db, bucket: []byte(bucket), now: time.Now}, nil
}

// DefaultDirectory returns the per-user cache directory for the tool, falling back to the working directory.
func DefaultDirectory() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "vyperlens")
	}
	return ".vyperlens"
}

// Get decodes the value stored under key into value. ErrCacheMiss is returned for absent or expired keys.
func (s *Store) Get(key string, value any) error {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if stored := tx.Bucket(s.bucket).Get([]byte(key)); stored != nil {
			data = append([]byte(nil), stored...)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "could not read cache")
	}
	if data == nil {
		return ErrCacheMiss
	}

	var stored entry
	if err := json.Unmarshal(data, &stored); err != nil {
		return errors.Wrapf(err, "corrupt cache entry %q", key)
	}
	if stored.Expires != 0 && s.now().Unix() >= stored.Expires {
		return ErrCacheMiss
	}
	return errors.WithStack(json.Unmarshal(stored.Value, value))
}

// Put stores value under key. A zero ttl never expires.
func (s *Store) Put(key string, value any, ttl time.Duration) error {
	serialized, err := json.Marshal(value)
	if err != nil {
		return errors.WithStack(err)
	}
	stored := entry{Value: serialized}
	if ttl > 0 {
		stored.Expires = s.now().Add(ttl).Unix()
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(key), data)
	}))
}

// Delete removes key.
func (s *Store) Delete(key string) error {
	return errors.WithStack(s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucket).Delete([]byte(key))
	}))
}

// Keys returns every stored key, expired ones included, in sorted order.
func (s *Store) Keys() ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucket).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return errors.WithStack(s.db.Close())
}

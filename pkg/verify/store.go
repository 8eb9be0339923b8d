package verify

import (
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

// recordStore is a tiny bbolt-backed set of string keys, the same
// one-bucket-per-concern layout the teacher uses for cluster state, scaled
// down to a single bucket per store.
type recordStore struct {
	db     *bolt.DB
	bucket []byte
}

func newRecordStore(dataDir, fileName string, bucket []byte) (*recordStore, error) {
	path := filepath.Join(dataDir, fileName)
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("verify: failed to open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &recordStore{db: db, bucket: bucket}, nil
}

func (s *recordStore) put(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(key), []byte{1})
	})
}

func (s *recordStore) delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete([]byte(key))
	})
}

func (s *recordStore) contains(key string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(s.bucket).Get([]byte(key)) != nil
		return nil
	})
	return found, err
}

func (s *recordStore) empty() (bool, error) {
	var empty bool
	err := s.db.View(func(tx *bolt.Tx) error {
		empty = tx.Bucket(s.bucket).Stats().KeyN == 0
		return nil
	})
	return empty, err
}

func (s *recordStore) close() error {
	return s.db.Close()
}

package cache

import (
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/warpengine/pkg/sortkey"
)

// contractsMetaBucket records one key per contract with any cached entries,
// so AllContracts doesn't require a full top-level bucket scan.
var contractsMetaBucket = []byte("_contracts")

// BoltCache is a SortKeyCache backed by a single bbolt database, one bucket
// per contract transaction id plus the metadata bucket above. Keys within a
// contract's bucket are the raw sort-key bytes, which bbolt keeps sorted,
// making GetLast and GetLessOrEqual simple cursor seeks.
type BoltCache struct {
	db *bolt.DB
}

// NewBoltCache opens (creating if absent) the cache database under dataDir.
func NewBoltCache(dataDir string) (*BoltCache, error) {
	dbPath := filepath.Join(dataDir, "warpengine-cache.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("cache: failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(contractsMetaBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltCache{db: db}, nil
}

func (c *BoltCache) Close() error {
	return c.db.Close()
}

func bucketName(contractTxID string) []byte {
	return []byte("contract:" + contractTxID)
}

func (c *BoltCache) Put(contractTxID string, key sortkey.Key, value []byte) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName(contractTxID))
		if err != nil {
			return err
		}
		if err := b.Put([]byte(key), value); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(contractsMetaBucket)
		if err != nil {
			return err
		}
		return meta.Put([]byte(contractTxID), []byte{1})
	})
}

func (c *BoltCache) Get(contractTxID string, key sortkey.Key) (Entry, error) {
	var entry Entry
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(contractTxID))
		if b == nil {
			return ErrNotFound
		}
		v := b.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		entry = Entry{Key: key, Value: append([]byte(nil), v...)}
		return nil
	})
	return entry, err
}

func (c *BoltCache) GetLast(contractTxID string) (Entry, error) {
	var entry Entry
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(contractTxID))
		if b == nil {
			return ErrNotFound
		}
		cur := b.Cursor()
		k, v := cur.Last()
		if k == nil {
			return ErrNotFound
		}
		entry = Entry{Key: sortkey.Key(k), Value: append([]byte(nil), v...)}
		return nil
	})
	return entry, err
}

// GetLessOrEqual seeks to the first key >= the target, then steps back one
// if that seek overshot (landed past the target or past the end).
func (c *BoltCache) GetLessOrEqual(contractTxID string, key sortkey.Key) (Entry, error) {
	var entry Entry
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(contractTxID))
		if b == nil {
			return ErrNotFound
		}
		cur := b.Cursor()
		k, v := cur.Seek([]byte(key))
		if k != nil && sortkey.Key(k) == key {
			entry = Entry{Key: key, Value: append([]byte(nil), v...)}
			return nil
		}
		// Seek landed on the first key greater than target, or past the end
		// (k == nil). Either way the answer, if any, is one step back.
		if k == nil {
			k, v = cur.Last()
		} else {
			k, v = cur.Prev()
		}
		if k == nil {
			return ErrNotFound
		}
		entry = Entry{Key: sortkey.Key(k), Value: append([]byte(nil), v...)}
		return nil
	})
	return entry, err
}

func (c *BoltCache) Keys(contractTxID string) ([]sortkey.Key, error) {
	var keys []sortkey.Key
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(contractTxID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, sortkey.Key(append([]byte(nil), k...)))
			return nil
		})
	})
	return keys, err
}

func (c *BoltCache) Delete(contractTxID string, key sortkey.Key) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(contractTxID))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

func (c *BoltCache) AllContracts() ([]string, error) {
	var ids []string
	err := c.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(contractsMetaBucket)
		if meta == nil {
			return nil
		}
		return meta.ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

// Prune keeps the `retain` most recent entries (by sort-key order) for a
// contract and deletes the rest, oldest first.
func (c *BoltCache) Prune(contractTxID string, retain int) (int, error) {
	if retain < 0 {
		retain = 0
	}
	deleted := 0
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(contractTxID))
		if b == nil {
			return nil
		}
		total := b.Stats().KeyN
		toDelete := total - retain
		if toDelete <= 0 {
			return nil
		}
		cur := b.Cursor()
		for k, _ := cur.First(); k != nil && deleted < toDelete; k, _ = cur.Next() {
			// Cursor.Delete operates on the cursor's current position and
			// does not invalidate forward iteration over a bbolt cursor.
			if err := cur.Delete(); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

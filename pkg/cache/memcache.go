package cache

import (
	"sort"
	"sync"

	"github.com/cuemby/warpengine/pkg/sortkey"
)

// MemCache is an in-memory SortKeyCache that never touches disk; the tests
// use it in place of BoltCache.
type MemCache struct {
	mu   sync.RWMutex
	data map[string]map[sortkey.Key][]byte
}

// NewMemCache returns an empty cache.
func NewMemCache() *MemCache {
	return &MemCache{data: make(map[string]map[sortkey.Key][]byte)}
}

func (c *MemCache) Close() error { return nil }

func (c *MemCache) Put(contractTxID string, key sortkey.Key, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	bucket, ok := c.data[contractTxID]
	if !ok {
		bucket = make(map[sortkey.Key][]byte)
		c.data[contractTxID] = bucket
	}
	cp := append([]byte(nil), value...)
	bucket[key] = cp
	return nil
}

func (c *MemCache) Get(contractTxID string, key sortkey.Key) (Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bucket, ok := c.data[contractTxID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	v, ok := bucket[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return Entry{Key: key, Value: append([]byte(nil), v...)}, nil
}

func (c *MemCache) sortedKeysLocked(contractTxID string) []sortkey.Key {
	bucket := c.data[contractTxID]
	keys := make([]sortkey.Key, 0, len(bucket))
	for k := range bucket {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return sortkey.Less(keys[i], keys[j]) })
	return keys
}

func (c *MemCache) GetLast(contractTxID string) (Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := c.sortedKeysLocked(contractTxID)
	if len(keys) == 0 {
		return Entry{}, ErrNotFound
	}
	last := keys[len(keys)-1]
	return Entry{Key: last, Value: append([]byte(nil), c.data[contractTxID][last]...)}, nil
}

func (c *MemCache) GetLessOrEqual(contractTxID string, key sortkey.Key) (Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := c.sortedKeysLocked(contractTxID)
	best := -1
	for i, k := range keys {
		if sortkey.Compare(k, key) <= 0 {
			best = i
		} else {
			break
		}
	}
	if best == -1 {
		return Entry{}, ErrNotFound
	}
	k := keys[best]
	return Entry{Key: k, Value: append([]byte(nil), c.data[contractTxID][k]...)}, nil
}

func (c *MemCache) Keys(contractTxID string) ([]sortkey.Key, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sortedKeysLocked(contractTxID), nil
}

func (c *MemCache) Delete(contractTxID string, key sortkey.Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bucket, ok := c.data[contractTxID]; ok {
		delete(bucket, key)
	}
	return nil
}

func (c *MemCache) AllContracts() ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.data))
	for id, bucket := range c.data {
		if len(bucket) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (c *MemCache) Prune(contractTxID string, retain int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if retain < 0 {
		retain = 0
	}
	keys := c.sortedKeysLocked(contractTxID)
	toDelete := len(keys) - retain
	if toDelete <= 0 {
		return 0, nil
	}
	bucket := c.data[contractTxID]
	for _, k := range keys[:toDelete] {
		delete(bucket, k)
	}
	return toDelete, nil
}

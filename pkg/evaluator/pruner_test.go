package evaluator

import (
	"testing"
	"time"

	"github.com/cuemby/warpengine/pkg/cache"
	"github.com/cuemby/warpengine/pkg/sortkey"
)

func genesisLikeKey(height uint64) sortkey.Key {
	return sortkey.Generate(height, "block", int64(height)*1000, "interaction")
}

func TestCachePrunerPrunesOnDemand(t *testing.T) {
	store := cache.NewMemCache()
	for h := uint64(1); h <= 5; h++ {
		key := genesisLikeKey(h)
		if err := store.Put("contract-a", key, []byte("snapshot")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	p := NewCachePruner(store, time.Hour, 2)
	if err := p.pruneOnce(); err != nil {
		t.Fatalf("pruneOnce returned error: %v", err)
	}

	keys, err := store.Keys("contract-a")
	if err != nil {
		t.Fatalf("Keys returned error: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys retained after prune, got %d", len(keys))
	}
}

func TestCachePrunerStartStop(t *testing.T) {
	store := cache.NewMemCache()
	p := NewCachePruner(store, 10*time.Millisecond, 1)
	p.Start()
	time.Sleep(30 * time.Millisecond)
	p.Stop()
}

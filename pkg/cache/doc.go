/*
Package cache provides the sort-key cache: a per-contract, sort-key-ordered
store of folded evaluation results.

	┌──────────────────── SORT-KEY CACHE ───────────────────────┐
	│                                                             │
	│  BoltCache: one bbolt database, one bucket per contract    │
	│  keyed "contract:<txID>", entries keyed by raw sort-key    │
	│  bytes so bbolt's native byte ordering is the sort order.  │
	│                                                             │
	│  MemCache: same contract, sorted on read, held only in     │
	│  memory; the tests use it.                                 │
	│                                                             │
	└─────────────────────────────────────────────────────────────┘

Values are opaque codec-encoded bytes (see pkg/codec); the cache has no
knowledge of the contract state shape it stores.
*/
package cache

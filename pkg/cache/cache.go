// Package cache implements the sort-key cache: a
// per-contract, sort-key-ordered store of folded evaluation results that lets
// a later readState resume from the closest confirmed snapshot instead of
// refolding from genesis.
package cache

import (
	"errors"

	"github.com/cuemby/warpengine/pkg/sortkey"
)

// ErrNotFound is returned by Get/GetLast/GetLessOrEqual when no entry exists.
var ErrNotFound = errors.New("cache: entry not found")

// Entry is one cached evaluation result. Value holds the codec-encoded bytes
// of an EvalStateResult[S]; the cache itself is agnostic to S and to the
// encoding (see pkg/codec) so that it can back contracts with arbitrary state
// shapes without generic bucket types.
type Entry struct {
	Key   sortkey.Key
	Value []byte
}

// SortKeyCache is the persistence contract every contract evaluation runs
// against. Implementations must preserve bbolt-style lexicographic key
// ordering: Key values compare correctly as plain strings, so GetLessOrEqual
// and range scans rely on byte-wise ordering rather than a secondary index.
type SortKeyCache interface {
	// Put stores value at (contractTxID, key), overwriting any existing entry.
	Put(contractTxID string, key sortkey.Key, value []byte) error

	// Get returns the exact entry at key, or ErrNotFound.
	Get(contractTxID string, key sortkey.Key) (Entry, error)

	// GetLast returns the entry with the greatest key for the contract, or
	// ErrNotFound if the contract has no cached entries.
	GetLast(contractTxID string) (Entry, error)

	// GetLessOrEqual returns the entry with the greatest key that is <= key,
	// or ErrNotFound if no such entry exists. This is the primary lookup used
	// by readState to find a resumable snapshot.
	GetLessOrEqual(contractTxID string, key sortkey.Key) (Entry, error)

	// Keys returns every cached key for a contract, in ascending order.
	Keys(contractTxID string) ([]sortkey.Key, error)

	// Delete removes a single entry. Deleting a missing key is not an error.
	Delete(contractTxID string, key sortkey.Key) error

	// AllContracts lists every contract transaction id with at least one
	// cached entry.
	AllContracts() ([]string, error)

	// Prune retains only the `retain` most recent entries for a contract,
	// deleting the rest, and reports how many were deleted.
	Prune(contractTxID string, retain int) (int, error)

	// Close releases any underlying resources.
	Close() error
}

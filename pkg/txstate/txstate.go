// Package txstate implements the interaction-state scratchpad: a
// per-root-call transactional map that lets internal writes triggered
// by one interaction (a contract calling another, which calls back) converge
// without corrupting the cache on a failed attempt. The commit/rollback shape
// mirrors bbolt's Update/View transaction discipline (see pkg/cache), applied
// here to an in-memory map instead of a B-tree.
package txstate

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/warpengine/pkg/model"
	"github.com/cuemby/warpengine/pkg/sortkey"
)

// entryKey identifies one cached fold result within a scratchpad.
type entryKey struct {
	contractTxID string
	sortKey      sortkey.Key
}

// Scratchpad holds every (contract, sort-key) -> result pair touched during
// one root readState/viewState/dryWrite call, across however many internal
// writes and cross-contract reads that call triggers. A failed branch rolls
// back to the last Commit rather than losing everything accumulated before it.
type Scratchpad struct {
	committed map[entryKey]*model.EvalStateResult[json.RawMessage]
	staged    map[entryKey]*model.EvalStateResult[json.RawMessage]

	// callStack guards against infinite internal-write recursion: a (contract,
	// interaction) pair already on the stack means this call is re-entering
	// its own cycle, and further recursion should be truncated.
	callStack []callFrame
}

type callFrame struct {
	contractTxID  string
	interactionID string
}

// New returns an empty scratchpad for one root call.
func New() *Scratchpad {
	return &Scratchpad{
		committed: make(map[entryKey]*model.EvalStateResult[json.RawMessage]),
		staged:    make(map[entryKey]*model.EvalStateResult[json.RawMessage]),
	}
}

// Get returns the most recent result for (contractTxID, key): a staged value
// if one exists, falling back to a committed one, so that a nested call sees
// its parent's uncommitted writes.
func (s *Scratchpad) Get(contractTxID string, key sortkey.Key) (*model.EvalStateResult[json.RawMessage], bool) {
	k := entryKey{contractTxID, key}
	if v, ok := s.staged[k]; ok {
		return v, true
	}
	v, ok := s.committed[k]
	return v, ok
}

// Set stages a result for (contractTxID, key). Staged writes are invisible to
// Commit until explicitly committed, but visible to further Get calls within
// the same in-flight branch.
func (s *Scratchpad) Set(contractTxID string, key sortkey.Key, result *model.EvalStateResult[json.RawMessage]) {
	s.staged[entryKey{contractTxID, key}] = result
}

// Commit promotes every currently staged entry to committed and clears the
// staging area, making the branch's writes durable for the rest of the root
// call (though not yet for the persistent cache — that happens separately,
// gated by Interaction.Cacheable, once the root call as a whole succeeds).
func (s *Scratchpad) Commit() {
	for k, v := range s.staged {
		s.committed[k] = v
	}
	s.staged = make(map[entryKey]*model.EvalStateResult[json.RawMessage])
}

// Rollback discards every currently staged entry without affecting what was
// already committed, used when an internal write's target interaction is
// rejected and its side effects must not propagate.
func (s *Scratchpad) Rollback() {
	s.staged = make(map[entryKey]*model.EvalStateResult[json.RawMessage])
}

// Committed returns, for each contract, the entry committed at its greatest
// sort-key, for handing the final per-contract results back to the caller
// once the root call completes.
func (s *Scratchpad) Committed() map[string]*model.EvalStateResult[json.RawMessage] {
	out := make(map[string]*model.EvalStateResult[json.RawMessage], len(s.committed))
	latest := make(map[string]sortkey.Key, len(s.committed))
	for k, v := range s.committed {
		if prev, ok := latest[k.contractTxID]; ok && !sortkey.Less(prev, k.sortKey) {
			continue
		}
		latest[k.contractTxID] = k.sortKey
		out[k.contractTxID] = v
	}
	return out
}

// EnterCall pushes (contractTxID, interactionID) onto the re-entrancy guard
// stack. It returns an error if that exact pair is already on the stack,
// meaning this internal write would re-enter a cycle it is already inside.
func (s *Scratchpad) EnterCall(contractTxID, interactionID string) error {
	for _, f := range s.callStack {
		if f.contractTxID == contractTxID && f.interactionID == interactionID {
			return fmt.Errorf("txstate: internal write cycle detected re-entering contract %s interaction %s", contractTxID, interactionID)
		}
	}
	s.callStack = append(s.callStack, callFrame{contractTxID, interactionID})
	return nil
}

// ExitCall pops the most recently entered call frame. Callers must pair every
// successful EnterCall with exactly one ExitCall, typically via defer.
func (s *Scratchpad) ExitCall() {
	if len(s.callStack) == 0 {
		return
	}
	s.callStack = s.callStack[:len(s.callStack)-1]
}

// Depth reports how many calls are currently nested, for enforcing an
// internal-write recursion limit independent of cycle detection.
func (s *Scratchpad) Depth() int {
	return len(s.callStack)
}

// Package sandbox defines the host/guest boundary a contract execution
// environment must implement. Concrete sandboxes (a JS interpreter, a Wasm
// runtime) are out of scope here: this package only fixes the contract
// between the evaluator and whatever sandbox plugin pkg/executor selects.
package sandbox

import (
	"context"
	"encoding/json"

	"github.com/cuemby/warpengine/pkg/model"
)

// Handler is the guest-side contract every sandbox plugin implements. A
// Handler is bound to one compiled contract source (one src_tx_id) and is
// reused across every interaction folded for contracts that share that
// source, so it must not retain per-contract state between calls.
type Handler interface {
	// InitState validates and normalizes a contract's raw init-state JSON
	// into the handler's internal state representation.
	InitState(ctx context.Context, raw json.RawMessage) (json.RawMessage, error)

	// MaybeCallStateConstructor runs the contract's optional state
	// constructor (gated by ManifestOptions.UseConstructor) exactly once,
	// before the first interaction is folded. Implementations that don't
	// support a constructor, or whose contract didn't opt in, return state
	// unchanged.
	MaybeCallStateConstructor(ctx context.Context, state json.RawMessage, host Host) (json.RawMessage, error)

	// Handle folds one interaction against state and returns the tagged
	// result. Handle must not mutate state in place: HandlerResult.State is
	// the new state, independent of the input.
	Handle(ctx context.Context, state json.RawMessage, interaction model.ContractInteraction, host Host) (model.HandlerResult[json.RawMessage], error)
}

// Host is the capability surface a Handler is given for one Handle call: the
// subset of the evaluator's own state that a contract is allowed to read
// (its own prior state, and other contracts' state via internal reads/writes)
// without being handed the evaluator itself.
type Host interface {
	// ReadContractState folds another contract up to the calling
	// interaction's sort-key and returns its state. This is how one contract
	// observes another's state deterministically as of "now" in the fold.
	ReadContractState(ctx context.Context, contractTxID string) (json.RawMessage, error)

	// ViewContractState is ReadContractState plus a read-only view call: it
	// folds the target, then applies interaction without persisting any
	// validity/error entry for it.
	ViewContractState(ctx context.Context, contractTxID string, input json.RawMessage) (model.InteractionResult, error)

	// Write applies an internal write: an interaction synthesized by the
	// calling contract against another contract, deterministically ordered
	// immediately after the caller's own current interaction. It participates
	// in the caller's scratchpad so that a failed outer interaction rolls the
	// write back too.
	Write(ctx context.Context, contractTxID string, input json.RawMessage) (model.InteractionResult, error)

	// Caller returns the address that originated the interaction currently
	// being handled (the root caller, not an intermediate contract).
	Caller() string

	// SortKey returns the effective sort-key of the interaction currently
	// being handled, so a handler can make its own determinstic decisions
	// relative to "now" (e.g. time-locked logic keyed off block height).
	SortKey() string
}

// Determinism describes the restrictions a sandbox must enforce so that
// independent evaluators converge on the same state.
type Determinism struct {
	// AllowBigInt permits arbitrary-precision arithmetic in guest code. Off
	// by default: most guest runtimes' native number types are not bit-exact
	// across engines.
	AllowBigInt bool

	// AllowUnsafeClient permits a handler to reach outside the sandbox (wall
	// clock, randomness, network) through an explicit escape hatch. Off by
	// default.
	AllowUnsafeClient bool

	// InteractionTimeout bounds how long a single Handle call may run before
	// the evaluator treats it as a sandbox error.
	InteractionTimeout int64 // milliseconds; 0 means no bound
}

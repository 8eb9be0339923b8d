package contract

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cuemby/warpengine/pkg/evaluator"
	"github.com/cuemby/warpengine/pkg/log"
	"github.com/cuemby/warpengine/pkg/model"
	"github.com/cuemby/warpengine/pkg/sortkey"
)

// StateEvaluator is the subset of evaluator.Evaluator / evaluator.CacheableEvaluator
// the facade depends on, so a Contract can be built against either variant.
type StateEvaluator interface {
	ReadState(ctx context.Context, contractTxID string, requestedSortKey sortkey.Key, opts evaluator.Options) (sortkey.Key, *model.EvalStateResult[json.RawMessage], error)
	ViewState(ctx context.Context, contractTxID string, input json.RawMessage, caller string) (model.InteractionResult, error)
	DryWrite(ctx context.Context, contractTxID string, input json.RawMessage, caller string) (model.InteractionResult, error)
}

// WriteOptions narrows a writeInteraction call.
type WriteOptions struct {
	Tags []model.Tag
}

// Transport posts a signed interaction to the network. Actually broadcasting
// and confirming a transaction is left to the deployment: the facade only
// defines the boundary a transport must satisfy.
type Transport interface {
	WriteInteraction(ctx context.Context, contractTxID string, input json.RawMessage, opts WriteOptions) (interactionID string, err error)
}

// Contract is the user-facing facade over one contract transaction id,
// generalizing the teacher's Deployer: a thin struct wrapping one
// dependency (there, a *manager.Manager; here, a StateEvaluator) with
// logging around each operation.
type Contract struct {
	TxID      string
	evaluator StateEvaluator
	transport Transport
	opts      evaluator.Options
	logger    zerolog.Logger
}

// New returns a Contract facade for txID, evaluated via ev and writing
// through transport (which may be nil if this deployment is read-only).
func New(txID string, ev StateEvaluator, transport Transport, opts evaluator.Options) *Contract {
	return &Contract{
		TxID:      txID,
		evaluator: ev,
		transport: transport,
		opts:      opts,
		logger:    log.WithContract(txID),
	}
}

// ReadState folds this contract up to sortKey (evaluator.Latest() for the
// current tip) and returns the resulting sort-key and EvalStateResult.
func (c *Contract) ReadState(ctx context.Context, sortKey sortkey.Key) (sortkey.Key, *model.EvalStateResult[json.RawMessage], error) {
	c.logger.Debug().Str("sort_key", string(sortKey)).Msg("reading state")
	return c.evaluator.ReadState(ctx, c.TxID, sortKey, c.opts)
}

// CurrentState is ReadState at the contract's current tip.
func (c *Contract) CurrentState(ctx context.Context) (*model.EvalStateResult[json.RawMessage], error) {
	_, result, err := c.ReadState(ctx, evaluator.Latest())
	return result, err
}

// ViewState synthesizes a dry interaction against the current state and
// returns the handler's verdict without persisting anything.
func (c *Contract) ViewState(ctx context.Context, input json.RawMessage, caller string) (model.InteractionResult, error) {
	return c.evaluator.ViewState(ctx, c.TxID, input, caller)
}

// DryWrite is ViewState with write semantics preserved, for what-if checks
// before actually posting an interaction.
func (c *Contract) DryWrite(ctx context.Context, input json.RawMessage, overriddenCaller string) (model.InteractionResult, error) {
	return c.evaluator.DryWrite(ctx, c.TxID, input, overriddenCaller)
}

// WriteInteraction posts input to the network via the configured transport.
func (c *Contract) WriteInteraction(ctx context.Context, input json.RawMessage, opts WriteOptions) (string, error) {
	if c.transport == nil {
		return "", fmt.Errorf("contract %s: no transport configured for writeInteraction", c.TxID)
	}
	c.logger.Info().Msg("posting interaction")
	return c.transport.WriteInteraction(ctx, c.TxID, input, opts)
}

// pstState is the subset of a PST (Profit-Sharing Token) contract's state
// CurrentBalance understands: a balances map keyed by address.
type pstState struct {
	Balances map[string]int64 `json:"balances"`
}

// CurrentBalance is a PST (Profit-Sharing Token) convenience: it reads current
// state and looks up address in the conventional `balances` map. Contracts
// that don't follow the PST state shape simply report a zero balance rather
// than erroring, since the convention is optional.
func (c *Contract) CurrentBalance(ctx context.Context, address string) (int64, error) {
	result, err := c.CurrentState(ctx)
	if err != nil {
		return 0, err
	}
	var s pstState
	if err := json.Unmarshal(result.State, &s); err != nil {
		return 0, nil
	}
	return s.Balances[address], nil
}

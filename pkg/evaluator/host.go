package evaluator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cuemby/warpengine/pkg/errs"
	"github.com/cuemby/warpengine/pkg/model"
	"github.com/cuemby/warpengine/pkg/sortkey"
	"github.com/cuemby/warpengine/pkg/txstate"
)

// hostAdapter is the sandbox.Host a Handler is given for one Handle call. It
// closes over the engine so a guest's read_contract_state/view_contract_state
// /write hooks reenter the fold for another contract.
type hostAdapter struct {
	eng           *engine
	ctx           context.Context
	pad           *txstate.Scratchpad
	opts          Options
	caller        string
	sortKey       sortkey.Key
	callerStack   []callFrame
	interactionID string
	depth         int
}

func (h *hostAdapter) Caller() string  { return h.caller }
func (h *hostAdapter) SortKey() string { return string(h.sortKey) }

// ReadContractState folds other up to this call's sort-key and returns its
// state, deterministically observing "now" as of the calling interaction.
func (h *hostAdapter) ReadContractState(ctx context.Context, contractTxID string) (json.RawMessage, error) {
	_, result, err := h.eng.fold(ctx, h.pad, foldRequest{
		ContractTxID:     contractTxID,
		RequestedSortKey: h.sortKey,
		Opts:             h.opts,
		CallerStack:      append(append([]callFrame(nil), h.callerStack...), callFrame{ContractTxID: contractTxID, InteractionID: h.interactionID}),
		Depth:            h.depth + 1,
	})
	if err != nil {
		return nil, err
	}
	return result.State, nil
}

// ViewContractState folds other up to this call's sort-key, then applies
// input as a read-only view call: the result is returned but no validity or
// error entry is recorded for it.
func (h *hostAdapter) ViewContractState(ctx context.Context, contractTxID string, input json.RawMessage) (model.InteractionResult, error) {
	state, err := h.ReadContractState(ctx, contractTxID)
	if err != nil {
		return model.InteractionResult{}, err
	}
	_, handler, err := h.eng.resolveHandler(ctx, contractTxID, "")
	if err != nil {
		return model.InteractionResult{}, err
	}
	sub := &hostAdapter{eng: h.eng, ctx: ctx, pad: h.pad, opts: h.opts, caller: h.caller, sortKey: h.sortKey, callerStack: h.callerStack, depth: h.depth + 1}
	hres, err := handler.Handle(ctx, state, model.ContractInteraction{
		Input:           input,
		Caller:          h.caller,
		InteractionType: model.InteractionTypeView,
	}, sub)
	if err != nil {
		return model.InteractionResult{}, errs.New(errs.KindSandbox, "evaluator.ViewContractState", err)
	}
	return model.InteractionResult{Type: hres.Type, Result: hres.Result, ErrorMessage: hres.ErrorMessage}, nil
}

// Write applies a guest-initiated internal write against contractTxID,
// staging the result into the shared scratchpad at this call's sort-key so
// both the caller's own commit/rollback and any subsequent read of
// contractTxID at the same sort-key observe it.
func (h *hostAdapter) Write(ctx context.Context, contractTxID string, input json.RawMessage) (model.InteractionResult, error) {
	if err := h.pad.EnterCall(contractTxID, h.interactionID); err != nil {
		return model.InteractionResult{}, errs.New(errs.KindSandbox, "evaluator.Write", err)
	}
	defer h.pad.ExitCall()

	if h.eng.callLog != nil {
		rootTxID := contractTxID
		if len(h.callerStack) > 0 {
			rootTxID = h.callerStack[0].ContractTxID
		}
		if err := h.eng.callLog.Append(CallRecord{
			RootContractTxID:   rootTxID,
			CalleeContractTxID: contractTxID,
			InteractionID:      h.interactionID,
			SortKey:            string(h.sortKey),
			Depth:              h.depth,
			RecordedAt:         time.Now(),
		}); err != nil {
			h.eng.logger.Warn().Err(err).Str("contract_tx_id", contractTxID).Msg("failed to record internal write to call log")
		}
	}

	state, err := h.ReadContractState(ctx, contractTxID)
	if err != nil {
		return model.InteractionResult{}, err
	}
	_, handler, err := h.eng.resolveHandler(ctx, contractTxID, "")
	if err != nil {
		return model.InteractionResult{}, err
	}
	sub := &hostAdapter{eng: h.eng, ctx: ctx, pad: h.pad, opts: h.opts, caller: h.caller, sortKey: h.sortKey, callerStack: h.callerStack, interactionID: h.interactionID, depth: h.depth + 1}
	hres, err := handler.Handle(ctx, state, model.ContractInteraction{
		Input:           input,
		Caller:          h.caller,
		InteractionType: model.InteractionTypeWrite,
	}, sub)
	if err != nil {
		return model.InteractionResult{}, errs.New(errs.KindSandbox, "evaluator.Write", err)
	}
	if hres.Type == model.HandlerResultOK {
		staged, ok := h.pad.Get(contractTxID, h.sortKey)
		if !ok {
			staged = model.NewEvalStateResult[json.RawMessage](nil)
		}
		staged = staged.Clone()
		staged.State = hres.State
		h.pad.Set(contractTxID, h.sortKey, staged)
	}
	return model.InteractionResult{Type: hres.Type, Result: hres.Result, ErrorMessage: hres.ErrorMessage}, nil
}

package evaluator

import (
	"context"
	"encoding/json"

	"github.com/cuemby/warpengine/pkg/definition"
	"github.com/cuemby/warpengine/pkg/errs"
	"github.com/cuemby/warpengine/pkg/model"
)

// evolveInput is the shape of the Input tag's JSON that triggers a rebind:
// {"function":"evolve","value":"<new src tx id>"}.
type evolveInput struct {
	Function string `json:"function"`
	Value    string `json:"value"`
}

// Evolve is the built-in ExecutionContextModifier: it detects an accepted
// evolve interaction and swaps the active definition by reloading with
// forced_src_tx_id, so every interaction folded afterward uses the new
// handler.
//
// A failing evolve (the new source can't be resolved) retains the old
// source rather than invalidating everything folded so far: Apply returns
// an error classified errs.KindEvolve, which engine.fold treats as
// stop-after-evolve (halt folding further interactions, keep the state
// accumulated so far) rather than unwinding what already succeeded.
type Evolve struct {
	Definitions *definition.Loader
}

// NewEvolve returns an Evolve modifier that resolves rebinds through defs.
func NewEvolve(defs *definition.Loader) *Evolve {
	return &Evolve{Definitions: defs}
}

func (m *Evolve) Apply(ctx context.Context, mc ModifierContext) (*model.ContractDefinition, bool, error) {
	if mc.Interaction == nil || mc.Definition == nil {
		return nil, false, nil
	}
	if mc.HandlerResult.Type != model.HandlerResultOK {
		return nil, false, nil
	}
	tag, ok := mc.Interaction.Tag("Input")
	if !ok {
		return nil, false, nil
	}
	var in evolveInput
	if err := json.Unmarshal([]byte(tag), &in); err != nil || in.Function != "evolve" || in.Value == "" {
		return nil, false, nil
	}

	newDef, err := m.Definitions.Load(ctx, mc.Definition.TxID, in.Value)
	if err != nil {
		return nil, false, errs.New(errs.KindEvolve, "evolve.Apply", err)
	}
	return newDef, true, nil
}

// Package model defines the data types shared by every layer of the
// evaluation engine: interactions, contract definitions, and the folded
// evaluation result.
package model

import (
	"encoding/json"
	"time"

	"github.com/cuemby/warpengine/pkg/sortkey"
)

// Block identifies the network block an interaction was confirmed in.
type Block struct {
	Height    uint64    `json:"height"`
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// TimestampMS returns the block timestamp in epoch milliseconds, the unit
// the sort-key scheme uses.
func (b Block) TimestampMS() int64 {
	return b.Timestamp.UnixMilli()
}

// Tag is one (name, value) pair from an interaction's tag list. Order within
// Interaction.Tags is preserved exactly as received.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ConfirmationStatus is the network's judgment on an interaction's finality.
type ConfirmationStatus string

const (
	ConfirmationUnknown   ConfirmationStatus = "unknown"
	ConfirmationConfirmed ConfirmationStatus = "confirmed"
	ConfirmationCorrupted ConfirmationStatus = "corrupted"
	ConfirmationForked    ConfirmationStatus = "forked"
)

// VRFProof carries an optional verifiable-random-function proof attached to
// an interaction by the protocol's sequencer.
type VRFProof struct {
	Proof     []byte `json:"proof"`
	PublicKey []byte `json:"public_key"`
	Value     []byte `json:"value"`
}

// Interaction is an immutable record of one write against the network.
type Interaction struct {
	ID                 string             `json:"id"`
	SortKey            sortkey.Key        `json:"sort_key"`
	Block              Block              `json:"block"`
	OwnerAddress       string             `json:"owner_address"`
	Tags               []Tag              `json:"tags"`
	ConfirmationStatus ConfirmationStatus `json:"confirmation_status,omitempty"`
	Dry                bool               `json:"dry"`
	VRF                *VRFProof          `json:"vrf,omitempty"`
}

// Tag returns the value of the first tag with the given name, and whether it
// was present. Tags are an ordered list, not a map, so this is a linear scan.
func (i *Interaction) Tag(name string) (string, bool) {
	for _, t := range i.Tags {
		if t.Name == name {
			return t.Value, true
		}
	}
	return "", false
}

// EffectiveSortKey returns i.SortKey if set, otherwise derives one from the
// containing block and interaction id.
func (i *Interaction) EffectiveSortKey() sortkey.Key {
	if i.SortKey != sortkey.Genesis {
		return i.SortKey
	}
	return sortkey.Generate(i.Block.Height, i.Block.ID, i.Block.TimestampMS(), i.ID)
}

// Cacheable reports whether this interaction is eligible to be persisted to
// the sort-key cache: confirmed (or
// confirmation status unset, which is treated as confirmed) and not dry.
func (i *Interaction) Cacheable() bool {
	if i.Dry {
		return false
	}
	return i.ConfirmationStatus == "" || i.ConfirmationStatus == ConfirmationConfirmed
}

// ContractType distinguishes the guest language family, which in turn
// selects the sandbox plugin at executor-factory time.
type ContractType string

const (
	ContractTypeJS   ContractType = "js"
	ContractTypeWasm ContractType = "wasm"
)

// Source is a contract's code, either JS source text or a binary module.
type Source struct {
	SrcTxID     string       `json:"src_tx_id"`
	ContentType string       `json:"content_type"`
	Code        string       `json:"code,omitempty"`   // UTF-8 source, for ContractTypeJS
	Binary      []byte       `json:"binary,omitempty"` // compiled module bytes, for ContractTypeWasm
	Type        ContractType `json:"type"`
}

// ContractDefinition is the immutable triple (source, init-state, metadata)
// resolved for one contract transaction id, plus the recognized tags that
// govern evaluation.
type ContractDefinition struct {
	TxID          string          `json:"tx_id"`
	SrcTxID       string          `json:"src_tx_id"`
	Src           Source          `json:"src"`
	InitState     json.RawMessage `json:"init_state"`
	Owner         string          `json:"owner"`
	MinFee        string          `json:"min_fee,omitempty"`
	Manifest      json.RawMessage `json:"manifest,omitempty"`
	ContractType  ContractType    `json:"contract_type"`
	WasmLanguage  string          `json:"wasm_language,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	Testnet       bool            `json:"testnet"`
}

// ManifestOptions is the parsed subset of Manifest this engine understands.
type ManifestOptions struct {
	UseConstructor bool `json:"useConstructor"`
	UseKVStorage   bool `json:"useKVStorage"`
}

// ParseManifest decodes the definition's manifest, tolerating an absent or empty one.
func (d *ContractDefinition) ParseManifest() (ManifestOptions, error) {
	var m ManifestOptions
	if len(d.Manifest) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(d.Manifest, &m); err != nil {
		return m, err
	}
	return m, nil
}

// Event is an optional, opaque notification a handler may attach to its
// result; the engine does not interpret its contents.
type Event struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
}

// EvalStateResult is the folded outcome of evaluating a contract up to some
// sort-key: the state plus a per-interaction validity/error ledger.
//
// Validity and ErrorMessages preserve insertion order (see OrderedMap) so that
// serialize(deserialize(x)) == x byte-for-byte, which cross-implementation
// cache comparison depends on.
type EvalStateResult[S any] struct {
	State         S                   `json:"state"`
	Validity      *OrderedMap[bool]   `json:"validity"`
	ErrorMessages *OrderedMap[string] `json:"errorMessages"`
	Events        []Event             `json:"events,omitempty"`
}

// NewEvalStateResult returns an empty result seeded with the given state.
func NewEvalStateResult[S any](state S) *EvalStateResult[S] {
	return &EvalStateResult[S]{
		State:         state,
		Validity:      NewOrderedMap[bool](),
		ErrorMessages: NewOrderedMap[string](),
	}
}

// Clone returns a deep-enough copy of the result for use as a rollback
// snapshot: State is shared by reference (callers are expected to treat
// handler state as replace-not-mutate, matching how handle() returns a new
// state value rather than mutating in place) but the validity/error ledgers
// are copied so appending to one copy never affects the other.
func (r *EvalStateResult[S]) Clone() *EvalStateResult[S] {
	return &EvalStateResult[S]{
		State:         r.State,
		Validity:      r.Validity.Clone(),
		ErrorMessages: r.ErrorMessages.Clone(),
		Events:        append([]Event(nil), r.Events...),
	}
}

// InteractionType distinguishes a direct write against the evaluated
// contract from the synthesized call used by viewState/dryWrite.
type InteractionType string

const (
	InteractionTypeWrite InteractionType = "write"
	InteractionTypeView  InteractionType = "view"
)

// ContractInteraction is the payload passed to Handler.Handle: the parsed
// input plus the calling context.
type ContractInteraction struct {
	Input           json.RawMessage `json:"input"`
	Caller          string          `json:"caller"`
	InteractionType InteractionType `json:"interactionType"`
	Interaction     *Interaction    `json:"interaction,omitempty"`
}

// HandlerResultType is the tagged-sum discriminant returned by Handler.Handle.
type HandlerResultType string

const (
	HandlerResultOK        HandlerResultType = "ok"
	HandlerResultError     HandlerResultType = "error"
	HandlerResultException HandlerResultType = "exception"
)

// HandlerResult is the sum type a Handler returns from Handle: exactly one of
// a successful state transition, a business-level ("known") error, or an
// unexpected exception. Callers branch on Type.
type HandlerResult[S any] struct {
	Type         HandlerResultType `json:"type"`
	State        S                 `json:"state"`
	Result       json.RawMessage   `json:"result,omitempty"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
	GasUsed      *uint64           `json:"gasUsed,omitempty"`
	Event        *Event            `json:"event,omitempty"`
}

// InteractionResult is what viewState/dryWrite return to a caller: it never
// rejects for business-level errors, only surfaces the classification.
type InteractionResult struct {
	Type         HandlerResultType `json:"type"`
	Result       json.RawMessage   `json:"result,omitempty"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
}

// Package codec serializes EvalStateResult values for the sort-key cache and
// for the wire formats exposed by pkg/apiserver: canonical JSON (the default,
// and the one the byte-identical cache-comparison guarantee is defined
// against) and msgpack (a denser option for large states, via
// vmihailenco/msgpack/v5).
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/cuemby/warpengine/pkg/model"
)

// Codec encodes and decodes EvalStateResult[S] values to and from bytes.
type Codec interface {
	Name() string
	Encode(result *model.EvalStateResult[json.RawMessage]) ([]byte, error)
	Decode(data []byte) (*model.EvalStateResult[json.RawMessage], error)
}

// JSON is the canonical encoding: stable, human-readable, and the format the
// cache-comparability property is specified against.
type JSON struct{}

func (JSON) Name() string { return "json" }

func (JSON) Encode(result *model.EvalStateResult[json.RawMessage]) ([]byte, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("codec: json encode: %w", err)
	}
	return b, nil
}

func (JSON) Decode(data []byte) (*model.EvalStateResult[json.RawMessage], error) {
	result := model.NewEvalStateResult[json.RawMessage](nil)
	if err := json.Unmarshal(data, result); err != nil {
		return nil, fmt.Errorf("codec: json decode: %w", err)
	}
	return result, nil
}

// Msgpack trades JSON's readability for a smaller on-disk footprint, useful
// when a contract's state is large and cached at many sort-keys.
type Msgpack struct{}

func (Msgpack) Name() string { return "msgpack" }

// wireResult mirrors EvalStateResult but with plain maps, since msgpack has
// no notion of OrderedMap's custom (Un)MarshalJSON; insertion order is
// instead captured by an explicit key-order slice.
type wireResult struct {
	State            json.RawMessage   `msgpack:"state"`
	ValidityKeys     []string          `msgpack:"validity_keys"`
	Validity         map[string]bool   `msgpack:"validity"`
	ErrorMessageKeys []string          `msgpack:"error_message_keys"`
	ErrorMessages    map[string]string `msgpack:"error_messages"`
	Events           []model.Event     `msgpack:"events,omitempty"`
}

func (Msgpack) Encode(result *model.EvalStateResult[json.RawMessage]) ([]byte, error) {
	w := wireResult{
		State:            result.State,
		ValidityKeys:     result.Validity.Keys(),
		Validity:         make(map[string]bool, result.Validity.Len()),
		ErrorMessageKeys: result.ErrorMessages.Keys(),
		ErrorMessages:    make(map[string]string, result.ErrorMessages.Len()),
		Events:           result.Events,
	}
	for _, k := range w.ValidityKeys {
		v, _ := result.Validity.Get(k)
		w.Validity[k] = v
	}
	for _, k := range w.ErrorMessageKeys {
		v, _ := result.ErrorMessages.Get(k)
		w.ErrorMessages[k] = v
	}
	b, err := msgpack.Marshal(&w)
	if err != nil {
		return nil, fmt.Errorf("codec: msgpack encode: %w", err)
	}
	return b, nil
}

func (Msgpack) Decode(data []byte) (*model.EvalStateResult[json.RawMessage], error) {
	var w wireResult
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("codec: msgpack decode: %w", err)
	}
	result := model.NewEvalStateResult[json.RawMessage](w.State)
	for _, k := range w.ValidityKeys {
		result.Validity.Set(k, w.Validity[k])
	}
	for _, k := range w.ErrorMessageKeys {
		result.ErrorMessages.Set(k, w.ErrorMessages[k])
	}
	result.Events = w.Events
	return result, nil
}

// ByName returns the codec registered under name ("json" or "msgpack").
func ByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON{}, nil
	case "msgpack":
		return Msgpack{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
}

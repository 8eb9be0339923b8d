package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/cuemby/warpengine/pkg/cache"
	"github.com/cuemby/warpengine/pkg/codec"
	"github.com/cuemby/warpengine/pkg/definition"
	"github.com/cuemby/warpengine/pkg/executor"
	"github.com/cuemby/warpengine/pkg/loader"
	"github.com/cuemby/warpengine/pkg/model"
	"github.com/cuemby/warpengine/pkg/sandbox"
	"github.com/cuemby/warpengine/pkg/sortkey"
)

// --- test fixtures -------------------------------------------------------

type fakeFetcher struct {
	tags map[string][]model.Tag
	data map[string][]byte
}

func (f *fakeFetcher) Tags(ctx context.Context, txID string) ([]model.Tag, error) {
	t, ok := f.tags[txID]
	if !ok {
		return nil, fmt.Errorf("no tags for %s", txID)
	}
	return t, nil
}

func (f *fakeFetcher) Data(ctx context.Context, txID string) ([]byte, error) {
	d, ok := f.data[txID]
	if !ok {
		return nil, fmt.Errorf("no data for %s", txID)
	}
	return d, nil
}

// counterState is the state shape folded by counterHandler.
type counterState struct {
	Counter int `json:"counter"`
}

// counterHandler implements sandbox.Handler with trivial "add"/"fail"
// interactions, enough to exercise the fold without a real sandbox.
type counterHandler struct{}

func (counterHandler) InitState(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	return raw, nil
}

func (counterHandler) MaybeCallStateConstructor(ctx context.Context, state json.RawMessage, host sandbox.Host) (json.RawMessage, error) {
	return state, nil
}

func (counterHandler) Handle(ctx context.Context, state json.RawMessage, ci model.ContractInteraction, host sandbox.Host) (model.HandlerResult[json.RawMessage], error) {
	var s counterState
	if err := json.Unmarshal(state, &s); err != nil {
		return model.HandlerResult[json.RawMessage]{}, err
	}
	var in struct {
		Function string `json:"function"`
		Amount   int    `json:"amount"`
	}
	if err := json.Unmarshal(ci.Input, &in); err != nil {
		return model.HandlerResult[json.RawMessage]{Type: model.HandlerResultException, ErrorMessage: err.Error()}, nil
	}
	switch in.Function {
	case "add":
		s.Counter += in.Amount
	case "fail":
		return model.HandlerResult[json.RawMessage]{Type: model.HandlerResultError, State: state, ErrorMessage: "always fails"}, nil
	default:
		return model.HandlerResult[json.RawMessage]{Type: model.HandlerResultException, ErrorMessage: "unknown function"}, nil
	}
	newState, _ := json.Marshal(s)
	return model.HandlerResult[json.RawMessage]{Type: model.HandlerResultOK, State: newState}, nil
}

type counterPlugin struct{}

func (counterPlugin) ContractType() model.ContractType { return model.ContractTypeJS }
func (counterPlugin) Compile(ctx context.Context, src model.Source) (sandbox.Handler, error) {
	return counterHandler{}, nil
}

// testLoader serves a fixed slice of interactions per contract, filtering to
// the requested (from, to] range the way a real gateway would.
type testLoader struct {
	byContract map[string][]model.Interaction
}

func (l *testLoader) Fetch(ctx context.Context, contractTxID string, from, to sortkey.Key, opts loader.FetchOptions) ([]model.Interaction, error) {
	var out []model.Interaction
	for _, i := range l.byContract[contractTxID] {
		k := i.EffectiveSortKey()
		if sortkey.Less(from, k) && !sortkey.Less(to, k) {
			out = append(out, i)
		}
	}
	return out, nil
}

// --- harness --------------------------------------------------------------

func newTestEvaluator(t *testing.T, fetcher *fakeFetcher, byContract map[string][]model.Interaction) *Evaluator {
	t.Helper()

	defLoader := definition.NewLoader(fetcher, false)
	ex := executor.NewFactory()
	ex.Register(counterPlugin{})
	cachingEx := executor.NewCachingFactory(ex)
	ld := &testLoader{byContract: byContract}

	return New(ld, defLoader, cachingEx)
}

// countingLoader wraps a Loader and counts Fetch calls, so a test can assert
// a warm cache short-circuits the fetch entirely rather than merely
// returning the same result.
type countingLoader struct {
	inner  loader.Loader
	fetches int
}

func (l *countingLoader) Fetch(ctx context.Context, contractTxID string, from, to sortkey.Key, opts loader.FetchOptions) ([]model.Interaction, error) {
	l.fetches++
	return l.inner.Fetch(ctx, contractTxID, from, to, opts)
}

func newCacheableTestEvaluator(t *testing.T, fetcher *fakeFetcher, byContract map[string][]model.Interaction, cacheSvc cache.SortKeyCache) (*CacheableEvaluator, *countingLoader) {
	t.Helper()

	defLoader := definition.NewLoader(fetcher, false)
	ex := executor.NewFactory()
	ex.Register(counterPlugin{})
	cachingEx := executor.NewCachingFactory(ex)
	ld := &countingLoader{inner: &testLoader{byContract: byContract}}

	return NewCacheable(ld, defLoader, cachingEx, cacheSvc, codec.JSON{}), ld
}

func baseDefTags(srcTxID string) []model.Tag {
	return []model.Tag{
		{Name: "Content-Type", Value: "application/javascript"},
		{Name: "Contract-Src", Value: srcTxID},
		{Name: "Init-State", Value: `{"counter":0}`},
	}
}

func interactionAt(id string, height uint64, functionInput string) model.Interaction {
	return model.Interaction{
		ID:           id,
		Block:        model.Block{Height: height, ID: "block-" + id},
		OwnerAddress: "owner-1",
		Tags:         []model.Tag{{Name: "Input", Value: functionInput}},
	}
}

func TestEmptyHistoryReturnsInitState(t *testing.T) {
	fetcher := &fakeFetcher{
		tags: map[string][]model.Tag{"contract-a": baseDefTags("src-a")},
		data: map[string][]byte{"src-a": []byte("// js source")},
	}
	ev := newTestEvaluator(t, fetcher, nil)

	key, result, err := ev.ReadState(context.Background(), "contract-a", sortkey.Genesis, DefaultOptions())
	if err != nil {
		t.Fatalf("ReadState returned error: %v", err)
	}
	if key != sortkey.Genesis {
		t.Fatalf("expected genesis key for empty history, got %q", key)
	}
	var s counterState
	if err := json.Unmarshal(result.State, &s); err != nil {
		t.Fatalf("failed to unmarshal state: %v", err)
	}
	if s.Counter != 0 {
		t.Fatalf("expected counter=0, got %d", s.Counter)
	}
	if result.Validity.Len() != 0 {
		t.Fatalf("expected empty validity, got %d entries", result.Validity.Len())
	}
}

func TestDirectInteractionAppliesAndRecordsValidity(t *testing.T) {
	fetcher := &fakeFetcher{
		tags: map[string][]model.Tag{"contract-a": baseDefTags("src-a")},
		data: map[string][]byte{"src-a": []byte("// js source")},
	}
	i1 := interactionAt("i1", 1, `{"function":"add","amount":5}`)
	ev := newTestEvaluator(t, fetcher, map[string][]model.Interaction{"contract-a": {i1}})

	_, result, err := ev.ReadState(context.Background(), "contract-a", i1.EffectiveSortKey(), DefaultOptions())
	if err != nil {
		t.Fatalf("ReadState returned error: %v", err)
	}
	var s counterState
	_ = json.Unmarshal(result.State, &s)
	if s.Counter != 5 {
		t.Fatalf("expected counter=5, got %d", s.Counter)
	}
	valid, ok := result.Validity.Get("i1")
	if !ok || !valid {
		t.Fatalf("expected i1 valid=true, got ok=%v valid=%v", ok, valid)
	}
}

func TestKnownErrorIsNotFatal(t *testing.T) {
	fetcher := &fakeFetcher{
		tags: map[string][]model.Tag{"contract-a": baseDefTags("src-a")},
		data: map[string][]byte{"src-a": []byte("// js source")},
	}
	i1 := interactionAt("i1", 1, `{"function":"fail"}`)
	ev := newTestEvaluator(t, fetcher, map[string][]model.Interaction{"contract-a": {i1}})

	_, result, err := ev.ReadState(context.Background(), "contract-a", i1.EffectiveSortKey(), DefaultOptions())
	if err != nil {
		t.Fatalf("ReadState should not surface a known contract error: %v", err)
	}
	valid, ok := result.Validity.Get("i1")
	if !ok || valid {
		t.Fatalf("expected i1 to be recorded invalid, got ok=%v valid=%v", ok, valid)
	}
	var s counterState
	_ = json.Unmarshal(result.State, &s)
	if s.Counter != 0 {
		t.Fatalf("state should be unchanged after a known error, got counter=%d", s.Counter)
	}
}

func TestIncrementalEvaluationEqualsFromScratch(t *testing.T) {
	fetcher := &fakeFetcher{
		tags: map[string][]model.Tag{"contract-a": baseDefTags("src-a")},
		data: map[string][]byte{"src-a": []byte("// js source")},
	}
	i1 := interactionAt("i1", 1, `{"function":"add","amount":3}`)
	i2 := interactionAt("i2", 2, `{"function":"add","amount":4}`)
	interactions := map[string][]model.Interaction{"contract-a": {i1, i2}}

	evScratch := newTestEvaluator(t, fetcher, interactions)
	_, fromScratch, err := evScratch.ReadState(context.Background(), "contract-a", i2.EffectiveSortKey(), DefaultOptions())
	if err != nil {
		t.Fatalf("fromScratch ReadState error: %v", err)
	}

	evStepwise := newTestEvaluator(t, fetcher, interactions)
	_, _, err = evStepwise.ReadState(context.Background(), "contract-a", i1.EffectiveSortKey(), DefaultOptions())
	if err != nil {
		t.Fatalf("stepwise first ReadState error: %v", err)
	}
	_, stepwise, err := evStepwise.ReadState(context.Background(), "contract-a", i2.EffectiveSortKey(), DefaultOptions())
	if err != nil {
		t.Fatalf("stepwise second ReadState error: %v", err)
	}

	var a, b counterState
	_ = json.Unmarshal(fromScratch.State, &a)
	_ = json.Unmarshal(stepwise.State, &b)
	if a.Counter != b.Counter {
		t.Fatalf("from-scratch counter %d != stepwise counter %d", a.Counter, b.Counter)
	}
}

func TestViewStateDoesNotPersistOrRecordValidity(t *testing.T) {
	fetcher := &fakeFetcher{
		tags: map[string][]model.Tag{"contract-a": baseDefTags("src-a")},
		data: map[string][]byte{"src-a": []byte("// js source")},
	}
	i1 := interactionAt("i1", 1, `{"function":"add","amount":5}`)
	ev := newTestEvaluator(t, fetcher, map[string][]model.Interaction{"contract-a": {i1}})

	viewResult, err := ev.ViewState(context.Background(), "contract-a", json.RawMessage(`{"function":"add","amount":100}`), "owner-1")
	if err != nil {
		t.Fatalf("ViewState returned error: %v", err)
	}
	if viewResult.Type != model.HandlerResultOK {
		t.Fatalf("expected ViewState to succeed, got %+v", viewResult)
	}

	_, result, err := ev.ReadState(context.Background(), "contract-a", i1.EffectiveSortKey(), DefaultOptions())
	if err != nil {
		t.Fatalf("ReadState returned error: %v", err)
	}
	var s counterState
	_ = json.Unmarshal(result.State, &s)
	if s.Counter != 5 {
		t.Fatalf("ViewState must not persist: expected counter=5, got %d", s.Counter)
	}
}

// --- CacheableEvaluator: cache transparency & incremental equivalence ------

func TestCacheableEvaluatorPersistsUnconditionallyAtRoot(t *testing.T) {
	fetcher := &fakeFetcher{
		tags: map[string][]model.Tag{"contract-a": baseDefTags("src-a")},
		data: map[string][]byte{"src-a": []byte("// js source")},
	}
	i1 := interactionAt("i1", 1, `{"function":"add","amount":3}`)
	i2 := interactionAt("i2", 2, `{"function":"add","amount":4}`)
	interactions := map[string][]model.Interaction{"contract-a": {i1, i2}}

	memCache := cache.NewMemCache()
	ev, ld := newCacheableTestEvaluator(t, fetcher, interactions, memCache)

	// DefaultOptions disables both intermediate-caching knobs
	// (UpdateCacheForEachInteraction=false, CacheEveryNInteractions=-1); the
	// final snapshot must still land in the cache.
	opts := DefaultOptions()
	key, coldResult, err := ev.ReadState(context.Background(), "contract-a", i2.EffectiveSortKey(), opts)
	if err != nil {
		t.Fatalf("cold ReadState returned error: %v", err)
	}
	if ld.fetches != 1 {
		t.Fatalf("expected exactly one fetch on the cold call, got %d", ld.fetches)
	}

	if _, err := memCache.Get("contract-a", key); err != nil {
		t.Fatalf("expected the final fold to be persisted unconditionally, got: %v", err)
	}

	warmKey, warmResult, err := ev.ReadState(context.Background(), "contract-a", i2.EffectiveSortKey(), opts)
	if err != nil {
		t.Fatalf("warm ReadState returned error: %v", err)
	}
	if ld.fetches != 1 {
		t.Fatalf("expected the warm call to be served from cache with no further fetch, got %d total fetches", ld.fetches)
	}
	if warmKey != key {
		t.Fatalf("warm key %q != cold key %q", warmKey, key)
	}

	var a, b counterState
	_ = json.Unmarshal(coldResult.State, &a)
	_ = json.Unmarshal(warmResult.State, &b)
	if a.Counter != b.Counter {
		t.Fatalf("cold counter %d != warm counter %d", a.Counter, b.Counter)
	}
}

func TestCacheableIncrementalEvaluationEqualsFromScratch(t *testing.T) {
	fetcher := &fakeFetcher{
		tags: map[string][]model.Tag{"contract-a": baseDefTags("src-a")},
		data: map[string][]byte{"src-a": []byte("// js source")},
	}
	i1 := interactionAt("i1", 1, `{"function":"add","amount":3}`)
	i2 := interactionAt("i2", 2, `{"function":"add","amount":4}`)
	interactions := map[string][]model.Interaction{"contract-a": {i1, i2}}

	evScratch, _ := newCacheableTestEvaluator(t, fetcher, interactions, cache.NewMemCache())
	_, fromScratch, err := evScratch.ReadState(context.Background(), "contract-a", i2.EffectiveSortKey(), DefaultOptions())
	if err != nil {
		t.Fatalf("fromScratch ReadState error: %v", err)
	}

	evStepwise, ld := newCacheableTestEvaluator(t, fetcher, interactions, cache.NewMemCache())
	_, _, err = evStepwise.ReadState(context.Background(), "contract-a", i1.EffectiveSortKey(), DefaultOptions())
	if err != nil {
		t.Fatalf("stepwise first ReadState error: %v", err)
	}
	// i1's snapshot must now be cached, so the second call resumes from it
	// instead of re-folding i1.
	_, stepwise, err := evStepwise.ReadState(context.Background(), "contract-a", i2.EffectiveSortKey(), DefaultOptions())
	if err != nil {
		t.Fatalf("stepwise second ReadState error: %v", err)
	}
	if ld.fetches != 2 {
		t.Fatalf("expected one fetch per stepwise call (resuming from the warm cache), got %d", ld.fetches)
	}

	var a, b counterState
	_ = json.Unmarshal(fromScratch.State, &a)
	_ = json.Unmarshal(stepwise.State, &b)
	if a.Counter != b.Counter {
		t.Fatalf("from-scratch counter %d != stepwise (warm cache) counter %d", a.Counter, b.Counter)
	}
}

// --- internal writes & the inf-loop cycle guard ----------------------------

// bridgeState is the state shape folded by bridgeHandler, used to trace an
// internal write across two contracts and back.
type bridgeState struct {
	Counter     int    `json:"counter"`
	PeerCounter int    `json:"peer_counter,omitempty"`
	CycleErr    string `json:"cycle_err,omitempty"`
}

type bridgeInput struct {
	Amount int    `json:"amount"`
	Self   string `json:"self"`
	Peer   string `json:"peer"`
}

// bridgeHandler adds Amount to its own counter, then (if Peer is set) writes
// the same chase into Peer via host.Write, swapping Self/Peer so the target
// immediately writes back. With internal writes enabled and no hop limit,
// this relies entirely on the scratchpad's cycle guard to terminate: A writes
// B, B writes back to A, and A's second entry attempting to write B again is
// refused as a repeat (contract, interaction) pair.
type bridgeHandler struct{}

func (bridgeHandler) InitState(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	return raw, nil
}

func (bridgeHandler) MaybeCallStateConstructor(ctx context.Context, state json.RawMessage, host sandbox.Host) (json.RawMessage, error) {
	return state, nil
}

func (bridgeHandler) Handle(ctx context.Context, state json.RawMessage, ci model.ContractInteraction, host sandbox.Host) (model.HandlerResult[json.RawMessage], error) {
	var s bridgeState
	_ = json.Unmarshal(state, &s)
	var in bridgeInput
	if err := json.Unmarshal(ci.Input, &in); err != nil {
		return model.HandlerResult[json.RawMessage]{Type: model.HandlerResultException, ErrorMessage: err.Error()}, nil
	}
	s.Counter += in.Amount

	if in.Peer != "" {
		next, _ := json.Marshal(bridgeInput{Amount: in.Amount, Self: in.Peer, Peer: in.Self})
		res, werr := host.Write(ctx, in.Peer, next)
		if werr != nil {
			s.CycleErr = werr.Error()
		} else if res.Type == model.HandlerResultOK && len(res.Result) > 0 {
			var peer bridgeState
			_ = json.Unmarshal(res.Result, &peer)
			s.PeerCounter = peer.Counter
			if peer.CycleErr != "" {
				s.CycleErr = peer.CycleErr
			}
		}
	}

	out, _ := json.Marshal(s)
	return model.HandlerResult[json.RawMessage]{Type: model.HandlerResultOK, State: out, Result: out}, nil
}

type bridgePlugin struct{}

func (bridgePlugin) ContractType() model.ContractType { return model.ContractTypeJS }
func (bridgePlugin) Compile(ctx context.Context, src model.Source) (sandbox.Handler, error) {
	return bridgeHandler{}, nil
}

func TestInternalWriteCycleConvergesUnderGuard(t *testing.T) {
	fetcher := &fakeFetcher{
		tags: map[string][]model.Tag{
			"contract-a": baseDefTags("src-bridge"),
			"contract-b": baseDefTags("src-bridge"),
		},
		data: map[string][]byte{"src-bridge": []byte("// js source")},
	}
	i1 := interactionAt("i1", 1, `{"amount":5,"self":"contract-a","peer":"contract-b"}`)
	byContract := map[string][]model.Interaction{"contract-a": {i1}}

	defLoader := definition.NewLoader(fetcher, false)
	ex := executor.NewFactory()
	ex.Register(bridgePlugin{})
	cachingEx := executor.NewCachingFactory(ex)
	ld := &testLoader{byContract: byContract}
	ev := New(ld, defLoader, cachingEx)

	opts := DefaultOptions()
	opts.InternalWrites = true

	_, result, err := ev.ReadState(context.Background(), "contract-a", i1.EffectiveSortKey(), opts)
	if err != nil {
		t.Fatalf("ReadState returned error: %v", err)
	}

	valid, ok := result.Validity.Get("i1")
	if !ok || !valid {
		t.Fatalf("expected i1 valid=true, got ok=%v valid=%v", ok, valid)
	}

	var s bridgeState
	if err := json.Unmarshal(result.State, &s); err != nil {
		t.Fatalf("failed to unmarshal state: %v", err)
	}
	if s.Counter != 5 {
		t.Fatalf("expected contract-a counter=5, got %d", s.Counter)
	}
	if s.PeerCounter != 5 {
		t.Fatalf("expected observed peer (contract-b) counter=5, got %d", s.PeerCounter)
	}
	if !strings.Contains(s.CycleErr, "cycle") {
		t.Fatalf("expected the re-entrant write to be refused by the cycle guard, got CycleErr=%q", s.CycleErr)
	}
}

// --- Evolve: mid-fold handler rebind ---------------------------------------

type evolveState struct {
	Value int `json:"value"`
}

type evolveInputFixture struct {
	Function string `json:"function"`
}

// preEvolveHandler treats "evolve" as a recognized no-op: the Evolve
// modifier, not the handler, performs the source rebind once this returns Ok.
type preEvolveHandler struct{}

func (preEvolveHandler) InitState(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	return raw, nil
}
func (preEvolveHandler) MaybeCallStateConstructor(ctx context.Context, state json.RawMessage, host sandbox.Host) (json.RawMessage, error) {
	return state, nil
}
func (preEvolveHandler) Handle(ctx context.Context, state json.RawMessage, ci model.ContractInteraction, host sandbox.Host) (model.HandlerResult[json.RawMessage], error) {
	var in evolveInputFixture
	if err := json.Unmarshal(ci.Input, &in); err != nil || in.Function != "evolve" {
		return model.HandlerResult[json.RawMessage]{Type: model.HandlerResultException, ErrorMessage: "unsupported before evolve"}, nil
	}
	return model.HandlerResult[json.RawMessage]{Type: model.HandlerResultOK, State: state}, nil
}

// postEvolveHandler is what the contract becomes after the rebind: "bump"
// adds 555 to demonstrate the new handler, not the old one, processed it.
type postEvolveHandler struct{}

func (postEvolveHandler) InitState(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	return raw, nil
}
func (postEvolveHandler) MaybeCallStateConstructor(ctx context.Context, state json.RawMessage, host sandbox.Host) (json.RawMessage, error) {
	return state, nil
}
func (postEvolveHandler) Handle(ctx context.Context, state json.RawMessage, ci model.ContractInteraction, host sandbox.Host) (model.HandlerResult[json.RawMessage], error) {
	var s evolveState
	_ = json.Unmarshal(state, &s)
	var in evolveInputFixture
	if err := json.Unmarshal(ci.Input, &in); err != nil || in.Function != "bump" {
		return model.HandlerResult[json.RawMessage]{Type: model.HandlerResultException, ErrorMessage: "unsupported after evolve"}, nil
	}
	s.Value += 555
	out, _ := json.Marshal(s)
	return model.HandlerResult[json.RawMessage]{Type: model.HandlerResultOK, State: out}, nil
}

// evolvePlugin compiles the handler appropriate to the source body rather
// than to a registered type, mirroring how a real sandbox plugin would
// interpret two different source bodies under one content type.
type evolvePlugin struct{}

func (evolvePlugin) ContractType() model.ContractType { return model.ContractTypeJS }
func (evolvePlugin) Compile(ctx context.Context, src model.Source) (sandbox.Handler, error) {
	if src.Code == "v2-source" {
		return postEvolveHandler{}, nil
	}
	return preEvolveHandler{}, nil
}

func TestEvolveRebindsHandlerMidFold(t *testing.T) {
	fetcher := &fakeFetcher{
		tags: map[string][]model.Tag{"contract-a": baseDefTags("src-v1")},
		data: map[string][]byte{
			"src-v1": []byte("v1-source"),
			"src-v2": []byte("v2-source"),
		},
	}
	i1 := interactionAt("i1", 1, `{"function":"evolve","value":"src-v2"}`)
	i2 := interactionAt("i2", 2, `{"function":"bump"}`)
	interactions := map[string][]model.Interaction{"contract-a": {i1, i2}}

	defLoader := definition.NewLoader(fetcher, false)
	ex := executor.NewFactory()
	ex.Register(evolvePlugin{})
	cachingEx := executor.NewCachingFactory(ex)
	ld := &testLoader{byContract: interactions}
	ev := New(ld, defLoader, cachingEx)
	ev.RegisterModifier(NewEvolve(defLoader))

	_, result, err := ev.ReadState(context.Background(), "contract-a", i2.EffectiveSortKey(), DefaultOptions())
	if err != nil {
		t.Fatalf("ReadState returned error: %v", err)
	}

	for _, id := range []string{"i1", "i2"} {
		valid, ok := result.Validity.Get(id)
		if !ok || !valid {
			t.Fatalf("expected %s valid=true, got ok=%v valid=%v", id, ok, valid)
		}
	}

	var s evolveState
	if err := json.Unmarshal(result.State, &s); err != nil {
		t.Fatalf("failed to unmarshal state: %v", err)
	}
	if s.Value != 555 {
		t.Fatalf("expected the evolved handler to process i2 (value=555), got %d", s.Value)
	}
}

package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/cuemby/warpengine/pkg/cache"
	"github.com/cuemby/warpengine/pkg/codec"
	"github.com/cuemby/warpengine/pkg/definition"
	"github.com/cuemby/warpengine/pkg/errs"
	"github.com/cuemby/warpengine/pkg/executor"
	"github.com/cuemby/warpengine/pkg/loader"
	"github.com/cuemby/warpengine/pkg/log"
	"github.com/cuemby/warpengine/pkg/metrics"
	"github.com/cuemby/warpengine/pkg/model"
	"github.com/cuemby/warpengine/pkg/progress"
	"github.com/cuemby/warpengine/pkg/sandbox"
	"github.com/cuemby/warpengine/pkg/sortkey"
	"github.com/cuemby/warpengine/pkg/txstate"
	"github.com/cuemby/warpengine/pkg/verify"
)

// callFrame identifies one (contract, interaction) pair on the current
// internal-write call chain, used to detect re-entrant cycles.
type callFrame struct {
	ContractTxID  string
	InteractionID string
}

// ModifierContext is what an ExecutionContextModifier sees after one
// interaction has been folded.
type ModifierContext struct {
	Interaction   *model.Interaction
	HandlerResult model.HandlerResult[json.RawMessage]
	Definition    *model.ContractDefinition
}

// ExecutionContextModifier inspects the interaction just applied and may
// rebind the active definition for everything folded afterward. The built-in
// Evolve modifier (evolve.go) is the only one named by the protocol; the
// interface exists so a deployment can register others.
type ExecutionContextModifier interface {
	Apply(ctx context.Context, mc ModifierContext) (newDefinition *model.ContractDefinition, changed bool, err error)
}

// foldRequest is the per-call argument to engine.fold: everything needed to
// fold one contract up to one sort-key, plus the re-entrancy bookkeeping
// threaded through internal writes.
type foldRequest struct {
	ContractTxID     string
	RequestedSortKey sortkey.Key
	Opts             Options
	CallerStack      []callFrame
	ForcedSrcTxID    string
	// InteractionID is the id of the interaction that triggered this call via
	// an internal write; empty at the true root.
	InteractionID string
	Depth         int
}

// engine holds the shared fold algorithm used by both Evaluator and
// CacheableEvaluator; cacheSvc is nil for the base variant.
type engine struct {
	loaderSvc   loader.Loader
	definitions *definition.Loader
	executorSvc *executor.CachingFactory
	cacheSvc    cache.SortKeyCache
	codecSvc    codec.Codec
	vrf         verify.VRFVerifier
	blacklist   *verify.Blacklist
	allowlist   *verify.SourceAllowlist
	broker      *progress.Broker
	modifiers   []ExecutionContextModifier
	callLog     *DurableCallLog
	logger      zerolog.Logger
}

// Evaluator is the base state evaluator: every readState call folds from
// init_state, using the scratchpad only for the lifetime of one root call.
type Evaluator struct {
	*engine
}

// CacheableEvaluator augments Evaluator with the sort-key cache: base state
// resumes from the nearest confirmed snapshot, and cacheable interactions are
// persisted as they're applied.
type CacheableEvaluator struct {
	*engine
}

// New returns a base Evaluator with no persistent cache.
func New(ld loader.Loader, defs *definition.Loader, ex *executor.CachingFactory) *Evaluator {
	return &Evaluator{engine: &engine{
		loaderSvc:   ld,
		definitions: defs,
		executorSvc: ex,
		logger:      log.WithComponent("evaluator"),
	}}
}

// NewCacheable returns a CacheableEvaluator backed by c, encoded with cdc.
func NewCacheable(ld loader.Loader, defs *definition.Loader, ex *executor.CachingFactory, c cache.SortKeyCache, cdc codec.Codec) *CacheableEvaluator {
	return &CacheableEvaluator{engine: &engine{
		loaderSvc:   ld,
		definitions: defs,
		executorSvc: ex,
		cacheSvc:    c,
		codecSvc:    cdc,
		logger:      log.WithComponent("evaluator"),
	}}
}

// SetVRFVerifier attaches a VRF verifier; nil (the default) skips VRF checks.
func (e *engine) SetVRFVerifier(v verify.VRFVerifier) { e.vrf = v }

// SetBlacklist attaches a contract/source blacklist.
func (e *engine) SetBlacklist(b *verify.Blacklist) { e.blacklist = b }

// SetAllowlist attaches a source allowlist.
func (e *engine) SetAllowlist(a *verify.SourceAllowlist) { e.allowlist = a }

// SetBroker attaches a progress broker that receives fold lifecycle events.
func (e *engine) SetBroker(b *progress.Broker) { e.broker = b }

// SetCallLog attaches a durable log that every internal write is recorded
// to, independent of the sort-key cache. Optional: nil (the default) skips
// recording.
func (e *engine) SetCallLog(l *DurableCallLog) { e.callLog = l }

// RegisterModifier appends an ExecutionContextModifier. Modifiers run in
// registration order after every interaction the fold handles to the end,
// whatever the handler's result type, including internal writes; an
// interaction skipped early (failed VRF check, missing or bad Input tag,
// internal writes disabled, failed internal write, ignored handler error)
// is not passed to them.
func (e *engine) RegisterModifier(m ExecutionContextModifier) {
	e.modifiers = append(e.modifiers, m)
}

// Latest returns the sort-key used internally to mean "fold everything
// observed so far": a height no real chain reaches yet. Callers that want
// the contract's current tip (rather than a specific historical sort-key)
// pass this to ReadState.
func Latest() sortkey.Key {
	return sortkey.Last(^uint64(0) >> 1)
}

// ReadState folds contractTxID up to requestedSortKey and returns the
// resulting sort-key and EvalStateResult.
func (e *Evaluator) ReadState(ctx context.Context, contractTxID string, requestedSortKey sortkey.Key, opts Options) (sortkey.Key, *model.EvalStateResult[json.RawMessage], error) {
	return e.engine.readState(ctx, contractTxID, requestedSortKey, opts)
}

// ReadState is CacheableEvaluator's equivalent, probing and persisting
// against the attached cache.
func (e *CacheableEvaluator) ReadState(ctx context.Context, contractTxID string, requestedSortKey sortkey.Key, opts Options) (sortkey.Key, *model.EvalStateResult[json.RawMessage], error) {
	return e.engine.readState(ctx, contractTxID, requestedSortKey, opts)
}

func (e *engine) readState(ctx context.Context, contractTxID string, requestedSortKey sortkey.Key, opts Options) (sortkey.Key, *model.EvalStateResult[json.RawMessage], error) {
	timer := metrics.NewTimer()
	pad := txstate.New()

	key, result, err := e.fold(ctx, pad, foldRequest{
		ContractTxID:     contractTxID,
		RequestedSortKey: requestedSortKey,
		Opts:             opts,
		Depth:            0,
	})

	outcome := "ok"
	if err != nil {
		outcome = "aborted"
	}
	timer.ObserveDurationVec(metrics.FoldDuration, outcome)
	metrics.FoldsTotal.WithLabelValues(outcome).Inc()

	if e.broker != nil {
		evt := progress.EventFoldCompleted
		msg := ""
		if err != nil {
			evt = progress.EventFoldAborted
			msg = err.Error()
		}
		e.broker.Publish(ctx, progress.Event{Type: evt, ContractTxID: contractTxID, SortKey: string(key), Message: msg})
	}

	if err != nil {
		return key, nil, err
	}
	return key, result, nil
}

// ViewState synthesizes a dry interaction against the contract's current
// folded state and returns the handler's verdict without persisting
// anything.
func (e *engine) ViewState(ctx context.Context, contractTxID string, input json.RawMessage, caller string) (model.InteractionResult, error) {
	return e.dryCall(ctx, contractTxID, input, caller, model.InteractionTypeView)
}

// DryWrite is ViewState with write semantics preserved for what-if checks:
// the handler is invoked exactly as a real write would be, but nothing is
// staged or persisted.
func (e *engine) DryWrite(ctx context.Context, contractTxID string, input json.RawMessage, caller string) (model.InteractionResult, error) {
	return e.dryCall(ctx, contractTxID, input, caller, model.InteractionTypeWrite)
}

func (e *engine) dryCall(ctx context.Context, contractTxID string, input json.RawMessage, caller string, kind model.InteractionType) (model.InteractionResult, error) {
	opts := DefaultOptions()
	asOf := Latest()
	pad := txstate.New()
	_, result, err := e.fold(ctx, pad, foldRequest{
		ContractTxID:     contractTxID,
		RequestedSortKey: asOf,
		Opts:             opts,
		Depth:            0,
	})
	if err != nil {
		return model.InteractionResult{}, err
	}

	def, handler, err := e.resolveHandler(ctx, contractTxID, "")
	if err != nil {
		return model.InteractionResult{}, err
	}
	host := &hostAdapter{eng: e, ctx: ctx, pad: pad, opts: opts, caller: caller, sortKey: asOf}

	hres, err := handler.Handle(ctx, result.State, model.ContractInteraction{
		Input:           input,
		Caller:          caller,
		InteractionType: kind,
	}, host)
	if err != nil {
		return model.InteractionResult{}, errs.New(errs.KindSandbox, "evaluator.dryCall", fmt.Errorf("contract %s: %w", def.TxID, err))
	}
	return model.InteractionResult{Type: hres.Type, Result: hres.Result, ErrorMessage: hres.ErrorMessage}, nil
}

// resolveHandler loads the definition for contractTxID (applying
// forcedSrcTxID if non-empty, the Evolve rebind path), runs the blacklist and
// allowlist checks before any evaluation happens, and compiles or retrieves
// the cached Handler.
func (e *engine) resolveHandler(ctx context.Context, contractTxID, forcedSrcTxID string) (*model.ContractDefinition, sandbox.Handler, error) {
	def, err := e.definitions.Load(ctx, contractTxID, forcedSrcTxID)
	if err != nil {
		return nil, nil, err
	}

	if e.blacklist != nil {
		if blocked, berr := e.blacklist.Contains(contractTxID); berr == nil && blocked {
			return nil, nil, errs.Wrap(errs.KindDefinition, "evaluator.resolveHandler", "contract %s is blacklisted", contractTxID)
		}
		if blocked, berr := e.blacklist.Contains(def.SrcTxID); berr == nil && blocked {
			return nil, nil, errs.Wrap(errs.KindDefinition, "evaluator.resolveHandler", "source %s is blacklisted", def.SrcTxID)
		}
	}
	if e.allowlist != nil {
		allowed, aerr := e.allowlist.Allowed(def.SrcTxID)
		if aerr == nil && !allowed {
			return nil, nil, errs.Wrap(errs.KindDefinition, "evaluator.resolveHandler", "source %s is not in the allowlist", def.SrcTxID)
		}
	}

	timer := metrics.NewTimer()
	handler, err := e.executorSvc.Build(ctx, def.Src)
	timer.ObserveDuration(metrics.HandlerCompileDuration)
	metrics.HandlersCached.Set(float64(e.executorSvc.Len()))
	if err != nil {
		return nil, nil, errs.New(errs.KindSandbox, "evaluator.resolveHandler", err)
	}
	return def, handler, nil
}

// baseState returns the evaluator's starting point for contractTxID at or
// below upTo: the cached snapshot's key and result if the cacheable variant
// has one, otherwise the genesis key and a nil result (meaning "start from
// init_state").
func (e *engine) baseState(contractTxID string, upTo sortkey.Key) (sortkey.Key, *model.EvalStateResult[json.RawMessage], bool) {
	if e.cacheSvc == nil {
		return sortkey.Genesis, nil, false
	}
	entry, err := e.cacheSvc.GetLessOrEqual(contractTxID, upTo)
	if err != nil {
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
		return sortkey.Genesis, nil, false
	}
	result, err := e.codecSvc.Decode(entry.Value)
	if err != nil {
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
		return sortkey.Genesis, nil, false
	}
	if entry.Key == upTo {
		metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
	} else {
		metrics.CacheLookupsTotal.WithLabelValues("partial").Inc()
	}
	return entry.Key, result, true
}

// persist writes one cacheable snapshot to the durable cache. No-op for the
// base evaluator.
func (e *engine) persist(contractTxID string, key sortkey.Key, result *model.EvalStateResult[json.RawMessage]) {
	if e.cacheSvc == nil {
		return
	}
	encoded, err := e.codecSvc.Encode(result)
	if err != nil {
		e.logger.Warn().Err(err).Str("contract", contractTxID).Msg("failed to encode snapshot for cache")
		return
	}
	if err := e.cacheSvc.Put(contractTxID, key, encoded); err != nil {
		e.logger.Warn().Err(err).Str("contract", contractTxID).Str("sort_key", string(key)).Msg("failed to persist cache entry")
	}
}

// fold resolves the active definition, determines
// the base state, fetch and apply the missing interactions in order, and
// stage the result into pad. The scratchpad's final commit/rollback only
// happens at the true root (Depth == 0); nested calls (internal writes,
// cross-contract reads) leave that decision to their caller.
func (e *engine) fold(ctx context.Context, pad *txstate.Scratchpad, req foldRequest) (sortkey.Key, *model.EvalStateResult[json.RawMessage], error) {
	if req.InteractionID != "" {
		if err := pad.EnterCall(req.ContractTxID, req.InteractionID); err != nil {
			// Cycle detected: converge by returning whatever this branch
			// already staged rather than recursing further.
			metrics.InternalWriteCyclesDetected.Inc()
			if staged, ok := pad.Get(req.ContractTxID, req.RequestedSortKey); ok {
				return req.RequestedSortKey, staged, nil
			}
			return req.RequestedSortKey, model.NewEvalStateResult[json.RawMessage](nil), nil
		}
		defer pad.ExitCall()
	}
	if req.Opts.MaxCallDepth > 0 && req.Depth > req.Opts.MaxCallDepth {
		return req.RequestedSortKey, nil, errs.Wrap(errs.KindSandbox, "evaluator.fold", "max call depth %d exceeded for contract %s", req.Opts.MaxCallDepth, req.ContractTxID)
	}

	// Step 1: exact-match cache/scratchpad probe.
	if staged, ok := pad.Get(req.ContractTxID, req.RequestedSortKey); ok {
		return req.RequestedSortKey, staged, nil
	}

	activeDef, activeHandler, err := e.resolveHandler(ctx, req.ContractTxID, req.ForcedSrcTxID)
	if err != nil {
		return req.RequestedSortKey, nil, err
	}

	baseKey, base, _ := e.baseState(req.ContractTxID, req.RequestedSortKey)
	if baseKey == req.RequestedSortKey && base != nil {
		return baseKey, base, nil
	}

	missing, err := e.loaderSvc.Fetch(ctx, req.ContractTxID, baseKey, req.RequestedSortKey, loader.FetchOptions{})
	if err != nil {
		return req.RequestedSortKey, nil, err
	}
	sort.SliceStable(missing, func(i, j int) bool {
		ki, kj := missing[i].EffectiveSortKey(), missing[j].EffectiveSortKey()
		if ki != kj {
			return sortkey.Less(ki, kj)
		}
		// Safeguard tie-break: equal sort-keys shouldn't occur by
		// construction, but fall back to
		// (block height, block id, interaction id).
		if missing[i].Block.Height != missing[j].Block.Height {
			return missing[i].Block.Height < missing[j].Block.Height
		}
		if missing[i].Block.ID != missing[j].Block.ID {
			return missing[i].Block.ID < missing[j].Block.ID
		}
		return missing[i].ID < missing[j].ID
	})

	// Step 2: inf-loop guard. Truncate at the first interaction already on
	// the caller's stack for this same contract.
guard:
	for idx, i := range missing {
		for _, frame := range req.CallerStack {
			if frame.ContractTxID == req.ContractTxID && frame.InteractionID == i.ID {
				missing = missing[:idx]
				break guard
			}
		}
	}

	var result *model.EvalStateResult[json.RawMessage]
	if base != nil {
		result = base.Clone()
	} else {
		initState, ierr := activeHandler.InitState(ctx, activeDef.InitState)
		if ierr != nil {
			return req.RequestedSortKey, nil, errs.New(errs.KindSandbox, "evaluator.fold", fmt.Errorf("init_state for %s: %w", req.ContractTxID, ierr))
		}
		manifest, _ := activeDef.ParseManifest()
		if req.Opts.UseConstructor || manifest.UseConstructor {
			host := &hostAdapter{eng: e, ctx: ctx, pad: pad, opts: req.Opts, caller: activeDef.Owner, sortKey: sortkey.Genesis, callerStack: req.CallerStack, depth: req.Depth}
			initState, ierr = activeHandler.MaybeCallStateConstructor(ctx, initState, host)
			if ierr != nil {
				return req.RequestedSortKey, nil, errs.New(errs.KindSandbox, "evaluator.fold", fmt.Errorf("constructor for %s: %w", req.ContractTxID, ierr))
			}
		}
		result = model.NewEvalStateResult(initState)
	}

	currentKey := baseKey
	halted := false

	var (
		lastCacheableKey      sortkey.Key
		lastCacheableResult   *model.EvalStateResult[json.RawMessage]
		lastCacheablePersisted bool
	)

	for idx := range missing {
		i := missing[idx]
		if err := ctx.Err(); err != nil {
			return currentKey, nil, err
		}

		if i.VRF != nil && e.vrf != nil {
			ok, verr := e.vrf.Verify(*i.VRF, []byte(i.ID))
			if verr != nil || !ok {
				result.Validity.Set(i.ID, false)
				result.ErrorMessages.Set(i.ID, "vrf verification failed")
				metrics.InteractionsSkippedTotal.WithLabelValues("vrf_failed").Inc()
				continue
			}
		}

		inputTag, ok := i.Tag("Input")
		if !ok || !json.Valid([]byte(inputTag)) {
			result.Validity.Set(i.ID, false)
			result.ErrorMessages.Set(i.ID, "missing or unparsable Input tag")
			metrics.InteractionsSkippedTotal.WithLabelValues("bad_input").Inc()
			continue
		}
		input := json.RawMessage(inputTag)

		writeTarget, isInterWrite := i.Tag("Interact-Write")
		isInterWrite = isInterWrite && writeTarget != "" && writeTarget != req.ContractTxID

		ictx, cancel := context.WithTimeout(ctx, req.Opts.MaxInteractionEvaluationTime)

		var (
			handled bool
			hres    model.HandlerResult[json.RawMessage]
			herr    error
		)

		if isInterWrite {
			if !req.Opts.InternalWrites {
				cancel()
				continue // internal writes disabled: skip silently
			}
			childStack := append(append([]callFrame(nil), req.CallerStack...), callFrame{ContractTxID: req.ContractTxID, InteractionID: i.ID})
			_, childResult, cerr := e.fold(ctx, pad, foldRequest{
				ContractTxID:     writeTarget,
				RequestedSortKey: i.EffectiveSortKey(),
				Opts:             req.Opts,
				CallerStack:      childStack,
				InteractionID:    i.ID,
				Depth:            req.Depth + 1,
			})
			cancel()
			if cerr != nil {
				if errs.IsFatal(cerr) {
					return currentKey, nil, cerr
				}
				result.Validity.Set(i.ID, false)
				result.ErrorMessages.Set(i.ID, cerr.Error())
				metrics.InteractionsSkippedTotal.WithLabelValues("internal_write_failed").Inc()
				continue
			}
			valid := false
			if v, ok := childResult.Validity.Get(i.ID); ok {
				valid = v
			}
			result.Validity.Set(i.ID, valid)
			if !valid {
				if msg, ok := childResult.ErrorMessages.Get(i.ID); ok {
					result.ErrorMessages.Set(i.ID, msg)
				}
			} else if staged, ok := pad.Get(req.ContractTxID, i.EffectiveSortKey()); ok {
				result.State = staged.State
				metrics.InteractionsAppliedTotal.Inc()
			}
			handled = true
		} else {
			host := &hostAdapter{eng: e, ctx: ictx, pad: pad, opts: req.Opts, caller: i.OwnerAddress, sortKey: i.EffectiveSortKey(), callerStack: req.CallerStack, depth: req.Depth, interactionID: i.ID}
			hres, herr = activeHandler.Handle(ictx, result.State, model.ContractInteraction{
				Input:           input,
				Caller:          i.OwnerAddress,
				InteractionType: model.InteractionTypeWrite,
				Interaction:     &i,
			}, host)
			cancel()
		}

		if !handled {
			if herr != nil {
				if !req.Opts.IgnoreExceptions {
					pad.Rollback()
					return currentKey, nil, errs.New(errs.KindSandbox, "evaluator.fold", fmt.Errorf("handle %s on %s: %w", i.ID, req.ContractTxID, herr))
				}
				result.Validity.Set(i.ID, false)
				result.ErrorMessages.Set(i.ID, herr.Error())
				metrics.InteractionsSkippedTotal.WithLabelValues("sandbox_error").Inc()
				continue
			}
			switch hres.Type {
			case model.HandlerResultOK:
				result.State = hres.State
				result.Validity.Set(i.ID, true)
				if hres.Event != nil {
					result.Events = append(result.Events, *hres.Event)
				}
				metrics.InteractionsAppliedTotal.Inc()
				if e.broker != nil {
					e.broker.Publish(ctx, progress.Event{Type: progress.EventInteractionApplied, ContractTxID: req.ContractTxID, SortKey: string(i.EffectiveSortKey())})
				}
			case model.HandlerResultError:
				result.Validity.Set(i.ID, false)
				result.ErrorMessages.Set(i.ID, hres.ErrorMessage)
				metrics.InteractionsSkippedTotal.WithLabelValues("contract_error").Inc()
				if e.broker != nil {
					e.broker.Publish(ctx, progress.Event{Type: progress.EventInteractionSkipped, ContractTxID: req.ContractTxID, SortKey: string(i.EffectiveSortKey()), Message: hres.ErrorMessage})
				}
			case model.HandlerResultException:
				if !req.Opts.IgnoreExceptions {
					pad.Rollback()
					return currentKey, nil, errs.Wrap(errs.KindSandbox, "evaluator.fold", "unhandled exception in %s on %s: %s", i.ID, req.ContractTxID, hres.ErrorMessage)
				}
				result.Validity.Set(i.ID, false)
				result.ErrorMessages.Set(i.ID, hres.ErrorMessage)
				metrics.InteractionsSkippedTotal.WithLabelValues("exception").Inc()
			}
		}

		currentKey = i.EffectiveSortKey()
		pad.Set(req.ContractTxID, currentKey, result.Clone())

		if i.Cacheable() {
			persistedThisStep := false
			// These two options only govern how often an *intermediate*
			// snapshot is flushed while folding a long interaction run; the
			// final snapshot is persisted unconditionally below regardless
			// of how they're set.
			if req.Opts.UpdateCacheForEachInteraction || req.Opts.CacheEveryNInteractions == 1 {
				e.persist(req.ContractTxID, currentKey, result)
				persistedThisStep = true
			} else if req.Opts.CacheEveryNInteractions > 1 && (idx+1)%req.Opts.CacheEveryNInteractions == 0 {
				e.persist(req.ContractTxID, currentKey, result)
				persistedThisStep = true
			}
			lastCacheableKey = currentKey
			lastCacheableResult = result.Clone()
			lastCacheablePersisted = persistedThisStep
		}

		// Step 10: run registered modifiers (Evolve) after this interaction.
		for _, m := range e.modifiers {
			newDef, changed, merr := m.Apply(ctx, ModifierContext{Interaction: &i, HandlerResult: hres, Definition: activeDef})
			if merr != nil {
				if errs.IsSkipAfterEvolve(merr) {
					// Open question (b): a failing evolve retains the old
					// source rather than invalidating what's been folded so
					// far; just stop applying further interactions.
					halted = true
					break
				}
				return currentKey, nil, merr
			}
			if changed {
				activeDef = newDef
				newHandler, berr := e.executorSvc.Build(ctx, activeDef.Src)
				if berr != nil {
					halted = true
					break
				}
				activeHandler = newHandler
				if e.broker != nil {
					e.broker.Publish(ctx, progress.Event{Type: progress.EventContractEvolved, ContractTxID: req.ContractTxID, SortKey: string(currentKey), Message: activeDef.SrcTxID})
				}
			}
		}
		if halted {
			break
		}
	}

	// Step 11: persist the last confirmed snapshot unconditionally at the
	// root fold, independent of UpdateCacheForEachInteraction and
	// CacheEveryNInteractions (which only pace intermediate flushes above).
	// Without this, a later ReadState under a config that never flushes
	// intermediate snapshots would re-fold the entire interaction history
	// from scratch every time.
	if req.Depth == 0 && lastCacheableResult != nil && !lastCacheablePersisted {
		e.persist(req.ContractTxID, lastCacheableKey, lastCacheableResult)
	}

	if len(missing) == 0 && base == nil {
		// Edge case: empty history, null base — persist init_state at
		// genesis and return it verbatim.
		currentKey = sortkey.Genesis
		pad.Set(req.ContractTxID, currentKey, result.Clone())
		if req.Depth == 0 {
			e.persist(req.ContractTxID, currentKey, result)
		}
	}

	if req.Depth == 0 {
		pad.Commit()
	}

	return currentKey, result, nil
}

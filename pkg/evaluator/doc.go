// Package evaluator implements the state evaluator: the
// deterministic fold of a contract's interaction stream through its sandbox
// Handler. Evaluator is the base variant (always folds from init_state);
// CacheableEvaluator augments it with sort-key cache probes, partial resume
// from the nearest confirmed snapshot, and confirmation-aware persistence.
// Both share one unexported fold engine so the algorithm exists in exactly
// one place; CacheableEvaluator just wires in a cache.SortKeyCache where
// Evaluator passes nil.
package evaluator

// Package contract implements the contract facade: the
// user-facing surface (readState, viewState, dryWrite, writeInteraction,
// currentState, currentBalance) layered over one evaluator.Evaluator or
// evaluator.CacheableEvaluator bound to a single contract transaction id.
package contract

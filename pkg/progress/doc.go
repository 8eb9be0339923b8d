// Package progress broadcasts fold lifecycle events (interaction applied or
// skipped, contract evolved, fold completed or aborted) to subscribers,
// without coupling the evaluator to any one transport.
package progress

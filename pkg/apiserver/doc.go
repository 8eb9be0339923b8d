// Package apiserver exposes an HTTP surface over the contract facade:
// per-contract state reads, view and dry-write calls, and interaction
// submission for any caller, plus a small set of
// admin endpoints (cache pruning, blacklist/allowlist edits) gated behind a
// bearer token. It replaces a gRPC client/server pair with plain
// gorilla/mux routing, since no generated protobuf bindings for this
// protocol were available to reuse.
package apiserver

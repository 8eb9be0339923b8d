// Package model defines the data types shared by every layer of the
// evaluation engine: interactions, contract definitions, the handler
// host/guest payloads, and the folded evaluation result that the cache and
// the contract facade both traffic in.
//
// Nothing in this package talks to the network, a sandbox, or disk — it is
// pure data plus the small amount of derivation logic (effective sort-key,
// cacheability) that every other package would otherwise duplicate.
package model

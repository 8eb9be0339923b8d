// Package executor selects and caches the sandbox.Handler for a contract
// source. Factory compiles a fresh Handler per call; CachingFactory wraps it
// with an in-memory cache keyed by src_tx_id plus an optional DiskModuleCache
// to which each compiled source's raw module bytes are written through.
// Build never reads the disk cache back, so after a restart every source is
// fetched and compiled again.
package executor

package evaluator

import "time"

// UnsafeClientPolicy governs how the evaluator reacts when a handler
// references the "unsafe client" escape hatch (wall clock, randomness,
// network).
type UnsafeClientPolicy string

const (
	UnsafeClientAllow UnsafeClientPolicy = "allow"
	UnsafeClientSkip  UnsafeClientPolicy = "skip"
	UnsafeClientThrow UnsafeClientPolicy = "throw"
)

// SerializationFormat selects the guest<->host state bridge codec.
type SerializationFormat string

const (
	FormatJSON    SerializationFormat = "json"
	FormatMsgpack SerializationFormat = "msgpack"
)

// Options is the evaluation configuration: one value per
// readState/viewState/dryWrite call (or shared across calls for a given
// deployment), loaded from YAML/flags by cmd/warpd and cmd/warpctl.
type Options struct {
	IgnoreExceptions             bool                 `yaml:"ignoreExceptions"`
	// UpdateCacheForEachInteraction and CacheEveryNInteractions govern only
	// how often an *intermediate* snapshot is flushed to the cache while
	// folding a long interaction run. They have no bearing on whether the
	// final folded snapshot gets persisted: CacheableEvaluator always
	// persists the last confirmed snapshot once a root-level fold
	// completes, regardless of how these are set.
	UpdateCacheForEachInteraction bool                `yaml:"updateCacheForEachInteraction"`
	InternalWrites               bool                 `yaml:"internalWrites"`
	MaxCallDepth                 int                  `yaml:"maxCallDepth"`
	MaxInteractionEvaluationTime time.Duration         `yaml:"maxInteractionEvaluationTime"`
	UnsafeClient                 UnsafeClientPolicy    `yaml:"unsafeClient"`
	AllowBigInt                  bool                 `yaml:"allowBigInt"`
	// CacheEveryNInteractions, when > 1, flushes an intermediate snapshot
	// every N interactions during the fold; -1 disables intermediate
	// flushing entirely (the default). Either way the final snapshot is
	// still persisted unconditionally at the root.
	CacheEveryNInteractions      int                  `yaml:"cacheEveryNInteractions"`
	WhitelistSources              []string             `yaml:"whitelistSources"`
	WasmSerializationFormat       SerializationFormat `yaml:"wasmSerializationFormat"`
	UseConstructor                bool                `yaml:"useConstructor"`
	UseKVStorage                  bool                `yaml:"useKvStorage"`
	StackTraceSaveState           bool                `yaml:"stackTraceSaveState"`
}

// DefaultOptions returns the engine's recommended defaults.
func DefaultOptions() Options {
	return Options{
		IgnoreExceptions:             true,
		MaxCallDepth:                 7,
		MaxInteractionEvaluationTime: 60 * time.Second,
		UnsafeClient:                 UnsafeClientThrow,
		CacheEveryNInteractions:      -1,
		WasmSerializationFormat:      FormatJSON,
	}
}

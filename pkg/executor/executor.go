package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/warpengine/pkg/log"
	"github.com/cuemby/warpengine/pkg/model"
	"github.com/cuemby/warpengine/pkg/sandbox"
)

// Plugin builds a Handler for one compiled contract source. A Plugin is
// registered once per ContractType (js, wasm, ...); Factory calls it at most
// once per src_tx_id when caching is enabled.
type Plugin interface {
	ContractType() model.ContractType
	Compile(ctx context.Context, src model.Source) (sandbox.Handler, error)
}

// Factory selects a Plugin by ContractType and compiles a Handler for a
// given source, with no caching of its own.
type Factory struct {
	mu      sync.RWMutex
	plugins map[model.ContractType]Plugin
	logger  zerolog.Logger
}

// NewFactory returns a Factory with no plugins registered.
func NewFactory() *Factory {
	return &Factory{
		plugins: make(map[model.ContractType]Plugin),
		logger:  log.WithComponent("executor"),
	}
}

// Register adds a plugin, replacing any previously registered for the same
// ContractType.
func (f *Factory) Register(p Plugin) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plugins[p.ContractType()] = p
}

// Build compiles a fresh Handler for src, failing if no plugin is registered
// for its ContractType.
func (f *Factory) Build(ctx context.Context, src model.Source) (sandbox.Handler, error) {
	f.mu.RLock()
	p, ok := f.plugins[src.Type]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("executor: no plugin registered for contract type %q", src.Type)
	}
	f.logger.Debug().Str("src_tx_id", src.SrcTxID).Str("contract_type", string(src.Type)).Msg("compiling handler")
	return p.Compile(ctx, src)
}

// CachingFactory wraps a Factory with an in-memory, keyed-by-src_tx_id
// Handler cache, so that contracts sharing a source (a common pattern: many
// token contracts instantiate the same audited source) compile it once. An
// optional DiskModuleCache additionally persists each source's raw module
// bytes to disk, so they survive a process restart even after the
// in-memory Handler cache is gone.
type CachingFactory struct {
	factory     *Factory
	mu          sync.Mutex
	cache       map[string]sandbox.Handler
	moduleCache *DiskModuleCache
}

// NewCachingFactory wraps factory with a Handler cache.
func NewCachingFactory(factory *Factory) *CachingFactory {
	return &CachingFactory{
		factory: factory,
		cache:   make(map[string]sandbox.Handler),
	}
}

// SetModuleCache attaches a disk-backed module cache. Every successfully
// compiled source's bytes are written through to it.
func (c *CachingFactory) SetModuleCache(m *DiskModuleCache) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.moduleCache = m
}

// CachedModule returns srcTxID's module bytes from the disk cache, if one
// is attached and holds an entry.
func (c *CachingFactory) CachedModule(srcTxID string) ([]byte, bool, error) {
	c.mu.Lock()
	m := c.moduleCache
	c.mu.Unlock()
	if m == nil {
		return nil, false, nil
	}
	return m.Get(srcTxID)
}

// Register proxies to the underlying Factory.
func (c *CachingFactory) Register(p Plugin) {
	c.factory.Register(p)
}

// Build returns the cached Handler for src.SrcTxID, compiling and caching it
// on first use.
func (c *CachingFactory) Build(ctx context.Context, src model.Source) (sandbox.Handler, error) {
	c.mu.Lock()
	if h, ok := c.cache[src.SrcTxID]; ok {
		c.mu.Unlock()
		return h, nil
	}
	moduleCache := c.moduleCache
	c.mu.Unlock()

	h, err := c.factory.Build(ctx, src)
	if err != nil {
		return nil, err
	}

	if moduleCache != nil {
		if blob := moduleBytes(src); len(blob) > 0 {
			if werr := moduleCache.Put(src.SrcTxID, blob); werr != nil {
				c.factory.logger.Warn().Err(werr).Str("src_tx_id", src.SrcTxID).Msg("failed to persist module to disk cache")
			}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another goroutine may have compiled the same source concurrently;
	// prefer whichever was cached first so every caller converges on one
	// Handler instance.
	if existing, ok := c.cache[src.SrcTxID]; ok {
		return existing, nil
	}
	c.cache[src.SrcTxID] = h
	return h, nil
}

func moduleBytes(src model.Source) []byte {
	if len(src.Binary) > 0 {
		return src.Binary
	}
	return []byte(src.Code)
}

// Evict removes a cached Handler, forcing the next Build to recompile it.
// Used when a contract's source is found to be corrupt after the fact.
func (c *CachingFactory) Evict(srcTxID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, srcTxID)
}

// Len reports how many compiled handlers are currently cached.
func (c *CachingFactory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

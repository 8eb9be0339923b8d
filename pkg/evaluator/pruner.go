package evaluator

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/warpengine/pkg/cache"
	"github.com/cuemby/warpengine/pkg/log"
	"github.com/cuemby/warpengine/pkg/metrics"
)

// CachePruner periodically retains only the most recent N cached snapshots
// per contract, reclaiming space from contracts that are folded often but
// only ever queried near their tip. The ticker/stop-channel shape mirrors
// the teacher's reconciliation loop.
type CachePruner struct {
	store    cache.SortKeyCache
	interval time.Duration
	retain   int

	logger zerolog.Logger
	mu     sync.Mutex
	stopCh chan struct{}
}

// NewCachePruner returns a pruner that, once started, keeps the `retain`
// most recent entries per contract in store, checking every interval.
func NewCachePruner(store cache.SortKeyCache, interval time.Duration, retain int) *CachePruner {
	return &CachePruner{
		store:    store,
		interval: interval,
		retain:   retain,
		logger:   log.WithComponent("cache_pruner"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the pruning loop in a goroutine.
func (p *CachePruner) Start() {
	go p.run()
}

// Stop halts the pruning loop.
func (p *CachePruner) Stop() {
	close(p.stopCh)
}

func (p *CachePruner) run() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info().Dur("interval", p.interval).Int("retain", p.retain).Msg("cache pruner started")

	for {
		select {
		case <-ticker.C:
			if err := p.pruneOnce(); err != nil {
				p.logger.Error().Err(err).Msg("cache prune cycle failed")
			}
		case <-p.stopCh:
			p.logger.Info().Msg("cache pruner stopped")
			return
		}
	}
}

func (p *CachePruner) pruneOnce() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CachePruneDuration)

	contracts, err := p.store.AllContracts()
	if err != nil {
		return err
	}
	for _, contractTxID := range contracts {
		deleted, err := p.store.Prune(contractTxID, p.retain)
		if err != nil {
			p.logger.Warn().Err(err).Str("contract", contractTxID).Msg("failed to prune contract")
			continue
		}
		if deleted > 0 {
			metrics.CacheEntriesPruned.Add(float64(deleted))
		}
	}
	return nil
}

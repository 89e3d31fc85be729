package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/ringstore/ringstore/internal/cache"
)

// CacheSnapshot holds the last-seen cache counters for delta calculation.
type CacheSnapshot struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// RingStats interface for reading ring occupancy.
type RingStats interface {
	Capacity() int
	Len() int
	DownCount() int
}

// CacheStats interface for reading cache counters.
type CacheStats interface {
	Stats() cache.Stats
}

// CollectorConfig holds the sources the collector reads from. Either may be
// nil.
type CollectorConfig struct {
	Ring  RingStats
	Cache CacheStats
}

// Collector periodically copies ring and cache state into metrics.
type Collector struct {
	metrics *NodeMetrics
	ring    RingStats
	cache   CacheStats

	lastCache CacheSnapshot
	mu        sync.Mutex
}

// NewCollector creates a new metrics collector.
func NewCollector(m *NodeMetrics, cfg CollectorConfig) *Collector {
	return &Collector{
		metrics: m,
		ring:    cfg.Ring,
		cache:   cfg.Cache,
	}
}

// Collect updates all metrics from the current state.
func (c *Collector) Collect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.collectRingStats()
	c.collectCacheStats()
}

func (c *Collector) collectRingStats() {
	if c.ring == nil {
		return
	}
	c.metrics.RingCapacity.Set(float64(c.ring.Capacity()))
	c.metrics.RingNodes.Set(float64(c.ring.Len()))
	c.metrics.RingDownNodes.Set(float64(c.ring.DownCount()))
}

func (c *Collector) collectCacheStats() {
	if c.cache == nil {
		return
	}
	stats := c.cache.Stats()

	// Calculate deltas and add to counters
	if stats.Hits > c.lastCache.Hits {
		c.metrics.CacheHits.Add(float64(stats.Hits - c.lastCache.Hits))
	}
	if stats.Misses > c.lastCache.Misses {
		c.metrics.CacheMisses.Add(float64(stats.Misses - c.lastCache.Misses))
	}
	if stats.Evictions > c.lastCache.Evictions {
		c.metrics.CacheEvictions.Add(float64(stats.Evictions - c.lastCache.Evictions))
	}

	c.metrics.CacheEntries.Set(float64(stats.Size))
	c.metrics.CacheMaxSize.Set(float64(stats.MaxSize))
	c.metrics.CachePuts.Set(float64(stats.Puts))

	// Store current for next delta
	c.lastCache = CacheSnapshot{
		Hits:      stats.Hits,
		Misses:    stats.Misses,
		Evictions: stats.Evictions,
	}
}

// Run starts periodic metric collection.
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect immediately on start
	c.Collect()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Collect()
		}
	}
}

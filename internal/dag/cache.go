package dag

import (
	"sync"

	"pumpwatch/internal/model"
)

// Cache stores computed metric values keyed by (variant, symbol, bucket).
// It is partitioned by symbol so concurrent sessions on different symbols
// never contend. Within a symbol, writes are idempotent per key: two
// sessions racing to fill the same bucket store the same value, so
// last-write-wins is safe.
type Cache struct {
	mu        sync.RWMutex
	symbols   map[string]*symbolCache
	retention int64 // bucket age to retain, in seconds; 0 = unbounded
}

// symbolCache is one symbol's bucket arena: bucket start → variant ID → value.
type symbolCache struct {
	mu        sync.RWMutex
	buckets   map[int64]map[string]model.MetricValue
	maxBucket int64
}

// NewCache creates a cache that evicts buckets older than retentionSec
// behind the newest bucket written for the same symbol. retentionSec 0
// keeps everything — backtest runs use that and drop the whole cache at
// run end.
func NewCache(retentionSec int64) *Cache {
	return &Cache{
		symbols:   make(map[string]*symbolCache, 16),
		retention: retentionSec,
	}
}

// Get returns the cached value for a key, if present.
func (c *Cache) Get(variantID, symbol string, bucket int64) (model.MetricValue, bool) {
	sc := c.symbol(symbol, false)
	if sc == nil {
		return model.MetricValue{}, false
	}
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	vals, ok := sc.buckets[bucket]
	if !ok {
		return model.MetricValue{}, false
	}
	v, ok := vals[variantID]
	return v, ok
}

// Put stores a value, overwriting any previous value for the key, and
// evicts buckets that fell out of the retention window.
func (c *Cache) Put(v model.MetricValue) {
	sc := c.symbol(v.Symbol, true)
	sc.mu.Lock()
	defer sc.mu.Unlock()

	vals, ok := sc.buckets[v.Bucket]
	if !ok {
		vals = make(map[string]model.MetricValue, 8)
		sc.buckets[v.Bucket] = vals
	}
	vals[v.VariantID] = v

	if v.Bucket > sc.maxBucket {
		sc.maxBucket = v.Bucket
	}
	if c.retention > 0 {
		cutoff := sc.maxBucket - c.retention
		for b := range sc.buckets {
			if b < cutoff {
				delete(sc.buckets, b)
			}
		}
	}
}

// Buckets returns how many buckets are currently retained for a symbol.
func (c *Cache) Buckets(symbol string) int {
	sc := c.symbol(symbol, false)
	if sc == nil {
		return 0
	}
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return len(sc.buckets)
}

func (c *Cache) symbol(symbol string, create bool) *symbolCache {
	c.mu.RLock()
	sc, ok := c.symbols[symbol]
	c.mu.RUnlock()
	if ok || !create {
		return sc
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if sc, ok = c.symbols[symbol]; ok {
		return sc
	}
	sc = &symbolCache{buckets: make(map[int64]map[string]model.MetricValue, 64)}
	c.symbols[symbol] = sc
	return sc
}

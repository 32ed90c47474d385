package cache

import (
	"context"
	"sync"
	"time"

	"trendpulse/internal/metrics"
)

type memoryEntry struct {
	embedding   []float32
	description Description
	expiresAt   time.Time
}

// MemoryCache is the in-process TTL cache. Expired entries behave as absent
// and are dropped lazily; FIFO eviction bounds the entry count. Reads are
// concurrent, updates hold a short exclusive lock for the bookkeeping only.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	order   []string
	opts    Options
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewMemoryCache creates an in-process cache.
func NewMemoryCache(opts Options, m *metrics.Metrics) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]*memoryEntry),
		order:   make([]string, 0, 128),
		opts:    opts,
		metrics: m,
		now:     time.Now,
	}
}

const (
	embeddingPrefix   = "emb:"
	descriptionPrefix = "desc:"
)

// GetEmbedding returns the cached vector for a text fingerprint.
func (c *MemoryCache) GetEmbedding(_ context.Context, fingerprint string) ([]float32, bool) {
	e, ok := c.get(embeddingPrefix + fingerprint)
	if !ok {
		c.metrics.CacheMisses.WithLabelValues("embedding").Inc()
		return nil, false
	}
	c.metrics.CacheHits.WithLabelValues("embedding").Inc()
	return e.embedding, true
}

// PutEmbedding stores a vector under a text fingerprint.
func (c *MemoryCache) PutEmbedding(_ context.Context, fingerprint string, vector []float32) {
	c.put(embeddingPrefix+fingerprint, &memoryEntry{
		embedding: vector,
		expiresAt: c.now().Add(c.opts.EmbeddingTTL),
	})
}

// GetDescription returns the cached synthesis for a cluster fingerprint.
func (c *MemoryCache) GetDescription(_ context.Context, fingerprint string) (Description, bool) {
	e, ok := c.get(descriptionPrefix + fingerprint)
	if !ok {
		c.metrics.CacheMisses.WithLabelValues("description").Inc()
		return Description{}, false
	}
	c.metrics.CacheHits.WithLabelValues("description").Inc()
	return e.description, true
}

// PutDescription stores a synthesis under a cluster fingerprint.
func (c *MemoryCache) PutDescription(_ context.Context, fingerprint string, d Description) {
	c.put(descriptionPrefix+fingerprint, &memoryEntry{
		description: d,
		expiresAt:   c.now().Add(c.opts.DescriptionTTL),
	})
}

func (c *MemoryCache) get(key string) (*memoryEntry, bool) {
	now := c.now()
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if now.After(e.expiresAt) {
		c.mu.Lock()
		if cur, still := c.entries[key]; still && now.After(cur.expiresAt) {
			delete(c.entries, key)
			c.removeFromOrder(key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e, true
}

func (c *MemoryCache) put(key string, e *memoryEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = e
	c.evictIfNeeded()
}

func (c *MemoryCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func (c *MemoryCache) evictIfNeeded() {
	if c.opts.MaxEntries <= 0 {
		return
	}
	for len(c.entries) > c.opts.MaxEntries && len(c.order) > 0 {
		victim := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, victim)
	}
}

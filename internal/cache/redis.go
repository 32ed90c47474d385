package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"trendpulse/internal/metrics"
)

// RedisCache persists the response cache beyond process memory so
// embeddings and descriptions survive restarts. Any redis error is logged
// and treated as a miss.
type RedisCache struct {
	rdb     *redis.Client
	opts    Options
	logger  *logrus.Entry
	metrics *metrics.Metrics
}

// NewRedisCache creates a redis-backed cache.
func NewRedisCache(opts Options, rdb *redis.Client, logger *logrus.Entry, m *metrics.Metrics) *RedisCache {
	return &RedisCache{
		rdb:     rdb,
		opts:    opts,
		logger:  logger,
		metrics: m,
	}
}

// GetEmbedding returns the cached vector for a text fingerprint.
func (c *RedisCache) GetEmbedding(ctx context.Context, fingerprint string) ([]float32, bool) {
	var vector []float32
	if !c.fetch(ctx, embeddingPrefix+fingerprint, "embedding", &vector) {
		return nil, false
	}
	return vector, true
}

// PutEmbedding stores a vector under a text fingerprint.
func (c *RedisCache) PutEmbedding(ctx context.Context, fingerprint string, vector []float32) {
	c.store(ctx, embeddingPrefix+fingerprint, vector, c.opts.EmbeddingTTL)
}

// GetDescription returns the cached synthesis for a cluster fingerprint.
func (c *RedisCache) GetDescription(ctx context.Context, fingerprint string) (Description, bool) {
	var d Description
	if !c.fetch(ctx, descriptionPrefix+fingerprint, "description", &d) {
		return Description{}, false
	}
	return d, true
}

// PutDescription stores a synthesis under a cluster fingerprint.
func (c *RedisCache) PutDescription(ctx context.Context, fingerprint string, d Description) {
	c.store(ctx, descriptionPrefix+fingerprint, d, c.opts.DescriptionTTL)
}

func (c *RedisCache) fetch(ctx context.Context, key, kind string, out interface{}) bool {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.WithError(err).WithField("key", key).Warn("redis cache get failed")
		}
		c.metrics.CacheMisses.WithLabelValues(kind).Inc()
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("redis cache entry corrupt")
		c.metrics.CacheMisses.WithLabelValues(kind).Inc()
		return false
	}
	c.metrics.CacheHits.WithLabelValues(kind).Inc()
	return true
}

func (c *RedisCache) store(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("redis cache marshal failed")
		return
	}
	if err := c.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("redis cache set failed")
	}
}

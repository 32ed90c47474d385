package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"trendpulse/internal/metrics"
)

// Description is a cached synthesis result keyed by cluster fingerprint.
type Description struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// ResponseCache memoizes text-service results by content fingerprint. Misses
// never block or fail the caller; a backend error behaves as a miss.
type ResponseCache interface {
	GetEmbedding(ctx context.Context, fingerprint string) ([]float32, bool)
	PutEmbedding(ctx context.Context, fingerprint string, vector []float32)
	GetDescription(ctx context.Context, fingerprint string) (Description, bool)
	PutDescription(ctx context.Context, fingerprint string, d Description)
}

// Options configures a response cache.
type Options struct {
	Backend        string // "memory" or "redis"
	EmbeddingTTL   time.Duration
	DescriptionTTL time.Duration
	MaxEntries     int
}

// New builds the configured backend. The redis client is only used when
// Backend is "redis".
func New(opts Options, rdb *redis.Client, logger *logrus.Entry, m *metrics.Metrics) (ResponseCache, error) {
	switch opts.Backend {
	case "", "memory":
		return NewMemoryCache(opts, m), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis cache backend selected but no redis client configured")
		}
		return NewRedisCache(opts, rdb, logger, m), nil
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", opts.Backend)
	}
}

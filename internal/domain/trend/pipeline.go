package trend

import (
	"context"
)

// Pipeline turns one batch of unprocessed posts into committed trends. A run
// never fails because the text service is unavailable; only storage errors on
// commit surface to the caller.
type Pipeline interface {
	// RunOnce processes one batch. An empty batch commits zero trends and
	// returns a nil error.
	RunOnce(ctx context.Context, batch []PostBundle) (RunResult, error)

	// RegenerateDescriptions retries synthesis for trends whose description
	// was committed degraded. Descriptions are replaced only when the fresh
	// attempt is not degraded.
	RegenerateDescriptions(ctx context.Context, trendIDs []string) error
}

// PostSource supplies post bundles for a time window. Implementations live at
// the edge; the pipeline never talks to the source platform directly.
type PostSource interface {
	FetchRecent(ctx context.Context) ([]PostBundle, error)
}

// Store is the persistence surface the pipeline writes through.
type Store interface {
	// CommitRun persists trends, their post links, and score history entries
	// as one transaction.
	CommitRun(ctx context.Context, trends []Trend, links []PostTrend, scores []TrendScore) error

	// UpdateDescription replaces a trend's description and degraded flag.
	UpdateDescription(ctx context.Context, trendID, description string, degraded bool) error

	// GetTrend returns a trend by ID, nil when it does not exist.
	GetTrend(ctx context.Context, trendID string) (*Trend, error)

	// GetTrendPosts returns the member posts of a trend.
	GetTrendPosts(ctx context.Context, trendID string) ([]Post, error)

	// LatestScore returns the most recent score for a trend, zero if none.
	LatestScore(ctx context.Context, trendID string) (float64, error)
}

// Publisher emits trend lifecycle events.
type Publisher interface {
	// TrendCreated announces a committed trend.
	TrendCreated(t Trend, score float64) error

	// TrendUpdated announces a trend whose description was regenerated,
	// carrying its latest persisted score.
	TrendUpdated(t Trend, score float64) error

	// RequeueDegraded queues trend IDs for out-of-band description retry.
	RequeueDegraded(trendIDs []string) error
}

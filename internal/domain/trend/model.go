package trend

import (
	"time"
)

// Author is a post author on the source platform. Follower counts are
// last-write-wins on re-fetch.
type Author struct {
	ID            int64
	Username      string
	DisplayName   string
	ProfileURL    string
	FollowerCount int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Post is an immutable social post fetched from the source platform.
type Post struct {
	ID          int64
	ExternalID  string
	AuthorID    int64
	Content     string
	PublishedAt time.Time
	CreatedAt   time.Time
}

// EngagementSnapshot is one point in a post's append-only engagement series.
type EngagementSnapshot struct {
	PostID       int64
	Timestamp    time.Time
	LikeCount    int
	CommentCount int
	RepostCount  int
}

// PostBundle is the unit the pipeline consumes: a post with its author and
// latest engagement snapshot resolved.
type PostBundle struct {
	Post       Post
	Author     Author
	Engagement EngagementSnapshot
}

// Trend is a committed group of topically similar posts with a synthesized
// title and description.
type Trend struct {
	ID          string
	Title       string
	Description string
	// Degraded marks a template fallback description that should be
	// regenerated out of band.
	Degraded   bool
	TotalPosts int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TrendScore is one append-only score history entry for a trend.
type TrendScore struct {
	TrendID     string
	Score       float64
	GeneratedAt time.Time
}

// PostTrend links a post to the trend it was clustered into for one run.
type PostTrend struct {
	PostID    int64
	TrendID   string
	CreatedAt time.Time
}

// RunState is the orchestrator's position in one pipeline run.
type RunState string

const (
	StateCollecting   RunState = "collecting"
	StateEmbedding    RunState = "embedding"
	StateClustering   RunState = "clustering"
	StateSynthesizing RunState = "synthesizing"
	StateScoring      RunState = "scoring"
	StateCommitted    RunState = "committed"
)

// RunResult reports the outcome of one pipeline run.
type RunResult struct {
	RunID          string
	State          RunState
	TrendsCreated  int
	TrendsDegraded int
	// ExcludedPosts lists external post IDs whose embedding failed for this
	// run; they stay unprocessed and are picked up next run.
	ExcludedPosts []string
	Duration      time.Duration
	// BreakerStates maps operation name to circuit state at run end.
	BreakerStates map[string]string
	Trends        []Trend
}

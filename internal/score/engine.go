package score

import (
	"math"

	"trendpulse/internal/domain/trend"
)

// Weights are the engagement weights and output scaling for trend scores.
type Weights struct {
	Like    float64
	Comment float64
	Repost  float64
	// Scale keeps scores in a human-readable range.
	Scale float64
}

// DefaultWeights matches production policy: likes*1.0 + comments*1.1 +
// reposts*1.2, normalized by followers, scaled by 1000.
func DefaultWeights() Weights {
	return Weights{
		Like:    1.0,
		Comment: 1.1,
		Repost:  1.2,
		Scale:   1000.0,
	}
}

// Engine computes follower-normalized engagement scores. It is pure
// computation; history persistence stays with the caller.
type Engine struct {
	weights Weights
}

// NewEngine creates a scoring engine.
func NewEngine(weights Weights) *Engine {
	if weights.Scale == 0 {
		weights = DefaultWeights()
	}
	return &Engine{weights: weights}
}

// Score computes the score for one trend's member posts using each post's
// latest engagement snapshot. The denominator sums distinct authors'
// follower counts, floored at 1 so zero-follower authors keep the score
// finite. The result is rounded to 2 decimals.
func (e *Engine) Score(members []trend.PostBundle) float64 {
	if len(members) == 0 {
		return 0
	}

	var weighted float64
	followers := 0
	seenAuthors := make(map[int64]bool)

	for _, m := range members {
		weighted += float64(m.Engagement.LikeCount)*e.weights.Like +
			float64(m.Engagement.CommentCount)*e.weights.Comment +
			float64(m.Engagement.RepostCount)*e.weights.Repost

		if !seenAuthors[m.Author.ID] {
			seenAuthors[m.Author.ID] = true
			followers += m.Author.FollowerCount
		}
	}

	if followers < 1 {
		followers = 1
	}

	return math.Round(weighted/float64(followers)*e.weights.Scale*100) / 100
}

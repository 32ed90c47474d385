package score

import (
	"math"
	"testing"

	"trendpulse/internal/domain/trend"
)

func bundle(authorID int64, followers, likes, comments, reposts int) trend.PostBundle {
	return trend.PostBundle{
		Author: trend.Author{ID: authorID, FollowerCount: followers},
		Engagement: trend.EngagementSnapshot{
			LikeCount:    likes,
			CommentCount: comments,
			RepostCount:  reposts,
		},
	}
}

func TestScoreWeightedAndNormalized(t *testing.T) {
	e := NewEngine(DefaultWeights())
	members := []trend.PostBundle{
		bundle(1, 1000, 100, 10, 5),
		bundle(2, 500, 50, 5, 2),
	}

	// (100*1.0 + 10*1.1 + 5*1.2 + 50*1.0 + 5*1.1 + 2*1.2) / 1500 * 1000
	got := e.Score(members)
	want := 116.6
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("Score = %v, want %v", got, want)
	}
}

func TestScoreCountsAuthorFollowersOnce(t *testing.T) {
	e := NewEngine(DefaultWeights())
	members := []trend.PostBundle{
		bundle(1, 1000, 10, 0, 0),
		bundle(1, 1000, 10, 0, 0),
	}

	// Two posts by one author: denominator is 1000, not 2000.
	got := e.Score(members)
	if got != 20.0 {
		t.Fatalf("Score = %v, want 20", got)
	}
}

func TestScoreZeroFollowersFloorsDenominator(t *testing.T) {
	e := NewEngine(DefaultWeights())
	members := []trend.PostBundle{bundle(1, 0, 1, 0, 0)}

	got := e.Score(members)
	if got != 1000.0 {
		t.Fatalf("Score = %v, want 1000", got)
	}
}

func TestScoreZeroEngagement(t *testing.T) {
	e := NewEngine(DefaultWeights())
	members := []trend.PostBundle{bundle(1, 5000, 0, 0, 0)}

	if got := e.Score(members); got != 0 {
		t.Fatalf("Score = %v, want 0", got)
	}
}

func TestScoreEmptyMembers(t *testing.T) {
	e := NewEngine(DefaultWeights())
	if got := e.Score(nil); got != 0 {
		t.Fatalf("Score = %v, want 0", got)
	}
}

func TestScoreRoundsToTwoDecimals(t *testing.T) {
	e := NewEngine(DefaultWeights())
	members := []trend.PostBundle{bundle(1, 3000, 1, 0, 0)}

	// 1/3000*1000 = 0.333... rounds to 0.33
	if got := e.Score(members); got != 0.33 {
		t.Fatalf("Score = %v, want 0.33", got)
	}
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"trendpulse/internal/domain/trend"
)

// TrendStore implements trend persistence over postgres.
type TrendStore struct {
	db *pgxpool.Pool
}

// NewTrendStore creates a new trend store.
func NewTrendStore(db *pgxpool.Pool) *TrendStore {
	return &TrendStore{
		db: db,
	}
}

// CommitRun persists the run's trends, post links, and score history as one
// transaction. Commit is all-or-nothing: partial results are never visible.
func (s *TrendStore) CommitRun(ctx context.Context, trends []trend.Trend, links []trend.PostTrend, scores []trend.TrendScore) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	trendQuery := `
		INSERT INTO trends (id, title, description, degraded, total_posts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for _, t := range trends {
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now()
		}
		if t.UpdatedAt.IsZero() {
			t.UpdatedAt = t.CreatedAt
		}
		if _, err := tx.Exec(ctx, trendQuery,
			t.ID, t.Title, t.Description, t.Degraded, t.TotalPosts, t.CreatedAt, t.UpdatedAt,
		); err != nil {
			return fmt.Errorf("error inserting trend: %w", err)
		}
	}

	linkQuery := `
		INSERT INTO post_trends (post_id, trend_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (post_id, trend_id) DO NOTHING
	`
	for _, link := range links {
		if link.CreatedAt.IsZero() {
			link.CreatedAt = time.Now()
		}
		if _, err := tx.Exec(ctx, linkQuery, link.PostID, link.TrendID, link.CreatedAt); err != nil {
			return fmt.Errorf("error inserting post trend link: %w", err)
		}
	}

	// Score history is append-only; no upsert.
	scoreQuery := `
		INSERT INTO trend_scores (trend_id, score, date_generated)
		VALUES ($1, $2, $3)
	`
	for _, score := range scores {
		if score.GeneratedAt.IsZero() {
			score.GeneratedAt = time.Now()
		}
		if _, err := tx.Exec(ctx, scoreQuery, score.TrendID, score.Score, score.GeneratedAt); err != nil {
			return fmt.Errorf("error inserting trend score: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("error committing run: %w", err)
	}
	return nil
}

// UpdateDescription replaces a trend's description and degraded flag, used
// by the out-of-band description retry path.
func (s *TrendStore) UpdateDescription(ctx context.Context, trendID, description string, degraded bool) error {
	query := `
		UPDATE trends
		SET description = $2, degraded = $3, updated_at = $4
		WHERE id = $1
	`
	tag, err := s.db.Exec(ctx, query, trendID, description, degraded, time.Now())
	if err != nil {
		return fmt.Errorf("error updating description: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trend not found: %s", trendID)
	}
	return nil
}

// GetTrend retrieves a trend by ID.
func (s *TrendStore) GetTrend(ctx context.Context, trendID string) (*trend.Trend, error) {
	query := `
		SELECT id, title, description, degraded, total_posts, created_at, updated_at
		FROM trends
		WHERE id = $1
	`

	var t trend.Trend
	err := s.db.QueryRow(ctx, query, trendID).Scan(
		&t.ID, &t.Title, &t.Description, &t.Degraded, &t.TotalPosts, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error querying trend: %w", err)
	}
	return &t, nil
}

// GetTrendPosts returns the member posts of a trend.
func (s *TrendStore) GetTrendPosts(ctx context.Context, trendID string) ([]trend.Post, error) {
	query := `
		SELECT p.id, p.post_id, p.author_id, p.content, p.publish_date, p.created_at
		FROM posts p
		JOIN post_trends pt ON pt.post_id = p.id
		WHERE pt.trend_id = $1
		ORDER BY p.publish_date DESC
	`

	rows, err := s.db.Query(ctx, query, trendID)
	if err != nil {
		return nil, fmt.Errorf("error querying trend posts: %w", err)
	}
	defer rows.Close()

	var posts []trend.Post
	for rows.Next() {
		var p trend.Post
		if err := rows.Scan(&p.ID, &p.ExternalID, &p.AuthorID, &p.Content, &p.PublishedAt, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning post: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating posts: %w", err)
	}
	return posts, nil
}

// LatestScore returns the most recent score for a trend, zero when the trend
// has no history yet.
func (s *TrendStore) LatestScore(ctx context.Context, trendID string) (float64, error) {
	query := `
		SELECT score
		FROM trend_scores
		WHERE trend_id = $1
		ORDER BY date_generated DESC
		LIMIT 1
	`

	var score float64
	err := s.db.QueryRow(ctx, query, trendID).Scan(&score)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("error querying latest score: %w", err)
	}
	return score, nil
}

// FindDegraded returns IDs of trends whose description is still a fallback.
func (s *TrendStore) FindDegraded(ctx context.Context, limit int) ([]string, error) {
	query := `
		SELECT id
		FROM trends
		WHERE degraded = true
		ORDER BY created_at ASC
		LIMIT $1
	`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying degraded trends: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("error scanning trend id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trend ids: %w", err)
	}
	return ids, nil
}

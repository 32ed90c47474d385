package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"trendpulse/internal/domain/trend"
)

// PostStore implements post, author, and engagement persistence over
// postgres. Posts are immutable once stored; author follower counts are
// last-write-wins; engagement snapshots are append-only.
type PostStore struct {
	db *pgxpool.Pool
}

// NewPostStore creates a new post store.
func NewPostStore(db *pgxpool.Pool) *PostStore {
	return &PostStore{
		db: db,
	}
}

// UpsertAuthor inserts or refreshes an author and returns its ID.
func (s *PostStore) UpsertAuthor(ctx context.Context, a trend.Author) (int64, error) {
	query := `
		INSERT INTO authors (username, author_name, profile_url, follower_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (username) DO UPDATE
		SET author_name = $2, profile_url = $3, follower_count = $4, updated_at = $5
		RETURNING id
	`

	var id int64
	err := s.db.QueryRow(ctx, query, a.Username, a.DisplayName, a.ProfileURL, a.FollowerCount, time.Now()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("error upserting author: %w", err)
	}
	return id, nil
}

// InsertPost stores a post unless its external ID is already known, and
// returns the row ID either way.
func (s *PostStore) InsertPost(ctx context.Context, p trend.Post) (int64, error) {
	query := `
		INSERT INTO posts (post_id, author_id, content, publish_date, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (post_id) DO UPDATE SET post_id = EXCLUDED.post_id
		RETURNING id
	`

	var id int64
	err := s.db.QueryRow(ctx, query, p.ExternalID, p.AuthorID, p.Content, p.PublishedAt, time.Now()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("error inserting post: %w", err)
	}
	return id, nil
}

// AddEngagement appends one engagement snapshot for a post.
func (s *PostStore) AddEngagement(ctx context.Context, e trend.EngagementSnapshot) error {
	query := `
		INSERT INTO engagement (post_id, timestamp, like_count, comment_count, repost_count)
		VALUES ($1, $2, $3, $4, $5)
	`

	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	if _, err := s.db.Exec(ctx, query, e.PostID, ts, e.LikeCount, e.CommentCount, e.RepostCount); err != nil {
		return fmt.Errorf("error inserting engagement: %w", err)
	}
	return nil
}

// FetchUnprocessed returns the batch for one pipeline run: posts not yet
// linked to any trend, each with its author and latest engagement snapshot.
func (s *PostStore) FetchUnprocessed(ctx context.Context, limit int) ([]trend.PostBundle, error) {
	query := `
		SELECT
			p.id, p.post_id, p.author_id, p.content, p.publish_date, p.created_at,
			a.id, a.username, a.author_name, a.profile_url, a.follower_count,
			COALESCE(e.like_count, 0), COALESCE(e.comment_count, 0), COALESCE(e.repost_count, 0),
			COALESCE(e.timestamp, p.created_at)
		FROM posts p
		JOIN authors a ON a.id = p.author_id
		LEFT JOIN LATERAL (
			SELECT like_count, comment_count, repost_count, timestamp
			FROM engagement
			WHERE post_id = p.id
			ORDER BY timestamp DESC
			LIMIT 1
		) e ON true
		WHERE NOT EXISTS (SELECT 1 FROM post_trends pt WHERE pt.post_id = p.id)
		ORDER BY p.publish_date DESC
		LIMIT $1
	`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying unprocessed posts: %w", err)
	}
	defer rows.Close()

	var bundles []trend.PostBundle
	for rows.Next() {
		var b trend.PostBundle
		if err := rows.Scan(
			&b.Post.ID, &b.Post.ExternalID, &b.Post.AuthorID, &b.Post.Content, &b.Post.PublishedAt, &b.Post.CreatedAt,
			&b.Author.ID, &b.Author.Username, &b.Author.DisplayName, &b.Author.ProfileURL, &b.Author.FollowerCount,
			&b.Engagement.LikeCount, &b.Engagement.CommentCount, &b.Engagement.RepostCount,
			&b.Engagement.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("error scanning post bundle: %w", err)
		}
		b.Engagement.PostID = b.Post.ID
		bundles = append(bundles, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating post bundles: %w", err)
	}
	return bundles, nil
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/contentpilot/postpilot/internal/models"
)

type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, id string) (*models.Post, error)
	ListByBrand(ctx context.Context, brandID string) ([]*models.Post, error)
	UpdateStatus(ctx context.Context, status, id string) error
	MarkProcessing(ctx context.Context, id string) error
	MarkPublished(ctx context.Context, id, platformPostID, url string, metrics json.RawMessage) error
	UpdateMetrics(ctx context.Context, id string, metrics json.RawMessage) error
	RecordFailure(ctx context.Context, id string, entry models.ErrorLogEntry, status string, nextRetryAt *time.Time) error
	CancelIfPending(ctx context.Context, id string) (bool, error)
	HasPendingByBrandAndPlatform(ctx context.Context, brandID, platform string) (bool, error)
}

type postRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) PostRepository {
	return &postRepository{db: db}
}

const postColumns = `id, content_id, brand_id, platform, connection_id, status, scheduled_at,
	platform_post_id, url, engagement_metrics, retry_count, max_retries, last_error,
	error_log, next_retry_at, posted_at, created_at, updated_at`

func (r *postRepository) Create(ctx context.Context, post *models.Post) error {
	query := `
		INSERT INTO posts (id, content_id, brand_id, platform, connection_id, status, scheduled_at, max_retries)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		post.ID, post.ContentID, post.BrandID, post.Platform, post.ConnectionID,
		post.Status, post.ScheduledAt, post.MaxRetries)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func scanPost(row interface{ Scan(...any) error }) (*models.Post, error) {
	var post models.Post
	err := row.Scan(&post.ID, &post.ContentID, &post.BrandID, &post.Platform, &post.ConnectionID,
		&post.Status, &post.ScheduledAt, &post.PlatformPostID, &post.URL, &post.EngagementMetrics,
		&post.RetryCount, &post.MaxRetries, &post.LastError, &post.ErrorLog, &post.NextRetryAt,
		&post.PostedAt, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &post, nil
}

func (r *postRepository) GetByID(ctx context.Context, id string) (*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1`
	post, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return post, nil
}

func (r *postRepository) ListByBrand(ctx context.Context, brandID string) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE brand_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, brandID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

func (r *postRepository) UpdateStatus(ctx context.Context, status, id string) error {
	query := `UPDATE posts SET status = $1, updated_at = $2 WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, status, time.Now(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *postRepository) MarkProcessing(ctx context.Context, id string) error {
	query := `
		UPDATE posts
		SET status = $1,
			next_retry_at = NULL,
			updated_at = $2
		WHERE id = $3
	`
	_, err := r.db.ExecContext(ctx, query, models.PostStatusProcessing, time.Now(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// MarkPublished writes the adapter result and sets posted_at, but only
// on the first transition into published; re-publishing the same row
// never moves posted_at.
func (r *postRepository) MarkPublished(ctx context.Context, id, platformPostID, url string, metrics json.RawMessage) error {
	query := `
		UPDATE posts
		SET status = $1,
			platform_post_id = $2,
			url = $3,
			engagement_metrics = $4,
			posted_at = COALESCE(posted_at, $5),
			updated_at = $5
		WHERE id = $6
	`
	_, err := r.db.ExecContext(ctx, query, models.PostStatusPublished, platformPostID, url, []byte(metrics), time.Now(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *postRepository) UpdateMetrics(ctx context.Context, id string, metrics json.RawMessage) error {
	query := `UPDATE posts SET engagement_metrics = $1, updated_at = $2 WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, []byte(metrics), time.Now(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// RecordFailure appends to error_log, bumps retry_count and moves the
// post to retry or failed in a single statement. retry_count is clamped
// at max_retries: the attempt that exhausts the budget still gets its
// error_log entry, but never pushes the counter past the bound.
func (r *postRepository) RecordFailure(ctx context.Context, id string, entry models.ErrorLogEntry, status string, nextRetryAt *time.Time) error {
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	query := `
		UPDATE posts
		SET status = $1,
			retry_count = LEAST(retry_count + 1, max_retries),
			last_error = $2,
			error_log = COALESCE(error_log, '[]'::jsonb) || $3::jsonb,
			next_retry_at = $4,
			updated_at = $5
		WHERE id = $6
	`
	_, err = r.db.ExecContext(ctx, query, status, entry.Error, entryJSON, nextRetryAt, time.Now(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// CancelIfPending flips a post to cancelled only while it is still
// pre-dispatch, so a published or in-flight post is never resurrected.
func (r *postRepository) CancelIfPending(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE posts
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status IN ($4, $5)
	`
	res, err := r.db.ExecContext(ctx, query, models.PostStatusCancelled, time.Now(), id,
		models.PostStatusQueued, models.PostStatusScheduled)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// HasPendingByBrandAndPlatform reports whether a post is still waiting
// for its slot. The autolist rotator uses this to avoid stacking a
// second dispatch into the same window.
func (r *postRepository) HasPendingByBrandAndPlatform(ctx context.Context, brandID, platform string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM posts
			WHERE brand_id = $1 AND platform = $2 AND status IN ($3, $4)
		)
	`
	var exists bool
	err := r.db.QueryRowContext(ctx, query, brandID, platform,
		models.PostStatusQueued, models.PostStatusScheduled).Scan(&exists)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return exists, nil
}

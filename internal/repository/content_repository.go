package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/contentpilot/postpilot/internal/models"
	"github.com/lib/pq"
)

type ContentRepository interface {
	GetByID(ctx context.Context, id string) (*models.Content, error)
	UpdateStatus(ctx context.Context, status, id string) error
}

type contentRepository struct {
	db *sql.DB
}

func NewContentRepository(db *sql.DB) ContentRepository {
	return &contentRepository{db: db}
}

func (r *contentRepository) GetByID(ctx context.Context, id string) (*models.Content, error) {
	query := `
		SELECT id, brand_id, title, body, media_urls, hashtags, mentions, status, created_at, updated_at
		FROM contents WHERE id = $1
	`
	row := r.db.QueryRowContext(ctx, query, id)

	var content models.Content
	err := row.Scan(&content.ID, &content.BrandID, &content.Title, &content.Body,
		pq.Array(&content.MediaURLs), pq.Array(&content.Hashtags), pq.Array(&content.Mentions),
		&content.Status, &content.CreatedAt, &content.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return &content, nil
}

func (r *contentRepository) UpdateStatus(ctx context.Context, status, id string) error {
	query := `UPDATE contents SET status = $1, updated_at = $2 WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, status, time.Now(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/contentpilot/postpilot/internal/models"
	"github.com/lib/pq"
)

type AutolistSettingsRepository interface {
	GetByBrandAndPlatform(ctx context.Context, brandID, platform string) (*models.AutolistSettings, error)
	Create(ctx context.Context, s *models.AutolistSettings) error
	Update(ctx context.Context, s *models.AutolistSettings) error
	ListEnabled(ctx context.Context) ([]*models.AutolistSettings, error)
}

type autolistSettingsRepository struct {
	db *sql.DB
}

func NewAutolistSettingsRepository(db *sql.DB) AutolistSettingsRepository {
	return &autolistSettingsRepository{db: db}
}

const autolistColumns = `id, brand_id, platform, is_enabled, auto_schedule, post_times, timezone,
	queue_content_ids, created_at, updated_at`

func scanAutolist(row interface{ Scan(...any) error }) (*models.AutolistSettings, error) {
	var s models.AutolistSettings
	err := row.Scan(&s.ID, &s.BrandID, &s.Platform, &s.IsEnabled, &s.AutoSchedule,
		pq.Array(&s.PostTimes), &s.Timezone, pq.Array(&s.QueueContentIDs), &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *autolistSettingsRepository) GetByBrandAndPlatform(ctx context.Context, brandID, platform string) (*models.AutolistSettings, error) {
	query := `SELECT ` + autolistColumns + ` FROM autolist_settings WHERE brand_id = $1 AND platform = $2`
	s, err := scanAutolist(r.db.QueryRowContext(ctx, query, brandID, platform))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return s, nil
}

func (r *autolistSettingsRepository) Create(ctx context.Context, s *models.AutolistSettings) error {
	query := `
		INSERT INTO autolist_settings (id, brand_id, platform, is_enabled, auto_schedule, post_times, timezone, queue_content_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query, s.ID, s.BrandID, s.Platform, s.IsEnabled, s.AutoSchedule,
		pq.Array(s.PostTimes), s.Timezone, pq.Array(s.QueueContentIDs))
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *autolistSettingsRepository) Update(ctx context.Context, s *models.AutolistSettings) error {
	query := `
		UPDATE autolist_settings
		SET is_enabled = $1,
			auto_schedule = $2,
			post_times = $3,
			timezone = $4,
			queue_content_ids = $5,
			updated_at = $6
		WHERE id = $7
	`
	_, err := r.db.ExecContext(ctx, query, s.IsEnabled, s.AutoSchedule, pq.Array(s.PostTimes),
		s.Timezone, pq.Array(s.QueueContentIDs), time.Now(), s.ID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *autolistSettingsRepository) ListEnabled(ctx context.Context) ([]*models.AutolistSettings, error) {
	query := `SELECT ` + autolistColumns + ` FROM autolist_settings WHERE is_enabled = true`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var settings []*models.AutolistSettings
	for rows.Next() {
		s, err := scanAutolist(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		settings = append(settings, s)
	}
	return settings, rows.Err()
}

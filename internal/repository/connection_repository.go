package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/contentpilot/postpilot/internal/models"
)

type ConnectionRepository interface {
	GetByID(ctx context.Context, id string) (*models.Connection, error)
	GetByBrandAndPlatform(ctx context.Context, brandID, platform string) (*models.Connection, error)
	SetToken(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error
	ListExpiring(ctx context.Context, from, to time.Time) ([]*models.Connection, error)
}

type connectionRepository struct {
	db *sql.DB
}

func NewConnectionRepository(db *sql.DB) ConnectionRepository {
	return &connectionRepository{db: db}
}

const connectionColumns = `id, brand_id, platform, account_id, account_name, account_username,
	access_token, refresh_token, token_expires_at, is_active, created_at, updated_at`

func scanConnection(row interface{ Scan(...any) error }) (*models.Connection, error) {
	var conn models.Connection
	err := row.Scan(&conn.ID, &conn.BrandID, &conn.Platform, &conn.AccountID, &conn.AccountName,
		&conn.AccountUsername, &conn.AccessToken, &conn.RefreshToken, &conn.TokenExpiresAt,
		&conn.IsActive, &conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

func (r *connectionRepository) GetByID(ctx context.Context, id string) (*models.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE id = $1`
	conn, err := scanConnection(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return conn, nil
}

func (r *connectionRepository) GetByBrandAndPlatform(ctx context.Context, brandID, platform string) (*models.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE brand_id = $1 AND platform = $2`
	conn, err := scanConnection(r.db.QueryRowContext(ctx, query, brandID, platform))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return conn, nil
}

func (r *connectionRepository) SetToken(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error {
	query := `
		UPDATE connections
		SET access_token = $1,
			refresh_token = $2,
			token_expires_at = $3,
			updated_at = $4
		WHERE id = $5
	`
	_, err := r.db.ExecContext(ctx, query, accessToken, refreshToken, expiresAt, time.Now(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *connectionRepository) ListExpiring(ctx context.Context, from, to time.Time) ([]*models.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE is_active = true AND token_expires_at BETWEEN $1 AND $2`
	rows, err := r.db.QueryContext(ctx, query, from, to)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var conns []*models.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

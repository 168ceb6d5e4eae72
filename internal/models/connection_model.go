package models

import "time"

// Connection is a brand's OAuth link to one social platform. Tokens are
// stored AES-GCM encrypted.
type Connection struct {
	ID              string    `db:"id" json:"id"`
	BrandID         string    `db:"brand_id" json:"brand_id"`
	Platform        string    `db:"platform" json:"platform"`
	AccountID       string    `db:"account_id" json:"account_id"`
	AccountName     string    `db:"account_name" json:"account_name"`
	AccountUsername string    `db:"account_username" json:"account_username"`
	AccessToken     string    `db:"access_token" json:"-"`
	RefreshToken    string    `db:"refresh_token" json:"-"`
	TokenExpiresAt  time.Time `db:"token_expires_at" json:"token_expires_at"`
	IsActive        bool      `db:"is_active" json:"is_active"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

const (
	PlatformTiktok    = "tiktok"
	PlatformInstagram = "instagram"
	PlatformYoutube   = "youtube"
)

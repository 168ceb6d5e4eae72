package transfer

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/contentpilot/postpilot/internal/models"
	"github.com/contentpilot/postpilot/internal/scheduler"
)

// PublishRequest asks for a publish, immediate or scheduled.
// ScheduledAt uses the dashboard's datetime-local format.
type PublishRequest struct {
	ContentID    string `json:"content_id"`
	BrandID      string `json:"brand_id"`
	Platform     string `json:"platform"`
	ConnectionID string `json:"connection_id,omitempty"`
	ScheduledAt  string `json:"scheduled_at,omitempty"` // 2006-01-02T15:04
	MaxRetries   *int   `json:"max_retries,omitempty"`
}

// PostStatus combines the durable Post row with the queue's view of
// the latest attempt.
type PostStatus struct {
	Post *models.Post        `json:"post"`
	Job  scheduler.JobStatus `json:"job"`
}

type AutolistQueueRequest struct {
	BrandID   string `json:"brand_id"`
	Platform  string `json:"platform"`
	ContentID string `json:"content_id"`
}

type AutolistSettingsRequest struct {
	BrandID      string   `json:"brand_id"`
	Platform     string   `json:"platform"`
	IsEnabled    bool     `json:"is_enabled"`
	AutoSchedule bool     `json:"auto_schedule"`
	PostTimes    []string `json:"post_times"`
	Timezone     string   `json:"timezone"`
}

type CustomClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

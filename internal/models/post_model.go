package models

import (
	"encoding/json"
	"time"
)

// Post is one attempt (or scheduled intent) to publish one piece of
// content to one platform. It is the durable projection of queue job
// state: the queue job carries a snapshot, the Post carries the outcome.
type Post struct {
	ID                string          `db:"id" json:"id"`
	ContentID         string          `db:"content_id" json:"content_id"`
	BrandID           string          `db:"brand_id" json:"brand_id"`
	Platform          string          `db:"platform" json:"platform"`
	ConnectionID      *string         `db:"connection_id" json:"connection_id,omitempty"`
	Status            string          `db:"status" json:"status"`
	ScheduledAt       *time.Time      `db:"scheduled_at" json:"scheduled_at,omitempty"`
	PlatformPostID    string          `db:"platform_post_id" json:"platform_post_id,omitempty"`
	URL               string          `db:"url" json:"url,omitempty"`
	EngagementMetrics json.RawMessage `db:"engagement_metrics" json:"engagement_metrics,omitempty"`
	RetryCount        int             `db:"retry_count" json:"retry_count"`
	MaxRetries        int             `db:"max_retries" json:"max_retries"`
	LastError         string          `db:"last_error" json:"last_error,omitempty"`
	ErrorLog          json.RawMessage `db:"error_log" json:"error_log,omitempty"`
	NextRetryAt       *time.Time      `db:"next_retry_at" json:"next_retry_at,omitempty"`
	PostedAt          *time.Time      `db:"posted_at" json:"posted_at,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

const (
	PostStatusQueued     = "queued"
	PostStatusScheduled  = "scheduled"
	PostStatusProcessing = "processing"
	PostStatusPublishing = "publishing"
	PostStatusPublished  = "published"
	PostStatusFailed     = "failed"
	PostStatusCancelled  = "cancelled"
	PostStatusRetry      = "retry"
)

const DefaultMaxRetries = 3

// ErrorLogEntry is one element of the append-only error_log.
type ErrorLogEntry struct {
	Error     string    `json:"error"`
	Kind      string    `json:"kind"`
	Attempt   int       `json:"attempt"`
	Timestamp time.Time `json:"timestamp"`
}

// IsTerminal reports whether the post has reached a state no worker
// action may change.
func (p *Post) IsTerminal() bool {
	switch p.Status {
	case PostStatusPublished, PostStatusFailed, PostStatusCancelled:
		return true
	}
	return false
}

// CanCancel reports whether the post is still pre-dispatch. Once a
// worker has picked it up, cancellation is refused.
func (p *Post) CanCancel() bool {
	return p.Status == PostStatusQueued || p.Status == PostStatusScheduled
}

// ErrorEntries decodes the error_log column.
func (p *Post) ErrorEntries() ([]ErrorLogEntry, error) {
	if len(p.ErrorLog) == 0 {
		return nil, nil
	}
	var entries []ErrorLogEntry
	if err := json.Unmarshal(p.ErrorLog, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

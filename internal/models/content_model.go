package models

import "time"

type Content struct {
	ID        string    `db:"id" json:"id"`
	BrandID   string    `db:"brand_id" json:"brand_id"`
	Title     string    `db:"title" json:"title"`
	Body      string    `db:"body" json:"body"`
	MediaURLs []string  `db:"media_urls" json:"media_urls"`
	Hashtags  []string  `db:"hashtags" json:"hashtags"`
	Mentions  []string  `db:"mentions" json:"mentions"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

const (
	ContentStatusDraft            = "draft"
	ContentStatusResearched       = "researched"
	ContentStatusTextGenerated    = "text_generated"
	ContentStatusVisualsGenerated = "visuals_generated"
	ContentStatusCompletedDraft   = "completed_draft"
	ContentStatusScheduled        = "scheduled"
	ContentStatusPosted           = "posted"
	ContentStatusFailed           = "failed"
	ContentStatusArchived         = "archived"
)

// IsPublishable reports whether the content is far enough along its
// workflow to be handed to a publish pipeline.
func (c *Content) IsPublishable() bool {
	return c.Status == ContentStatusCompletedDraft || c.Status == ContentStatusScheduled
}

package models

import "time"

// AutolistSettings holds one brand/platform rotation loop: an ordered
// circular queue of content ids and the weekly time-of-day slots it
// publishes into. QueueContentIDs never contains duplicates; an id is
// removed from the front before being re-appended at the back.
type AutolistSettings struct {
	ID              string    `db:"id" json:"id"`
	BrandID         string    `db:"brand_id" json:"brand_id"`
	Platform        string    `db:"platform" json:"platform"`
	IsEnabled       bool      `db:"is_enabled" json:"is_enabled"`
	AutoSchedule    bool      `db:"auto_schedule" json:"auto_schedule"`
	PostTimes       []string  `db:"post_times" json:"post_times"`
	Timezone        string    `db:"timezone" json:"timezone"`
	QueueContentIDs []string  `db:"queue_content_ids" json:"queue_content_ids"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

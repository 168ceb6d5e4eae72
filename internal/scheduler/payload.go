package scheduler

import (
	"fmt"
	"time"
)

const (
	TaskTypePublishPost  = "publish:post"
	TaskTypeAutolistTick = "autolist:tick"
)

const (
	QueuePublish  = "publish"
	QueueAutolist = "autolist"
)

// ContentSnapshot is the content as it looked when the job was
// enqueued. The worker publishes from this snapshot, never from a
// re-fetched Content row, so edits after scheduling cannot silently
// alter an in-flight post.
type ContentSnapshot struct {
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	MediaURLs []string `json:"media_urls,omitempty"`
	Hashtags  []string `json:"hashtags,omitempty"`
	Mentions  []string `json:"mentions,omitempty"`
}

// PublishJob drives one publish attempt. Attempt 0 is the original
// dispatch; retries re-enqueue the same job with Attempt incremented.
type PublishJob struct {
	PostID       string          `json:"post_id"`
	ContentID    string          `json:"content_id"`
	BrandID      string          `json:"brand_id"`
	Platform     string          `json:"platform"`
	ConnectionID string          `json:"connection_id,omitempty"`
	Snapshot     ContentSnapshot `json:"snapshot"`
	DueAt        time.Time       `json:"due_at"`
	Attempt      int             `json:"attempt"`
}

// JobID returns the queue task id for this attempt.
func (j PublishJob) JobID() string {
	return JobIDFor(j.PostID, j.Attempt)
}

// JobIDFor derives the task id for a post's nth attempt. The first
// attempt reuses the post id so the API can address the job by post;
// retries get their own id because the queue treats each attempt as a
// task. A post's retry_count always names its latest attempt, so
// JobIDFor(post.ID, post.RetryCount) finds the live task.
func JobIDFor(postID string, attempt int) string {
	if attempt == 0 {
		return postID
	}
	return fmt.Sprintf("%s:r%d", postID, attempt)
}

// AutolistTickJob asks the rotator to run one tick for a brand/platform.
type AutolistTickJob struct {
	BrandID  string `json:"brand_id"`
	Platform string `json:"platform"`
}

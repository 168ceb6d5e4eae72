package autolist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/contentpilot/postpilot/internal/models"
	"github.com/contentpilot/postpilot/internal/repository"
	"github.com/contentpilot/postpilot/internal/scheduler"
)

// Enqueuer is the slice of the scheduler the rotator needs.
type Enqueuer interface {
	Enqueue(job scheduler.PublishJob, delay time.Duration) (string, error)
}

// TickResult describes what one rotation tick did.
type TickResult struct {
	Dispatched       bool       `json:"dispatched"`
	Reason           string     `json:"reason"`
	PostID           string     `json:"post_id,omitempty"`
	JobID            string     `json:"job_id,omitempty"`
	ScheduledAt      *time.Time `json:"scheduled_at,omitempty"`
	RemovedContentID string     `json:"removed_content_id,omitempty"`
}

const (
	ReasonDispatched      = "dispatched"
	ReasonDisabled        = "disabled"
	ReasonQueueEmpty      = "queue_empty"
	ReasonContentRemoved  = "content_removed"
	ReasonContentNotReady = "content_not_ready"
	ReasonAlreadyPending  = "already_pending"
)

// Rotator runs the perpetual publishing loop for autolist brands: pick
// the head of the circular content queue, schedule it into the next
// weekly slot, and rotate the queue so publishing never stops.
type Rotator struct {
	settings repository.AutolistSettingsRepository
	contents repository.ContentRepository
	posts    repository.PostRepository
	queue    Enqueuer
	now      func() time.Time
}

func NewRotator(
	settings repository.AutolistSettingsRepository,
	contents repository.ContentRepository,
	posts repository.PostRepository,
	queue Enqueuer) *Rotator {
	return &Rotator{
		settings: settings,
		contents: contents,
		posts:    posts,
		queue:    queue,
		now:      time.Now,
	}
}

// HandleTickTask is the asynq handler behind the periodic sweep. A
// failed tick is not retried here; the next sweep covers it.
func (r *Rotator) HandleTickTask(ctx context.Context, task *asynq.Task) error {
	var job scheduler.AutolistTickJob
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return fmt.Errorf("decode autolist tick payload: %v: %w", err, asynq.SkipRetry)
	}
	if _, err := r.ProcessAutolist(ctx, job.BrandID, job.Platform); err != nil {
		return fmt.Errorf("autolist tick %s/%s: %v: %w", job.BrandID, job.Platform, err, asynq.SkipRetry)
	}
	return nil
}

// ProcessAutolist runs one tick for a brand/platform pair.
func (r *Rotator) ProcessAutolist(ctx context.Context, brandID, platform string) (*TickResult, error) {
	settings, err := r.settings.GetByBrandAndPlatform(ctx, brandID, platform)
	if err != nil {
		return nil, err
	}
	if settings == nil || !settings.IsEnabled {
		return &TickResult{Reason: ReasonDisabled}, nil
	}
	if len(settings.QueueContentIDs) == 0 {
		return &TickResult{Reason: ReasonQueueEmpty}, nil
	}

	// One dispatch in flight per brand/platform: while the previous
	// autolist post is still waiting for its slot, a tick does nothing.
	// Without this guard a minutely sweep would stack a post per tick
	// into the same slot.
	pending, err := r.posts.HasPendingByBrandAndPlatform(ctx, brandID, platform)
	if err != nil {
		return nil, err
	}
	if pending {
		return &TickResult{Reason: ReasonAlreadyPending}, nil
	}

	headID := settings.QueueContentIDs[0]
	content, err := r.contents.GetByID(ctx, headID)
	if err != nil {
		return nil, err
	}

	// Stale reference: the content was deleted out from under the
	// queue. Drop it and dispatch nothing.
	if content == nil {
		settings.QueueContentIDs = settings.QueueContentIDs[1:]
		if err := r.settings.Update(ctx, settings); err != nil {
			return nil, err
		}
		slog.Info("autolist dropped stale content", "brand_id", brandID, "platform", platform, "content_id", headID)
		return &TickResult{Reason: ReasonContentRemoved, RemovedContentID: headID}, nil
	}

	// Not ready yet: leave it at the front for the next tick.
	if !content.IsPublishable() {
		return &TickResult{Reason: ReasonContentNotReady}, nil
	}

	slot := nextSlot(r.now(), settings.PostTimes, settings.Timezone)

	postID, err := gonanoid.New()
	if err != nil {
		return nil, err
	}

	post := &models.Post{
		ID:          postID,
		ContentID:   content.ID,
		BrandID:     brandID,
		Platform:    platform,
		Status:      models.PostStatusScheduled,
		ScheduledAt: &slot,
		MaxRetries:  models.DefaultMaxRetries,
	}
	if err := r.posts.Create(ctx, post); err != nil {
		return nil, err
	}

	job := scheduler.PublishJob{
		PostID:    postID,
		ContentID: content.ID,
		BrandID:   brandID,
		Platform:  platform,
		Snapshot: scheduler.ContentSnapshot{
			Title:     content.Title,
			Body:      content.Body,
			MediaURLs: content.MediaURLs,
			Hashtags:  content.Hashtags,
			Mentions:  content.Mentions,
		},
		DueAt: slot,
	}

	jobID, err := r.queue.Enqueue(job, slot.Sub(r.now()))
	if err != nil {
		return nil, err
	}

	// Rotate: front to back. This is what makes the queue circular
	// instead of a one-shot drain.
	settings.QueueContentIDs = append(settings.QueueContentIDs[1:], headID)
	if err := r.settings.Update(ctx, settings); err != nil {
		return nil, err
	}

	slog.Info("autolist dispatched",
		"brand_id", brandID, "platform", platform, "content_id", content.ID, "scheduled_at", slot)

	return &TickResult{
		Dispatched:  true,
		Reason:      ReasonDispatched,
		PostID:      postID,
		JobID:       jobID,
		ScheduledAt: &slot,
	}, nil
}

// nextSlot returns the first HH:MM slot strictly after now on the
// current day in the given timezone, the first slot tomorrow if none
// remain today, or one hour from now when no slots are configured.
func nextSlot(now time.Time, postTimes []string, timezone string) time.Time {
	if len(postTimes) == 0 {
		return now.Add(time.Hour)
	}

	loc := time.UTC
	if timezone != "" {
		if l, err := time.LoadLocation(timezone); err == nil {
			loc = l
		} else {
			slog.Info("invalid autolist timezone", "timezone", timezone)
		}
	}

	local := now.In(loc)
	var first time.Time
	for _, s := range postTimes {
		t, err := time.ParseInLocation("15:04", s, loc)
		if err != nil {
			slog.Info("invalid autolist post time", "value", s)
			continue
		}
		candidate := time.Date(local.Year(), local.Month(), local.Day(), t.Hour(), t.Minute(), 0, 0, loc)
		if first.IsZero() {
			first = candidate
		}
		if candidate.After(local) {
			return candidate
		}
	}

	if first.IsZero() {
		// Every configured slot was unparseable.
		return now.Add(time.Hour)
	}
	return first.AddDate(0, 0, 1)
}

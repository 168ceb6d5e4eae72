package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/contentpilot/postpilot/internal/models"
	"github.com/contentpilot/postpilot/internal/platform"
	"github.com/contentpilot/postpilot/internal/repository"
	"github.com/contentpilot/postpilot/internal/scheduler"
	"github.com/contentpilot/postpilot/internal/transfer"
	"github.com/contentpilot/postpilot/pkg/utils"
)

var (
	ErrPostNotFound    = errors.New("post not found")
	ErrContentNotFound = errors.New("content not found")
	ErrNotPublishable  = errors.New("content is not ready to publish")
	ErrNotPublished    = errors.New("post is not published")
)

type PostService interface {
	CreatePost(ctx context.Context, req *transfer.PublishRequest) (*models.Post, string, error)
	List(ctx context.Context, brandID string) ([]*models.Post, error)
	Status(ctx context.Context, postID string) (*transfer.PostStatus, error)
	Cancel(ctx context.Context, postID string) (bool, error)
	Counts() (*scheduler.Counts, error)
	RefreshMetrics(ctx context.Context, postID string) (*models.Post, error)
}

type postService struct {
	posts       repository.PostRepository
	contents    repository.ContentRepository
	connections repository.ConnectionRepository
	adapters    *platform.Registry
	sched       *scheduler.Scheduler
	secretKey   []byte
}

func NewPostService(
	posts repository.PostRepository,
	contents repository.ContentRepository,
	connections repository.ConnectionRepository,
	adapters *platform.Registry,
	sched *scheduler.Scheduler,
	secretKey string) PostService {
	return &postService{
		posts:       posts,
		contents:    contents,
		connections: connections,
		adapters:    adapters,
		sched:       sched,
		secretKey:   []byte(secretKey),
	}
}

// CreatePost records the publish intent and enqueues the job. The
// content snapshot is captured here, so later edits to the Content row
// do not alter what gets published.
func (s *postService) CreatePost(ctx context.Context, req *transfer.PublishRequest) (*models.Post, string, error) {
	if req.ContentID == "" || req.BrandID == "" || req.Platform == "" {
		return nil, "", errors.New("content_id, brand_id and platform are required")
	}
	if _, ok := s.adapters.Get(req.Platform); !ok {
		return nil, "", fmt.Errorf("unsupported platform %q", req.Platform)
	}

	content, err := s.contents.GetByID(ctx, req.ContentID)
	if err != nil {
		return nil, "", err
	}
	if content == nil {
		return nil, "", ErrContentNotFound
	}
	if !content.IsPublishable() {
		return nil, "", ErrNotPublishable
	}

	var scheduledAt *time.Time
	status := models.PostStatusQueued
	if req.ScheduledAt != "" {
		t, err := time.Parse("2006-01-02T15:04", req.ScheduledAt)
		if err != nil {
			return nil, "", fmt.Errorf("invalid scheduled time format: %w", err)
		}
		scheduledAt = &t
		status = models.PostStatusScheduled
	}

	maxRetries := models.DefaultMaxRetries
	if req.MaxRetries != nil && *req.MaxRetries >= 0 {
		maxRetries = *req.MaxRetries
	}

	postID, err := gonanoid.New()
	if err != nil {
		return nil, "", err
	}

	var connectionID *string
	if req.ConnectionID != "" {
		connectionID = &req.ConnectionID
	}

	post := &models.Post{
		ID:           postID,
		ContentID:    req.ContentID,
		BrandID:      req.BrandID,
		Platform:     req.Platform,
		ConnectionID: connectionID,
		Status:       status,
		ScheduledAt:  scheduledAt,
		MaxRetries:   maxRetries,
	}
	if err := s.posts.Create(ctx, post); err != nil {
		return nil, "", err
	}

	var delay time.Duration
	dueAt := time.Now()
	if scheduledAt != nil {
		delay = scheduler.DelayUntil(*scheduledAt)
		dueAt = *scheduledAt
	}

	job := scheduler.PublishJob{
		PostID:       postID,
		ContentID:    req.ContentID,
		BrandID:      req.BrandID,
		Platform:     req.Platform,
		ConnectionID: req.ConnectionID,
		Snapshot: scheduler.ContentSnapshot{
			Title:     content.Title,
			Body:      content.Body,
			MediaURLs: content.MediaURLs,
			Hashtags:  content.Hashtags,
			Mentions:  content.Mentions,
		},
		DueAt: dueAt,
	}

	jobID, err := s.sched.Enqueue(job, delay)
	if err != nil {
		// The intent row exists but nothing will run it; don't leave it
		// looking pending.
		_ = s.posts.UpdateStatus(ctx, models.PostStatusFailed, postID)
		return nil, "", err
	}

	return post, jobID, nil
}

func (s *postService) List(ctx context.Context, brandID string) ([]*models.Post, error) {
	if brandID == "" {
		return nil, errors.New("brand_id is required")
	}
	return s.posts.ListByBrand(ctx, brandID)
}

// Status reports both halves: the Post row (authoritative outcome) and
// the queue state of the latest attempt's job.
func (s *postService) Status(ctx context.Context, postID string) (*transfer.PostStatus, error) {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, ErrPostNotFound
	}

	return &transfer.PostStatus{
		Post: post,
		Job:  s.sched.Status(scheduler.JobIDFor(post.ID, post.RetryCount)),
	}, nil
}

// Cancel removes a pre-dispatch job and marks the post cancelled. Once
// a worker has picked the job up the cancel is refused, never silently
// dropped, so a double-publish race cannot hide behind it.
func (s *postService) Cancel(ctx context.Context, postID string) (bool, error) {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return false, err
	}
	if post == nil {
		return false, ErrPostNotFound
	}
	if !post.CanCancel() {
		return false, nil
	}

	if !s.sched.Cancel(post.ID) {
		return false, nil
	}

	cancelled, err := s.posts.CancelIfPending(ctx, post.ID)
	if err != nil {
		return false, err
	}
	if !cancelled {
		slog.Info("job removed but post no longer pending", "post_id", post.ID)
	}
	return cancelled, nil
}

func (s *postService) Counts() (*scheduler.Counts, error) {
	return s.sched.Counts()
}

// RefreshMetrics re-polls platform engagement numbers for a published
// post. It only updates engagement_metrics; posted_at and status are
// untouched.
func (s *postService) RefreshMetrics(ctx context.Context, postID string) (*models.Post, error) {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, ErrPostNotFound
	}
	if post.Status != models.PostStatusPublished || post.PlatformPostID == "" {
		return nil, ErrNotPublished
	}

	adapter, ok := s.adapters.Get(post.Platform)
	if !ok {
		return nil, fmt.Errorf("unsupported platform %q", post.Platform)
	}
	fetcher, ok := adapter.(platform.MetricsFetcher)
	if !ok {
		return nil, fmt.Errorf("platform %q does not expose metrics", post.Platform)
	}

	conn, err := s.resolveConnection(ctx, post)
	if err != nil {
		return nil, err
	}

	metrics, err := fetcher.Metrics(ctx, conn, post.PlatformPostID)
	if err != nil {
		return nil, err
	}
	if err := s.posts.UpdateMetrics(ctx, post.ID, metrics); err != nil {
		return nil, err
	}

	post.EngagementMetrics = metrics
	return post, nil
}

func (s *postService) resolveConnection(ctx context.Context, post *models.Post) (*platform.Connection, error) {
	var conn *models.Connection
	var err error
	if post.ConnectionID != nil {
		conn, err = s.connections.GetByID(ctx, *post.ConnectionID)
	} else {
		conn, err = s.connections.GetByBrandAndPlatform(ctx, post.BrandID, post.Platform)
	}
	if err != nil {
		return nil, err
	}
	if conn == nil || !conn.IsActive {
		return nil, fmt.Errorf("no active %s connection for brand %s", post.Platform, post.BrandID)
	}

	accessToken, err := utils.Decrypt(conn.AccessToken, s.secretKey)
	if err != nil {
		return nil, err
	}
	return &platform.Connection{
		AccountID:   conn.AccountID,
		AccountName: conn.AccountName,
		AccessToken: accessToken,
	}, nil
}

package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	sentry "github.com/getsentry/sentry-go"
	"github.com/hibiken/asynq"

	"github.com/contentpilot/postpilot/internal/models"
	"github.com/contentpilot/postpilot/internal/platform"
	"github.com/contentpilot/postpilot/internal/repository"
	"github.com/contentpilot/postpilot/internal/scheduler"
	"github.com/contentpilot/postpilot/pkg/utils"
)

const defaultAdapterTimeout = 60 * time.Second

// Enqueuer is the slice of the scheduler the worker needs to emit
// retry jobs. The scheduler has no domain knowledge of retry policy;
// it re-enqueues what it is told, when it is told.
type Enqueuer interface {
	Enqueue(job scheduler.PublishJob, delay time.Duration) (string, error)
}

// Worker runs the publish pipeline for dispatched jobs. It is the sole
// writer of Post status transitions; the queue's at-most-once dispatch
// of an active job id keeps two workers off the same Post.
//
// Adapter calls are at-least-once: a crash after the platform accepted
// the post but before the Post row was updated causes a duplicate
// publish on retry. No platform idempotency key exists to close that
// window; this is an accepted limitation, not something the worker
// papers over by skipping retries.
type Worker struct {
	posts          repository.PostRepository
	contents       repository.ContentRepository
	connections    repository.ConnectionRepository
	adapters       *platform.Registry
	queue          Enqueuer
	secretKey      []byte
	adapterTimeout time.Duration
}

func NewWorker(
	posts repository.PostRepository,
	contents repository.ContentRepository,
	connections repository.ConnectionRepository,
	adapters *platform.Registry,
	queue Enqueuer,
	secretKey string) *Worker {
	return &Worker{
		posts:          posts,
		contents:       contents,
		connections:    connections,
		adapters:       adapters,
		queue:          queue,
		secretKey:      []byte(secretKey),
		adapterTimeout: defaultAdapterTimeout,
	}
}

// HandlePublishTask is the asynq handler for publish jobs. Retry
// policy is decided here, not by asynq, so every returned error is
// wrapped with SkipRetry.
func (w *Worker) HandlePublishTask(ctx context.Context, task *asynq.Task) error {
	var job scheduler.PublishJob
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		slog.Error("malformed publish payload", "error", err.Error())
		return fmt.Errorf("decode publish payload: %v: %w", err, asynq.SkipRetry)
	}

	result, err := w.Publish(ctx, job)
	if err != nil {
		return fmt.Errorf("publish post %s: %v: %w", job.PostID, err, asynq.SkipRetry)
	}

	if result != nil {
		if rw := task.ResultWriter(); rw != nil {
			if data, err := json.Marshal(result); err == nil {
				_, _ = rw.Write(data)
			}
		}
	}
	return nil
}

// Publish executes one attempt of the publish pipeline.
func (w *Worker) Publish(ctx context.Context, job scheduler.PublishJob) (*platform.PublishResult, error) {
	post, err := w.posts.GetByID(ctx, job.PostID)
	if err != nil {
		return nil, err
	}
	if post == nil {
		// Data corruption, not a transient fault. There is no row to
		// write an error_log entry to.
		perr := notFoundErr("post", job.PostID)
		sentry.CaptureException(perr)
		return nil, perr
	}

	// A terminal post is never touched again, however the job got
	// redelivered.
	if post.IsTerminal() {
		slog.Info("skipping terminal post", "post_id", post.ID, "status", post.Status)
		return nil, nil
	}

	if err := w.posts.MarkProcessing(ctx, post.ID); err != nil {
		return nil, err
	}

	content, err := w.contents.GetByID(ctx, job.ContentID)
	if err != nil {
		return nil, w.handleFailure(ctx, post, job, classifyAdapterErr(err))
	}
	if content == nil {
		return nil, w.handleFailure(ctx, post, job, notFoundErr("content", job.ContentID))
	}

	conn, perr := w.resolveConnection(ctx, post, job)
	if perr != nil {
		return nil, w.handleFailure(ctx, post, job, perr)
	}

	adapter, ok := w.adapters.Get(post.Platform)
	if !ok {
		return nil, w.handleFailure(ctx, post, job, validationErr(fmt.Errorf("unsupported platform %q", post.Platform)))
	}

	payload := buildPayload(job.Snapshot)

	if err := w.posts.UpdateStatus(ctx, models.PostStatusPublishing, post.ID); err != nil {
		return nil, err
	}

	adapterCtx, cancel := context.WithTimeout(ctx, w.adapterTimeout)
	defer cancel()

	result, err := adapter.Publish(adapterCtx, conn, payload)
	if err != nil {
		return nil, w.handleFailure(ctx, post, job, classifyAdapterErr(err))
	}

	firstPublish := post.PostedAt == nil
	if err := w.posts.MarkPublished(ctx, post.ID, result.PostID, result.URL, result.Metrics); err != nil {
		return nil, err
	}

	// Content status is advisory; if this write is lost the anomaly is
	// self-healing, since re-publish prevention lives on the Post.
	if firstPublish {
		if err := w.contents.UpdateStatus(ctx, models.ContentStatusPosted, content.ID); err != nil {
			slog.Info(err.Error())
		}
	}

	slog.Info("post published", "post_id", post.ID, "platform", post.Platform, "platform_post_id", result.PostID)
	return result, nil
}

func (w *Worker) resolveConnection(ctx context.Context, post *models.Post, job scheduler.PublishJob) (*platform.Connection, *Error) {
	connectionID := job.ConnectionID
	if connectionID == "" && post.ConnectionID != nil {
		connectionID = *post.ConnectionID
	}

	var conn *models.Connection
	var err error
	if connectionID != "" {
		conn, err = w.connections.GetByID(ctx, connectionID)
	} else {
		conn, err = w.connections.GetByBrandAndPlatform(ctx, post.BrandID, post.Platform)
	}
	if err != nil {
		return nil, connectionUnavailableErr(err)
	}
	if conn == nil {
		return nil, connectionUnavailableErr(fmt.Errorf("no %s connection for brand %s", post.Platform, post.BrandID))
	}
	if !conn.IsActive {
		return nil, connectionUnavailableErr(fmt.Errorf("connection %s is inactive", conn.ID))
	}

	accessToken, err := utils.Decrypt(conn.AccessToken, w.secretKey)
	if err != nil {
		return nil, connectionUnavailableErr(fmt.Errorf("decrypt access token for connection %s: %w", conn.ID, err))
	}

	return &platform.Connection{
		AccountID:   conn.AccountID,
		AccountName: conn.AccountName,
		AccessToken: accessToken,
	}, nil
}

// handleFailure applies the failure half of the state machine: append
// to error_log, bump retry_count, then either re-enqueue with backoff
// or fail the post for good.
func (w *Worker) handleFailure(ctx context.Context, post *models.Post, job scheduler.PublishJob, perr *Error) error {
	entry := models.ErrorLogEntry{
		Error:     perr.Error(),
		Kind:      string(perr.Kind),
		Attempt:   post.RetryCount + 1,
		Timestamp: time.Now().UTC(),
	}

	if perr.Retryable && post.RetryCount < post.MaxRetries {
		delay := scheduler.RetryDelay(post.RetryCount)
		nextRetryAt := time.Now().Add(delay)

		if err := w.posts.RecordFailure(ctx, post.ID, entry, models.PostStatusRetry, &nextRetryAt); err != nil {
			slog.Error("record failure", "post_id", post.ID, "error", err.Error())
			return perr
		}

		retryJob := job
		retryJob.Attempt = post.RetryCount + 1
		retryJob.DueAt = nextRetryAt
		if _, err := w.queue.Enqueue(retryJob, delay); err != nil {
			// The retry will never fire; fail the post instead of
			// leaving it stuck in retry.
			slog.Error("enqueue retry", "post_id", post.ID, "error", err.Error())
			sentry.CaptureException(err)
			_ = w.posts.UpdateStatus(ctx, models.PostStatusFailed, post.ID)
			return perr
		}

		slog.Info("publish retry scheduled",
			"post_id", post.ID, "attempt", retryJob.Attempt, "delay", delay.String(), "kind", string(perr.Kind))
		return perr
	}

	if err := w.posts.RecordFailure(ctx, post.ID, entry, models.PostStatusFailed, nil); err != nil {
		slog.Error("record terminal failure", "post_id", post.ID, "error", err.Error())
	}
	if err := w.contents.UpdateStatus(ctx, models.ContentStatusFailed, job.ContentID); err != nil {
		slog.Info(err.Error())
	}
	sentry.CaptureException(perr)
	slog.Error("post failed permanently", "post_id", post.ID, "kind", string(perr.Kind), "error", perr.Error())

	if perr.Retryable {
		return &Error{Kind: KindRetryExhausted, Retryable: false, Err: perr}
	}
	return perr
}

func buildPayload(snapshot scheduler.ContentSnapshot) *platform.Payload {
	return &platform.Payload{
		Title:     snapshot.Title,
		Caption:   snapshot.Body,
		MediaURLs: snapshot.MediaURLs,
		Hashtags:  snapshot.Hashtags,
		Mentions:  snapshot.Mentions,
	}
}

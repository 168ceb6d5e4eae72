package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentpilot/postpilot/internal/models"
	"github.com/contentpilot/postpilot/internal/platform"
	"github.com/contentpilot/postpilot/internal/scheduler"
	"github.com/contentpilot/postpilot/pkg/utils"
)

const testSecretKey = "0123456789abcdef0123456789abcdef"

// --- Fakes ---

type fakePostRepo struct {
	mu    sync.Mutex
	posts map[string]*models.Post
}

func newFakePostRepo(posts ...*models.Post) *fakePostRepo {
	repo := &fakePostRepo{posts: make(map[string]*models.Post)}
	for _, p := range posts {
		repo.posts[p.ID] = p
	}
	return repo
}

func (r *fakePostRepo) get(id string) *models.Post {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.posts[id]
}

func clonePost(p *models.Post) *models.Post {
	cp := *p
	return &cp
}

func (r *fakePostRepo) Create(_ context.Context, post *models.Post) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.posts[post.ID] = clonePost(post)
	return nil
}

func (r *fakePostRepo) GetByID(_ context.Context, id string) (*models.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	post, ok := r.posts[id]
	if !ok {
		return nil, nil
	}
	return clonePost(post), nil
}

func (r *fakePostRepo) ListByBrand(_ context.Context, brandID string) ([]*models.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var posts []*models.Post
	for _, p := range r.posts {
		if p.BrandID == brandID {
			posts = append(posts, clonePost(p))
		}
	}
	return posts, nil
}

func (r *fakePostRepo) UpdateStatus(_ context.Context, status, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.posts[id]; ok {
		p.Status = status
	}
	return nil
}

func (r *fakePostRepo) MarkProcessing(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.posts[id]; ok {
		p.Status = models.PostStatusProcessing
		p.NextRetryAt = nil
	}
	return nil
}

func (r *fakePostRepo) MarkPublished(_ context.Context, id, platformPostID, url string, metrics json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok {
		return nil
	}
	p.Status = models.PostStatusPublished
	p.PlatformPostID = platformPostID
	p.URL = url
	p.EngagementMetrics = metrics
	if p.PostedAt == nil {
		now := time.Now()
		p.PostedAt = &now
	}
	return nil
}

func (r *fakePostRepo) UpdateMetrics(_ context.Context, id string, metrics json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.posts[id]; ok {
		p.EngagementMetrics = metrics
	}
	return nil
}

func (r *fakePostRepo) RecordFailure(_ context.Context, id string, entry models.ErrorLogEntry, status string, nextRetryAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok {
		return nil
	}
	var entries []models.ErrorLogEntry
	if len(p.ErrorLog) > 0 {
		if err := json.Unmarshal(p.ErrorLog, &entries); err != nil {
			return err
		}
	}
	entries = append(entries, entry)
	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	p.ErrorLog = raw
	p.LastError = entry.Error
	if p.RetryCount < p.MaxRetries {
		p.RetryCount++
	}
	p.Status = status
	p.NextRetryAt = nextRetryAt
	return nil
}

func (r *fakePostRepo) CancelIfPending(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok || !p.CanCancel() {
		return false, nil
	}
	p.Status = models.PostStatusCancelled
	return true, nil
}

func (r *fakePostRepo) HasPendingByBrandAndPlatform(_ context.Context, brandID, platform string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.posts {
		if p.BrandID == brandID && p.Platform == platform && p.CanCancel() {
			return true, nil
		}
	}
	return false, nil
}

type fakeContentRepo struct {
	mu       sync.Mutex
	contents map[string]*models.Content
}

func newFakeContentRepo(contents ...*models.Content) *fakeContentRepo {
	repo := &fakeContentRepo{contents: make(map[string]*models.Content)}
	for _, c := range contents {
		repo.contents[c.ID] = c
	}
	return repo
}

func (r *fakeContentRepo) GetByID(_ context.Context, id string) (*models.Content, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contents[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *fakeContentRepo) UpdateStatus(_ context.Context, status, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.contents[id]; ok {
		c.Status = status
	}
	return nil
}

type fakeConnectionRepo struct {
	conns map[string]*models.Connection
}

func newFakeConnectionRepo(conns ...*models.Connection) *fakeConnectionRepo {
	repo := &fakeConnectionRepo{conns: make(map[string]*models.Connection)}
	for _, c := range conns {
		repo.conns[c.ID] = c
	}
	return repo
}

func (r *fakeConnectionRepo) GetByID(_ context.Context, id string) (*models.Connection, error) {
	c, ok := r.conns[id]
	if !ok {
		return nil, nil
	}
	return c, nil
}

func (r *fakeConnectionRepo) GetByBrandAndPlatform(_ context.Context, brandID, platformName string) (*models.Connection, error) {
	for _, c := range r.conns {
		if c.BrandID == brandID && c.Platform == platformName {
			return c, nil
		}
	}
	return nil, nil
}

func (r *fakeConnectionRepo) SetToken(_ context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error {
	if c, ok := r.conns[id]; ok {
		c.AccessToken = accessToken
		c.RefreshToken = refreshToken
		c.TokenExpiresAt = expiresAt
	}
	return nil
}

func (r *fakeConnectionRepo) ListExpiring(_ context.Context, _, _ time.Time) ([]*models.Connection, error) {
	return nil, nil
}

type enqueueCall struct {
	job   scheduler.PublishJob
	delay time.Duration
}

type fakeEnqueuer struct {
	calls []enqueueCall
}

func (e *fakeEnqueuer) Enqueue(job scheduler.PublishJob, delay time.Duration) (string, error) {
	e.calls = append(e.calls, enqueueCall{job: job, delay: delay})
	return job.JobID(), nil
}

// scriptedAdapter fails len(errs) times, then succeeds.
type scriptedAdapter struct {
	errs     []error
	payloads []*platform.Payload
	calls    int
}

func (a *scriptedAdapter) Platform() string { return models.PlatformTiktok }

func (a *scriptedAdapter) Publish(_ context.Context, _ *platform.Connection, payload *platform.Payload) (*platform.PublishResult, error) {
	a.calls++
	a.payloads = append(a.payloads, payload)
	if len(a.errs) > 0 {
		err := a.errs[0]
		a.errs = a.errs[1:]
		return nil, err
	}
	return &platform.PublishResult{PostID: "tt-123", URL: "https://www.tiktok.com/@brand"}, nil
}

// --- Fixtures ---

func testConnection(t *testing.T) *models.Connection {
	t.Helper()
	encrypted, err := utils.Encrypt([]byte("plain-token"), []byte(testSecretKey))
	require.NoError(t, err)
	return &models.Connection{
		ID:          "conn-1",
		BrandID:     "brand-1",
		Platform:    models.PlatformTiktok,
		AccountID:   "acc-1",
		AccountName: "brand",
		AccessToken: encrypted,
		IsActive:    true,
	}
}

func testContent() *models.Content {
	return &models.Content{
		ID:        "content-1",
		BrandID:   "brand-1",
		Title:     "Launch",
		Body:      "We are live",
		MediaURLs: []string{"https://cdn.example.com/a.mp4"},
		Status:    models.ContentStatusCompletedDraft,
	}
}

func testPost() *models.Post {
	return &models.Post{
		ID:         "post-1",
		ContentID:  "content-1",
		BrandID:    "brand-1",
		Platform:   models.PlatformTiktok,
		Status:     models.PostStatusQueued,
		MaxRetries: models.DefaultMaxRetries,
	}
}

func testJob() scheduler.PublishJob {
	return scheduler.PublishJob{
		PostID:    "post-1",
		ContentID: "content-1",
		BrandID:   "brand-1",
		Platform:  models.PlatformTiktok,
		Snapshot: scheduler.ContentSnapshot{
			Title:     "Launch",
			Body:      "We are live",
			MediaURLs: []string{"https://cdn.example.com/a.mp4"},
		},
	}
}

func newTestWorker(t *testing.T, posts *fakePostRepo, contents *fakeContentRepo, conns *fakeConnectionRepo, adapter platform.Adapter, queue *fakeEnqueuer) *Worker {
	t.Helper()
	return NewWorker(posts, contents, conns, platform.NewRegistry(adapter), queue, testSecretKey)
}

// --- Tests ---

func TestPublishSuccessFirstAttempt(t *testing.T) {
	posts := newFakePostRepo(testPost())
	contents := newFakeContentRepo(testContent())
	conns := newFakeConnectionRepo(testConnection(t))
	adapter := &scriptedAdapter{}
	queue := &fakeEnqueuer{}

	worker := newTestWorker(t, posts, contents, conns, adapter, queue)

	result, err := worker.Publish(context.Background(), testJob())
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "tt-123", result.PostID)

	post := posts.get("post-1")
	assert.Equal(t, models.PostStatusPublished, post.Status)
	assert.Equal(t, "tt-123", post.PlatformPostID)
	assert.NotNil(t, post.PostedAt)
	assert.Equal(t, 0, post.RetryCount)
	assert.Empty(t, queue.calls)

	content, _ := contents.GetByID(context.Background(), "content-1")
	assert.Equal(t, models.ContentStatusPosted, content.Status)
}

func TestPublishFailTwiceThenSucceed(t *testing.T) {
	posts := newFakePostRepo(testPost())
	contents := newFakeContentRepo(testContent())
	conns := newFakeConnectionRepo(testConnection(t))
	adapter := &scriptedAdapter{errs: []error{errors.New("rate limited"), errors.New("rate limited")}}
	queue := &fakeEnqueuer{}

	worker := newTestWorker(t, posts, contents, conns, adapter, queue)
	ctx := context.Background()

	job := testJob()
	_, err := worker.Publish(ctx, job)
	require.Error(t, err)
	assert.Equal(t, models.PostStatusRetry, posts.get("post-1").Status)
	assert.NotNil(t, posts.get("post-1").NextRetryAt)
	require.Len(t, queue.calls, 1)
	assert.Equal(t, 5*time.Minute, queue.calls[0].delay)
	assert.Equal(t, 1, queue.calls[0].job.Attempt)

	_, err = worker.Publish(ctx, queue.calls[0].job)
	require.Error(t, err)
	require.Len(t, queue.calls, 2)
	assert.Equal(t, 10*time.Minute, queue.calls[1].delay)

	result, err := worker.Publish(ctx, queue.calls[1].job)
	require.NoError(t, err)
	require.NotNil(t, result)

	post := posts.get("post-1")
	assert.Equal(t, models.PostStatusPublished, post.Status)
	assert.Equal(t, 2, post.RetryCount)
	assert.NotNil(t, post.PostedAt)
	assert.Nil(t, post.NextRetryAt)

	entries, err := post.ErrorEntries()
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestPublishRetriesExhausted(t *testing.T) {
	posts := newFakePostRepo(testPost())
	contents := newFakeContentRepo(testContent())
	conns := newFakeConnectionRepo(testConnection(t))
	adapter := &scriptedAdapter{errs: []error{
		errors.New("down"), errors.New("down"), errors.New("down"), errors.New("down"),
	}}
	queue := &fakeEnqueuer{}

	worker := newTestWorker(t, posts, contents, conns, adapter, queue)
	ctx := context.Background()

	_, err := worker.Publish(ctx, testJob())
	require.Error(t, err)
	for i := 0; i < models.DefaultMaxRetries; i++ {
		require.Len(t, queue.calls, i+1)
		_, err = worker.Publish(ctx, queue.calls[i].job)
		require.Error(t, err)
	}

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindRetryExhausted, perr.Kind)

	post := posts.get("post-1")
	assert.Equal(t, models.PostStatusFailed, post.Status)
	assert.Equal(t, models.DefaultMaxRetries, post.RetryCount)
	assert.LessOrEqual(t, post.RetryCount, post.MaxRetries)

	// Three retries were scheduled with doubling delays, then no more.
	require.Len(t, queue.calls, 3)
	assert.Equal(t, 5*time.Minute, queue.calls[0].delay)
	assert.Equal(t, 10*time.Minute, queue.calls[1].delay)
	assert.Equal(t, 20*time.Minute, queue.calls[2].delay)

	// The retry_count of the failed post still names its last real
	// task, so a status lookup lands on the archived job.
	assert.Equal(t, scheduler.JobIDFor(post.ID, post.RetryCount), queue.calls[2].job.JobID())

	entries, err := post.ErrorEntries()
	require.NoError(t, err)
	assert.Len(t, entries, models.DefaultMaxRetries+1)

	content, _ := contents.GetByID(ctx, "content-1")
	assert.Equal(t, models.ContentStatusFailed, content.Status)
}

func TestPublishTerminalPostUntouched(t *testing.T) {
	post := testPost()
	post.Status = models.PostStatusPublished
	postedAt := time.Now().Add(-time.Hour)
	post.PostedAt = &postedAt
	post.PlatformPostID = "tt-old"

	posts := newFakePostRepo(post)
	contents := newFakeContentRepo(testContent())
	conns := newFakeConnectionRepo(testConnection(t))
	adapter := &scriptedAdapter{}
	queue := &fakeEnqueuer{}

	worker := newTestWorker(t, posts, contents, conns, adapter, queue)

	result, err := worker.Publish(context.Background(), testJob())
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, 0, adapter.calls)

	stored := posts.get("post-1")
	assert.Equal(t, models.PostStatusPublished, stored.Status)
	assert.Equal(t, "tt-old", stored.PlatformPostID)
	assert.True(t, stored.PostedAt.Equal(postedAt))
}

func TestPublishMissingPostIsPermanent(t *testing.T) {
	posts := newFakePostRepo()
	contents := newFakeContentRepo(testContent())
	conns := newFakeConnectionRepo(testConnection(t))
	adapter := &scriptedAdapter{}
	queue := &fakeEnqueuer{}

	worker := newTestWorker(t, posts, contents, conns, adapter, queue)

	_, err := worker.Publish(context.Background(), testJob())
	require.Error(t, err)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindNotFound, perr.Kind)
	assert.False(t, perr.Retryable)
	assert.Empty(t, queue.calls)
}

func TestPublishMissingContentIsPermanent(t *testing.T) {
	posts := newFakePostRepo(testPost())
	contents := newFakeContentRepo()
	conns := newFakeConnectionRepo(testConnection(t))
	adapter := &scriptedAdapter{}
	queue := &fakeEnqueuer{}

	worker := newTestWorker(t, posts, contents, conns, adapter, queue)

	_, err := worker.Publish(context.Background(), testJob())
	require.Error(t, err)

	post := posts.get("post-1")
	assert.Equal(t, models.PostStatusFailed, post.Status)
	assert.Empty(t, queue.calls)

	entries, err := post.ErrorEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, string(KindNotFound), entries[0].Kind)
}

func TestPublishInactiveConnectionIsRetryable(t *testing.T) {
	conn := testConnection(t)
	conn.IsActive = false

	posts := newFakePostRepo(testPost())
	contents := newFakeContentRepo(testContent())
	conns := newFakeConnectionRepo(conn)
	adapter := &scriptedAdapter{}
	queue := &fakeEnqueuer{}

	worker := newTestWorker(t, posts, contents, conns, adapter, queue)

	_, err := worker.Publish(context.Background(), testJob())
	require.Error(t, err)

	post := posts.get("post-1")
	assert.Equal(t, models.PostStatusRetry, post.Status)
	assert.Equal(t, 0, adapter.calls)
	require.Len(t, queue.calls, 1)

	entries, err := post.ErrorEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, string(KindConnectionInactive), entries[0].Kind)
}

func TestPublishUsesSnapshotNotCurrentContent(t *testing.T) {
	content := testContent()
	posts := newFakePostRepo(testPost())
	contents := newFakeContentRepo(content)
	conns := newFakeConnectionRepo(testConnection(t))
	adapter := &scriptedAdapter{}
	queue := &fakeEnqueuer{}

	worker := newTestWorker(t, posts, contents, conns, adapter, queue)

	// Content was edited after the job was enqueued.
	require.NoError(t, contents.UpdateStatus(context.Background(), models.ContentStatusScheduled, content.ID))
	contents.contents[content.ID].Body = "Edited after scheduling"

	job := testJob()
	_, err := worker.Publish(context.Background(), job)
	require.NoError(t, err)

	require.Len(t, adapter.payloads, 1)
	assert.Equal(t, "We are live", adapter.payloads[0].Caption)
}

func TestPublishAuthErrorKind(t *testing.T) {
	posts := newFakePostRepo(testPost())
	contents := newFakeContentRepo(testContent())
	conns := newFakeConnectionRepo(testConnection(t))
	adapter := &scriptedAdapter{errs: []error{
		&platform.APIError{Platform: models.PlatformTiktok, StatusCode: 401, Message: "expired token"},
	}}
	queue := &fakeEnqueuer{}

	worker := newTestWorker(t, posts, contents, conns, adapter, queue)

	_, err := worker.Publish(context.Background(), testJob())
	require.Error(t, err)

	post := posts.get("post-1")
	assert.Equal(t, models.PostStatusRetry, post.Status)

	entries, err := post.ErrorEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, string(KindAdapterAuthError), entries[0].Kind)
}

package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Payload is the platform-neutral publish payload, built by the worker
// from the content snapshot captured at enqueue time.
type Payload struct {
	Title     string
	Caption   string
	MediaURLs []string
	Hashtags  []string
	Mentions  []string
}

// FullCaption joins caption, mentions and hashtags the way every
// supported platform renders them.
func (p *Payload) FullCaption() string {
	parts := []string{p.Caption}
	if len(p.Mentions) > 0 {
		mentions := make([]string, len(p.Mentions))
		for i, m := range p.Mentions {
			mentions[i] = "@" + strings.TrimPrefix(m, "@")
		}
		parts = append(parts, strings.Join(mentions, " "))
	}
	if len(p.Hashtags) > 0 {
		tags := make([]string, len(p.Hashtags))
		for i, t := range p.Hashtags {
			tags[i] = "#" + strings.TrimPrefix(t, "#")
		}
		parts = append(parts, strings.Join(tags, " "))
	}
	return strings.Join(parts, "\n\n")
}

// Connection carries the decrypted credentials an adapter needs for one
// publish call.
type Connection struct {
	AccountID   string
	AccountName string
	AccessToken string
}

type PublishResult struct {
	PostID  string          `json:"post_id"`
	URL     string          `json:"url"`
	Metrics json.RawMessage `json:"metrics,omitempty"`
}

// Adapter performs the actual publish call against one social platform.
type Adapter interface {
	Platform() string
	Publish(ctx context.Context, conn *Connection, payload *Payload) (*PublishResult, error)
}

// MetricsFetcher is implemented by adapters that can re-poll engagement
// numbers for an already-published post.
type MetricsFetcher interface {
	Metrics(ctx context.Context, conn *Connection, platformPostID string) (json.RawMessage, error)
}

// Token is a refreshed credential pair.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// TokenRefresher is implemented by adapters whose platform hands out
// refreshable tokens.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*Token, error)
}

// APIError is a non-2xx answer from a platform API. Auth failures get a
// distinct kind downstream but are still retried, since a reconnect or
// token refresh can land before the retry window elapses.
type APIError struct {
	Platform   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error (status %d): %s", e.Platform, e.StatusCode, e.Message)
}

func (e *APIError) Auth() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// Registry maps platform names to adapters.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		r.adapters[a.Platform()] = a
	}
	return r
}

func (r *Registry) Get(platform string) (Adapter, bool) {
	a, ok := r.adapters[platform]
	return a, ok
}

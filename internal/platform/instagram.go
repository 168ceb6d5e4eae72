package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/contentpilot/postpilot/internal/models"
)

const instagramGraphURL = "https://graph.instagram.com/v21.0"

type instagramIDResponse struct {
	ID    string `json:"id"`
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// InstagramAdapter publishes through the Graph API's two-step flow:
// create one media container per asset (or a carousel container), then
// publish the container.
type InstagramAdapter struct {
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

func NewInstagramAdapter(clientID, clientSecret string) *InstagramAdapter {
	return &InstagramAdapter{
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{},
	}
}

func (a *InstagramAdapter) Platform() string { return models.PlatformInstagram }

func (a *InstagramAdapter) Publish(ctx context.Context, conn *Connection, payload *Payload) (*PublishResult, error) {
	if len(payload.MediaURLs) == 0 {
		return nil, fmt.Errorf("instagram requires at least one media url")
	}

	var creationID string
	var err error
	if len(payload.MediaURLs) == 1 {
		creationID, err = a.createContainer(ctx, conn, url.Values{
			"image_url": {payload.MediaURLs[0]},
			"caption":   {payload.FullCaption()},
		})
	} else {
		creationID, err = a.createCarousel(ctx, conn, payload)
	}
	if err != nil {
		return nil, err
	}

	mediaID, err := a.publishContainer(ctx, conn, creationID)
	if err != nil {
		return nil, err
	}

	permalink, err := a.permalink(ctx, conn, mediaID)
	if err != nil {
		// The post is live; a missing permalink is not a publish failure.
		slog.Info(err.Error())
	}

	return &PublishResult{PostID: mediaID, URL: permalink}, nil
}

func (a *InstagramAdapter) createCarousel(ctx context.Context, conn *Connection, payload *Payload) (string, error) {
	children := make([]string, 0, len(payload.MediaURLs))
	for _, mediaURL := range payload.MediaURLs {
		childID, err := a.createContainer(ctx, conn, url.Values{
			"image_url":        {mediaURL},
			"is_carousel_item": {"true"},
		})
		if err != nil {
			return "", err
		}
		children = append(children, childID)
	}

	params := url.Values{
		"media_type": {"CAROUSEL"},
		"caption":    {payload.FullCaption()},
	}
	for _, child := range children {
		params.Add("children", child)
	}
	return a.createContainer(ctx, conn, params)
}

func (a *InstagramAdapter) createContainer(ctx context.Context, conn *Connection, params url.Values) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/media", instagramGraphURL, conn.AccountID)
	return a.postForID(ctx, conn, endpoint, params)
}

func (a *InstagramAdapter) publishContainer(ctx context.Context, conn *Connection, creationID string) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/media_publish", instagramGraphURL, conn.AccountID)
	return a.postForID(ctx, conn, endpoint, url.Values{"creation_id": {creationID}})
}

func (a *InstagramAdapter) postForID(ctx context.Context, conn *Connection, endpoint string, params url.Values) (string, error) {
	params.Set("access_token", conn.AccessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result instagramIDResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &APIError{Platform: models.PlatformInstagram, StatusCode: resp.StatusCode, Message: result.Error.Message}
	}

	return result.ID, nil
}

func (a *InstagramAdapter) permalink(ctx context.Context, conn *Connection, mediaID string) (string, error) {
	endpoint := fmt.Sprintf("%s/%s?fields=permalink&access_token=%s", instagramGraphURL, mediaID, url.QueryEscape(conn.AccessToken))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		Permalink string `json:"permalink"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Permalink, nil
}

// Metrics re-polls like/comment counts for a published media id.
func (a *InstagramAdapter) Metrics(ctx context.Context, conn *Connection, platformPostID string) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/%s?fields=like_count,comments_count&access_token=%s",
		instagramGraphURL, platformPostID, url.QueryEscape(conn.AccessToken))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Platform: models.PlatformInstagram, StatusCode: resp.StatusCode, Message: string(body)}
	}
	return json.RawMessage(body), nil
}

// RefreshToken extends an Instagram long-lived token.
func (a *InstagramAdapter) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	endpoint := fmt.Sprintf("https://graph.instagram.com/refresh_access_token?grant_type=ig_refresh_token&access_token=%s",
		url.QueryEscape(refreshToken))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, &APIError{Platform: models.PlatformInstagram, StatusCode: resp.StatusCode, Message: string(msg)}
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	// Instagram long-lived tokens refresh themselves; the same token is
	// both access and refresh credential.
	return &Token{
		AccessToken:  result.AccessToken,
		RefreshToken: result.AccessToken,
		ExpiresAt:    time.Now().Add(time.Duration(result.ExpiresIn) * time.Second),
	}, nil
}

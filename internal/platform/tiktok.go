package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/contentpilot/postpilot/internal/models"
)

const (
	tiktokTokenURL      = "https://open.tiktokapis.com/v2/oauth/token/"
	tiktokVideoInitURL  = "https://open.tiktokapis.com/v2/post/publish/video/init/"
	tiktokPhotoInitURL  = "https://open.tiktokapis.com/v2/post/publish/content/init/"
	tiktokPublishStatus = "https://www.tiktok.com/@%s"
)

type tiktokVideoPostInfo struct {
	Title                 string `json:"title"`
	PrivacyLevel          string `json:"privacy_level"`
	DisableDuet           bool   `json:"disable_duet"`
	DisableComment        bool   `json:"disable_comment"`
	DisableStitch         bool   `json:"disable_stitch"`
	VideoCoverTimestampMs int    `json:"video_cover_timestamp_ms"`
}

type tiktokVideoSourceInfo struct {
	Source   string `json:"source"`
	VideoURL string `json:"video_url"`
}

type tiktokVideoInitRequest struct {
	PostInfo   tiktokVideoPostInfo   `json:"post_info"`
	SourceInfo tiktokVideoSourceInfo `json:"source_info"`
}

type tiktokPhotoPostInfo struct {
	Title          string `json:"title"`
	PrivacyLevel   string `json:"privacy_level"`
	AutoAddMusic   bool   `json:"auto_add_music"`
	DisableComment bool   `json:"disable_comment"`
}

type tiktokPhotoSourceInfo struct {
	Source          string   `json:"source"`
	PhotoCoverIndex int      `json:"photo_cover_index"`
	PhotoImages     []string `json:"photo_images"`
}

type tiktokPhotoInitRequest struct {
	PostInfo   tiktokPhotoPostInfo   `json:"post_info"`
	SourceInfo tiktokPhotoSourceInfo `json:"source_info"`
	PostMode   string                `json:"post_mode"`
	MediaType  string                `json:"media_type"`
}

type tiktokInitResponse struct {
	Data struct {
		PublishID string `json:"publish_id"`
	} `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type tiktokTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// TiktokAdapter publishes by handing TikTok a media URL to pull
// (PULL_FROM_URL), so no bytes pass through the worker.
type TiktokAdapter struct {
	clientKey    string
	clientSecret string
	httpClient   *http.Client
}

func NewTiktokAdapter(clientKey, clientSecret string) *TiktokAdapter {
	return &TiktokAdapter{
		clientKey:    clientKey,
		clientSecret: clientSecret,
		httpClient:   &http.Client{},
	}
}

func (a *TiktokAdapter) Platform() string { return models.PlatformTiktok }

func (a *TiktokAdapter) Publish(ctx context.Context, conn *Connection, payload *Payload) (*PublishResult, error) {
	if len(payload.MediaURLs) == 0 {
		return nil, fmt.Errorf("tiktok requires at least one media url")
	}

	var body any
	endpoint := tiktokVideoInitURL
	if len(payload.MediaURLs) > 1 || isImageURL(payload.MediaURLs[0]) {
		endpoint = tiktokPhotoInitURL
		body = tiktokPhotoInitRequest{
			PostInfo: tiktokPhotoPostInfo{
				Title:        payload.FullCaption(),
				PrivacyLevel: "PUBLIC_TO_EVERYONE",
				AutoAddMusic: true,
			},
			SourceInfo: tiktokPhotoSourceInfo{
				Source:          "PULL_FROM_URL",
				PhotoCoverIndex: 0,
				PhotoImages:     payload.MediaURLs,
			},
			PostMode:  "DIRECT_POST",
			MediaType: "PHOTO",
		}
	} else {
		body = tiktokVideoInitRequest{
			PostInfo: tiktokVideoPostInfo{
				Title:                 payload.FullCaption(),
				PrivacyLevel:          "PUBLIC_TO_EVERYONE",
				VideoCoverTimestampMs: 1000,
			},
			SourceInfo: tiktokVideoSourceInfo{
				Source:   "PULL_FROM_URL",
				VideoURL: payload.MediaURLs[0],
			},
		}
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+conn.AccessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result tiktokInitResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Platform: models.PlatformTiktok, StatusCode: resp.StatusCode, Message: result.Error.Message}
	}

	return &PublishResult{
		PostID: result.Data.PublishID,
		URL:    fmt.Sprintf(tiktokPublishStatus, conn.AccountName),
	}, nil
}

func (a *TiktokAdapter) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	data := url.Values{}
	data.Set("client_key", a.clientKey)
	data.Set("client_secret", a.clientSecret)
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tiktokTokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, &APIError{Platform: models.PlatformTiktok, StatusCode: resp.StatusCode, Message: string(msg)}
	}

	var token tiktokTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, err
	}

	return &Token{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(token.ExpiresIn) * time.Second),
	}, nil
}

func isImageURL(u string) bool {
	lower := strings.ToLower(u)
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".webp"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

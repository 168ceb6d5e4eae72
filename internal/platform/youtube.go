package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/contentpilot/postpilot/internal/models"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// YoutubeAdapter uploads the first media URL as a video. YouTube's API
// takes bytes, not a pull URL, so the file is staged through a temp
// file the way the upload API expects a seekable reader.
type YoutubeAdapter struct {
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

func NewYoutubeAdapter(clientID, clientSecret string) *YoutubeAdapter {
	return &YoutubeAdapter{
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{},
	}
}

func (a *YoutubeAdapter) Platform() string { return models.PlatformYoutube }

func (a *YoutubeAdapter) Publish(ctx context.Context, conn *Connection, payload *Payload) (*PublishResult, error) {
	if len(payload.MediaURLs) == 0 {
		return nil, fmt.Errorf("youtube requires a video url")
	}

	svc, err := a.service(ctx, conn.AccessToken)
	if err != nil {
		return nil, err
	}

	tempFile, err := a.download(ctx, payload.MediaURLs[0])
	if err != nil {
		return nil, err
	}
	defer os.Remove(tempFile)

	file, err := os.Open(tempFile)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       payload.Title,
			Description: payload.FullCaption(),
			CategoryId:  "22",
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus: "public",
		},
	}

	call := svc.Videos.Insert([]string{"snippet", "status"}, video)
	response, err := call.Media(file).Context(ctx).Do()
	if err != nil {
		return nil, err
	}

	return &PublishResult{
		PostID: response.Id,
		URL:    fmt.Sprintf("https://youtu.be/%s", response.Id),
	}, nil
}

// Metrics re-polls view/like/comment statistics for a published video.
func (a *YoutubeAdapter) Metrics(ctx context.Context, conn *Connection, platformPostID string) (json.RawMessage, error) {
	svc, err := a.service(ctx, conn.AccessToken)
	if err != nil {
		return nil, err
	}

	resp, err := svc.Videos.List([]string{"statistics"}).Id(platformPostID).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 || resp.Items[0].Statistics == nil {
		return nil, fmt.Errorf("no statistics for video %s", platformPostID)
	}
	return json.Marshal(resp.Items[0].Statistics)
}

func (a *YoutubeAdapter) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	oauth2Config := &oauth2.Config{
		ClientID:     a.clientID,
		ClientSecret: a.clientSecret,
		Endpoint:     google.Endpoint,
	}

	token, err := oauth2Config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	refreshed := &Token{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = refreshToken
	}
	return refreshed, nil
}

func (a *YoutubeAdapter) service(ctx context.Context, accessToken string) (*youtube.Service, error) {
	token := &oauth2.Token{AccessToken: accessToken}
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
	return youtube.NewService(ctx, option.WithHTTPClient(client))
}

func (a *YoutubeAdapter) download(ctx context.Context, mediaURL string) (string, error) {
	tempFile, err := os.CreateTemp("", "video-*.mp4")
	if err != nil {
		return "", fmt.Errorf("error creating temporary file: %w", err)
	}
	defer tempFile.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("error downloading video: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &APIError{Platform: models.PlatformYoutube, StatusCode: resp.StatusCode, Message: "media download failed"}
	}
	if _, err := io.Copy(tempFile, resp.Body); err != nil {
		return "", err
	}

	return tempFile.Name(), nil
}

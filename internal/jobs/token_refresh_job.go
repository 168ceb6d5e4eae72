package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/contentpilot/postpilot/internal/models"
	"github.com/contentpilot/postpilot/internal/platform"
	"github.com/contentpilot/postpilot/internal/repository"
	"github.com/contentpilot/postpilot/pkg/utils"
)

// TokenRefreshJob refreshes connection tokens shortly before they
// expire. Keeping connections live is what makes the worker's
// connection_inactive failures worth retrying.
type TokenRefreshJob struct {
	connections repository.ConnectionRepository
	adapters    *platform.Registry
	secretKey   []byte
}

func NewTokenRefreshJob(connections repository.ConnectionRepository, adapters *platform.Registry, secretKey string) *TokenRefreshJob {
	return &TokenRefreshJob{
		connections: connections,
		adapters:    adapters,
		secretKey:   []byte(secretKey),
	}
}

func (j *TokenRefreshJob) RefreshTokens() {
	ctx := context.Background()

	currentTime := time.Now()
	timeIn30Minutes := currentTime.Add(30 * time.Minute)

	connections, err := j.connections.ListExpiring(ctx, currentTime, timeIn30Minutes)
	if err != nil {
		slog.Info(err.Error())
		return
	}

	var wg sync.WaitGroup

	concurrencyLimit := 10
	semaphore := make(chan struct{}, concurrencyLimit)

	for _, conn := range connections {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(conn *models.Connection) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if err := j.refresh(ctx, conn); err != nil {
				slog.Info("unable to refresh token", "connection_id", conn.ID, "platform", conn.Platform, "error", err.Error())
			}
		}(conn)
	}

	wg.Wait()
}

func (j *TokenRefreshJob) refresh(ctx context.Context, conn *models.Connection) error {
	adapter, ok := j.adapters.Get(conn.Platform)
	if !ok {
		return nil
	}
	refresher, ok := adapter.(platform.TokenRefresher)
	if !ok {
		return nil
	}

	refreshToken, err := utils.Decrypt(conn.RefreshToken, j.secretKey)
	if err != nil {
		return err
	}

	token, err := refresher.RefreshToken(ctx, refreshToken)
	if err != nil {
		return err
	}

	encryptedAccessToken, err := utils.Encrypt([]byte(token.AccessToken), j.secretKey)
	if err != nil {
		return err
	}
	encryptedRefreshToken, err := utils.Encrypt([]byte(token.RefreshToken), j.secretKey)
	if err != nil {
		return err
	}

	return j.connections.SetToken(ctx, conn.ID, encryptedAccessToken, encryptedRefreshToken, token.ExpiresAt)
}

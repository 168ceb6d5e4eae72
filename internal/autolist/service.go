package autolist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/contentpilot/postpilot/internal/models"
	"github.com/contentpilot/postpilot/internal/repository"
)

var (
	ErrContentNotFound = errors.New("content not found")
	ErrAlreadyQueued   = errors.New("content is already in the autolist queue")
	ErrNotQueued       = errors.New("content is not in the autolist queue")
)

// Service manages AutolistSettings rows: the rotation queue and the
// weekly schedule. Settings are created lazily the first time content
// is added for a brand/platform and never auto-deleted.
type Service struct {
	settings repository.AutolistSettingsRepository
	contents repository.ContentRepository
}

func NewService(settings repository.AutolistSettingsRepository, contents repository.ContentRepository) *Service {
	return &Service{settings: settings, contents: contents}
}

func (s *Service) Get(ctx context.Context, brandID, platform string) (*models.AutolistSettings, error) {
	return s.settings.GetByBrandAndPlatform(ctx, brandID, platform)
}

// AddToQueue appends content to the back of the rotation queue,
// creating the settings row on first use. Duplicates are rejected so
// rotation never needs de-duplication logic.
func (s *Service) AddToQueue(ctx context.Context, brandID, platform, contentID string) (*models.AutolistSettings, error) {
	content, err := s.contents.GetByID(ctx, contentID)
	if err != nil {
		return nil, err
	}
	if content == nil {
		return nil, ErrContentNotFound
	}

	settings, err := s.settings.GetByBrandAndPlatform(ctx, brandID, platform)
	if err != nil {
		return nil, err
	}

	if settings == nil {
		id, err := gonanoid.New()
		if err != nil {
			return nil, err
		}
		settings = &models.AutolistSettings{
			ID:              id,
			BrandID:         brandID,
			Platform:        platform,
			IsEnabled:       true,
			AutoSchedule:    true,
			Timezone:        "UTC",
			QueueContentIDs: []string{contentID},
		}
		if err := s.settings.Create(ctx, settings); err != nil {
			return nil, err
		}
		slog.Info("autolist created", "brand_id", brandID, "platform", platform)
		return settings, nil
	}

	for _, id := range settings.QueueContentIDs {
		if id == contentID {
			return nil, ErrAlreadyQueued
		}
	}

	settings.QueueContentIDs = append(settings.QueueContentIDs, contentID)
	if err := s.settings.Update(ctx, settings); err != nil {
		return nil, err
	}
	return settings, nil
}

func (s *Service) RemoveFromQueue(ctx context.Context, brandID, platform, contentID string) (*models.AutolistSettings, error) {
	settings, err := s.settings.GetByBrandAndPlatform(ctx, brandID, platform)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		return nil, ErrNotQueued
	}

	found := false
	remaining := settings.QueueContentIDs[:0]
	for _, id := range settings.QueueContentIDs {
		if id == contentID {
			found = true
			continue
		}
		remaining = append(remaining, id)
	}
	if !found {
		return nil, ErrNotQueued
	}

	settings.QueueContentIDs = remaining
	if err := s.settings.Update(ctx, settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// UpdateSettings validates and writes the schedule fields.
func (s *Service) UpdateSettings(ctx context.Context, brandID, platform string, isEnabled, autoSchedule bool, postTimes []string, timezone string) (*models.AutolistSettings, error) {
	for _, postTime := range postTimes {
		if _, err := time.Parse("15:04", postTime); err != nil {
			return nil, fmt.Errorf("invalid post time %q: expected HH:MM", postTime)
		}
	}
	if timezone != "" {
		if _, err := time.LoadLocation(timezone); err != nil {
			return nil, fmt.Errorf("invalid timezone %q", timezone)
		}
	}

	settings, err := s.settings.GetByBrandAndPlatform(ctx, brandID, platform)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		id, err := gonanoid.New()
		if err != nil {
			return nil, err
		}
		settings = &models.AutolistSettings{
			ID:       id,
			BrandID:  brandID,
			Platform: platform,
		}
		settings.IsEnabled = isEnabled
		settings.AutoSchedule = autoSchedule
		settings.PostTimes = postTimes
		settings.Timezone = timezone
		if err := s.settings.Create(ctx, settings); err != nil {
			return nil, err
		}
		return settings, nil
	}

	settings.IsEnabled = isEnabled
	settings.AutoSchedule = autoSchedule
	settings.PostTimes = postTimes
	if timezone != "" {
		settings.Timezone = timezone
	}
	if err := s.settings.Update(ctx, settings); err != nil {
		return nil, err
	}
	return settings, nil
}

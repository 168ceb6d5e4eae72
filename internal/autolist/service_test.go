package autolist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentpilot/postpilot/internal/models"
)

func TestAddToQueueCreatesSettingsLazily(t *testing.T) {
	settings := newFakeSettingsRepo()
	contents := newFakeContentRepo(readyContent("a"))
	svc := NewService(settings, contents)

	created, err := svc.AddToQueue(context.Background(), "brand-1", models.PlatformTiktok, "a")
	require.NoError(t, err)
	assert.True(t, created.IsEnabled)
	assert.True(t, created.AutoSchedule)
	assert.Equal(t, "UTC", created.Timezone)
	assert.Equal(t, []string{"a"}, created.QueueContentIDs)
	assert.NotEmpty(t, created.ID)
}

func TestAddToQueueAppendsAndRejectsDuplicates(t *testing.T) {
	settings := newFakeSettingsRepo(enabledSettings("a"))
	contents := newFakeContentRepo(readyContent("a"), readyContent("b"))
	svc := NewService(settings, contents)
	ctx := context.Background()

	updated, err := svc.AddToQueue(ctx, "brand-1", models.PlatformInstagram, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, updated.QueueContentIDs)

	_, err = svc.AddToQueue(ctx, "brand-1", models.PlatformInstagram, "a")
	assert.ErrorIs(t, err, ErrAlreadyQueued)
}

func TestAddToQueueUnknownContent(t *testing.T) {
	svc := NewService(newFakeSettingsRepo(), newFakeContentRepo())
	_, err := svc.AddToQueue(context.Background(), "brand-1", models.PlatformTiktok, "missing")
	assert.ErrorIs(t, err, ErrContentNotFound)
}

func TestRemoveFromQueue(t *testing.T) {
	settings := newFakeSettingsRepo(enabledSettings("a", "b", "c"))
	svc := NewService(settings, newFakeContentRepo())
	ctx := context.Background()

	updated, err := svc.RemoveFromQueue(ctx, "brand-1", models.PlatformInstagram, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, updated.QueueContentIDs)

	_, err = svc.RemoveFromQueue(ctx, "brand-1", models.PlatformInstagram, "b")
	assert.ErrorIs(t, err, ErrNotQueued)

	_, err = svc.RemoveFromQueue(ctx, "brand-2", models.PlatformInstagram, "a")
	assert.ErrorIs(t, err, ErrNotQueued)
}

func TestUpdateSettingsValidation(t *testing.T) {
	svc := NewService(newFakeSettingsRepo(), newFakeContentRepo())
	ctx := context.Background()

	_, err := svc.UpdateSettings(ctx, "brand-1", models.PlatformTiktok, true, true, []string{"25:00"}, "UTC")
	assert.Error(t, err)

	_, err = svc.UpdateSettings(ctx, "brand-1", models.PlatformTiktok, true, true, []string{"09:00"}, "Mars/Olympus")
	assert.Error(t, err)
}

func TestUpdateSettingsCreateAndUpdate(t *testing.T) {
	settings := newFakeSettingsRepo()
	svc := NewService(settings, newFakeContentRepo())
	ctx := context.Background()

	created, err := svc.UpdateSettings(ctx, "brand-1", models.PlatformTiktok, true, false, []string{"09:00", "17:30"}, "Europe/Berlin")
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "17:30"}, created.PostTimes)
	assert.Equal(t, "Europe/Berlin", created.Timezone)
	assert.False(t, created.AutoSchedule)

	// Empty timezone on update keeps the stored one.
	updated, err := svc.UpdateSettings(ctx, "brand-1", models.PlatformTiktok, false, true, []string{"10:00"}, "")
	require.NoError(t, err)
	assert.False(t, updated.IsEnabled)
	assert.Equal(t, "Europe/Berlin", updated.Timezone)
	assert.Equal(t, []string{"10:00"}, updated.PostTimes)
}

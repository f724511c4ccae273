package services

import (
	"context"
	"testing"
	"time"

	"forms-api/internal/apperrors"
	"forms-api/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func createSentEmail(t *testing.T, db *gorm.DB, formID, recipient string) *models.SentEmail {
	t.Helper()
	sent := &models.SentEmail{
		FormID:    formID,
		Channel:   models.ChannelSubmissionConfirmation,
		Recipient: recipient,
		Subject:   "Thanks",
		Status:    models.SentEmailSent,
	}
	require.NoError(t, db.Create(sent).Error)
	return sent
}

func TestTrackingPixelIsPNG(t *testing.T) {
	require.NotEmpty(t, TrackingPixel)
	assert.Equal(t, []byte("\x89PNG"), TrackingPixel[:4])
}

func TestTrackingService_RecordOpen(t *testing.T) {
	db := newTestDB(t)
	tracking := NewTrackingService(db)
	sent := createSentEmail(t, db, "form-1", "ada@example.com")
	ctx := context.Background()

	first := time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	tracking.now = func() time.Time { return first }
	require.NoError(t, tracking.RecordOpen(ctx, sent.ID))
	tracking.now = func() time.Time { return second }
	require.NoError(t, tracking.RecordOpen(ctx, sent.ID))

	got, err := tracking.Get(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.OpenCount)
	assert.Equal(t, 0, got.ClickCount)
	require.NotNil(t, got.FirstOpenedAt)
	require.NotNil(t, got.LastOpenedAt)
	assert.True(t, first.Equal(got.FirstOpenedAt.UTC()), "first open moved to %s", got.FirstOpenedAt)
	assert.True(t, second.Equal(got.LastOpenedAt.UTC()), "last open is %s", got.LastOpenedAt)
}

func TestTrackingService_RecordClick(t *testing.T) {
	db := newTestDB(t)
	tracking := NewTrackingService(db)
	sent := createSentEmail(t, db, "form-1", "ada@example.com")
	ctx := context.Background()

	require.NoError(t, tracking.RecordClick(ctx, sent.ID, "https://example.com/docs"))

	got, err := tracking.Get(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ClickCount)
	assert.Equal(t, 0, got.OpenCount)
	assert.NotNil(t, got.FirstClickedAt)
	assert.Nil(t, got.FirstOpenedAt)
}

func TestTrackingService_UnknownIDIsNoop(t *testing.T) {
	db := newTestDB(t)
	tracking := NewTrackingService(db)
	ctx := context.Background()

	assert.NoError(t, tracking.RecordOpen(ctx, "missing"))
	assert.NoError(t, tracking.RecordClick(ctx, "missing", "https://example.com"))

	_, err := tracking.Get(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

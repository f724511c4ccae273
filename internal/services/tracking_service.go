package services

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"forms-api/internal/apperrors"
	"forms-api/internal/models"
	"forms-api/internal/telemetry"

	"gorm.io/gorm"
)

// TrackingPixel is a 1x1 transparent PNG
var TrackingPixel, _ = base64.StdEncoding.DecodeString(
	"iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg==")

// TrackingService records email opens and clicks
type TrackingService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewTrackingService creates a new tracking service
func NewTrackingService(db *gorm.DB) *TrackingService {
	return &TrackingService{db: db, now: time.Now}
}

// RecordOpen counts one open. An unknown id is not an error.
func (s *TrackingService) RecordOpen(ctx context.Context, sentEmailID string) error {
	now := s.now().UTC()
	err := s.db.WithContext(ctx).Model(&models.SentEmail{}).
		Where("id = ?", sentEmailID).
		UpdateColumns(map[string]interface{}{
			"open_count":      gorm.Expr("open_count + 1"),
			"last_opened_at":  now,
			"first_opened_at": gorm.Expr("COALESCE(first_opened_at, ?)", now),
		}).Error
	return s.result("open", err)
}

// RecordClick counts one click. The target is not stored; callers redirect
// to it whatever the outcome.
func (s *TrackingService) RecordClick(ctx context.Context, sentEmailID, targetURL string) error {
	now := s.now().UTC()
	err := s.db.WithContext(ctx).Model(&models.SentEmail{}).
		Where("id = ?", sentEmailID).
		UpdateColumns(map[string]interface{}{
			"click_count":      gorm.Expr("click_count + 1"),
			"last_clicked_at":  now,
			"first_clicked_at": gorm.Expr("COALESCE(first_clicked_at, ?)", now),
		}).Error
	return s.result("click", err)
}

func (s *TrackingService) result(event string, err error) error {
	if err != nil {
		telemetry.TrackingEventsTotal.WithLabelValues(event, "error").Inc()
		return apperrors.TransientStorage("failed to record "+event, err)
	}
	telemetry.TrackingEventsTotal.WithLabelValues(event, "recorded").Inc()
	return nil
}

// Get returns a sent email by id
func (s *TrackingService) Get(ctx context.Context, sentEmailID string) (*models.SentEmail, error) {
	var sent models.SentEmail
	if err := s.db.WithContext(ctx).First(&sent, "id = ?", sentEmailID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("Sent email not found")
		}
		return nil, apperrors.TransientStorage("failed to load sent email", err)
	}
	return &sent, nil
}

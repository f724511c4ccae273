package services

import (
	"context"
	"strings"

	"forms-api/internal/apperrors"
	"forms-api/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UnsubscribeService records submitter opt-outs
type UnsubscribeService struct {
	db *gorm.DB
}

// NewUnsubscribeService creates a new unsubscribe service
func NewUnsubscribeService(db *gorm.DB) *UnsubscribeService {
	return &UnsubscribeService{db: db}
}

// Unsubscribe opts email out of formID (and campaignID when set). Calling it
// again for the same scope succeeds without changes.
func (s *UnsubscribeService) Unsubscribe(ctx context.Context, email, formID, campaignID string) error {
	email = strings.TrimSpace(email)
	if email == "" || formID == "" {
		return apperrors.Validation("email and formId are required")
	}
	email, err := NormalizeEmail(email)
	if err != nil {
		return apperrors.Validation("invalid email address")
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Submission{}).
			Where("form_id = ? AND email = ?", formID, email).
			Update("unsubscribed", true).Error; err != nil {
			return err
		}

		sent := tx.Model(&models.SentEmail{}).Where("form_id = ? AND recipient = ?", formID, email)
		if campaignID != "" {
			sent = sent.Where("campaign_id = ?", campaignID)
		}
		if err := sent.Update("unsubscribed", true).Error; err != nil {
			return err
		}

		record := models.Unsubscribe{Email: email, FormID: formID, CampaignID: campaignID}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error
	})
	if err != nil {
		return apperrors.TransientStorage("failed to record unsubscribe", err)
	}
	return nil
}

// optedOut reports whether a normalized email opted out of formID
func optedOut(tx *gorm.DB, email, formID string) (bool, error) {
	var count int64
	if err := tx.Model(&models.Unsubscribe{}).
		Where("email = ? AND form_id = ?", email, formID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

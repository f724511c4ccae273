package services

import (
	"context"
	"errors"
	"time"

	"forms-api/internal/apperrors"
	"forms-api/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QuotaDecision is the result of a submission quota check
type QuotaDecision struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
	Limit     int  `json:"limit"`
	Used      int  `json:"used"`
}

// UsageSummary describes a user's current consumption against their plan
type UsageSummary struct {
	Plan        models.Plan  `json:"plan"`
	Quota       models.Quota `json:"quota"`
	Year        int          `json:"year"`
	Month       int          `json:"month"`
	Submissions int          `json:"submissions"`
	Forms       int64        `json:"forms"`
}

// QuotaService enforces plan limits.
//
// Counting policy: the check is a plain read and the increment happens in the
// transaction that stores the submission (Consume). Quota is therefore never
// held for a submission that was not stored. N concurrent requests that all
// pass the check can overshoot the limit by at most N-1; the next request
// sees the overshoot and is rejected.
type QuotaService struct {
	db *gorm.DB
}

// NewQuotaService creates a new quota service
func NewQuotaService(db *gorm.DB) *QuotaService {
	return &QuotaService{db: db}
}

// Period returns the quota bucket for t
func Period(t time.Time) (year, month int) {
	t = t.UTC()
	return t.Year(), int(t.Month())
}

// loadPlan returns the user's plan, or ok=false when the user does not exist
func (s *QuotaService) loadPlan(ctx context.Context, userID string) (models.Plan, bool, error) {
	var user models.User
	err := s.db.WithContext(ctx).Select("id", "plan").First(&user, "id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, apperrors.TransientStorage("failed to load plan", err)
	}
	return user.Plan, true, nil
}

// CheckAndReserve reports whether userID may store one more submission in
// the given period. It creates the period's usage row if it is missing. The
// reservation itself is made by Consume once the submission is stored.
func (s *QuotaService) CheckAndReserve(ctx context.Context, userID string, year, month int) (QuotaDecision, error) {
	plan, ok, err := s.loadPlan(ctx, userID)
	if err != nil {
		return QuotaDecision{}, err
	}
	if !ok {
		// Owner vanished mid-request
		return QuotaDecision{Allowed: false}, nil
	}

	limit := plan.Quota().MaxSubmissionsPerMonth

	usage := models.QuotaUsage{UserID: userID, Year: year, Month: month}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&usage).Error; err != nil {
		return QuotaDecision{}, apperrors.TransientStorage("failed to create usage counter", err)
	}
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND year = ? AND month = ?", userID, year, month).
		First(&usage).Error; err != nil {
		return QuotaDecision{}, apperrors.TransientStorage("failed to read usage counter", err)
	}

	remaining := limit - usage.SubmissionCount
	if remaining < 0 {
		remaining = 0
	}

	return QuotaDecision{
		Allowed:   usage.SubmissionCount < limit,
		Remaining: remaining,
		Limit:     limit,
		Used:      usage.SubmissionCount,
	}, nil
}

// Consume atomically adds one submission to the period counter. It must run
// inside the transaction that inserts the submission.
func (s *QuotaService) Consume(tx *gorm.DB, userID string, year, month int) error {
	usage := models.QuotaUsage{UserID: userID, Year: year, Month: month, SubmissionCount: 1}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "year"}, {Name: "month"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"submission_count": gorm.Expr("quota_usage.submission_count + 1"),
		}),
	}).Create(&usage).Error
}

// CheckFormLimit returns a quota error when userID already owns the maximum
// number of forms for their plan.
func (s *QuotaService) CheckFormLimit(ctx context.Context, userID string) error {
	plan, ok, err := s.loadPlan(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NotFound("User not found")
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Form{}).
		Where("user_id = ?", userID).
		Count(&count).Error; err != nil {
		return apperrors.TransientStorage("failed to count forms", err)
	}
	if count >= int64(plan.Quota().MaxForms) {
		return apperrors.QuotaExceeded("Form limit reached for your plan")
	}
	return nil
}

// Usage summarises the user's consumption for the period containing now
func (s *QuotaService) Usage(ctx context.Context, userID string, now time.Time) (*UsageSummary, error) {
	plan, ok, err := s.loadPlan(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NotFound("User not found")
	}

	year, month := Period(now)
	summary := &UsageSummary{Plan: plan, Quota: plan.Quota(), Year: year, Month: month}

	var usage models.QuotaUsage
	err = s.db.WithContext(ctx).
		Where("user_id = ? AND year = ? AND month = ?", userID, year, month).
		First(&usage).Error
	switch {
	case err == nil:
		summary.Submissions = usage.SubmissionCount
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return nil, apperrors.TransientStorage("failed to read usage counter", err)
	}

	if err := s.db.WithContext(ctx).Model(&models.Form{}).
		Where("user_id = ?", userID).
		Count(&summary.Forms).Error; err != nil {
		return nil, apperrors.TransientStorage("failed to count forms", err)
	}
	return summary, nil
}

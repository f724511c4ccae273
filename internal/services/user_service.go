package services

import (
	"context"
	"errors"
	"strings"

	"forms-api/internal/apperrors"
	"forms-api/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserService manages form owners mirrored from the identity provider
type UserService struct {
	db *gorm.DB
}

// NewUserService creates a new user service
func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

// Upsert creates the user or refreshes email, name and plan
func (s *UserService) Upsert(ctx context.Context, id, email, name string, plan models.Plan) (*models.User, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperrors.Validation("user id is required")
	}
	if !plan.Valid() {
		return nil, apperrors.Validation("unknown plan")
	}

	user := &models.User{ID: id, Email: email, Name: name, Plan: plan}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "name", "plan", "updated_at"}),
	}).Create(user).Error; err != nil {
		return nil, apperrors.TransientStorage("failed to save user", err)
	}
	return s.Get(ctx, id)
}

// Ensure creates the user on first sight with the FREE plan. Existing users
// keep their plan; email and name are refreshed when provided.
func (s *UserService) Ensure(ctx context.Context, id, email, name string) (*models.User, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperrors.Validation("user id is required")
	}

	user := &models.User{ID: id, Email: email, Name: name, Plan: models.PlanFree}
	onConflict := clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}
	if email != "" {
		onConflict = clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"email", "name", "updated_at"}),
		}
	}
	if err := s.db.WithContext(ctx).Clauses(onConflict).Create(user).Error; err != nil {
		return nil, apperrors.TransientStorage("failed to save user", err)
	}
	return s.Get(ctx, id)
}

// Get loads a user by id
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("User not found")
		}
		return nil, apperrors.TransientStorage("failed to load user", err)
	}
	return &user, nil
}

// SetPlan changes a user's plan
func (s *UserService) SetPlan(ctx context.Context, id string, plan models.Plan) error {
	if !plan.Valid() {
		return apperrors.Validation("unknown plan")
	}
	result := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("plan", plan)
	if result.Error != nil {
		return apperrors.TransientStorage("failed to update plan", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.NotFound("User not found")
	}
	return nil
}

// Delete removes a user and everything they own: forms (with their
// submissions and logs), API keys and usage counters.
func (s *UserService) Delete(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Select("id").First(&user, "id = ?", id).Error; err != nil {
			return err
		}

		var formIDs []string
		if err := tx.Model(&models.Form{}).Where("user_id = ?", id).Pluck("id", &formIDs).Error; err != nil {
			return err
		}
		for _, formID := range formIDs {
			if err := deleteFormCascade(tx, formID); err != nil {
				return err
			}
		}

		if err := tx.Where("user_id = ?", id).Delete(&models.APIKey{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&models.QuotaUsage{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.User{}, "id = ?", id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NotFound("User not found")
		}
		return apperrors.TransientStorage("failed to delete user", err)
	}
	return nil
}

package services

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"forms-api/internal/apperrors"
	"forms-api/internal/models"
	"forms-api/pkg/logging"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CreateFormInput holds the fields accepted when creating a form
type CreateFormInput struct {
	Name     string
	FormType string
	Schema   string
	Settings models.FormSettings
}

// FormService manages forms and their derived attributes
type FormService struct {
	db     *gorm.DB
	quotas *QuotaService
}

// NewFormService creates a new form service
func NewFormService(db *gorm.DB, quotas *QuotaService) *FormService {
	return &FormService{db: db, quotas: quotas}
}

// ValidateSettings checks the user-editable parts of form settings and
// normalizes the developer address in place
func ValidateSettings(settings *models.FormSettings) error {
	if e := strings.TrimSpace(settings.Email.DeveloperEmail); e != "" {
		addr, err := NormalizeEmail(e)
		if err != nil {
			return apperrors.Validation("developer_email is not a valid email address")
		}
		settings.Email.DeveloperEmail = addr
	}

	hook := settings.Webhook
	if hook.URL != "" {
		u, err := url.Parse(hook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return apperrors.Validation("webhook url must be an http(s) URL")
		}
	}
	switch hook.Kind {
	case "", models.WebhookKindGeneric, models.WebhookKindSlack, models.WebhookKindDiscord:
	default:
		return apperrors.Validation("webhook kind must be generic, slack or discord")
	}
	return nil
}

// Create stores a new form. An explicit form type wins; otherwise the type is
// derived from the schema once and stored.
func (s *FormService) Create(ctx context.Context, userID string, in CreateFormInput) (*models.Form, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperrors.Validation("form name is required")
	}

	formType, ok := models.ParseFormType(in.FormType)
	if !ok {
		return nil, apperrors.Validation("form_type must be WAITLIST, FEEDBACK, CONTACT or CUSTOM")
	}
	if formType == "" {
		formType = ResolveFormType(in.Schema)
	}

	if err := ValidateSettings(&in.Settings); err != nil {
		return nil, err
	}

	if err := s.quotas.CheckFormLimit(ctx, userID); err != nil {
		return nil, err
	}

	form := &models.Form{
		UserID:   userID,
		Name:     name,
		FormType: formType,
		Schema:   in.Schema,
		Settings: datatypes.NewJSONType(in.Settings),
	}
	if err := s.db.WithContext(ctx).Create(form).Error; err != nil {
		return nil, apperrors.TransientStorage("failed to create form", err)
	}
	return form, nil
}

// Get loads a form by id regardless of owner
func (s *FormService) Get(ctx context.Context, formID string) (*models.Form, error) {
	var form models.Form
	if err := s.db.WithContext(ctx).First(&form, "id = ?", formID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("Form not found")
		}
		return nil, apperrors.TransientStorage("failed to load form", err)
	}
	return &form, nil
}

// GetOwned loads a form that belongs to userID. Forms of other users are
// reported as not found.
func (s *FormService) GetOwned(ctx context.Context, userID, formID string) (*models.Form, error) {
	form, err := s.Get(ctx, formID)
	if err != nil {
		return nil, err
	}
	if form.UserID != userID {
		return nil, apperrors.NotFound("Form not found")
	}
	return form, nil
}

// List returns the forms of a user, newest first
func (s *FormService) List(ctx context.Context, userID string) ([]models.Form, error) {
	var forms []models.Form
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&forms).Error; err != nil {
		return nil, apperrors.TransientStorage("failed to list forms", err)
	}
	return forms, nil
}

// UpdateSettings replaces the settings of an owned form
func (s *FormService) UpdateSettings(ctx context.Context, userID, formID string, settings models.FormSettings) (*models.Form, error) {
	if err := ValidateSettings(&settings); err != nil {
		return nil, err
	}
	form, err := s.GetOwned(ctx, userID, formID)
	if err != nil {
		return nil, err
	}

	form.Settings = datatypes.NewJSONType(settings)
	if err := s.db.WithContext(ctx).Model(form).Update("settings", form.Settings).Error; err != nil {
		return nil, apperrors.TransientStorage("failed to update form settings", err)
	}
	return form, nil
}

// EnsureFormType derives and stores the type of a form that has none yet.
// Forms that already carry a type are left untouched.
func (s *FormService) EnsureFormType(ctx context.Context, form *models.Form) (models.FormType, error) {
	if form.FormType.Valid() {
		return form.FormType, nil
	}

	resolved := ResolveFormType(form.Schema)
	result := s.db.WithContext(ctx).Model(&models.Form{}).
		Where("id = ? AND (form_type IS NULL OR form_type = '')", form.ID).
		Update("form_type", resolved)
	if result.Error != nil {
		return "", apperrors.TransientStorage("failed to store form type", result.Error)
	}
	if result.RowsAffected == 0 {
		// Another request stored it first; keep whatever won
		var stored models.Form
		if err := s.db.WithContext(ctx).Select("id", "form_type").First(&stored, "id = ?", form.ID).Error; err != nil {
			return "", apperrors.TransientStorage("failed to reload form type", err)
		}
		resolved = stored.FormType
	}

	logging.Infof("Form type resolved - form: %s, type: %s", form.ID, resolved)
	form.FormType = resolved
	return resolved, nil
}

// UsersJoined returns the submission count of an owned form when the form
// exposes it publicly, and 0 otherwise.
func (s *FormService) UsersJoined(ctx context.Context, userID, formID string) (int64, error) {
	form, err := s.GetOwned(ctx, userID, formID)
	if err != nil {
		return 0, err
	}
	if !form.Settings.Data().ShowUsersJoined {
		return 0, nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Submission{}).
		Where("form_id = ?", formID).
		Count(&count).Error; err != nil {
		return 0, apperrors.TransientStorage("failed to count submissions", err)
	}
	return count, nil
}

// Delete removes an owned form together with its submissions, notification
// logs, sent emails and unsubscribe records.
func (s *FormService) Delete(ctx context.Context, userID, formID string) error {
	if _, err := s.GetOwned(ctx, userID, formID); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteFormCascade(tx, formID)
	})
	if err != nil {
		return apperrors.TransientStorage("failed to delete form", err)
	}
	return nil
}

// deleteFormCascade deletes a form and every row that hangs off it. It must
// run inside a transaction.
func deleteFormCascade(tx *gorm.DB, formID string) error {
	submissionIDs := tx.Model(&models.Submission{}).Select("id").Where("form_id = ?", formID)

	if err := tx.Where("submission_id IN (?)", submissionIDs).Delete(&models.NotificationLog{}).Error; err != nil {
		return err
	}
	if err := tx.Where("form_id = ?", formID).Delete(&models.SentEmail{}).Error; err != nil {
		return err
	}
	if err := tx.Where("form_id = ?", formID).Delete(&models.Unsubscribe{}).Error; err != nil {
		return err
	}
	if err := tx.Where("form_id = ?", formID).Delete(&models.Submission{}).Error; err != nil {
		return err
	}
	return tx.Delete(&models.Form{}, "id = ?", formID).Error
}

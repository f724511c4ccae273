package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"forms-api/internal/apperrors"
	"forms-api/internal/models"
	"forms-api/internal/safego"
	"forms-api/pkg/logging"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	// APIKeyPrefix marks secrets issued by this service
	APIKeyPrefix = "fk"

	// apiKeyRandomBytes is the entropy of the secret part
	apiKeyRandomBytes = 32

	// KeyPrefixLength is the number of leading characters stored in clear
	KeyPrefixLength = 12

	lastUsedTimeout = 5 * time.Second
)

// KeyValidation is the outcome of checking a presented API key
type KeyValidation struct {
	Valid       bool
	OwnerUserID string
	KeyID       string
}

// APIKeyService issues and validates API keys
type APIKeyService struct {
	db       *gorm.DB
	hashCost int
}

// NewAPIKeyService creates a new API key service. hashCost is the bcrypt cost.
func NewAPIKeyService(db *gorm.DB, hashCost int) *APIKeyService {
	return &APIKeyService{db: db, hashCost: hashCost}
}

// keyPrefix returns the indexed lookup prefix of a presented secret
func keyPrefix(key string) string {
	if len(key) > KeyPrefixLength {
		return key[:KeyPrefixLength]
	}
	return key
}

// Generate creates a key for userID. The plaintext secret is returned once
// and never stored.
func (s *APIKeyService) Generate(ctx context.Context, userID, name string) (*models.APIKey, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", apperrors.Validation("API key name is required")
	}

	var user models.User
	if err := s.db.WithContext(ctx).Select("id").First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", apperrors.NotFound("User not found")
		}
		return nil, "", apperrors.TransientStorage("failed to load user", err)
	}

	// A prefix collision is astronomically unlikely but the unique index
	// would reject it, so try again with fresh randomness.
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		secret, err := newSecret()
		if err != nil {
			return nil, "", fmt.Errorf("failed to generate API key: %w", err)
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.hashCost)
		if err != nil {
			return nil, "", fmt.Errorf("failed to hash API key: %w", err)
		}

		key := &models.APIKey{
			UserID:    userID,
			Name:      name,
			KeyHash:   string(hash),
			KeyPrefix: keyPrefix(secret),
			IsActive:  true,
		}
		if lastErr = s.db.WithContext(ctx).Create(key).Error; lastErr == nil {
			return key, secret, nil
		}
		if !errors.Is(lastErr, gorm.ErrDuplicatedKey) {
			break
		}
	}

	return nil, "", apperrors.TransientStorage("failed to store API key", lastErr)
}

func newSecret() (string, error) {
	b := make([]byte, apiKeyRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return APIKeyPrefix + "_" + base64.RawURLEncoding.EncodeToString(b), nil
}

// Validate checks a presented key. A storage failure is returned as a
// transient error and is never reported as an invalid key.
func (s *APIKeyService) Validate(ctx context.Context, presented string) (KeyValidation, error) {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return KeyValidation{}, nil
	}

	var candidates []models.APIKey
	if err := s.db.WithContext(ctx).
		Where("key_prefix = ?", keyPrefix(presented)).
		Find(&candidates).Error; err != nil {
		return KeyValidation{}, apperrors.TransientStorage("failed to look up API key", err)
	}

	for _, key := range candidates {
		if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(presented)) != nil {
			continue
		}
		if !key.IsActive {
			return KeyValidation{}, nil
		}

		s.touchLastUsed(key.ID)
		return KeyValidation{Valid: true, OwnerUserID: key.UserID, KeyID: key.ID}, nil
	}

	return KeyValidation{}, nil
}

// touchLastUsed records key usage in the background. Failures are logged only.
func (s *APIKeyService) touchLastUsed(keyID string) {
	safego.Go("api_key_last_used", func() {
		ctx, cancel := context.WithTimeout(context.Background(), lastUsedTimeout)
		defer cancel()

		now := time.Now().UTC()
		if err := s.db.WithContext(ctx).Model(&models.APIKey{}).
			Where("id = ?", keyID).
			Update("last_used_at", &now).Error; err != nil {
			logging.Warnf("Failed to update API key last used - key: %s, error: %v", keyID, err)
		}
	})
}

// List returns all keys of a user, newest first
func (s *APIKeyService) List(ctx context.Context, userID string) ([]models.APIKey, error) {
	var keys []models.APIKey
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&keys).Error; err != nil {
		return nil, apperrors.TransientStorage("failed to list API keys", err)
	}
	return keys, nil
}

// Revoke deactivates a key. The row is kept for audit.
func (s *APIKeyService) Revoke(ctx context.Context, userID, keyID string) error {
	result := s.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ? AND user_id = ?", keyID, userID).
		Update("is_active", false)
	if result.Error != nil {
		return apperrors.TransientStorage("failed to revoke API key", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.NotFound("API key not found")
	}
	return nil
}

// Delete removes a key permanently
func (s *APIKeyService) Delete(ctx context.Context, userID, keyID string) error {
	result := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", keyID, userID).
		Delete(&models.APIKey{})
	if result.Error != nil {
		return apperrors.TransientStorage("failed to delete API key", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.NotFound("API key not found")
	}
	return nil
}

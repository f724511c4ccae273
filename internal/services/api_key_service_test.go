package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"forms-api/internal/apperrors"
	"forms-api/internal/models"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

func TestAPIKeyService_GenerateAndValidate(t *testing.T) {
	db := newTestDB(t)
	user := createUser(t, db, models.PlanFree)
	keys := newTestKeys(db)
	ctx := context.Background()

	key, secret, err := keys.Generate(ctx, user.ID, "widget")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(secret, APIKeyPrefix+"_"))
	assert.Equal(t, secret[:KeyPrefixLength], key.KeyPrefix)
	assert.NotContains(t, key.KeyHash, secret)
	assert.True(t, key.IsActive)

	result, err := keys.Validate(ctx, secret)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, user.ID, result.OwnerUserID)
	assert.Equal(t, key.ID, result.KeyID)
}

func TestAPIKeyService_ValidateUpdatesLastUsed(t *testing.T) {
	db := newTestDB(t)
	user := createUser(t, db, models.PlanFree)
	keys := newTestKeys(db)
	ctx := context.Background()

	key, secret, err := keys.Generate(ctx, user.ID, "widget")
	require.NoError(t, err)
	require.Nil(t, key.LastUsedAt)

	_, err = keys.Validate(ctx, secret)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		var stored models.APIKey
		if err := db.First(&stored, "id = ?", key.ID).Error; err != nil {
			return false
		}
		return stored.LastUsedAt != nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestAPIKeyService_ValidateRejects(t *testing.T) {
	db := newTestDB(t)
	user := createUser(t, db, models.PlanFree)
	keys := newTestKeys(db)
	ctx := context.Background()

	_, secret, err := keys.Generate(ctx, user.ID, "widget")
	require.NoError(t, err)

	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"unknown", "fk_doesnotexistatall"},
		{"right prefix wrong secret", secret[:KeyPrefixLength] + "tampered"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := keys.Validate(ctx, tt.key)
			require.NoError(t, err)
			assert.False(t, result.Valid)
			assert.Empty(t, result.OwnerUserID)
		})
	}
}

func TestAPIKeyService_RevokedKeyIsInvalid(t *testing.T) {
	db := newTestDB(t)
	user := createUser(t, db, models.PlanFree)
	keys := newTestKeys(db)
	ctx := context.Background()

	key, secret, err := keys.Generate(ctx, user.ID, "widget")
	require.NoError(t, err)

	require.NoError(t, keys.Revoke(ctx, user.ID, key.ID))

	// The stored hash still matches the secret
	var stored models.APIKey
	require.NoError(t, db.First(&stored, "id = ?", key.ID).Error)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.KeyHash), []byte(secret)))
	assert.False(t, stored.IsActive)

	result, err := keys.Validate(ctx, secret)
	require.NoError(t, err)
	assert.False(t, result.Valid)
}

func TestAPIKeyService_OwnerScoping(t *testing.T) {
	db := newTestDB(t)
	owner := createUser(t, db, models.PlanFree)
	other := createUser(t, db, models.PlanFree)
	keys := newTestKeys(db)
	ctx := context.Background()

	key, _, err := keys.Generate(ctx, owner.ID, "widget")
	require.NoError(t, err)

	assert.ErrorIs(t, keys.Revoke(ctx, other.ID, key.ID), apperrors.ErrNotFound)
	assert.ErrorIs(t, keys.Delete(ctx, other.ID, key.ID), apperrors.ErrNotFound)

	list, err := keys.List(ctx, other.ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, keys.Delete(ctx, owner.ID, key.ID))
	list, err = keys.List(ctx, owner.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAPIKeyService_GenerateValidation(t *testing.T) {
	db := newTestDB(t)
	keys := newTestKeys(db)
	ctx := context.Background()

	_, _, err := keys.Generate(ctx, "missing-user", "widget")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	user := createUser(t, db, models.PlanFree)
	_, _, err = keys.Generate(ctx, user.ID, "  ")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestAPIKeyService_StorageFailureIsTransient(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: true},
	})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT .* FROM "api_key"`).WillReturnError(errors.New("connection refused"))

	result, err := newTestKeys(db).Validate(context.Background(), "fk_abcdefghijklmnop")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrTransientStorage)
	assert.NotErrorIs(t, err, apperrors.ErrAuth)
	assert.False(t, result.Valid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

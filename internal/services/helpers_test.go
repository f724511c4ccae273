package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"forms-api/internal/database"
	"forms-api/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// newTestDB opens a private in-memory SQLite database with the full schema
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func createUser(t *testing.T, db *gorm.DB, plan models.Plan) *models.User {
	t.Helper()
	user := &models.User{ID: "user-" + uuid.NewString(), Email: "owner@example.com", Name: "Owner", Plan: plan}
	require.NoError(t, db.Create(user).Error)
	return user
}

func createForm(t *testing.T, db *gorm.DB, userID string, formType models.FormType, settings models.FormSettings) *models.Form {
	t.Helper()
	form := &models.Form{
		UserID:   userID,
		Name:     "Launch list",
		FormType: formType,
		Schema:   `{"email":"","name":""}`,
		Settings: datatypes.NewJSONType(settings),
	}
	require.NoError(t, db.Create(form).Error)
	return form
}

func createSubmission(t *testing.T, db *gorm.DB, formID, email string) *models.Submission {
	t.Helper()
	submission := &models.Submission{
		FormID:    formID,
		Email:     email,
		Data:      datatypes.JSONMap{"name": "Ada", "email": email},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, db.Create(submission).Error)
	return submission
}

func newTestKeys(db *gorm.DB) *APIKeyService {
	return NewAPIKeyService(db, bcrypt.MinCost)
}

// fakeMailer records sent emails and can be told to fail or stall
type fakeMailer struct {
	mu    sync.Mutex
	sent  []Email
	err   error
	delay time.Duration
}

func (m *fakeMailer) Send(ctx context.Context, email Email) (string, error) {
	if m.delay > 0 {
		// Ignores ctx on purpose to model a provider that hangs
		time.Sleep(m.delay)
	}
	if m.err != nil {
		return "", m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, email)
	return "msg-" + uuid.NewString(), nil
}

func (m *fakeMailer) Sent() []Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Email(nil), m.sent...)
}

// memoryIdempotency is an in-process IdempotencyStore
type memoryIdempotency struct {
	mu      sync.Mutex
	entries map[string]string
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{entries: map[string]string{}}
}

func (m *memoryIdempotency) Claim(_ context.Context, scope, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.entries[scope+":"+key]
	if !ok {
		m.entries[scope+":"+key] = pendingMarker
		return "", nil
	}
	if existing == pendingMarker {
		return "", ErrIdempotencyInFlight
	}
	return existing, nil
}

func (m *memoryIdempotency) Complete(_ context.Context, scope, key, submissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[scope+":"+key] = submissionID
	return nil
}

func (m *memoryIdempotency) Release(_ context.Context, scope, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, scope+":"+key)
	return nil
}

// recordingAnalytics captures events for assertions
type recordingAnalytics struct {
	mu     sync.Mutex
	events []AnalyticsEvent
}

func (a *recordingAnalytics) Capture(_ context.Context, event AnalyticsEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *recordingAnalytics) Events() []AnalyticsEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]AnalyticsEvent(nil), a.events...)
}

var errProviderDown = errors.New("provider unavailable")

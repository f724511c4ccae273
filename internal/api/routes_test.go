package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"forms-api/internal/database"
	"forms-api/internal/middleware"
	"forms-api/internal/models"
	"forms-api/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const testJWTSecret = "test-owner-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router *gin.Engine
	db     *gorm.DB
}

func newTestServer(t *testing.T, limiter middleware.Limiter) *testServer {
	t.Helper()
	db, err := database.OpenSQLite("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	keys := services.NewAPIKeyService(db, bcrypt.MinCost)
	users := services.NewUserService(db)
	quotas := services.NewQuotaService(db)
	forms := services.NewFormService(db, quotas)
	submissions := services.NewSubmissionService(db, quotas, 4096)
	dispatcher := services.NewDispatcher(db, services.LogMailer{}, services.NewWebhookNotifier(), services.NewTemplateRenderer(), services.DispatcherConfig{
		FromEmail:      "noreply@forms.test",
		FromName:       "Forms",
		PublicBaseURL:  "https://forms.test",
		ChannelTimeout: time.Second,
	})

	h := &Handler{
		Intake:       services.NewIntakeService(keys, forms, quotas, submissions, dispatcher),
		Keys:         keys,
		Users:        users,
		Forms:        forms,
		Quotas:       quotas,
		Submissions:  submissions,
		Dispatcher:   dispatcher,
		Tracking:     services.NewTrackingService(db),
		Unsubscribes: services.NewUnsubscribeService(db),
		MaxBodyBytes: 8192,
	}

	r := gin.New()
	SetupRoutes(r, h, RouterConfig{OwnerJWTSecret: testJWTSecret, Limiter: limiter})
	return &testServer{router: r, db: db}
}

func ownerToken(t *testing.T, subject string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.OwnerClaims{
		Email: subject + "@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return token
}

func (s *testServer) do(method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) owner(t *testing.T, subject, method, path string, body interface{}) *httptest.ResponseRecorder {
	return s.do(method, path, body, map[string]string{"Authorization": "Bearer " + ownerToken(t, subject)})
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

// setupForm creates a form and an API key for subject through the owner API
func (s *testServer) setupForm(t *testing.T, subject string, form CreateFormRequest) (formID, secret string) {
	t.Helper()
	w := s.owner(t, subject, http.MethodPost, "/api/owner/forms", form)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created models.Form
	decode(t, w, &created)

	w = s.owner(t, subject, http.MethodPost, "/api/owner/api-keys", CreateAPIKeyRequest{Name: "widget"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var key CreateAPIKeyResponse
	decode(t, w, &key)
	return created.ID, key.Secret
}

func TestSubmissionFlow(t *testing.T) {
	s := newTestServer(t, nil)
	formID, secret := s.setupForm(t, "dev-1", CreateFormRequest{
		Name:   "Launch",
		Schema: `{"email":"","name":""}`,
		Settings: models.FormSettings{
			ShowUsersJoined: true,
			Email:           models.EmailSettings{ConfirmationEnabled: true},
		},
	})

	w := s.do(http.MethodPost, "/api/submissions",
		map[string]interface{}{"formId": formID, "data": map[string]interface{}{"name": "Ada"}, "email": "ada@example.com"},
		map[string]string{middleware.APIKeyHeader: secret})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created CreateSubmissionResponse
	decode(t, w, &created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, formID, created.FormID)

	// Public counter
	w = s.do(http.MethodGet, "/api/forms/"+formID+"/users-joined", nil, map[string]string{middleware.APIKeyHeader: secret})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"formId":"`+formID+`","count":1}`, w.Body.String())

	// Owner views
	w = s.owner(t, "dev-1", http.MethodGet, "/api/owner/forms/"+formID+"/submissions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Submissions []models.Submission `json:"submissions"`
		Total       int64               `json:"total"`
	}
	decode(t, w, &listed)
	assert.Equal(t, int64(1), listed.Total)
	require.Len(t, listed.Submissions, 1)
	assert.Equal(t, "Ada", listed.Submissions[0].Data["name"])

	w = s.owner(t, "dev-1", http.MethodGet, "/api/owner/submissions/"+created.ID+"/notifications", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history struct {
		Notifications []models.NotificationLog `json:"notifications"`
	}
	decode(t, w, &history)
	require.Len(t, history.Notifications, len(models.Channels))
	for _, n := range history.Notifications {
		assert.NotEqual(t, models.NotificationPending, n.Status)
	}

	w = s.owner(t, "dev-1", http.MethodPost, "/api/owner/submissions/"+created.ID+"/redeliver", RedeliverRequest{Channel: models.ChannelSubmissionConfirmation})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var entry models.NotificationLog
	decode(t, w, &entry)
	assert.Equal(t, models.NotificationSent, entry.Status)

	w = s.owner(t, "dev-1", http.MethodGet, "/api/owner/forms/"+formID+"/submissions/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "id,email,created_at,unsubscribed,name\n"), w.Body.String())

	w = s.owner(t, "dev-1", http.MethodGet, "/api/owner/usage", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var usage services.UsageSummary
	decode(t, w, &usage)
	assert.Equal(t, 1, usage.Submissions)
	assert.Equal(t, models.PlanFree, usage.Plan)
}

func TestCreateSubmission_Errors(t *testing.T) {
	s := newTestServer(t, nil)
	formID, secret := s.setupForm(t, "dev-1", CreateFormRequest{Name: "Launch"})
	otherFormID, _ := s.setupForm(t, "dev-2", CreateFormRequest{Name: "Theirs"})
	withKey := map[string]string{middleware.APIKeyHeader: secret}

	tests := []struct {
		name    string
		body    interface{}
		headers map[string]string
		status  int
	}{
		{"missing key", map[string]interface{}{"formId": formID, "data": map[string]interface{}{}}, nil, http.StatusUnauthorized},
		{"invalid key", map[string]interface{}{"formId": formID, "data": map[string]interface{}{}}, map[string]string{middleware.APIKeyHeader: "fk_nope"}, http.StatusUnauthorized},
		{"malformed json", `{"formId":`, withKey, http.StatusBadRequest},
		{"missing data", map[string]interface{}{"formId": formID}, withKey, http.StatusBadRequest},
		{"bad email", map[string]interface{}{"formId": formID, "data": map[string]interface{}{}, "email": "nope"}, withKey, http.StatusBadRequest},
		{"other owner's form", map[string]interface{}{"formId": otherFormID, "data": map[string]interface{}{}}, withKey, http.StatusNotFound},
		{"body too large", map[string]interface{}{"formId": formID, "data": map[string]interface{}{"blob": strings.Repeat("x", 10000)}}, withKey, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(http.MethodPost, "/api/submissions", tt.body, tt.headers)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			var body map[string]string
			decode(t, w, &body)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestCreateSubmission_QuotaExceeded(t *testing.T) {
	s := newTestServer(t, nil)
	formID, secret := s.setupForm(t, "dev-1", CreateFormRequest{Name: "Launch"})
	year, month := services.Period(time.Now())
	require.NoError(t, s.db.Create(&models.QuotaUsage{UserID: "dev-1", Year: year, Month: month, SubmissionCount: 200}).Error)

	w := s.do(http.MethodPost, "/api/submissions",
		map[string]interface{}{"formId": formID, "data": map[string]interface{}{"name": "Ada"}},
		map[string]string{middleware.APIKeyHeader: secret})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"error":"Monthly submission limit reached for this plan"}`, w.Body.String())
}

func TestOwnerAPI_CrossTenant(t *testing.T) {
	s := newTestServer(t, nil)
	formID, _ := s.setupForm(t, "dev-1", CreateFormRequest{Name: "Launch"})

	assert.Equal(t, http.StatusNotFound, s.owner(t, "dev-2", http.MethodGet, "/api/owner/forms/"+formID, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.owner(t, "dev-2", http.MethodDelete, "/api/owner/forms/"+formID, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.owner(t, "dev-2", http.MethodGet, "/api/owner/forms/"+formID+"/submissions", nil).Code)
	assert.Equal(t, http.StatusOK, s.owner(t, "dev-1", http.MethodGet, "/api/owner/forms/"+formID, nil).Code)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/owner/forms", nil, nil).Code)
}

func TestOwnerAPI_FormsAndKeys(t *testing.T) {
	s := newTestServer(t, nil)
	formID, secret := s.setupForm(t, "dev-1", CreateFormRequest{Name: "Launch", FormType: "contact"})

	w := s.owner(t, "dev-1", http.MethodPatch, "/api/owner/forms/"+formID+"/settings", models.FormSettings{
		Webhook: models.WebhookSettings{URL: "https://hooks.example.com/x", Kind: models.WebhookKindSlack},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.owner(t, "dev-1", http.MethodPatch, "/api/owner/forms/"+formID+"/settings", models.FormSettings{
		Webhook: models.WebhookSettings{URL: "javascript:alert(1)"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.owner(t, "dev-1", http.MethodGet, "/api/owner/forms", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Forms []models.Form `json:"forms"`
	}
	decode(t, w, &listed)
	require.Len(t, listed.Forms, 1)
	assert.Equal(t, models.FormTypeContact, listed.Forms[0].FormType)
	assert.Equal(t, models.WebhookKindSlack, listed.Forms[0].Settings.Data().Webhook.Kind)

	w = s.owner(t, "dev-1", http.MethodGet, "/api/owner/api-keys", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), secret)
	var keys struct {
		APIKeys []models.APIKey `json:"api_keys"`
	}
	decode(t, w, &keys)
	require.Len(t, keys.APIKeys, 1)

	w = s.owner(t, "dev-1", http.MethodPost, "/api/owner/api-keys/"+keys.APIKeys[0].ID+"/revoke", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodPost, "/api/submissions",
		map[string]interface{}{"formId": formID, "data": map[string]interface{}{"x": 1}},
		map[string]string{middleware.APIKeyHeader: secret})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	assert.Equal(t, http.StatusOK, s.owner(t, "dev-1", http.MethodDelete, "/api/owner/api-keys/"+keys.APIKeys[0].ID, nil).Code)
	assert.Equal(t, http.StatusOK, s.owner(t, "dev-1", http.MethodDelete, "/api/owner/forms/"+formID, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.owner(t, "dev-1", http.MethodGet, "/api/owner/forms/"+formID, nil).Code)
}

func TestTrackingEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	sent := &models.SentEmail{FormID: "form-1", Recipient: "ada@example.com", Status: models.SentEmailSent}
	require.NoError(t, s.db.Create(sent).Error)

	w := s.do(http.MethodGet, "/api/track/open?sentEmailId="+sent.ID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, services.TrackingPixel, w.Body.Bytes())
	assert.Contains(t, w.Header().Get("Cache-Control"), "no-store")

	// Unknown ids still get the pixel
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/track/open?sentEmailId=missing", nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/track/open", nil, nil).Code)

	w = s.do(http.MethodGet, "/api/track/click?sentEmailId="+sent.ID+"&url=https%3A%2F%2Fexample.com%2Fdocs", nil, nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://example.com/docs", w.Header().Get("Location"))

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/track/click?sentEmailId="+sent.ID+"&url=javascript%3Aalert(1)", nil, nil).Code)

	var stored models.SentEmail
	require.NoError(t, s.db.First(&stored, "id = ?", sent.ID).Error)
	assert.Equal(t, 1, stored.OpenCount)
	assert.Equal(t, 1, stored.ClickCount)
}

func TestUnsubscribeEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(http.MethodGet, "/api/unsubscribe?email=ada%40example.com&formId=form-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())

	// Repeating is fine
	assert.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/unsubscribe?email=ada%40example.com&formId=form-1", nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/unsubscribe?formId=form-1", nil, nil).Code)
}

func TestPublicRateLimit(t *testing.T) {
	limiter := middleware.NewLocalLimiter(2)
	defer limiter.Stop()
	s := newTestServer(t, limiter)

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/track/open", nil, nil).Code)
	}
	w := s.do(http.MethodGet, "/api/track/open", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// Owner routes are not rate limited
	assert.Equal(t, http.StatusOK, s.owner(t, "dev-1", http.MethodGet, "/api/owner/forms", nil).Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health", nil, nil).Code)

	r := gin.New()
	SetupRoutes(r, &Handler{HealthCheck: func(context.Context) error { return errors.New("db down") }}, RouterConfig{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

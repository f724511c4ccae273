package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"forms-api/internal/models"
	"forms-api/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "owner-secret"

type stubKeys map[string]services.KeyValidation

func (s stubKeys) Validate(_ context.Context, presented string) (services.KeyValidation, error) {
	return s[presented], nil
}

type recordingUsers struct {
	ensured []string
}

func (r *recordingUsers) Ensure(_ context.Context, id, email, name string) (*models.User, error) {
	r.ensured = append(r.ensured, id+"|"+email+"|"+name)
	return &models.User{ID: id, Email: email, Name: name, Plan: models.PlanFree}, nil
}

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims OwnerClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims() OwnerClaims {
	return OwnerClaims{
		Email: "dev@example.com",
		Name:  "Dev",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "idp|123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func ownerRouter(secret string, users UserEnsurer) *gin.Engine {
	r := gin.New()
	r.GET("/me", OwnerAuth(secret, users), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": UserID(c)})
	})
	return r
}

func requestWithAuth(r http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestOwnerAuth_ValidToken(t *testing.T) {
	users := &recordingUsers{}
	r := ownerRouter(testSecret, users)

	w := requestWithAuth(r, "Bearer "+signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims()))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "idp|123", body["user_id"])
	assert.Equal(t, []string{"idp|123|dev@example.com|Dev"}, users.ensured)
}

func TestOwnerAuth_Rejects(t *testing.T) {
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	noSubject := validClaims()
	noSubject.Subject = ""

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"garbage", "Bearer not.a.token"},
		{"wrong secret", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("other"), validClaims())},
		{"expired", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), expired)},
		{"no subject", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), noSubject)},
		{"wrong algorithm", "Bearer " + signToken(t, jwt.SigningMethodHS512, []byte(testSecret), validClaims())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := &recordingUsers{}
			w := requestWithAuth(ownerRouter(testSecret, users), tt.header)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Empty(t, users.ensured)
		})
	}
}

func TestOwnerAuth_Unconfigured(t *testing.T) {
	w := requestWithAuth(ownerRouter("", &recordingUsers{}), "Bearer whatever")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAPIKeyAuth(t *testing.T) {
	keys := stubKeys{"fk_good": {Valid: true, OwnerUserID: "user-1", KeyID: "key-1"}}
	r := gin.New()
	r.GET("/count", APIKeyAuth(keys), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": UserID(c), "key_id": c.GetString(ContextAPIKeyID)})
	})

	do := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/count", nil)
		if key != "" {
			req.Header.Set(APIKeyHeader, key)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, do("").Code)
	assert.Equal(t, http.StatusUnauthorized, do("fk_bad").Code)

	w := do("fk_good")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"user-1","key_id":"key-1"}`, w.Body.String())
}

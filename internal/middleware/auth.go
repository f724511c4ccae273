// Package middleware provides the Gin middleware of the forms API.
//
// Ordering is set up in api.SetupRoutes:
//
//	Recovery → Sentry → Metrics → CORS → RateLimit → Auth → Handler
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"forms-api/internal/apperrors"
	"forms-api/internal/models"
	"forms-api/internal/response"
	"forms-api/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Context keys set by the auth middleware
const (
	ContextUserID   = "user_id"
	ContextAPIKeyID = "api_key_id"
)

// APIKeyHeader carries the widget's API key
const APIKeyHeader = "X-API-Key"

// KeyValidator checks presented API keys
type KeyValidator interface {
	Validate(ctx context.Context, presented string) (services.KeyValidation, error)
}

// UserEnsurer makes sure an authenticated owner has a user row
type UserEnsurer interface {
	Ensure(ctx context.Context, id, email, name string) (*models.User, error)
}

// APIKeyAuth requires a valid X-API-Key and stores the key's owner in the context
func APIKeyAuth(keys KeyValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader(APIKeyHeader)
		if apiKey == "" {
			response.Error(c, apperrors.Auth("API key is required"))
			return
		}

		result, err := keys.Validate(c.Request.Context(), apiKey)
		if err != nil {
			response.Error(c, err)
			return
		}
		if !result.Valid {
			response.Error(c, apperrors.Auth("Invalid API key"))
			return
		}

		c.Set(ContextUserID, result.OwnerUserID)
		c.Set(ContextAPIKeyID, result.KeyID)
		c.Next()
	}
}

// OwnerClaims are the identity provider's token claims
type OwnerClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// ParseOwnerToken validates an HS256 token and returns its claims
func ParseOwnerToken(tokenString, secret string) (*OwnerClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &OwnerClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*OwnerClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// OwnerAuth requires a Bearer token issued by the identity provider. The
// subject becomes the user id; the user row is created on first sight.
func OwnerAuth(secret string, users UserEnsurer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			response.ErrorJSON(c, http.StatusServiceUnavailable, "Owner API is not configured")
			return
		}

		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			response.Error(c, apperrors.Auth("Missing bearer token"))
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

		claims, err := ParseOwnerToken(token, secret)
		if err != nil {
			response.Error(c, apperrors.Auth("Invalid token"))
			return
		}

		if _, err := users.Ensure(c.Request.Context(), claims.Subject, claims.Email, claims.Name); err != nil {
			response.Error(c, err)
			return
		}

		c.Set(ContextUserID, claims.Subject)
		c.Next()
	}
}

// UserID returns the authenticated user id
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

package api

import (
	"forms-api/internal/apperrors"
	"forms-api/internal/middleware"
	"forms-api/internal/models"
	"forms-api/internal/response"

	"github.com/gin-gonic/gin"
)

// CreateAPIKeyRequest represents create API key request
type CreateAPIKeyRequest struct {
	Name string `json:"name" binding:"required"`
}

// CreateAPIKeyResponse carries the only copy of the plaintext secret
type CreateAPIKeyResponse struct {
	APIKey *models.APIKey `json:"api_key"`
	Secret string         `json:"secret"`
}

// ListAPIKeys lists the caller's keys without secrets
// GET /api/owner/api-keys
func (h *Handler) ListAPIKeys(c *gin.Context) {
	keys, err := h.Keys.List(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"api_keys": keys})
}

// CreateAPIKey issues a new key
// POST /api/owner/api-keys
func (h *Handler) CreateAPIKey(c *gin.Context) {
	var req CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.Validation("Invalid request format: "+err.Error()))
		return
	}

	key, secret, err := h.Keys.Generate(c.Request.Context(), middleware.UserID(c), req.Name)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, CreateAPIKeyResponse{APIKey: key, Secret: secret})
}

// RevokeAPIKey deactivates a key
// POST /api/owner/api-keys/:keyId/revoke
func (h *Handler) RevokeAPIKey(c *gin.Context) {
	if err := h.Keys.Revoke(c.Request.Context(), middleware.UserID(c), c.Param("keyId")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"success": true})
}

// DeleteAPIKey removes a key
// DELETE /api/owner/api-keys/:keyId
func (h *Handler) DeleteAPIKey(c *gin.Context) {
	if err := h.Keys.Delete(c.Request.Context(), middleware.UserID(c), c.Param("keyId")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"success": true})
}

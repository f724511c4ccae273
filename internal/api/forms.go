package api

import (
	"forms-api/internal/apperrors"
	"forms-api/internal/middleware"
	"forms-api/internal/models"
	"forms-api/internal/response"
	"forms-api/internal/services"

	"github.com/gin-gonic/gin"
)

// CreateFormRequest represents create form request
type CreateFormRequest struct {
	Name     string              `json:"name" binding:"required"`
	FormType string              `json:"form_type"`
	Schema   string              `json:"schema"`
	Settings models.FormSettings `json:"settings"`
}

// ListForms lists the caller's forms
// GET /api/owner/forms
func (h *Handler) ListForms(c *gin.Context) {
	forms, err := h.Forms.List(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"forms": forms})
}

// CreateForm creates a form, deriving its type from the schema when none is given
// POST /api/owner/forms
func (h *Handler) CreateForm(c *gin.Context) {
	var req CreateFormRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.Validation("Invalid request format: "+err.Error()))
		return
	}

	form, err := h.Forms.Create(c.Request.Context(), middleware.UserID(c), services.CreateFormInput{
		Name:     req.Name,
		FormType: req.FormType,
		Schema:   req.Schema,
		Settings: req.Settings,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, form)
}

// GetForm returns one of the caller's forms
// GET /api/owner/forms/:formId
func (h *Handler) GetForm(c *gin.Context) {
	form, err := h.Forms.GetOwned(c.Request.Context(), middleware.UserID(c), c.Param("formId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, form)
}

// UpdateFormSettings replaces a form's settings
// PATCH /api/owner/forms/:formId/settings
func (h *Handler) UpdateFormSettings(c *gin.Context) {
	var settings models.FormSettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		response.Error(c, apperrors.Validation("Invalid request format: "+err.Error()))
		return
	}

	form, err := h.Forms.UpdateSettings(c.Request.Context(), middleware.UserID(c), c.Param("formId"), settings)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, form)
}

// DeleteForm deletes a form with its submissions and notification history
// DELETE /api/owner/forms/:formId
func (h *Handler) DeleteForm(c *gin.Context) {
	if err := h.Forms.Delete(c.Request.Context(), middleware.UserID(c), c.Param("formId")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"success": true})
}

// Usage reports the caller's plan and consumption for the current month
// GET /api/owner/usage
func (h *Handler) Usage(c *gin.Context) {
	summary, err := h.Quotas.Usage(c.Request.Context(), middleware.UserID(c), h.Now())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, summary)
}

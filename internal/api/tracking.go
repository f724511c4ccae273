package api

import (
	"net/http"

	"forms-api/internal/apperrors"
	"forms-api/internal/middleware"
	"forms-api/internal/response"
	"forms-api/internal/services"
	"forms-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// TrackOpen records an email open and serves a transparent pixel. The pixel
// is returned whether or not the open could be recorded.
// GET /api/track/open?sentEmailId=
func (h *Handler) TrackOpen(c *gin.Context) {
	sentEmailID := c.Query("sentEmailId")
	if sentEmailID == "" {
		response.Error(c, apperrors.Validation("sentEmailId is required"))
		return
	}

	if err := h.Tracking.RecordOpen(c.Request.Context(), sentEmailID); err != nil {
		logging.Warnf("Open tracking failed - sent_email: %s, error: %v", sentEmailID, err)
	}

	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.Data(http.StatusOK, "image/png", services.TrackingPixel)
}

// TrackClick records a click and redirects to the target. The redirect
// happens whether or not the click could be recorded.
// GET /api/track/click?sentEmailId=&url=
func (h *Handler) TrackClick(c *gin.Context) {
	sentEmailID := c.Query("sentEmailId")
	target := c.Query("url")
	if sentEmailID == "" || target == "" {
		response.Error(c, apperrors.Validation("sentEmailId and url are required"))
		return
	}
	// Only web links are followed, so the endpoint cannot bounce to other schemes
	if !middleware.ValidOrigin(target) {
		response.Error(c, apperrors.Validation("url must be an http(s) URL"))
		return
	}

	if err := h.Tracking.RecordClick(c.Request.Context(), sentEmailID, target); err != nil {
		logging.Warnf("Click tracking failed - sent_email: %s, error: %v", sentEmailID, err)
	}

	c.Header("Cache-Control", "no-cache")
	c.Redirect(http.StatusFound, target)
}

// Unsubscribe opts a submitter out of a form's emails
// GET|POST /api/unsubscribe?email=&formId=&campaignId=
func (h *Handler) Unsubscribe(c *gin.Context) {
	email := c.Query("email")
	formID := c.Query("formId")
	if email == "" || formID == "" {
		response.Error(c, apperrors.Validation("email and formId are required"))
		return
	}

	if err := h.Unsubscribes.Unsubscribe(c.Request.Context(), email, formID, c.Query("campaignId")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"success": true})
}

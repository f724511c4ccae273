package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"forms-api/internal/apperrors"
	"forms-api/internal/middleware"
	"forms-api/internal/response"
	"forms-api/internal/services"
	"forms-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// IdempotencyKeyHeader lets the widget retry a submission safely
const IdempotencyKeyHeader = "Idempotency-Key"

// CreateSubmissionRequest represents a widget submission
type CreateSubmissionRequest struct {
	FormID string                 `json:"formId"`
	Data   map[string]interface{} `json:"data"`
	Email  string                 `json:"email,omitempty"`
}

// CreateSubmissionResponse confirms a stored submission
type CreateSubmissionResponse struct {
	ID        string    `json:"id"`
	FormID    string    `json:"formId"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreateSubmission accepts a form submission
// POST /api/submissions
func (h *Handler) CreateSubmission(c *gin.Context) {
	apiKey := c.GetHeader(middleware.APIKeyHeader)
	if apiKey == "" {
		response.Error(c, apperrors.Auth("API key is required"))
		return
	}

	if h.MaxBodyBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxBodyBytes)
	}

	var req CreateSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, apperrors.Validation("Request body too large"))
			return
		}
		response.Error(c, apperrors.Validation("Invalid request format: "+err.Error()))
		return
	}

	submission, err := h.Intake.Submit(c.Request.Context(), services.SubmitRequest{
		APIKey:         apiKey,
		FormID:         req.FormID,
		Data:           req.Data,
		Email:          req.Email,
		IdempotencyKey: c.GetHeader(IdempotencyKeyHeader),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, CreateSubmissionResponse{
		ID:        submission.ID,
		FormID:    submission.FormID,
		CreatedAt: submission.CreatedAt,
	})
}

// UsersJoined returns the public submission counter of a form
// GET /api/forms/:formId/users-joined
func (h *Handler) UsersJoined(c *gin.Context) {
	formID := c.Param("formId")
	count, err := h.Forms.UsersJoined(c.Request.Context(), middleware.UserID(c), formID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"formId": formID, "count": count})
}

// ListSubmissions returns a page of an owned form's submissions
// GET /api/owner/forms/:formId/submissions?limit=&offset=
func (h *Handler) ListSubmissions(c *gin.Context) {
	form, err := h.Forms.GetOwned(c.Request.Context(), middleware.UserID(c), c.Param("formId"))
	if err != nil {
		response.Error(c, err)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(services.DefaultPageSize)))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	submissions, total, err := h.Submissions.List(c.Request.Context(), form.ID, services.Page{Limit: limit, Offset: offset})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{
		"submissions": submissions,
		"total":       total,
		"limit":       limit,
		"offset":      offset,
	})
}

// ExportSubmissions streams an owned form's submissions as CSV
// GET /api/owner/forms/:formId/submissions/export
func (h *Handler) ExportSubmissions(c *gin.Context) {
	form, err := h.Forms.GetOwned(c.Request.Context(), middleware.UserID(c), c.Param("formId"))
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="submissions-`+form.ID+`.csv"`)
	c.Status(http.StatusOK)

	if err := h.Submissions.ExportCSV(c.Request.Context(), c.Writer, form.ID); err != nil {
		// Headers are gone; the truncated file is all the client gets
		logging.Errorf("CSV export failed - form: %s, error: %v", form.ID, err)
		_ = c.Error(err)
	}
}

// RedeliverRequest selects the channel to attempt again
type RedeliverRequest struct {
	Channel string `json:"channel" binding:"required"`
}

// ListNotifications returns the notification history of an owned submission
// GET /api/owner/submissions/:submissionId/notifications
func (h *Handler) ListNotifications(c *gin.Context) {
	submission, err := h.Submissions.GetOwned(c.Request.Context(), middleware.UserID(c), c.Param("submissionId"))
	if err != nil {
		response.Error(c, err)
		return
	}

	logs, err := h.Dispatcher.Logs(c.Request.Context(), submission.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"submissionId": submission.ID, "notifications": logs})
}

// Redeliver attempts one notification channel again
// POST /api/owner/submissions/:submissionId/redeliver
func (h *Handler) Redeliver(c *gin.Context) {
	var req RedeliverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.Validation("Invalid request format: "+err.Error()))
		return
	}

	submission, err := h.Submissions.GetOwned(c.Request.Context(), middleware.UserID(c), c.Param("submissionId"))
	if err != nil {
		response.Error(c, err)
		return
	}

	entry, err := h.Dispatcher.Redeliver(c.Request.Context(), submission.ID, req.Channel)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, entry)
}

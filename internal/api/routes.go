package api

import (
	"context"
	"net/http"
	"time"

	"forms-api/internal/middleware"
	"forms-api/internal/services"

	"github.com/gin-gonic/gin"
)

// Handler holds the services behind the HTTP API
type Handler struct {
	Intake       *services.IntakeService
	Keys         *services.APIKeyService
	Users        *services.UserService
	Forms        *services.FormService
	Quotas       *services.QuotaService
	Submissions  *services.SubmissionService
	Dispatcher   *services.Dispatcher
	Tracking     *services.TrackingService
	Unsubscribes *services.UnsubscribeService

	// MaxBodyBytes bounds request bodies read by the intake endpoint
	MaxBodyBytes int64

	// HealthCheck reports storage reachability; nil means always healthy
	HealthCheck func(ctx context.Context) error

	// Now is the clock for usage reports
	Now func() time.Time
}

// RouterConfig configures the middleware around the routes
type RouterConfig struct {
	OwnerJWTSecret string
	Limiter        middleware.Limiter
}

// SetupRoutes sets up all routes
func SetupRoutes(r *gin.Engine, h *Handler, cfg RouterConfig) {
	if h.Now == nil {
		h.Now = time.Now
	}

	// Preflight requests never match a route, so CORS runs on the engine
	r.Use(middleware.PublicCORS())

	api := r.Group("/api")
	{
		// Widget and email-client endpoints
		public := api.Group("")
		if cfg.Limiter != nil {
			public.Use(middleware.RateLimit(cfg.Limiter))
		}
		{
			public.POST("/submissions", h.CreateSubmission)
			public.GET("/forms/:formId/users-joined", middleware.APIKeyAuth(h.Keys), h.UsersJoined)

			public.GET("/track/open", h.TrackOpen)
			public.GET("/track/click", h.TrackClick)

			public.GET("/unsubscribe", h.Unsubscribe)
			public.POST("/unsubscribe", h.Unsubscribe)
		}

		// Dashboard endpoints, authenticated by the identity provider's token
		owner := api.Group("/owner")
		owner.Use(middleware.OwnerAuth(cfg.OwnerJWTSecret, h.Users))
		{
			owner.GET("/forms", h.ListForms)
			owner.POST("/forms", h.CreateForm)
			owner.GET("/forms/:formId", h.GetForm)
			owner.DELETE("/forms/:formId", h.DeleteForm)
			owner.PATCH("/forms/:formId/settings", h.UpdateFormSettings)
			owner.GET("/forms/:formId/submissions", h.ListSubmissions)
			owner.GET("/forms/:formId/submissions/export", h.ExportSubmissions)

			owner.GET("/submissions/:submissionId/notifications", h.ListNotifications)
			owner.POST("/submissions/:submissionId/redeliver", h.Redeliver)

			owner.GET("/api-keys", h.ListAPIKeys)
			owner.POST("/api-keys", h.CreateAPIKey)
			owner.POST("/api-keys/:keyId/revoke", h.RevokeAPIKey)
			owner.DELETE("/api-keys/:keyId", h.DeleteAPIKey)

			owner.GET("/usage", h.Usage)
		}
	}

	// Health check
	r.GET("/health", h.Health)
}

// Health reports service and storage status
func (h *Handler) Health(c *gin.Context) {
	if h.HealthCheck != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.HealthCheck(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unavailable",
				"service": "forms-api",
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "forms-api",
	})
}

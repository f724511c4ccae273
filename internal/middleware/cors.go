package middleware

import (
	"net/url"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// ValidOrigin reports whether origin is an http(s) URL with a host
func ValidOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// PublicCORS allows the embeddable widget to call the public endpoints from
// any well-formed origin. The origin is echoed back; malformed origins are
// rejected with 403 and no CORS headers.
func PublicCORS() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  ValidOrigin,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", APIKeyHeader, "Idempotency-Key"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	})
}

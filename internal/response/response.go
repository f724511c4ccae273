package response

import (
	"net/http"

	"forms-api/internal/apperrors"
	"forms-api/pkg/logging"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ErrorBody is the JSON shape of every error response
type ErrorBody struct {
	Error string `json:"error"`
}

// Success sends a JSON body with status 200
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// Created sends a JSON body with status 201
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}

// ErrorJSON sends an error with an explicit status and message
func ErrorJSON(c *gin.Context, statusCode int, message string) {
	c.AbortWithStatusJSON(statusCode, ErrorBody{Error: message})
}

// Error maps err to its HTTP status and public message and aborts the request.
// Server-side failures are logged with the underlying cause.
func Error(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logging.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		}).Errorf("request failed: %v", err)
		_ = c.Error(err)
	}
	ErrorJSON(c, status, apperrors.PublicMessage(err))
}

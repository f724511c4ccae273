package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an AppError for propagation and HTTP mapping
type Kind string

const (
	KindAuth             Kind = "AUTH"
	KindNotFound         Kind = "NOT_FOUND"
	KindQuotaExceeded    Kind = "QUOTA_EXCEEDED"
	KindValidation       Kind = "VALIDATION"
	KindConflict         Kind = "CONFLICT"
	KindRateLimited      Kind = "RATE_LIMITED"
	KindChannelDelivery  Kind = "CHANNEL_DELIVERY"
	KindTransientStorage Kind = "TRANSIENT_STORAGE"
)

// AppError represents a classified application error
type AppError struct {
	Kind    Kind   `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError of the same kind, so errors.Is(err, ErrQuotaExceeded) works
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons
var (
	ErrAuth             = &AppError{Kind: KindAuth, Message: "Invalid API key"}
	ErrNotFound         = &AppError{Kind: KindNotFound, Message: "Not found"}
	ErrQuotaExceeded    = &AppError{Kind: KindQuotaExceeded, Message: "Submission quota exceeded"}
	ErrValidation       = &AppError{Kind: KindValidation, Message: "Validation failed"}
	ErrConflict         = &AppError{Kind: KindConflict, Message: "Conflict"}
	ErrRateLimited      = &AppError{Kind: KindRateLimited, Message: "Too many requests"}
	ErrChannelDelivery  = &AppError{Kind: KindChannelDelivery, Message: "Channel delivery failed"}
	ErrTransientStorage = &AppError{Kind: KindTransientStorage, Message: "Storage unavailable"}
)

// Auth reports a missing or invalid API key or token
func Auth(message string) *AppError {
	return &AppError{Kind: KindAuth, Message: message}
}

// NotFound reports a missing or foreign resource
func NotFound(message string) *AppError {
	return &AppError{Kind: KindNotFound, Message: message}
}

// QuotaExceeded reports a plan limit that has been reached
func QuotaExceeded(message string) *AppError {
	return &AppError{Kind: KindQuotaExceeded, Message: message}
}

// Validation reports malformed client input
func Validation(message string) *AppError {
	return &AppError{Kind: KindValidation, Message: message}
}

// Conflict reports a duplicate or replayed request
func Conflict(message string) *AppError {
	return &AppError{Kind: KindConflict, Message: message}
}

// RateLimited reports a client over its request budget
func RateLimited(message string) *AppError {
	return &AppError{Kind: KindRateLimited, Message: message}
}

// ChannelDelivery wraps a single notification channel failure. These are
// recorded on the notification log and never returned to a submitter.
func ChannelDelivery(channel string, err error) *AppError {
	return &AppError{Kind: KindChannelDelivery, Message: fmt.Sprintf("%s delivery failed", channel), Err: err}
}

// TransientStorage wraps a database or provider failure that is safe to retry
func TransientStorage(message string, err error) *AppError {
	return &AppError{Kind: KindTransientStorage, Message: message, Err: err}
}

// KindOf returns the kind of the first AppError in err's chain, or
// KindTransientStorage for unclassified errors.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindTransientStorage
}

// HTTPStatus maps err to the status code returned to callers
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindQuotaExceeded:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message safe to show a caller. Internal failures
// collapse to a generic message.
func PublicMessage(err error) string {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return "Internal server error"
	}
	switch appErr.Kind {
	case KindTransientStorage, KindChannelDelivery:
		return "Internal server error"
	}
	return appErr.Message
}

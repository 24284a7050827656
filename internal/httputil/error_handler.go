package httputil

import (
	"errors"
	"fmt"
	"strings"

	"chat-sync/internal/messaging"
	"chat-sync/internal/platform/logger"
	"chat-sync/internal/platform/middleware"

	"github.com/gin-gonic/gin"
)

// SafeError writes an error response without leaking internal detail. The
// real error goes to the log together with the request id; the client only
// sees userMessage unless the error text is safe to show.
func SafeError(c *gin.Context, statusCode int, err error, userMessage string) {
	requestID := middleware.GetRequestID(c)

	logger.Error(c.Request.Context(), fmt.Sprintf("API error: %v", err),
		logger.WithDetails(map[string]interface{}{
			"request_id": requestID,
			"path":       c.Request.URL.Path,
			"method":     c.Request.Method,
			"status":     statusCode,
		}))

	message := userMessage
	if shouldShowError(err) {
		message = err.Error()
	}

	c.JSON(statusCode, gin.H{
		"error":      message,
		"success":    false,
		"request_id": requestID,
	})
}

// shouldShowError reports whether the error text can be shown to the client.
func shouldShowError(err error) bool {
	if err == nil {
		return false
	}

	dangerousKeywords := []string{
		"mongo",
		"database",
		"connection",
		"password",
		"token",
		"secret",
		"credential",
		"internal",
		"stack",
		"panic",
	}

	lowerMsg := strings.ToLower(err.Error())
	for _, keyword := range dangerousKeywords {
		if strings.Contains(lowerMsg, keyword) {
			return false
		}
	}

	return true
}

// DomainError maps a messaging error onto an HTTP response. Authorization
// failures become 403, validation failures 400, missing resources 404 and
// anything unrecognized a masked 500.
func DomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, messaging.ErrNotParticipant),
		errors.Is(err, messaging.ErrNotAuthor):
		Forbidden(c, err.Error())
	case errors.Is(err, messaging.ErrEmptyContent),
		errors.Is(err, messaging.ErrNotText),
		errors.Is(err, messaging.ErrUnsupportedKind),
		errors.Is(err, messaging.ErrDirectParticipants),
		errors.Is(err, messaging.ErrNoParticipants):
		BadRequest(c, err.Error())
	case errors.Is(err, messaging.ErrNotFound):
		NotFoundError(c, err.Error())
	default:
		InternalServerError(c, err)
	}
}

// InternalServerError writes a masked 500 response.
func InternalServerError(c *gin.Context, err error) {
	SafeError(c, 500, err, "internal server error, please try again later")
}

// BadRequest writes a 400 response.
func BadRequest(c *gin.Context, message string) {
	if message == "" {
		message = InvalidParameter
	}
	c.JSON(400, gin.H{
		"error":      message,
		"success":    false,
		"request_id": middleware.GetRequestID(c),
	})
}

// Forbidden writes a 403 response.
func Forbidden(c *gin.Context, message string) {
	if message == "" {
		message = "access denied"
	}
	c.JSON(403, gin.H{
		"error":      message,
		"success":    false,
		"request_id": middleware.GetRequestID(c),
	})
}

// NotFoundError writes a 404 response.
func NotFoundError(c *gin.Context, message string) {
	if message == "" {
		message = NotFound
	}
	c.JSON(404, gin.H{
		"error":      message,
		"success":    false,
		"request_id": middleware.GetRequestID(c),
	})
}

// ValidationError writes a 400 response naming the invalid field.
func ValidationError(c *gin.Context, field string, message string) {
	c.JSON(400, gin.H{
		"error":      fmt.Sprintf("%s: %s", field, message),
		"success":    false,
		"request_id": middleware.GetRequestID(c),
	})
}

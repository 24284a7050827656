package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"chat-sync/internal/constants"
	"chat-sync/internal/platform/config"

	"github.com/gin-gonic/gin"
)

// ValidateMessageContent validates message content.
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("message content cannot be empty")
	}

	cfg := config.Get()
	maxLength := constants.DefaultMaxMessageLength
	if cfg != nil && cfg.Limits.Message.MaxLength > 0 {
		maxLength = cfg.Limits.Message.MaxLength
	}

	if len(content) > maxLength {
		return fmt.Errorf("message content exceeds the maximum length (%d bytes)", maxLength)
	}

	// NULL byte injection guard.
	if strings.Contains(content, "\x00") {
		return fmt.Errorf("message content contains illegal characters")
	}

	return nil
}

// ValidateConversationName validates a conversation name.
func ValidateConversationName(name string) error {
	if len(name) > constants.MaxConversationNameLength {
		return fmt.Errorf("conversation name exceeds the maximum length (%d bytes)", constants.MaxConversationNameLength)
	}

	if strings.Contains(name, "\x00") {
		return fmt.Errorf("conversation name contains illegal characters")
	}

	return nil
}

// ValidateUserID validates a user id.
func ValidateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id cannot be empty")
	}

	if len(userID) > constants.MaxUserIDLength {
		return fmt.Errorf("user id format is invalid")
	}

	if strings.ContainsAny(userID, "\x00${}[]") {
		return fmt.Errorf("user id contains illegal characters")
	}

	return nil
}

// ValidateObjectID validates a conversation or message id (MongoDB ObjectID,
// 24 hex characters).
func ValidateObjectID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("id cannot be empty")
	}

	if len(id) != 24 {
		return fmt.Errorf("id format is invalid")
	}

	for _, c := range id {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return fmt.Errorf("id format is invalid")
		}
	}

	return nil
}

// SanitizeInput strips NULL bytes and control characters other than newline
// and tab.
func SanitizeInput(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")

	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\n' || r == '\t' {
			result.WriteRune(r)
		}
	}

	return result.String()
}

// RequestSizeLimiter rejects request bodies above maxSize bytes.
func RequestSizeLimiter(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": fmt.Sprintf("request body too large, maximum is %d bytes", maxSize),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

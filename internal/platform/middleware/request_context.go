package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
)

// RequestMetadata describes the caller of a request.
type RequestMetadata struct {
	IPAddress string
	UserAgent string
	UserID    string
}

type contextKey string

const (
	requestMetadataKey contextKey = "request_metadata"
)

// RequestMetadataMiddleware extracts caller metadata and stores it on both
// the gin context and the request context.
func RequestMetadataMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		metadata := &RequestMetadata{
			IPAddress: GetClientIP(c),
			UserAgent: c.Request.UserAgent(),
			UserID:    c.Query("user_id"),
		}

		c.Set(string(requestMetadataKey), metadata)

		ctx := context.WithValue(c.Request.Context(), requestMetadataKey, metadata)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// GetClientIP returns the caller's IP, preferring proxy headers.
func GetClientIP(c *gin.Context) string {
	// X-Forwarded-For may hold several addresses; the first is the client.
	if forwarded := c.Request.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}

	if realIP := c.Request.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	return c.ClientIP()
}

// GetRequestMetadata returns the caller metadata stored on the context.
func GetRequestMetadata(ctx context.Context) *RequestMetadata {
	if metadata, ok := ctx.Value(requestMetadataKey).(*RequestMetadata); ok {
		return metadata
	}
	return &RequestMetadata{
		IPAddress: "unknown",
		UserAgent: "unknown",
	}
}

// GetRequestMetadataFromGin returns the caller metadata from the gin context.
func GetRequestMetadataFromGin(c *gin.Context) *RequestMetadata {
	if metadata, exists := c.Get(string(requestMetadataKey)); exists {
		if meta, ok := metadata.(*RequestMetadata); ok {
			return meta
		}
	}
	return &RequestMetadata{
		IPAddress: GetClientIP(c),
		UserAgent: c.Request.UserAgent(),
	}
}

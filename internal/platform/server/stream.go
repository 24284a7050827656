package server

import (
	"time"

	"chat-sync/internal/constants"
	"chat-sync/internal/httputil"
	"chat-sync/internal/platform/config"
	"chat-sync/internal/platform/middleware"

	"github.com/gin-gonic/gin"
)

// streamConversation pushes conversation events over SSE. The subscription
// is a live channel only; a client that misses events while disconnected
// recovers them through the since endpoint.
func (api *API) streamConversation(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := c.Query("user_id")

	if err := middleware.ValidateObjectID(conversationID); err != nil {
		httputil.ValidationError(c, "conversation_id", err.Error())
		return
	}
	if err := middleware.ValidateUserID(userID); err != nil {
		httputil.ValidationError(c, "user_id", err.Error())
		return
	}

	// Participant check before the stream is opened.
	if _, err := api.svc.GetConversation(c.Request.Context(), conversationID, userID); err != nil {
		httputil.DomainError(c, err)
		return
	}

	setupSSEHeaders(c)

	sub := api.hub.Subscribe(conversationID, userID)
	defer sub.Close()

	heartbeatInterval := constants.DefaultStreamHeartbeatInterval
	if cfg := config.Get(); cfg != nil && cfg.Limits.Stream.HeartbeatInterval > 0 {
		heartbeatInterval = cfg.Limits.Stream.HeartbeatInterval
	}

	ticker := time.NewTicker(time.Duration(heartbeatInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return

		case <-ticker.C:
			c.SSEvent("ping", gin.H{"timestamp": time.Now().Unix()})
			c.Writer.Flush()

		case ev := <-sub.Events():
			c.SSEvent(ev.Type, ev)
			c.Writer.Flush()
		}
	}
}

func setupSSEHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent("connected", gin.H{"status": "ok"})
	c.Writer.Flush()
}

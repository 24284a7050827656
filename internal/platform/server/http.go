package server

import (
	"strconv"
	"time"

	"chat-sync/internal/constants"
	"chat-sync/internal/delivery"
	"chat-sync/internal/httputil"
	"chat-sync/internal/messaging"
	"chat-sync/internal/platform/config"
	"chat-sync/internal/platform/health"
	"chat-sync/internal/platform/middleware"
	"chat-sync/internal/storage/database/conversation"

	"github.com/gin-gonic/gin"
)

// API bundles the handlers' dependencies. Handlers hold their service and
// hub explicitly; there is no package-level connection state.
type API struct {
	svc *messaging.Service
	hub *delivery.Hub
}

// NewAPI creates the HTTP API.
func NewAPI(svc *messaging.Service, hub *delivery.Hub) *API {
	return &API{svc: svc, hub: hub}
}

func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none';")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		c.Next()
	}
}

// Router builds the HTTP routes.
func Router(api *API) *gin.Engine {
	r := gin.Default()

	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Allowed origins; production deployments should move this to config.
		allowedOrigins := map[string]bool{
			"http://localhost:3000": true,
			"http://localhost:8080": true,
			"http://127.0.0.1:8080": true,
		}

		if allowedOrigins[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	r.Use(middleware.RequestIDMiddleware())
	r.Use(securityHeadersMiddleware())
	r.Use(middleware.RequestMetadataMiddleware())

	cfg := config.Get()

	maxBody := int64(constants.DefaultMaxRequestBodySize)
	if cfg != nil && cfg.Limits.Request.MaxBodySize > 0 {
		maxBody = cfg.Limits.Request.MaxBodySize
	}
	r.Use(middleware.RequestSizeLimiter(maxBody))

	defaultLimit := constants.DefaultRateLimitPerMinute
	if cfg != nil && cfg.Limits.RateLimiting.DefaultPerMinute > 0 {
		defaultLimit = cfg.Limits.RateLimiting.DefaultPerMinute
	}
	rateLimiter := middleware.NewPerEndpointRateLimiter(defaultLimit, time.Minute)

	if cfg != nil && cfg.Limits.RateLimiting.Enabled {
		if cfg.Limits.RateLimiting.MessagesPerMin > 0 {
			rateLimiter.SetLimit("/api/v1/conversations/:conversation_id/messages",
				cfg.Limits.RateLimiting.MessagesPerMin, time.Minute)
		}
		if cfg.Limits.RateLimiting.StreamPerMin > 0 {
			rateLimiter.SetLimit("/api/v1/conversations/:conversation_id/stream",
				cfg.Limits.RateLimiting.StreamPerMin, time.Minute)
		}
	}
	r.Use(rateLimiter.Middleware())

	sseMaxPerIP := constants.DefaultStreamMaxConnectionsPerIP
	sseInterval := constants.DefaultStreamMinConnectionInterval
	sseMaxTotal := constants.DefaultStreamMaxTotalConnections
	if cfg != nil {
		if cfg.Limits.Stream.MaxConnectionsPerIP > 0 {
			sseMaxPerIP = cfg.Limits.Stream.MaxConnectionsPerIP
		}
		if cfg.Limits.Stream.MinConnectionInterval > 0 {
			sseInterval = cfg.Limits.Stream.MinConnectionInterval
		}
		if cfg.Limits.Stream.MaxTotalConnections > 0 {
			sseMaxTotal = cfg.Limits.Stream.MaxTotalConnections
		}
	}
	sseLimiter := middleware.NewSSEConnectionLimiter(sseMaxPerIP, time.Duration(sseInterval)*time.Second, sseMaxTotal)

	healthHandler := health.NewHealthHandler()
	r.GET("/health", healthHandler.HealthCheck)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/conversations", api.createConversation)
		v1.GET("/conversations", api.listConversations)
		v1.POST("/conversations/:conversation_id/messages", api.sendMessage)
		v1.GET("/conversations/:conversation_id/messages", api.getMessages)
		v1.GET("/conversations/:conversation_id/messages/since", api.getMessagesSince)
		v1.POST("/conversations/:conversation_id/read", api.markRead)
		v1.PATCH("/messages/:message_id", api.editMessage)
		v1.DELETE("/messages/:message_id", api.deleteMessage)

		v1.GET("/conversations/:conversation_id/stream", sseLimiter.Middleware(), api.streamConversation)
	}

	return r
}

func (api *API) createConversation(c *gin.Context) {
	var req struct {
		Kind         string   `json:"kind"`
		Name         string   `json:"name"`
		CreatorID    string   `json:"creator_id"`
		Participants []string `json:"participants"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "invalid request body")
		return
	}

	if err := middleware.ValidateUserID(req.CreatorID); err != nil {
		httputil.ValidationError(c, "creator_id", err.Error())
		return
	}
	if err := middleware.ValidateConversationName(req.Name); err != nil {
		httputil.ValidationError(c, "name", err.Error())
		return
	}
	if len(req.Participants) > constants.MaxParticipants {
		httputil.BadRequest(c, "too many participants")
		return
	}
	for _, p := range req.Participants {
		if err := middleware.ValidateUserID(p); err != nil {
			httputil.ValidationError(c, "participants", err.Error())
			return
		}
	}

	conv, err := api.svc.CreateConversation(
		c.Request.Context(),
		req.Kind,
		middleware.SanitizeInput(req.Name),
		req.CreatorID,
		req.Participants,
	)
	if err != nil {
		httputil.DomainError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"success": true,
		"message": httputil.DataCreated,
		"data":    conv,
	})
}

func (api *API) listConversations(c *gin.Context) {
	userID := c.Query("user_id")
	if err := middleware.ValidateUserID(userID); err != nil {
		httputil.ValidationError(c, "user_id", err.Error())
		return
	}

	limit := parseLimit(c.Query("limit"))
	cursor := c.Query("cursor")

	convs, nextCursor, hasMore, err := api.svc.ListConversations(c.Request.Context(), userID, limit, cursor)
	if err != nil {
		httputil.DomainError(c, err)
		return
	}

	items := make([]gin.H, len(convs))
	for i, conv := range convs {
		unread, err := api.svc.UnreadCount(c.Request.Context(), conv.ID, userID)
		if err != nil {
			unread = 0
		}

		items[i] = gin.H{
			"id":               conv.ID,
			"kind":             conv.Kind,
			"name":             conv.Name,
			"participants":     conv.Participants,
			"last_message":     conv.LastMessage,
			"last_activity_at": conv.LastActivityAt,
			"created_at":       conv.CreatedAt,
			"unread_count":     unread,
		}
	}

	c.JSON(200, gin.H{
		"success":     true,
		"message":     httputil.DataRetrieved,
		"data":        items,
		"next_cursor": nextCursor,
		"has_more":    hasMore,
	})
}

func (api *API) sendMessage(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	if err := middleware.ValidateObjectID(conversationID); err != nil {
		httputil.ValidationError(c, "conversation_id", err.Error())
		return
	}

	var req struct {
		AuthorID   string                   `json:"author_id"`
		Content    string                   `json:"content"`
		Kind       string                   `json:"kind"`
		Attachment *conversation.Attachment `json:"attachment,omitempty"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "invalid request body")
		return
	}

	if err := middleware.ValidateUserID(req.AuthorID); err != nil {
		httputil.ValidationError(c, "author_id", err.Error())
		return
	}
	if req.Content != "" {
		if err := middleware.ValidateMessageContent(req.Content); err != nil {
			httputil.ValidationError(c, "content", err.Error())
			return
		}
	}

	msg, err := api.svc.Append(
		c.Request.Context(),
		conversationID,
		req.AuthorID,
		middleware.SanitizeInput(req.Content),
		req.Kind,
		req.Attachment,
	)
	if err != nil {
		httputil.DomainError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"success": true,
		"message": httputil.DataCreated,
		"data":    msg,
	})
}

func (api *API) getMessages(c *gin.Context) {
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

	// The cursor is the seq of the oldest message of the previous page;
	// clients treat it as opaque.
	var beforeSeq int64
	if cursor := c.Query("cursor"); cursor != "" {
		parsed, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil || parsed <= 0 {
			httputil.ValidationError(c, "cursor", "invalid cursor")
			return
		}
		beforeSeq = parsed
	}

	limit := parseLimit(c.Query("limit"))

	msgs, hasMore, err := api.svc.Page(c.Request.Context(), conversationID, userID, beforeSeq, limit)
	if err != nil {
		httputil.DomainError(c, err)
		return
	}

	nextCursor := ""
	if hasMore && len(msgs) > 0 {
		nextCursor = strconv.FormatInt(msgs[0].Seq, 10)
	}

	c.JSON(200, gin.H{
		"success":     true,
		"message":     httputil.DataRetrieved,
		"data":        msgs,
		"next_cursor": nextCursor,
		"has_more":    hasMore,
	})
}

func (api *API) getMessagesSince(c *gin.Context) {
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

	var afterSeq int64
	if lastSeq := c.Query("last_seq"); lastSeq != "" {
		parsed, err := strconv.ParseInt(lastSeq, 10, 64)
		if err != nil || parsed < 0 {
			httputil.ValidationError(c, "last_seq", "invalid last_seq")
			return
		}
		afterSeq = parsed
	}

	msgs, err := api.svc.Since(c.Request.Context(), conversationID, userID, afterSeq)
	if err != nil {
		httputil.DomainError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"success": true,
		"message": httputil.DataRetrieved,
		"data":    msgs,
	})
}

func (api *API) markRead(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	if err := middleware.ValidateObjectID(conversationID); err != nil {
		httputil.ValidationError(c, "conversation_id", err.Error())
		return
	}

	var req struct {
		UserID string `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "invalid request body")
		return
	}
	if err := middleware.ValidateUserID(req.UserID); err != nil {
		httputil.ValidationError(c, "user_id", err.Error())
		return
	}

	count, err := api.svc.MarkRead(c.Request.Context(), conversationID, req.UserID)
	if err != nil {
		httputil.DomainError(c, err)
		return
	}

	c.JSON(200, httputil.SuccessWithCount(httputil.DataUpdated, count))
}

func (api *API) editMessage(c *gin.Context) {
	messageID := c.Param("message_id")
	if err := middleware.ValidateObjectID(messageID); err != nil {
		httputil.ValidationError(c, "message_id", err.Error())
		return
	}

	var req struct {
		UserID  string `json:"user_id"`
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "invalid request body")
		return
	}
	if err := middleware.ValidateUserID(req.UserID); err != nil {
		httputil.ValidationError(c, "user_id", err.Error())
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		httputil.ValidationError(c, "content", err.Error())
		return
	}

	msg, err := api.svc.Edit(c.Request.Context(), messageID, req.UserID, middleware.SanitizeInput(req.Content))
	if err != nil {
		httputil.DomainError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"success": true,
		"message": httputil.DataUpdated,
		"data":    msg,
	})
}

func (api *API) deleteMessage(c *gin.Context) {
	messageID := c.Param("message_id")
	if err := middleware.ValidateObjectID(messageID); err != nil {
		httputil.ValidationError(c, "message_id", err.Error())
		return
	}

	userID := c.Query("user_id")
	if err := middleware.ValidateUserID(userID); err != nil {
		httputil.ValidationError(c, "user_id", err.Error())
		return
	}

	if err := api.svc.SoftDelete(c.Request.Context(), messageID, userID); err != nil {
		httputil.DomainError(c, err)
		return
	}

	c.JSON(200, httputil.Success(httputil.DataDeleted))
}

func parseLimit(raw string) int {
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}

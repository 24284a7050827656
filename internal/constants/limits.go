package constants

// HTTP request defaults (overridable by config).
const (
	DefaultMaxRequestBodySize = 1 << 20 // 1MB
	DefaultRequestTimeout     = 30      // seconds
)

// Pagination defaults.
const (
	DefaultPageSize = 30
	MaxPageSize     = 100
	MinPageSize     = 1
)

// Message defaults.
const (
	DefaultMaxMessageLength = 10000
)

// Conversation limits.
const (
	MaxConversationNameLength = 200
	MaxParticipants           = 500
)

// Rate limiting defaults.
const (
	DefaultRateLimitPerMinute = 100
	DefaultMessageRateLimit   = 30
	DefaultStreamRateLimit    = 5
)

// SSE stream defaults.
const (
	DefaultStreamMaxConnectionsPerIP   = 3
	DefaultStreamMaxTotalConnections   = 1000
	DefaultStreamMinConnectionInterval = 10 // seconds
	DefaultStreamHeartbeatInterval     = 15 // seconds
	DefaultSubscriberBuffer            = 64
)

// Client sync defaults.
const (
	DefaultPollIntervalSeconds = 5
	DefaultSendTimeoutSeconds  = 10
)

// User ID limits.
const (
	MaxUserIDLength = 100
)

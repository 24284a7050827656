package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// SSEConnectionLimiter caps concurrent event-stream connections, per IP and
// globally, and throttles reconnect storms.
type SSEConnectionLimiter struct {
	mu                sync.RWMutex
	connections       map[string]int
	lastConnect       map[string]time.Time
	maxPerIP          int
	minInterval       time.Duration
	cleanupInterval   time.Duration
	maxTotalConns     int
	currentTotalConns int
}

// NewSSEConnectionLimiter creates a stream connection limiter.
func NewSSEConnectionLimiter(maxPerIP int, minInterval time.Duration, maxTotal int) *SSEConnectionLimiter {
	limiter := &SSEConnectionLimiter{
		connections:     make(map[string]int),
		lastConnect:     make(map[string]time.Time),
		maxPerIP:        maxPerIP,
		minInterval:     minInterval,
		cleanupInterval: 5 * time.Minute,
		maxTotalConns:   maxTotal,
	}

	go limiter.cleanup()

	return limiter
}

// Middleware returns the gin middleware. The connection is released when the
// request context ends, which for a stream is when the client disconnects.
func (l *SSEConnectionLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()

		if !l.allowConnection(clientIP) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "stream connection limit reached, please retry later",
				"success": false,
			})
			c.Abort()
			return
		}

		l.registerConnection(clientIP)

		go func() {
			<-c.Request.Context().Done()
			l.removeConnection(clientIP)
		}()

		c.Next()
	}
}

func (l *SSEConnectionLimiter) allowConnection(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.currentTotalConns >= l.maxTotalConns {
		return false
	}

	if count, exists := l.connections[ip]; exists && count >= l.maxPerIP {
		return false
	}

	if lastTime, exists := l.lastConnect[ip]; exists {
		if time.Since(lastTime) < l.minInterval {
			return false
		}
	}

	return true
}

func (l *SSEConnectionLimiter) registerConnection(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.connections[ip]++
	l.currentTotalConns++
	l.lastConnect[ip] = time.Now()
}

func (l *SSEConnectionLimiter) removeConnection(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if count, exists := l.connections[ip]; exists {
		if count <= 1 {
			delete(l.connections, ip)
		} else {
			l.connections[ip]--
		}
		l.currentTotalConns--
	}
}

func (l *SSEConnectionLimiter) cleanup() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		l.mu.Lock()
		now := time.Now()
		for ip, lastTime := range l.lastConnect {
			if now.Sub(lastTime) > 10*time.Minute {
				delete(l.lastConnect, ip)
				if count, exists := l.connections[ip]; !exists || count == 0 {
					delete(l.connections, ip)
				}
			}
		}
		l.mu.Unlock()
	}
}

// Stats reports current connection counts.
func (l *SSEConnectionLimiter) Stats() map[string]interface{} {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return map[string]interface{}{
		"total_connections": l.currentTotalConns,
		"unique_ips":        len(l.connections),
		"max_total":         l.maxTotalConns,
		"max_per_ip":        l.maxPerIP,
	}
}

package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/antigravity-gateway/rotation-gateway/internal/logging"
	"github.com/antigravity-gateway/rotation-gateway/internal/store"
)

// requestIDKey is the gin context key RequestIDMiddleware stores the
// correlation ID under.
const requestIDKey = "request_id"

// RequestIDMiddleware stamps every request with a UUID correlation ID,
// echoed back in the X-Request-Id response header.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(requestIDKey, id)
		c.Writer.Header().Set("X-Request-Id", id)
		c.Next()
	}
}

// CORSMiddleware takes a permissive CORS stance, since this gateway is
// typically called from the same tooling that called the upstream API
// directly.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Goog-Api-Key")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// APIKeyAuthMiddleware requires a client request to carry a key the Store
// recognizes, via any of the three conventions the real Gemini API accepts
// (query param, x-goog-api-key header, or a Bearer Authorization header).
func APIKeyAuthMiddleware(st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Query("key")
		if key == "" {
			key = c.GetHeader("x-goog-api-key")
		}
		if key == "" {
			if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if key == "" {
			abortUnauthorized(c)
			return
		}

		ok, err := st.ValidateAPIKey(c.Request.Context(), key)
		if err != nil || !ok {
			abortUnauthorized(c)
			return
		}

		c.Next()
	}
}

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{
			"code":    401,
			"message": "missing or invalid API key",
			"status":  "UNAUTHENTICATED",
		},
	})
}

// InboundThrottleMiddleware caps the rate of requests the gateway's own
// HTTP surface will accept, independent of the per-identity outbound rate
// limiting applied to upstream calls. It is one process-wide token bucket
// guarding against bursts, using golang.org/x/time/rate's Limiter directly.
func InboundThrottleMiddleware(ratePerSecond float64, burst int) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"code":    429,
					"message": "gateway is processing too many requests; retry shortly",
					"status":  "RESOURCE_EXHAUSTED",
				},
			})
			return
		}
		c.Next()
	}
}

// RequestLoggingMiddleware logs every request's method, path, status, and
// latency once debug logging is enabled; it always logs 4xx/5xx.
func RequestLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		duration := time.Since(start)
		format := "%s %s %d (%dms)"

		switch {
		case status >= 500:
			logging.Error(format, c.Request.Method, path, status, duration.Milliseconds())
		case status >= 400:
			logging.Warn(format, c.Request.Method, path, status, duration.Milliseconds())
		case logging.IsDebug():
			logging.Debug(format, c.Request.Method, path, status, duration.Milliseconds())
		}
	}
}

package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kmathis/riskgate/internal/metrics"
)

// Middleware returns a Gin middleware guarding sensitive endpoints.
//
// The identity key combines the client IP with a hashed credential
// fingerprint, so anonymous and authenticated callers sharing a NAT are
// tracked separately. When enabled is false every request is admitted —
// a deployment toggle, not limiter state.
func Middleware(l *Limiter, enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			c.Next()
			return
		}

		key := c.ClientIP() + ":" + identityFingerprint(c)
		allowed, retryAfter := l.CheckAndConsume(key)
		if !allowed {
			metrics.RateLimitRejections.Inc()
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limited",
				"message":     "Rate limit exceeded. Please retry later.",
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}

// identityFingerprint derives a stable, non-reversible credential tag.
func identityFingerprint(c *gin.Context) string {
	if apiKey := strings.TrimSpace(c.GetHeader("X-API-Key")); apiKey != "" {
		return "api_key:" + shortHash(apiKey)
	}

	auth := strings.TrimSpace(c.GetHeader("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		if token := strings.TrimSpace(auth[7:]); token != "" {
			return "bearer:" + shortHash(token)
		}
	}

	return "anonymous"
}

func shortHash(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])[:16]
}

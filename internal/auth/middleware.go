package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextKeyIdentity is the gin context key for the caller identity.
const ContextKeyIdentity = "authIdentity"

// Middleware resolves the caller identity from request credentials and
// stores it in the gin context. It never rejects; pair with RequireAuth
// on routes that need an authenticated caller.
func Middleware(a *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-API-Key")
		bearer := bearerToken(c.GetHeader("Authorization"))

		if apiKey != "" || bearer != "" {
			if id, err := a.Authenticate(c.Request.Context(), apiKey, bearer); err == nil {
				c.Set(ContextKeyIdentity, id)
			}
		}
		c.Next()
	}
}

// RequireAuth rejects requests that did not authenticate.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := FromContext(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Valid X-API-Key or Authorization bearer token required.",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin guards admin endpoints with a shared secret header.
// An empty configured secret disables the admin surface entirely.
func RequireAdmin(adminSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminSecret == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Admin surface is not enabled.",
			})
			return
		}
		presented := c.GetHeader("X-Admin-Secret")
		if presented == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "X-Admin-Secret header required.",
			})
			return
		}
		if !SecretsEqual(presented, adminSecret) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Invalid admin secret.",
			})
			return
		}
		c.Next()
	}
}

// FromContext returns the authenticated identity, if any.
func FromContext(c *gin.Context) (*Identity, bool) {
	v, ok := c.Get(ContextKeyIdentity)
	if !ok {
		return nil, false
	}
	id, ok := v.(*Identity)
	return id, ok
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// Package middleware holds the gin middleware shared by the HTTP routes.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"social-notify/backend/internal/security"
)

const bearerPrefix = "bearer "

// RequireBearer validates the Bearer access token on each request and stores the token subject
// as the request identity. Requests without a valid token are aborted with 401.
func RequireBearer(tokens *security.TokenCodec) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractBearer(c.GetHeader("Authorization"))
		if token == "" {
			unauthorized(c)
			return
		}
		identity, err := tokens.Verify(token)
		if err != nil {
			unauthorized(c)
			return
		}
		c.Set(ginIdentityKey, identity)
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), identity))
		c.Next()
	}
}

func unauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization"})
}

// ExtractBearer returns the token from an Authorization header value, or "" if missing or malformed.
// The scheme is matched case-insensitively.
func ExtractBearer(header string) string {
	v := strings.TrimSpace(header)
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}

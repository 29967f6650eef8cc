package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
)

type contextKey struct{ name string }

var identityKey = contextKey{"identity"}

// ginIdentityKey is the gin.Context key holding the authenticated identity.
const ginIdentityKey = "identity"

// WithIdentity returns a context carrying the authenticated identity (account email).
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// GetIdentity returns the identity from ctx and true if set; otherwise "", false.
func GetIdentity(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(identityKey).(string)
	return v, ok && v != ""
}

// Identity returns the identity set by RequireBearer on c.
func Identity(c *gin.Context) (string, bool) {
	v, ok := c.Get(ginIdentityKey)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

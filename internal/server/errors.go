package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	accountsvc "social-notify/backend/internal/account/service"
	notifysvc "social-notify/backend/internal/notification/service"
	"social-notify/backend/internal/registry"
)

// statusFor maps a service error to its HTTP status and client message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, notifysvc.ErrInvalidToken), errors.Is(err, accountsvc.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, notifysvc.ErrInvalidInput), errors.Is(err, accountsvc.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, accountsvc.ErrEmailTaken):
		return http.StatusConflict, "email already registered"
	case errors.Is(err, accountsvc.ErrUsernameTaken):
		return http.StatusConflict, "username already registered"
	case errors.Is(err, accountsvc.ErrAccountNotFound):
		return http.StatusNotFound, "user not found"
	case errors.Is(err, registry.ErrTooManyConnections):
		return http.StatusTooManyRequests, "too many connections"
	case errors.Is(err, notifysvc.ErrStoreUnavailable), errors.Is(err, registry.ErrClosed):
		return http.StatusServiceUnavailable, "service unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (h *handlers) fail(c *gin.Context, err error) {
	code, msg := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.AbortWithStatusJSON(code, gin.H{"error": msg})
}

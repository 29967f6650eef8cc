package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"social-notify/backend/internal/health"
)

// Liveness answers 200 while the process is serving.
func Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": health.StatusOK})
}

// Readiness runs checker and answers 200 or 503 with the per-check report.
func Readiness(checker *health.Checker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if checker == nil {
			c.JSON(http.StatusOK, health.Report{Status: health.StatusOK})
			return
		}
		report := checker.Check(c.Request.Context())
		code := http.StatusOK
		if !report.OK() {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, report)
	}
}

package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/talentvine/webdesk/internal/logger"
)

// RequestLogger logs all HTTP requests in development mode
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for health checks
		if c.Request.URL.Path == "/api/health" {
			c.Next()
			return
		}

		start := time.Now()

		c.Next()

		duration := time.Since(start)
		logger.Debug("HTTP %s %s status=%d duration=%s size=%d ip=%s",
			c.Request.Method,
			c.Request.URL.Path,
			c.Writer.Status(),
			duration.String(),
			c.Writer.Size(),
			c.ClientIP(),
		)
	}
}

// ErrorLogger logs errors recorded on the gin context
func ErrorLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		for _, ginErr := range c.Errors {
			logger.Error("Request error method=%s path=%s error=%v",
				c.Request.Method, c.Request.URL.Path, ginErr.Err)
		}
	}
}

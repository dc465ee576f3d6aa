// Package middleware provides the gin middleware chain: request IDs,
// structured access logging, metrics and panic recovery.
package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/replyflow/replyflow/internal/infrastructure/monitoring"
	"github.com/replyflow/replyflow/pkg/constants"
	"github.com/replyflow/replyflow/pkg/logger"
)

const headerRequestID = "X-Request-ID"

// RequestID propagates the caller's request ID or mints one, storing it in
// the request context for the logger.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(headerRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := context.WithValue(c.Request.Context(), constants.ContextKeyRequestID, requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Header(headerRequestID, requestID)
		c.Next()
	}
}

// AccessLog writes one structured line per request.
func AccessLog(log logger.Logger) gin.HandlerFunc {
	accessLog := log.WithComponent("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []logger.Field{
			logger.String("method", c.Request.Method),
			logger.String("path", c.FullPath()),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("latency", time.Since(start)),
			logger.String("client_ip", c.ClientIP()),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			accessLog.Error(c.Request.Context(), "request failed", nil, fields...)
			return
		}
		accessLog.Info(c.Request.Context(), "request handled", fields...)
	}
}

// Metrics records request counts and latency per route.
func Metrics(m *monitoring.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(route, c.Request.Method,
			strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// Recovery converts panics into 500 responses with a logged stack trace.
func Recovery(log logger.Logger) gin.HandlerFunc {
	recoveryLog := log.WithComponent("http")
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		recoveryLog.Error(c.Request.Context(), "panic recovered", nil,
			logger.Any("panic", recovered),
			logger.String("path", c.Request.URL.Path))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":             "internal_error",
			"error_description": "an unexpected error occurred",
		})
	})
}

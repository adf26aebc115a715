package logger

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestIDHeader carries the caller supplied request id
const RequestIDHeader = "X-Request-ID"

// GinMiddleware assigns a request id, stores a request scoped logger in the
// request context and logs one line per request
func GinMiddleware(base *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		ctx := WithRequestID(c.Request.Context(), requestID)
		ctx = WithContext(ctx, base)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		fields := append(Fields(c.Request.Context()),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
		if len(c.Errors) > 0 {
			fields = append(fields, zap.Strings("errors", c.Errors.Errors()))
		}

		switch {
		case status >= 500:
			base.Error("http request", fields...)
		case status >= 400:
			base.Warn("http request", fields...)
		default:
			base.Info("http request", fields...)
		}
	}
}

// Recovery recovers from panics in handlers and logs them
func Recovery(base *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				base.Error("panic recovered",
					append(Fields(c.Request.Context()),
						zap.String("method", c.Request.Method),
						zap.String("path", c.Request.URL.Path),
						zap.Any("error", err),
						zap.Stack("stacktrace"),
					)...,
				)
				c.AbortWithStatus(500)
			}
		}()
		c.Next()
	}
}

// Package middleware provides HTTP middleware for the sync API.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/erp/ledgersync/internal/infrastructure/logger"
)

// MaxRequestIDLength bounds the request id copied onto spans
const MaxRequestIDLength = 128

// TracingConfig holds configuration for the tracing middleware.
type TracingConfig struct {
	// ServiceName is the name of the service for trace identification.
	ServiceName string
	// Enabled controls whether tracing is active.
	Enabled bool
}

// DefaultTracingConfig returns default tracing configuration.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		ServiceName: "ledgersync",
		Enabled:     true,
	}
}

// Tracing returns otelgin middleware. Span names follow
// "HTTP METHOD route_pattern".
func Tracing(cfg TracingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	return otelgin.Middleware(cfg.ServiceName)
}

// SpanErrorMarker marks the request span as failed for 5xx responses and
// records the request and tenant ids. Place it after Tracing and after the
// logger middleware.
func SpanErrorMarker() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		span := trace.SpanFromContext(c.Request.Context())
		if !span.IsRecording() {
			return
		}

		ctx := c.Request.Context()
		if requestID := logger.GetRequestID(ctx); requestID != "" {
			if len(requestID) > MaxRequestIDLength {
				requestID = requestID[:MaxRequestIDLength]
			}
			span.SetAttributes(attribute.String("request_id", requestID))
		}
		if tenantID := logger.GetTenantID(ctx); tenantID != "" {
			span.SetAttributes(attribute.String("tenant_id", tenantID))
		}

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

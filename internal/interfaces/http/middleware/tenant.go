package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/ledgersync/internal/infrastructure/logger"
	"github.com/erp/ledgersync/internal/interfaces/http/dto"
)

// Tenant context keys
const (
	TenantIDKey     = "tenant_id"
	TenantHeaderKey = "X-Tenant-ID"
)

// TenantValidator checks that a tenant exists
type TenantValidator interface {
	Exists(ctx context.Context, tenantID uuid.UUID) (bool, error)
}

// TenantMiddlewareConfig holds configuration for tenant middleware
type TenantMiddlewareConfig struct {
	// Validator is an optional existence check
	Validator TenantValidator
	// Logger for middleware logging
	Logger *zap.Logger
}

// TenantMiddleware requires an X-Tenant-ID header holding a UUID
func TenantMiddleware() gin.HandlerFunc {
	return TenantMiddlewareWithConfig(TenantMiddlewareConfig{})
}

// TenantMiddlewareWithConfig returns tenant middleware with custom configuration.
// The tenant id is stored in the gin context and in the request context
// so that request scoped logs carry it.
func TenantMiddlewareWithConfig(cfg TenantMiddlewareConfig) gin.HandlerFunc {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		raw := c.GetHeader(TenantHeaderKey)
		if raw == "" {
			respondUnauthorized(c, "Tenant identification required")
			return
		}
		tenantID, err := uuid.Parse(raw)
		if err != nil {
			respondUnauthorized(c, "Invalid tenant ID format")
			return
		}

		if cfg.Validator != nil {
			ok, err := cfg.Validator.Exists(c.Request.Context(), tenantID)
			if err != nil {
				log.Error("Tenant lookup failed", zap.String("tenant_id", raw), zap.Error(err))
				c.AbortWithStatusJSON(http.StatusInternalServerError,
					dto.NewErrorResponseWithRequestID(dto.ErrCodeInternal, "An unexpected error occurred", logger.GetRequestID(c.Request.Context())))
				return
			}
			if !ok {
				respondUnauthorized(c, "Unknown tenant")
				return
			}
		}

		c.Set(TenantIDKey, tenantID)
		c.Request = c.Request.WithContext(logger.WithTenantID(c.Request.Context(), tenantID.String()))
		c.Next()
	}
}

func respondUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized,
		dto.NewErrorResponseWithRequestID(dto.ErrCodeUnauthorized, message, logger.GetRequestID(c.Request.Context())))
}

// GetTenantUUID retrieves the tenant id stored by the tenant middleware
func GetTenantUUID(c *gin.Context) (uuid.UUID, bool) {
	v, exists := c.Get(TenantIDKey)
	if !exists {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok && id != uuid.Nil
}

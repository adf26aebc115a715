package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/erp/ledgersync/internal/infrastructure/logger"
)

type stubTenants struct {
	known map[uuid.UUID]bool
	err   error
}

func (s stubTenants) Exists(_ context.Context, tenantID uuid.UUID) (bool, error) {
	return s.known[tenantID], s.err
}

func setupTenantRouter(cfg TenantMiddlewareConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(TenantMiddlewareWithConfig(cfg))
	router.GET("/test", func(c *gin.Context) {
		tenantID, ok := GetTenantUUID(c)
		if !ok {
			c.Status(http.StatusTeapot)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"tenant_id":  tenantID.String(),
			"ctx_tenant": logger.GetTenantID(c.Request.Context()),
		})
	})
	return router
}

func TestTenantMiddleware_HeaderExtraction(t *testing.T) {
	tenantID := uuid.New()

	tests := []struct {
		name           string
		header         string
		expectedStatus int
	}{
		{name: "valid tenant id", header: tenantID.String(), expectedStatus: http.StatusOK},
		{name: "missing header", header: "", expectedStatus: http.StatusUnauthorized},
		{name: "malformed id", header: "tenant-1", expectedStatus: http.StatusUnauthorized},
	}

	router := setupTenantRouter(TenantMiddlewareConfig{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.header != "" {
				req.Header.Set(TenantHeaderKey, tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus == http.StatusOK {
				assert.Contains(t, w.Body.String(), `"tenant_id":"`+tenantID.String()+`"`)
				assert.Contains(t, w.Body.String(), `"ctx_tenant":"`+tenantID.String()+`"`)
			} else {
				assert.Contains(t, w.Body.String(), "ERR_UNAUTHORIZED")
			}
		})
	}
}

func TestTenantMiddleware_WithValidator(t *testing.T) {
	known := uuid.New()
	router := setupTenantRouter(TenantMiddlewareConfig{
		Validator: stubTenants{known: map[uuid.UUID]bool{known: true}},
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(TenantHeaderKey, known.String())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(TenantHeaderKey, uuid.NewString())
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Unknown tenant")
}

func TestTenantMiddleware_ValidatorError(t *testing.T) {
	router := setupTenantRouter(TenantMiddlewareConfig{
		Validator: stubTenants{err: errors.New("db down")},
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(TenantHeaderKey, uuid.NewString())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "db down")
}

func TestGetTenantUUID_Missing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	_, ok := GetTenantUUID(c)
	assert.False(t, ok)
}

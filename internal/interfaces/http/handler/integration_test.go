package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/erp/ledgersync/internal/domain/integration"
	"github.com/erp/ledgersync/internal/interfaces/http/dto"
	"github.com/erp/ledgersync/internal/interfaces/http/middleware"
)

// MockConnectionService implements ConnectionService for testing
type MockConnectionService struct {
	mock.Mock
}

func (m *MockConnectionService) BeginAuthorization(ctx context.Context, tenantID uuid.UUID) (string, error) {
	args := m.Called(ctx, tenantID)
	return args.String(0), args.Error(1)
}

func (m *MockConnectionService) CompleteAuthorization(ctx context.Context, code, stateToken string) (uuid.UUID, error) {
	args := m.Called(ctx, code, stateToken)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockConnectionService) Disconnect(ctx context.Context, tenantID uuid.UUID) error {
	return m.Called(ctx, tenantID).Error(0)
}

func setupIntegrationTestRouter() (*gin.Engine, *MockConnectionService) {
	service := new(MockConnectionService)
	h := NewIntegrationHandler(service, middleware.TenantMiddleware())

	router := gin.New()
	h.RegisterRoutes(router.Group("/api/v1"))
	return router, service
}

const consentURL = "https://provider.example.com/oauth/authorize?client_id=abc&state=signed"

func TestIntegrationHandler_Authorize(t *testing.T) {
	t.Run("returns the consent url", func(t *testing.T) {
		router, service := setupIntegrationTestRouter()
		tenantID := uuid.New()
		service.On("BeginAuthorization", mock.Anything, tenantID).Return(consentURL, nil)

		w := doRequest(router, http.MethodGet, "/api/v1/integrations/provider/authorize", tenantID, nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, consentURL, decodeResponse(t, w).Data.(map[string]any)["authorize_url"])
	})

	t.Run("redirects on request", func(t *testing.T) {
		router, service := setupIntegrationTestRouter()
		tenantID := uuid.New()
		service.On("BeginAuthorization", mock.Anything, tenantID).Return(consentURL, nil)

		w := doRequest(router, http.MethodGet, "/api/v1/integrations/provider/authorize?redirect=true", tenantID, nil)

		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, consentURL, w.Header().Get("Location"))
	})

	t.Run("unknown tenant", func(t *testing.T) {
		router, service := setupIntegrationTestRouter()
		tenantID := uuid.New()
		service.On("BeginAuthorization", mock.Anything, tenantID).Return("", integration.ErrInvalidTenant)

		w := doRequest(router, http.MethodGet, "/api/v1/integrations/provider/authorize", tenantID, nil)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("requires tenant header", func(t *testing.T) {
		router, service := setupIntegrationTestRouter()

		w := doRequest(router, http.MethodGet, "/api/v1/integrations/provider/authorize", uuid.Nil, nil)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		service.AssertNotCalled(t, "BeginAuthorization", mock.Anything, mock.Anything)
	})
}

func TestIntegrationHandler_Callback(t *testing.T) {
	callback := func(router *gin.Engine, query string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/integrations/provider/callback"+query, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	t.Run("connects the tenant named by the state", func(t *testing.T) {
		router, service := setupIntegrationTestRouter()
		tenantID := uuid.New()
		service.On("CompleteAuthorization", mock.Anything, "auth-code", "signed-state").Return(tenantID, nil)

		w := callback(router, "?code=auth-code&state=signed-state")

		assert.Equal(t, http.StatusOK, w.Code)
		data := decodeResponse(t, w).Data.(map[string]any)
		assert.Equal(t, tenantID.String(), data["tenant_id"])
		assert.Equal(t, true, data["connected"])
	})

	t.Run("invalid state", func(t *testing.T) {
		router, service := setupIntegrationTestRouter()
		service.On("CompleteAuthorization", mock.Anything, "auth-code", "forged").Return(uuid.Nil, integration.ErrInvalidState)

		w := callback(router, "?code=auth-code&state=forged")

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeInvalidOAuthState, decodeResponse(t, w).Error.Code)
	})

	t.Run("provider rejected the code", func(t *testing.T) {
		router, service := setupIntegrationTestRouter()
		service.On("CompleteAuthorization", mock.Anything, "used", "signed").
			Return(uuid.Nil, errors.Join(integration.ErrCodeExchangeFailed, errors.New("invalid_grant")))

		w := callback(router, "?code=used&state=signed")

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("provider unavailable", func(t *testing.T) {
		router, service := setupIntegrationTestRouter()
		service.On("CompleteAuthorization", mock.Anything, "code", "signed").Return(uuid.Nil, integration.ErrProviderUnavailable)

		w := callback(router, "?code=code&state=signed")

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("provider denied consent", func(t *testing.T) {
		router, service := setupIntegrationTestRouter()

		w := callback(router, "?error=access_denied&state=signed")

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		service.AssertNotCalled(t, "CompleteAuthorization", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("missing code", func(t *testing.T) {
		router, service := setupIntegrationTestRouter()

		w := callback(router, "?state=signed")

		assert.Equal(t, http.StatusBadRequest, w.Code)
		service.AssertNotCalled(t, "CompleteAuthorization", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestIntegrationHandler_Disconnect(t *testing.T) {
	t.Run("removes the connection", func(t *testing.T) {
		router, service := setupIntegrationTestRouter()
		tenantID := uuid.New()
		service.On("Disconnect", mock.Anything, tenantID).Return(nil)

		w := doRequest(router, http.MethodDelete, "/api/v1/integrations/provider/connection", tenantID, nil)

		assert.Equal(t, http.StatusNoContent, w.Code)
		service.AssertExpectations(t)
	})

	t.Run("not connected", func(t *testing.T) {
		router, service := setupIntegrationTestRouter()
		tenantID := uuid.New()
		service.On("Disconnect", mock.Anything, tenantID).Return(integration.ErrNotConnected)

		w := doRequest(router, http.MethodDelete, "/api/v1/integrations/provider/connection", tenantID, nil)

		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/ledgersync/internal/domain/integration"
	"github.com/erp/ledgersync/internal/domain/shared"
	"github.com/erp/ledgersync/internal/infrastructure/logger"
	"github.com/erp/ledgersync/internal/infrastructure/scheduler"
	"github.com/erp/ledgersync/internal/interfaces/http/dto"
	"github.com/erp/ledgersync/internal/interfaces/http/middleware"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// getRequestID returns the id assigned by the logger middleware
func getRequestID(c *gin.Context) string {
	return logger.GetRequestID(c.Request.Context())
}

// getTenantID returns the tenant id stored by the tenant middleware
func getTenantID(c *gin.Context) (uuid.UUID, error) {
	tenantID, ok := middleware.GetTenantUUID(c)
	if !ok {
		return uuid.Nil, errors.New("tenant ID not found in context")
	}
	return tenantID, nil
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithMeta sends a success response with pagination meta
func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data any, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(data, total, page, pageSize))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// Accepted sends a 202 accepted response
func (h *BaseHandler) Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(data))
}

// NoContent sends a 204 no content response
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends an error response with the status derived from the code
func (h *BaseHandler) Error(c *gin.Context, code, message string) {
	code = dto.NormalizeErrorCode(code)
	c.JSON(dto.GetHTTPStatus(code), dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, dto.ErrCodeBadRequest, message)
}

// NotFound sends a 404 not found response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, dto.ErrCodeNotFound, message)
}

// HandleError converts application errors to HTTP responses. Unknown errors
// are logged with the request scoped logger and answered with a generic 500.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)

	domainErr := toDomainError(err)
	if domainErr == nil {
		logger.L(c.Request.Context()).Error("Unhandled request error", zap.Error(err))
		h.Error(c, dto.ErrCodeInternal, "An unexpected error occurred")
		return
	}
	h.Error(c, domainErr.Code, domainErr.Message)
}

// errorMapping maps engine sentinels to API codes. Order matters: the first
// match wins.
var errorMapping = []struct {
	target  error
	code    string
	message string
}{
	{integration.ErrRunNotFound, dto.ErrCodeNotFound, "Sync run not found"},
	{integration.ErrInvalidTenant, dto.ErrCodeUnauthorized, "Unknown tenant"},
	{integration.ErrInvalidRunMode, dto.ErrCodeInvalidInput, "Invalid run mode"},
	{integration.ErrInvalidDateRange, dto.ErrCodeInvalidInput, "Invalid date range"},
	{integration.ErrModuleConfig, dto.ErrCodeInvalidInput, "Module cannot run in this mode"},
	{integration.ErrInvalidTransition, dto.ErrCodeInvalidState, "Operation not allowed in the current run status"},
	{integration.ErrInvalidState, dto.ErrCodeInvalidOAuthState, "Invalid or expired authorization state"},
	{integration.ErrCodeExchangeFailed, dto.ErrCodeUnauthorized, "Provider rejected the authorization"},
	{integration.ErrNotConnected, dto.ErrCodeNotConnected, "Tenant is not connected to the provider"},
	{integration.ErrRefreshFailed, dto.ErrCodeReauthorizationRequired, "Provider authorization must be renewed"},
	{integration.ErrAuthExpired, dto.ErrCodeReauthorizationRequired, "Provider authorization must be renewed"},
	{integration.ErrProviderUnavailable, dto.ErrCodeProviderUnavailable, "Provider is unavailable"},
	{integration.ErrProviderRequestFailed, dto.ErrCodeProviderError, "Provider rejected the request"},
	{integration.ErrProviderInvalidResponse, dto.ErrCodeProviderError, "Provider returned an invalid response"},
	{scheduler.ErrJobQueueFull, dto.ErrCodeServiceBusy, "Too many queued sync runs, retry later"},
	{scheduler.ErrSchedulerNotRunning, dto.ErrCodeServiceBusy, "Sync workers are not running"},
}

// toDomainError returns the API facing error for err, or nil when err is not
// a known domain error
func toDomainError(err error) *shared.DomainError {
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	for _, m := range errorMapping {
		if errors.Is(err, m.target) {
			return shared.NewDomainError(m.code, m.message).Wrap(err)
		}
	}
	return nil
}

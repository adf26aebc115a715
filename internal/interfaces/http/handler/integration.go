package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/ledgersync/internal/infrastructure/logger"
	"github.com/erp/ledgersync/internal/interfaces/http/dto"
	"github.com/erp/ledgersync/internal/interfaces/http/middleware"
)

// ConnectionService is the part of the token store the connection endpoints use
type ConnectionService interface {
	BeginAuthorization(ctx context.Context, tenantID uuid.UUID) (string, error)
	CompleteAuthorization(ctx context.Context, code, stateToken string) (uuid.UUID, error)
	Disconnect(ctx context.Context, tenantID uuid.UUID) error
}

// AuthorizeResponse carries the provider consent URL
type AuthorizeResponse struct {
	AuthorizeURL string `json:"authorize_url"`
}

// ConnectionResponse is returned once a tenant completed the consent flow
type ConnectionResponse struct {
	TenantID  uuid.UUID `json:"tenant_id"`
	Connected bool      `json:"connected"`
}

// CallbackQuery is the query the provider appends to the redirect URL
type CallbackQuery struct {
	Code             string `form:"code"`
	State            string `form:"state"`
	Error            string `form:"error"`
	ErrorDescription string `form:"error_description"`
}

// IntegrationHandler handles the provider connection endpoints
type IntegrationHandler struct {
	BaseHandler
	service ConnectionService
	tenant  gin.HandlerFunc
}

// NewIntegrationHandler creates a new IntegrationHandler
func NewIntegrationHandler(service ConnectionService, tenant gin.HandlerFunc) *IntegrationHandler {
	if tenant == nil {
		tenant = middleware.TenantMiddleware()
	}
	return &IntegrationHandler{service: service, tenant: tenant}
}

// RegisterRoutes registers the provider connection routes. The callback is
// reached by the provider redirect and identifies the tenant by the signed
// state, so it carries no tenant middleware.
func (h *IntegrationHandler) RegisterRoutes(rg *gin.RouterGroup) {
	provider := rg.Group("/integrations/provider")
	provider.GET("/callback", h.Callback)

	scoped := provider.Group("", h.tenant)
	scoped.GET("/authorize", h.Authorize)
	scoped.DELETE("/connection", h.Disconnect)
}

// Authorize godoc
//
//	@Summary		Begin provider authorization
//	@Description	Returns the provider consent URL, or redirects to it when redirect=true
//	@Tags			integrations
//	@Produce		json
//	@Param			X-Tenant-ID	header		string	true	"Tenant ID"
//	@Param			redirect	query		bool	false	"Redirect instead of returning the URL"
//	@Success		200			{object}	dto.Response{data=AuthorizeResponse}
//	@Success		302
//	@Failure		401			{object}	dto.Response
//	@Router			/integrations/provider/authorize [get]
func (h *IntegrationHandler) Authorize(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	authorizeURL, err := h.service.BeginAuthorization(c.Request.Context(), tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	if c.Query("redirect") == "true" {
		c.Redirect(http.StatusFound, authorizeURL)
		return
	}
	h.Success(c, AuthorizeResponse{AuthorizeURL: authorizeURL})
}

// Callback godoc
//
//	@Summary		Complete provider authorization
//	@Description	Exchanges the authorization code for tokens and stores them for the tenant named by the state
//	@Tags			integrations
//	@Produce		json
//	@Param			code	query		string	false	"Authorization code"
//	@Param			state	query		string	true	"Signed state"
//	@Param			error	query		string	false	"Provider error"
//	@Success		200		{object}	dto.Response{data=ConnectionResponse}
//	@Failure		400		{object}	dto.Response
//	@Failure		401		{object}	dto.Response
//	@Failure		503		{object}	dto.Response
//	@Router			/integrations/provider/callback [get]
func (h *IntegrationHandler) Callback(c *gin.Context) {
	var query CallbackQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	if query.Error != "" {
		logger.L(c.Request.Context()).Warn("Provider denied authorization",
			zap.String("error", query.Error),
			zap.String("error_description", query.ErrorDescription),
		)
		h.Error(c, dto.ErrCodeUnauthorized, "Authorization was denied at the provider")
		return
	}
	if query.Code == "" || query.State == "" {
		h.BadRequest(c, "Missing code or state")
		return
	}

	tenantID, err := h.service.CompleteAuthorization(c.Request.Context(), query.Code, query.State)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, ConnectionResponse{TenantID: tenantID, Connected: true})
}

// Disconnect godoc
//
//	@Summary		Disconnect the provider
//	@Description	Removes the tenant's stored provider tokens
//	@Tags			integrations
//	@Param			X-Tenant-ID	header	string	true	"Tenant ID"
//	@Success		204
//	@Failure		401	{object}	dto.Response
//	@Router			/integrations/provider/connection [delete]
func (h *IntegrationHandler) Disconnect(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	if err := h.service.Disconnect(c.Request.Context(), tenantID); err != nil {
		h.HandleError(c, err)
		return
	}

	h.NoContent(c)
}

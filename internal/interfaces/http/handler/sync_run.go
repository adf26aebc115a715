package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	syncapp "github.com/erp/ledgersync/internal/application/integration"
	"github.com/erp/ledgersync/internal/domain/integration"
	"github.com/erp/ledgersync/internal/interfaces/http/middleware"
)

// SyncRunService is the part of the orchestrator the sync run endpoints use
type SyncRunService interface {
	CreateRun(ctx context.Context, in syncapp.CreateRunInput) (*integration.SyncRun, error)
	CancelRun(ctx context.Context, runID uuid.UUID) (integration.RunStatus, error)
	GetTenantRunStatus(ctx context.Context, tenantID, runID uuid.UUID) (*syncapp.RunStatusResponse, error)
	ListRuns(ctx context.Context, tenantID uuid.UUID, filter integration.RunFilter) (*syncapp.RunListResponse, error)
}

// RunDispatcher queues runs for background execution
type RunDispatcher interface {
	Submit(runID uuid.UUID) error
}

// SyncRunHandler handles sync run API endpoints
type SyncRunHandler struct {
	BaseHandler
	service    SyncRunService
	dispatcher RunDispatcher
	tenant     gin.HandlerFunc
}

// NewSyncRunHandler creates a new SyncRunHandler. tenant is the middleware
// that resolves X-Tenant-ID for every route of this handler.
func NewSyncRunHandler(service SyncRunService, dispatcher RunDispatcher, tenant gin.HandlerFunc) *SyncRunHandler {
	if tenant == nil {
		tenant = middleware.TenantMiddleware()
	}
	return &SyncRunHandler{
		service:    service,
		dispatcher: dispatcher,
		tenant:     tenant,
	}
}

// RegisterRoutes registers the sync run routes
func (h *SyncRunHandler) RegisterRoutes(rg *gin.RouterGroup) {
	runs := rg.Group("/sync/runs", h.tenant)
	runs.POST("", h.Create)
	runs.GET("", h.List)
	runs.GET("/:id", h.Get)
	runs.POST("/:id/start", h.Start)
	runs.POST("/:id/cancel", h.Cancel)
}

// Create godoc
//
//	@Summary		Create a sync run
//	@Description	Queue an incremental or period sync run for the tenant
//	@Tags			sync
//	@Accept			json
//	@Produce		json
//	@Param			X-Tenant-ID	header		string						true	"Tenant ID"
//	@Param			request		body		syncapp.CreateRunRequest	true	"Run request"
//	@Success		201			{object}	dto.Response{data=syncapp.RunStatusResponse}
//	@Failure		400			{object}	dto.Response
//	@Failure		401			{object}	dto.Response
//	@Failure		409			{object}	dto.Response
//	@Router			/sync/runs [post]
func (h *SyncRunHandler) Create(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	var req syncapp.CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	in, err := req.ToInput(tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	run, err := h.service.CreateRun(c.Request.Context(), in)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, syncapp.ToRunStatusResponse(run))
}

// List godoc
//
//	@Summary		List sync runs
//	@Description	List the tenant's sync runs, newest first
//	@Tags			sync
//	@Produce		json
//	@Param			X-Tenant-ID	header		string	true	"Tenant ID"
//	@Param			status		query		string	false	"Run status"
//	@Param			mode		query		string	false	"Run mode"
//	@Param			page		query		int		false	"Page number"	default(1)
//	@Param			page_size	query		int		false	"Page size"		default(20)
//	@Success		200			{object}	dto.Response{data=[]syncapp.RunStatusResponse}
//	@Failure		400			{object}	dto.Response
//	@Router			/sync/runs [get]
func (h *SyncRunHandler) List(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	var query syncapp.ListRunsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	result, err := h.service.ListRuns(c.Request.Context(), tenantID, query.ToFilter())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.SuccessWithMeta(c, result.Items, result.Total, result.Page, result.PageSize)
}

// Get godoc
//
//	@Summary		Get sync run status
//	@Description	Poll the progress of one sync run
//	@Tags			sync
//	@Produce		json
//	@Param			X-Tenant-ID	header		string	true	"Tenant ID"
//	@Param			id			path		string	true	"Run ID"	format(uuid)
//	@Success		200			{object}	dto.Response{data=syncapp.RunStatusResponse}
//	@Failure		404			{object}	dto.Response
//	@Router			/sync/runs/{id} [get]
func (h *SyncRunHandler) Get(c *gin.Context) {
	tenantID, runID, ok := h.runParams(c)
	if !ok {
		return
	}

	status, err := h.service.GetTenantRunStatus(c.Request.Context(), tenantID, runID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, status)
}

// Start godoc
//
//	@Summary		Start a queued sync run
//	@Description	Hand a QUEUED run to the background workers. Runs in any other status are returned unchanged.
//	@Tags			sync
//	@Produce		json
//	@Param			X-Tenant-ID	header		string	true	"Tenant ID"
//	@Param			id			path		string	true	"Run ID"	format(uuid)
//	@Success		200			{object}	dto.Response{data=syncapp.RunStatusResponse}
//	@Success		202			{object}	dto.Response{data=syncapp.RunStatusResponse}
//	@Failure		404			{object}	dto.Response
//	@Failure		503			{object}	dto.Response
//	@Router			/sync/runs/{id}/start [post]
func (h *SyncRunHandler) Start(c *gin.Context) {
	tenantID, runID, ok := h.runParams(c)
	if !ok {
		return
	}

	status, err := h.service.GetTenantRunStatus(c.Request.Context(), tenantID, runID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if status.Status != integration.RunStatusQueued {
		h.Success(c, status)
		return
	}

	if err := h.dispatcher.Submit(runID); err != nil {
		h.HandleError(c, err)
		return
	}

	h.Accepted(c, status)
}

// Cancel godoc
//
//	@Summary		Cancel a sync run
//	@Description	Request cancellation. A running run stops at the next page boundary.
//	@Tags			sync
//	@Produce		json
//	@Param			X-Tenant-ID	header		string	true	"Tenant ID"
//	@Param			id			path		string	true	"Run ID"	format(uuid)
//	@Success		200			{object}	dto.Response{data=syncapp.RunStatusResponse}
//	@Failure		404			{object}	dto.Response
//	@Router			/sync/runs/{id}/cancel [post]
func (h *SyncRunHandler) Cancel(c *gin.Context) {
	tenantID, runID, ok := h.runParams(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if _, err := h.service.GetTenantRunStatus(ctx, tenantID, runID); err != nil {
		h.HandleError(c, err)
		return
	}
	if _, err := h.service.CancelRun(ctx, runID); err != nil {
		h.HandleError(c, err)
		return
	}

	status, err := h.service.GetTenantRunStatus(ctx, tenantID, runID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, status)
}

// runParams reads the tenant and the run id path parameter, answering the
// request itself when either is invalid
func (h *SyncRunHandler) runParams(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return uuid.Nil, uuid.Nil, false
	}
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid run ID format")
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, runID, true
}

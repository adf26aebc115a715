package handler

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/erp/ledgersync/internal/infrastructure/logger"
	"github.com/erp/ledgersync/internal/interfaces/http/dto"
)

// Pinger reports whether the database answers
type Pinger interface {
	Ping() error
}

// QueueDepth reports how many runs wait for a worker
type QueueDepth interface {
	Pending() int
}

// SystemHandler serves health and system information endpoints
type SystemHandler struct {
	BaseHandler
	db        Pinger
	queue     QueueDepth
	startTime time.Time
}

// NewSystemHandler creates a new SystemHandler. queue may be nil.
func NewSystemHandler(db Pinger, queue QueueDepth) *SystemHandler {
	return &SystemHandler{
		db:        db,
		queue:     queue,
		startTime: time.Now(),
	}
}

// SystemInfoResponse represents the system information response
type SystemInfoResponse struct {
	Name        string `json:"name" example:"ledgersync"`
	GoVersion   string `json:"go_version" example:"go1.25.5"`
	Uptime      string `json:"uptime" example:"1h30m45s"`
	PendingRuns int    `json:"pending_runs"`
}

// HealthResponse is the body of the health endpoint
type HealthResponse struct {
	Status   string `json:"status"`
	Time     string `json:"time"`
	Database string `json:"database"`
}

// RegisterRoutes registers the system routes under the API group
func (h *SystemHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/system/info", h.GetSystemInfo)
	rg.GET("/ping", h.Ping)
}

// Health godoc
//
//	@Summary		Health check
//	@Description	Reports whether the service and its database are reachable
//	@Tags			system
//	@Produce		json
//	@Success		200	{object}	HealthResponse
//	@Failure		503	{object}	HealthResponse
//	@Router			/health [get]
func (h *SystemHandler) Health(c *gin.Context) {
	now := time.Now().Format(time.RFC3339)
	if err := h.db.Ping(); err != nil {
		logger.L(c.Request.Context()).Warn("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Time: now, Database: "error"})
		return
	}
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Time: now, Database: "ok"})
}

// GetSystemInfo godoc
//
//	@Summary		Get system information
//	@Tags			system
//	@Produce		json
//	@Success		200	{object}	dto.Response{data=SystemInfoResponse}
//	@Router			/system/info [get]
func (h *SystemHandler) GetSystemInfo(c *gin.Context) {
	info := SystemInfoResponse{
		Name:      "ledgersync",
		GoVersion: runtime.Version(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	}
	if h.queue != nil {
		info.PendingRuns = h.queue.Pending()
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(info))
}

// Ping godoc
//
//	@Summary	Ping the API
//	@Tags		system
//	@Produce	json
//	@Success	200	{object}	dto.Response
//	@Router		/ping [get]
func (h *SystemHandler) Ping(c *gin.Context) {
	h.Success(c, gin.H{"message": "pong"})
}

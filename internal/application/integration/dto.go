package integration

import (
	"time"

	"github.com/google/uuid"

	"github.com/erp/ledgersync/internal/domain/integration"
)

// ---------------------------------------------------------------------------
// Sync run DTOs
// ---------------------------------------------------------------------------

// ModuleProgressResponse is the progress of one module in API responses
type ModuleProgressResponse struct {
	Pages     int64  `json:"pages"`
	Fetched   int64  `json:"fetched"`
	Upserted  int64  `json:"upserted"`
	Skipped   int64  `json:"skipped"`
	Failed    int64  `json:"failed"`
	LastError string `json:"last_error,omitempty"`
}

// RunStatusResponse represents a sync run in API responses
type RunStatusResponse struct {
	ID               uuid.UUID                         `json:"id"`
	TenantID         uuid.UUID                         `json:"tenant_id"`
	Mode             integration.RunMode               `json:"mode"`
	StartDate        string                            `json:"start_date,omitempty"`
	EndDate          string                            `json:"end_date,omitempty"`
	Status           integration.RunStatus             `json:"status"`
	Modules          []integration.ModuleID            `json:"modules"`
	ModuleIndex      int                               `json:"module_index"`
	TotalModules     int                               `json:"total_modules"`
	CurrentModule    integration.ModuleID              `json:"current_module,omitempty"`
	Percent          int                               `json:"percent"`
	Progress         map[string]ModuleProgressResponse `json:"progress"`
	ErrorMessage     string                            `json:"error_message,omitempty"`
	CancelRequested  bool                              `json:"cancel_requested"`
	ResumedFromRunID *uuid.UUID                        `json:"resumed_from_run_id,omitempty"`
	CreatedAt        time.Time                         `json:"created_at"`
	StartedAt        *time.Time                        `json:"started_at,omitempty"`
	FinishedAt       *time.Time                        `json:"finished_at,omitempty"`
	LastCheckpointAt *time.Time                        `json:"last_checkpoint_at,omitempty"`
}

// RunListResponse is a page of runs
type RunListResponse struct {
	Items    []RunStatusResponse `json:"items"`
	Total    int64               `json:"total"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"page_size"`
}

// ToRunStatusResponse converts a run to its API view
func ToRunStatusResponse(run *integration.SyncRun) *RunStatusResponse {
	resp := &RunStatusResponse{
		ID:               run.ID,
		TenantID:         run.TenantID,
		Mode:             run.Mode,
		Status:           run.Status,
		Modules:          run.Modules,
		ModuleIndex:      run.ModuleIndex,
		TotalModules:     run.TotalModules(),
		Percent:          run.PercentComplete(),
		Progress:         make(map[string]ModuleProgressResponse, len(run.Progress)),
		ErrorMessage:     run.ErrorMessage,
		CancelRequested:  run.CancelRequested,
		ResumedFromRunID: run.ResumedFromRunID,
		CreatedAt:        run.CreatedAt,
		StartedAt:        run.StartedAt,
		FinishedAt:       run.FinishedAt,
		LastCheckpointAt: run.LastCheckpointAt,
	}
	if run.Window != nil {
		resp.StartDate = run.Window.Start.Format(integration.DateLayout)
		resp.EndDate = run.Window.End.Format(integration.DateLayout)
	}
	if !run.IsTerminal() {
		if m, ok := run.CurrentModule(); ok {
			resp.CurrentModule = m
		}
	}
	for m, p := range run.Progress {
		resp.Progress[string(m)] = ModuleProgressResponse(p)
	}
	return resp
}

// ---------------------------------------------------------------------------
// Request DTOs
// ---------------------------------------------------------------------------

// CreateRunRequest is the body of POST /sync/runs
type CreateRunRequest struct {
	Mode      string `json:"mode" binding:"required,oneof=incremental period INCREMENTAL PERIOD"`
	StartDate string `json:"start_date" binding:"omitempty,datetime=2006-01-02"`
	EndDate   string `json:"end_date" binding:"omitempty,datetime=2006-01-02"`
	Resume    bool   `json:"resume"`
}

// ToInput validates the request into a CreateRunInput
func (r CreateRunRequest) ToInput(tenantID uuid.UUID) (CreateRunInput, error) {
	mode, err := integration.ParseRunMode(r.Mode)
	if err != nil {
		return CreateRunInput{}, err
	}
	in := CreateRunInput{TenantID: tenantID, Mode: mode, Resume: r.Resume}
	if r.StartDate != "" || r.EndDate != "" {
		window, err := integration.ParseDateRange(r.StartDate, r.EndDate)
		if err != nil {
			return CreateRunInput{}, err
		}
		in.Window = window
	}
	return in, nil
}

// ListRunsQuery is the query of GET /sync/runs
type ListRunsQuery struct {
	Status   string `form:"status" binding:"omitempty,oneof=QUEUED RUNNING DONE FAILED CANCELED"`
	Mode     string `form:"mode" binding:"omitempty,oneof=INCREMENTAL PERIOD"`
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
}

// ToFilter converts the query into a repository filter
func (q ListRunsQuery) ToFilter() integration.RunFilter {
	return integration.RunFilter{
		Status:   integration.RunStatus(q.Status),
		Mode:     integration.RunMode(q.Mode),
		Page:     q.Page,
		PageSize: q.PageSize,
	}
}

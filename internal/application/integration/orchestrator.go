package integration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/erp/ledgersync/internal/domain/integration"
	"github.com/erp/ledgersync/internal/infrastructure/logger"
	"github.com/erp/ledgersync/internal/infrastructure/telemetry"
)

// InterruptedMessage is recorded on runs stopped by shutdown
const InterruptedMessage = "interrupted"

// finalizeTimeout bounds the status write of an interrupted run
const finalizeTimeout = 10 * time.Second

// ModuleRunner runs one module of a run
type ModuleRunner interface {
	Run(ctx context.Context, run *integration.SyncRun, module integration.ModuleID) (ModuleOutcome, error)
}

// OrchestratorConfig holds the tunables of the orchestrator
type OrchestratorConfig struct {
	// RunTimeout bounds one execution; zero means no limit
	RunTimeout time.Duration
}

// OrchestratorDeps bundles the collaborators of the orchestrator
type OrchestratorDeps struct {
	Runs     integration.SyncRunRepository
	Tenants  integration.TenantDirectory
	Pipeline ModuleRunner
	Metrics  *telemetry.SyncMetrics
	Logger   *zap.Logger
}

// CreateRunInput describes a new run
type CreateRunInput struct {
	TenantID uuid.UUID
	Mode     integration.RunMode
	Window   *integration.DateRange
	// Resume seeds the run from the newest matching FAILED run
	Resume bool
}

// Orchestrator drives sync runs through their lifecycle
type Orchestrator struct {
	runs     integration.SyncRunRepository
	tenants  integration.TenantDirectory
	pipeline ModuleRunner
	metrics  *telemetry.SyncMetrics
	logger   *zap.Logger
	cfg      OrchestratorConfig
	now      func() time.Time
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(deps OrchestratorDeps, cfg OrchestratorConfig) *Orchestrator {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		runs:     deps.Runs,
		tenants:  deps.Tenants,
		pipeline: deps.Pipeline,
		metrics:  deps.Metrics,
		logger:   log,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

// CreateRun creates a QUEUED run for a tenant
func (o *Orchestrator) CreateRun(ctx context.Context, in CreateRunInput) (*integration.SyncRun, error) {
	if in.TenantID == uuid.Nil {
		return nil, integration.ErrInvalidTenant
	}
	ok, err := o.tenants.Exists(ctx, in.TenantID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", integration.ErrInvalidTenant, in.TenantID)
	}

	run, err := integration.NewSyncRun(in.TenantID, in.Mode, in.Window)
	if err != nil {
		return nil, err
	}
	now := o.now()
	run.CreatedAt = now
	run.UpdatedAt = now

	log := logger.For(ctx, o.logger).With(
		zap.String("tenant_id", in.TenantID.String()),
		zap.String("mode", string(in.Mode)),
	)
	if in.Resume {
		o.seed(ctx, log, run)
	}

	if err := o.runs.Create(ctx, run); err != nil {
		return nil, err
	}
	log.Info("Sync run created",
		zap.String("run_id", run.ID.String()),
		zap.String("window", run.Window.String()),
		zap.Int("module_index", run.ModuleIndex),
	)
	return run, nil
}

// ScheduleIncremental returns the run the scheduler should submit for a
// tenant. A tenant with a RUNNING run is skipped (nil). A tenant with QUEUED
// runs gets its oldest one back. Otherwise a new incremental run is created.
func (o *Orchestrator) ScheduleIncremental(ctx context.Context, tenantID uuid.UUID) (*integration.SyncRun, error) {
	log := logger.For(ctx, o.logger).With(zap.String("tenant_id", tenantID.String()))

	_, running, err := o.runs.List(ctx, tenantID, integration.RunFilter{Status: integration.RunStatusRunning, Page: 1, PageSize: 1})
	if err != nil {
		return nil, err
	}
	if running > 0 {
		log.Debug("Skipping scheduled sync, tenant has a running run")
		return nil, nil
	}

	queued, err := o.oldestQueued(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if queued != nil {
		log.Info("Resubmitting queued sync run", zap.String("run_id", queued.ID.String()))
		return queued, nil
	}
	return o.CreateRun(ctx, CreateRunInput{TenantID: tenantID, Mode: integration.RunModeIncremental})
}

// oldestQueued returns the oldest QUEUED run of a tenant, or nil
func (o *Orchestrator) oldestQueued(ctx context.Context, tenantID uuid.UUID) (*integration.SyncRun, error) {
	filter := integration.RunFilter{Status: integration.RunStatusQueued, Page: 1, PageSize: 1}
	_, total, err := o.runs.List(ctx, tenantID, filter)
	if err != nil || total == 0 {
		return nil, err
	}
	// runs are listed newest first
	filter.Page = int(total)
	runs, _, err := o.runs.List(ctx, tenantID, filter)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// seed copies the checkpoint of the newest matching failed run. A missing or
// incompatible predecessor leaves the run starting from scratch.
func (o *Orchestrator) seed(ctx context.Context, log *zap.Logger, run *integration.SyncRun) {
	prev, err := o.runs.FindLatestFailed(ctx, run.TenantID, run.Mode, run.Window)
	if errors.Is(err, integration.ErrRunNotFound) {
		log.Info("No failed run to resume from")
		return
	}
	if err != nil {
		log.Warn("Failed to look up run to resume from", zap.Error(err))
		return
	}
	if err := run.SeedFrom(prev); err != nil {
		log.Warn("Cannot resume from failed run",
			zap.String("previous_run_id", prev.ID.String()),
			zap.Error(err),
		)
		return
	}
	log.Info("Resuming from failed run", zap.String("previous_run_id", prev.ID.String()))
}

// StartRun claims a QUEUED run and executes it to a terminal status. When the
// claim is lost (already running, terminal, or another run of the tenant is
// RUNNING) it returns the observed status without doing any work.
func (o *Orchestrator) StartRun(ctx context.Context, runID uuid.UUID) (integration.RunStatus, error) {
	run, err := o.runs.FindByID(ctx, runID)
	if err != nil {
		return "", err
	}
	if run.Status != integration.RunStatusQueued {
		return run.Status, nil
	}

	now := o.now()
	won, err := o.runs.Claim(ctx, runID, now)
	if err != nil {
		return "", err
	}
	if !won {
		observed, err := o.runs.FindByID(ctx, runID)
		if err != nil {
			return "", err
		}
		logger.For(ctx, o.logger).Info("Sync run not started",
			zap.String("run_id", runID.String()),
			zap.String("status", string(observed.Status)),
		)
		return observed.Status, nil
	}
	if err := run.Start(now); err != nil {
		return "", err
	}
	return o.execute(ctx, run), nil
}

// CancelRun cancels a QUEUED run directly and asks a RUNNING run to stop at
// its next page or module boundary. Terminal runs are left unchanged.
func (o *Orchestrator) CancelRun(ctx context.Context, runID uuid.UUID) (integration.RunStatus, error) {
	run, err := o.runs.FindByID(ctx, runID)
	if err != nil {
		return "", err
	}
	log := logger.For(ctx, o.logger).With(zap.String("run_id", runID.String()))

	switch run.Status {
	case integration.RunStatusQueued:
		ok, err := o.runs.CancelQueued(ctx, runID, o.now())
		if err != nil {
			return "", err
		}
		if ok {
			log.Info("Queued sync run canceled")
			o.metrics.RecordRunFinished(ctx, run.TenantID, string(run.Mode), string(integration.RunStatusCanceled))
			return integration.RunStatusCanceled, nil
		}
		// claimed in the meantime
		return o.CancelRun(ctx, runID)
	case integration.RunStatusRunning:
		ok, err := o.runs.RequestCancel(ctx, runID)
		if err != nil {
			return "", err
		}
		if !ok {
			return o.currentStatus(ctx, runID)
		}
		log.Info("Cancellation requested for running sync run")
		return integration.RunStatusRunning, nil
	default:
		return run.Status, nil
	}
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// GetRunStatus returns the progress view of a run
func (o *Orchestrator) GetRunStatus(ctx context.Context, runID uuid.UUID) (*RunStatusResponse, error) {
	run, err := o.runs.FindByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	return ToRunStatusResponse(run), nil
}

// GetTenantRunStatus returns the progress view of a run owned by tenantID.
// Runs of other tenants are reported as not found.
func (o *Orchestrator) GetTenantRunStatus(ctx context.Context, tenantID, runID uuid.UUID) (*RunStatusResponse, error) {
	run, err := o.runs.FindByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.TenantID != tenantID {
		return nil, integration.ErrRunNotFound
	}
	return ToRunStatusResponse(run), nil
}

// ListRuns lists the runs of a tenant, newest first
func (o *Orchestrator) ListRuns(ctx context.Context, tenantID uuid.UUID, filter integration.RunFilter) (*RunListResponse, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	runs, total, err := o.runs.List(ctx, tenantID, filter)
	if err != nil {
		return nil, err
	}
	items := make([]RunStatusResponse, 0, len(runs))
	for i := range runs {
		items = append(items, *ToRunStatusResponse(&runs[i]))
	}
	return &RunListResponse{
		Items:    items,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	}, nil
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

// execute walks the modules of a claimed run from its persisted module index
func (o *Orchestrator) execute(parent context.Context, run *integration.SyncRun) integration.RunStatus {
	ctx := logger.WithRunID(logger.WithTenantID(parent, run.TenantID.String()), run.ID.String())
	if o.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RunTimeout)
		defer cancel()
	}

	ctx, span := telemetry.StartSpan(ctx, "sync.run",
		attribute.String(telemetry.SpanAttrTenantID, run.TenantID.String()),
		attribute.String(telemetry.SpanAttrRunID, run.ID.String()),
	)
	defer span.End()

	log := logger.For(ctx, o.logger)
	log.Info("Sync run started",
		zap.String("mode", string(run.Mode)),
		zap.Int("module_index", run.ModuleIndex),
		zap.Int("total_modules", run.TotalModules()),
	)

	for {
		module, ok := run.CurrentModule()
		if !ok {
			break
		}

		canceled, err := o.runs.IsCancelRequested(ctx, run.ID)
		if err != nil {
			return o.fail(ctx, run, err)
		}
		if canceled {
			return o.finish(ctx, run, integration.RunStatusCanceled, "")
		}

		if _, err := o.pipeline.Run(ctx, run, module); err != nil {
			if errors.Is(err, integration.ErrRunCanceled) {
				return o.finish(ctx, run, integration.RunStatusCanceled, "")
			}
			telemetry.RecordError(span, err)
			return o.fail(ctx, run, fmt.Errorf("module %s: %w", module, err))
		}

		now := o.now()
		if err := run.AdvanceModule(now); err != nil {
			return o.fail(ctx, run, err)
		}
		if err := o.runs.AdvanceModule(ctx, run.ID, run.ModuleIndex, now); err != nil {
			return o.fail(ctx, run, err)
		}
	}

	return o.finish(ctx, run, integration.RunStatusDone, "")
}

// fail records a failed run. A done context means shutdown or timeout, and
// the status is written on a fresh context.
func (o *Orchestrator) fail(ctx context.Context, run *integration.SyncRun, cause error) integration.RunStatus {
	if ctx.Err() != nil {
		message := InterruptedMessage
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && o.cfg.RunTimeout > 0 {
			message = fmt.Sprintf("run exceeded %s", o.cfg.RunTimeout)
		}
		return o.finish(ctx, run, integration.RunStatusFailed, message)
	}
	return o.finish(ctx, run, integration.RunStatusFailed, cause.Error())
}

func (o *Orchestrator) finish(ctx context.Context, run *integration.SyncRun, status integration.RunStatus, message string) integration.RunStatus {
	log := logger.For(ctx, o.logger)
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
		defer cancel()
	}

	ok, err := o.runs.Finish(ctx, run.ID, status, message, o.now())
	if err != nil {
		log.Error("Failed to record sync run status",
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return run.Status
	}
	if !ok {
		observed, err := o.currentStatus(ctx, run.ID)
		if err != nil {
			return run.Status
		}
		log.Warn("Sync run was finished elsewhere", zap.String("status", string(observed)))
		return observed
	}

	o.metrics.RecordRunFinished(ctx, run.TenantID, string(run.Mode), string(status))
	fields := []zap.Field{
		zap.String("status", string(status)),
		zap.Int("module_index", run.ModuleIndex),
		zap.Int("total_modules", run.TotalModules()),
	}
	if status == integration.RunStatusFailed {
		log.Warn("Sync run failed", append(fields, zap.String("error_message", message))...)
	} else {
		log.Info("Sync run finished", fields...)
	}
	return status
}

func (o *Orchestrator) currentStatus(ctx context.Context, runID uuid.UUID) (integration.RunStatus, error) {
	run, err := o.runs.FindByID(ctx, runID)
	if err != nil {
		return "", err
	}
	return run.Status, nil
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/erp/ledgersync/internal/domain/integration"
)

// TenantProvider lists the tenants that have a provider connection
type TenantProvider interface {
	ListConnectedTenants(ctx context.Context) ([]uuid.UUID, error)
}

// RunScheduler picks the run a tenant's schedule tick should submit: its
// oldest QUEUED run, else a new incremental run. It returns nil while the
// tenant has a RUNNING run.
type RunScheduler interface {
	ScheduleIncremental(ctx context.Context, tenantID uuid.UUID) (*integration.SyncRun, error)
}

// RunSubmitter queues a run for execution
type RunSubmitter interface {
	Submit(runID uuid.UUID) error
}

// StaleRunSweeper fails runs that stopped making progress
type StaleRunSweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// CronConfig holds the cron specs of the background jobs
type CronConfig struct {
	// IncrementalSpec schedules incremental runs for every connected tenant
	IncrementalSpec string
	// WatchdogSpec schedules the stale run sweep; empty disables it
	WatchdogSpec string
}

// CronDeps bundles the collaborators of the cron trigger
type CronDeps struct {
	Tenants    TenantProvider
	Runs       RunScheduler
	Dispatcher RunSubmitter
	Watchdog   StaleRunSweeper
}

// CronTrigger runs the periodic sync jobs
type CronTrigger struct {
	cron   *cron.Cron
	deps   CronDeps
	logger *zap.Logger

	mu        sync.Mutex
	baseCtx   context.Context
	isRunning bool
}

// NewCronTrigger creates a cron trigger. Invalid specs are rejected here.
func NewCronTrigger(config CronConfig, deps CronDeps, logger *zap.Logger) (*CronTrigger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &CronTrigger{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		deps:    deps,
		logger:  logger,
		baseCtx: context.Background(),
	}

	if config.IncrementalSpec != "" {
		if _, err := c.add(config.IncrementalSpec, func(ctx context.Context) {
			_, _ = c.RunIncremental(ctx)
		}); err != nil {
			return nil, fmt.Errorf("%w: incremental spec %q: %v", ErrInvalidConfig, config.IncrementalSpec, err)
		}
	}
	if config.WatchdogSpec != "" && deps.Watchdog != nil {
		if _, err := c.add(config.WatchdogSpec, func(ctx context.Context) {
			_, _ = c.RunWatchdog(ctx)
		}); err != nil {
			return nil, fmt.Errorf("%w: watchdog spec %q: %v", ErrInvalidConfig, config.WatchdogSpec, err)
		}
	}
	return c, nil
}

func (c *CronTrigger) add(spec string, job func(context.Context)) (cron.EntryID, error) {
	return c.cron.AddFunc(spec, func() {
		c.mu.Lock()
		ctx := c.baseCtx
		c.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		job(ctx)
	})
}

// Start starts the cron loop. Jobs run with ctx.
func (c *CronTrigger) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isRunning {
		return
	}
	c.isRunning = true
	c.baseCtx = ctx
	c.cron.Start()
	c.logger.Info("Cron trigger started", zap.Int("entries", len(c.cron.Entries())))
}

// Stop stops scheduling and waits for running jobs to return
func (c *CronTrigger) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = false
	c.mu.Unlock()

	jobsDone := c.cron.Stop()
	select {
	case <-jobsDone.Done():
		c.logger.Info("Cron trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunIncremental schedules and submits an incremental run for every connected
// tenant. It returns how many runs were submitted.
func (c *CronTrigger) RunIncremental(ctx context.Context) (int, error) {
	tenants, err := c.deps.Tenants.ListConnectedTenants(ctx)
	if err != nil {
		c.logger.Error("Failed to list connected tenants", zap.Error(err))
		return 0, err
	}

	submitted := 0
	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			return submitted, ctx.Err()
		}
		log := c.logger.With(zap.String("tenant_id", tenantID.String()))

		run, err := c.deps.Runs.ScheduleIncremental(ctx, tenantID)
		if err != nil {
			log.Error("Failed to schedule incremental sync", zap.Error(err))
			continue
		}
		if run == nil {
			continue
		}

		if err := c.deps.Dispatcher.Submit(run.ID); err != nil {
			// the run stays QUEUED and is handed back on the next tick
			log.Warn("Failed to submit scheduled sync run", zap.String("run_id", run.ID.String()), zap.Error(err))
			if errors.Is(err, ErrSchedulerNotRunning) {
				return submitted, err
			}
			continue
		}
		submitted++
	}

	c.logger.Info("Scheduled incremental sync runs",
		zap.Int("tenants", len(tenants)),
		zap.Int("submitted", submitted),
	)
	return submitted, nil
}

// RunWatchdog fails stale runs
func (c *CronTrigger) RunWatchdog(ctx context.Context) (int, error) {
	failed, err := c.deps.Watchdog.Sweep(ctx)
	if err != nil {
		c.logger.Error("Stale run sweep failed", zap.Error(err))
		return failed, err
	}
	if failed > 0 {
		c.logger.Warn("Stale run sweep failed runs", zap.Int("failed", failed))
	}
	return failed, nil
}

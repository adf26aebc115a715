package integration

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/erp/ledgersync/internal/domain/integration"
	"github.com/erp/ledgersync/internal/infrastructure/logger"
	"github.com/erp/ledgersync/internal/infrastructure/telemetry"
)

// Watchdog defaults
const (
	DefaultWatchdogTimeout = 30 * time.Minute
	watchdogBatchSize      = 100
)

// Watchdog fails RUNNING runs that stopped checkpointing. Activity is the
// newest of the last checkpoint and the start time, so slow runs that keep
// committing pages are never touched.
type Watchdog struct {
	runs    integration.SyncRunRepository
	timeout time.Duration
	metrics *telemetry.SyncMetrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewWatchdog creates a watchdog
func NewWatchdog(runs integration.SyncRunRepository, timeout time.Duration, metrics *telemetry.SyncMetrics, log *zap.Logger) *Watchdog {
	if timeout <= 0 {
		timeout = DefaultWatchdogTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Watchdog{
		runs:    runs,
		timeout: timeout,
		metrics: metrics,
		logger:  log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Sweep fails every stale run and returns how many it failed
func (w *Watchdog) Sweep(ctx context.Context) (int, error) {
	now := w.now()
	cutoff := now.Add(-w.timeout)
	stale, err := w.runs.FindStale(ctx, cutoff, watchdogBatchSize)
	if err != nil {
		return 0, err
	}

	log := logger.For(ctx, w.logger)
	message := fmt.Sprintf("timed out: no checkpoint for %s", w.timeout)
	failed := 0
	for _, run := range stale {
		ok, err := w.runs.FailStale(ctx, run.ID, cutoff, message, now)
		if err != nil {
			return failed, err
		}
		if !ok {
			continue
		}
		failed++
		w.metrics.RecordRunFinished(ctx, run.TenantID, string(run.Mode), string(integration.RunStatusFailed))
		log.Warn("Failed stale sync run",
			zap.String("run_id", run.ID.String()),
			zap.String("tenant_id", run.TenantID.String()),
			zap.Time("last_activity", run.LastActivity()),
		)
	}
	return failed, nil
}

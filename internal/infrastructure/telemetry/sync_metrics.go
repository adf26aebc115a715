package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// SyncMetrics records the activity of the synchronization engine.
// A nil *SyncMetrics is valid and records nothing.
type SyncMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	pagesTotal      *Counter
	recordsTotal    *Counter
	runsTotal       *Counter
	tokenRefreshes  *Counter
	providerLatency *Histogram
	pageRecords     *Histogram
	runningRuns     *Gauge

	stopChan    chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once
}

// RunningRunsCounter reports how many runs are RUNNING per tenant
type RunningRunsCounter interface {
	CountRunning(ctx context.Context) (map[uuid.UUID]int64, error)
}

// SyncMetricsConfig holds configuration for sync metrics.
type SyncMetricsConfig struct {
	Meter  metric.Meter
	Logger *zap.Logger
}

// RecordOutcome labels what happened to a provider record
type RecordOutcome string

const (
	RecordOutcomeUpserted RecordOutcome = "upserted"
	RecordOutcomeSkipped  RecordOutcome = "skipped"
	RecordOutcomeFailed   RecordOutcome = "failed"
)

// NewSyncMetrics creates the sync instruments on the given meter.
func NewSyncMetrics(cfg SyncMetricsConfig) (*SyncMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sm := &SyncMetrics{
		meter:    cfg.Meter,
		logger:   logger,
		stopChan: make(chan struct{}),
	}

	var err error
	if sm.pagesTotal, err = NewCounter(cfg.Meter,
		"ledgersync_pages_total",
		"Provider pages committed",
		"{pages}",
	); err != nil {
		return nil, err
	}
	if sm.recordsTotal, err = NewCounter(cfg.Meter,
		"ledgersync_records_total",
		"Provider records processed by outcome",
		"{records}",
	); err != nil {
		return nil, err
	}
	if sm.runsTotal, err = NewCounter(cfg.Meter,
		"ledgersync_runs_total",
		"Sync runs finished by terminal status",
		"{runs}",
	); err != nil {
		return nil, err
	}
	if sm.tokenRefreshes, err = NewCounter(cfg.Meter,
		"ledgersync_token_refresh_total",
		"Access token refreshes by result",
		"{refreshes}",
	); err != nil {
		return nil, err
	}
	if sm.providerLatency, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "ledgersync_provider_request_duration_seconds",
		Description: "Provider API request latency",
		Unit:        "s",
		Boundaries:  ProviderDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if sm.pageRecords, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "ledgersync_page_records",
		Description: "Records contained in one committed provider page",
		Unit:        "{records}",
		Boundaries:  PageSizeBuckets,
	}); err != nil {
		return nil, err
	}
	if sm.runningRuns, err = NewGauge(cfg.Meter,
		"ledgersync_running_runs",
		"Sync runs currently RUNNING",
		"{runs}",
	); err != nil {
		return nil, err
	}

	return sm, nil
}

// RecordPage records one committed page and its record outcomes
func (sm *SyncMetrics) RecordPage(ctx context.Context, tenantID uuid.UUID, module string, upserted, skipped, failed int64) {
	if sm == nil {
		return
	}
	tenant := AttrTenantID.String(tenantID.String())
	mod := AttrModule.String(module)
	sm.pagesTotal.Inc(ctx, tenant, mod)
	sm.pageRecords.Record(ctx, float64(upserted+skipped+failed), mod)
	for outcome, n := range map[RecordOutcome]int64{
		RecordOutcomeUpserted: upserted,
		RecordOutcomeSkipped:  skipped,
		RecordOutcomeFailed:   failed,
	} {
		if n > 0 {
			sm.recordsTotal.Add(ctx, n, tenant, mod, AttrRecordOutcome.String(string(outcome)))
		}
	}
}

// RecordRunFinished records a run reaching a terminal status
func (sm *SyncMetrics) RecordRunFinished(ctx context.Context, tenantID uuid.UUID, mode, status string) {
	if sm == nil {
		return
	}
	sm.runsTotal.Inc(ctx,
		AttrTenantID.String(tenantID.String()),
		AttrRunMode.String(mode),
		AttrRunStatus.String(status),
	)
}

// RecordTokenRefresh records a refresh attempt
func (sm *SyncMetrics) RecordTokenRefresh(ctx context.Context, tenantID uuid.UUID, success bool) {
	if sm == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	sm.tokenRefreshes.Inc(ctx,
		AttrTenantID.String(tenantID.String()),
		AttrResult.String(result),
	)
}

// RecordProviderRequest records the latency and status code of one provider call.
// status is 0 for transport errors.
func (sm *SyncMetrics) RecordProviderRequest(ctx context.Context, module string, status int, d time.Duration) {
	if sm == nil {
		return
	}
	sm.providerLatency.RecordDuration(ctx, d,
		AttrModule.String(module),
		AttrHTTPStatusCode.Int(status),
	)
}

// =============================================================================
// Periodic Collection
// =============================================================================

// StartPeriodicCollection samples the running-runs gauge every interval.
// It is non-blocking; use Stop to end collection.
func (sm *SyncMetrics) StartPeriodicCollection(ctx context.Context, counter RunningRunsCounter, interval time.Duration) {
	if sm == nil || counter == nil {
		return
	}
	sm.collectOnce.Do(func() {
		if interval <= 0 {
			interval = time.Minute
		}
		go sm.runPeriodicCollection(ctx, counter, interval)
	})
}

func (sm *SyncMetrics) runPeriodicCollection(ctx context.Context, counter RunningRunsCounter, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sm.collectRunning(ctx, counter)
	for {
		select {
		case <-sm.stopChan:
			sm.logger.Info("Stopping periodic sync metrics collection")
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.collectRunning(ctx, counter)
		}
	}
}

func (sm *SyncMetrics) collectRunning(ctx context.Context, counter RunningRunsCounter) {
	counts, err := counter.CountRunning(ctx)
	if err != nil {
		sm.logger.Warn("Failed to count running sync runs", zap.Error(err))
		return
	}
	for tenantID, n := range counts {
		sm.runningRuns.Record(ctx, n, AttrTenantID.String(tenantID.String()))
	}
}

// Stop stops the periodic collection.
func (sm *SyncMetrics) Stop() {
	if sm == nil {
		return
	}
	sm.stopOnce.Do(func() {
		close(sm.stopChan)
	})
}

// =============================================================================
// Error Types
// =============================================================================

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewSyncMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}


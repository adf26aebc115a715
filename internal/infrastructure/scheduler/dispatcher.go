package scheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/ledgersync/internal/domain/integration"
)

// RunStarter executes a QUEUED run to a terminal status
type RunStarter interface {
	StartRun(ctx context.Context, runID uuid.UUID) (integration.RunStatus, error)
}

// QueuedRunSource lists QUEUED runs, oldest first
type QueuedRunSource interface {
	ListQueued(ctx context.Context, limit int) ([]uuid.UUID, error)
}

// DispatcherConfig holds configuration for the run dispatcher
type DispatcherConfig struct {
	// Workers is the number of runs executed concurrently
	Workers int
	// QueueSize is the number of runs that may wait for a worker
	QueueSize int
}

// DefaultDispatcherConfig returns default configuration
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:   4,
		QueueSize: 100,
	}
}

// Validate validates the configuration
func (c *DispatcherConfig) Validate() error {
	if c.Workers <= 0 {
		return ErrInvalidConfig
	}
	if c.QueueSize <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// Dispatcher runs sync runs on a fixed worker pool. Stopping it cancels the
// context of in-flight runs, which the orchestrator records as interrupted.
// Runs still waiting in the queue stay QUEUED.
type Dispatcher struct {
	config  DispatcherConfig
	starter RunStarter
	logger  *zap.Logger

	jobs      chan uuid.UUID
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(config DispatcherConfig, starter RunStarter, logger *zap.Logger) (*Dispatcher, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		config:  config,
		starter: starter,
		logger:  logger,
	}, nil
}

// Start starts the worker pool
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.isRunning {
		return nil
	}
	d.isRunning = true
	d.jobs = make(chan uuid.UUID, d.config.QueueSize)

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, d.jobs, i)
	}

	d.logger.Info("Sync dispatcher started",
		zap.Int("workers", d.config.Workers),
		zap.Int("queue_size", d.config.QueueSize),
	)
	return nil
}

// Stop cancels in-flight runs and waits for the workers to return
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.isRunning {
		d.mu.Unlock()
		return nil
	}
	d.isRunning = false
	d.cancel()
	close(d.jobs)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Sync dispatcher stopped gracefully")
		return nil
	case <-ctx.Done():
		d.logger.Warn("Sync dispatcher stop timed out")
		return ctx.Err()
	}
}

// Submit queues a run for execution without blocking
func (d *Dispatcher) Submit(runID uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.isRunning {
		return ErrSchedulerNotRunning
	}

	select {
	case d.jobs <- runID:
		d.logger.Debug("Sync run submitted", zap.String("run_id", runID.String()))
		return nil
	default:
		return ErrJobQueueFull
	}
}

// Recover submits QUEUED runs left behind by a previous process or by a
// lost claim. It stops at the first full queue; the cron hands the rest back
// tenant by tenant. It returns how many runs were submitted.
func (d *Dispatcher) Recover(ctx context.Context, source QueuedRunSource) (int, error) {
	ids, err := source.ListQueued(ctx, d.config.QueueSize)
	if err != nil {
		return 0, err
	}

	submitted := 0
	for _, id := range ids {
		if err := d.Submit(id); err != nil {
			if errors.Is(err, ErrJobQueueFull) {
				break
			}
			return submitted, err
		}
		submitted++
	}
	if submitted > 0 {
		d.logger.Info("Resubmitted queued sync runs", zap.Int("count", submitted), zap.Int("found", len(ids)))
	}
	return submitted, nil
}

// Pending returns the number of runs waiting for a worker
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.jobs == nil {
		return 0
	}
	return len(d.jobs)
}

func (d *Dispatcher) worker(ctx context.Context, jobs <-chan uuid.UUID, workerID int) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case runID, ok := <-jobs:
			if !ok {
				return
			}
			d.process(ctx, runID, workerID)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, runID uuid.UUID, workerID int) {
	if ctx.Err() != nil {
		return
	}
	status, err := d.starter.StartRun(ctx, runID)
	if err != nil {
		d.logger.Error("Sync run dispatch failed",
			zap.Int("worker_id", workerID),
			zap.String("run_id", runID.String()),
			zap.Error(err),
		)
		return
	}
	d.logger.Debug("Sync run dispatched",
		zap.Int("worker_id", workerID),
		zap.String("run_id", runID.String()),
		zap.String("status", string(status)),
	)
}

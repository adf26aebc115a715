package integration

import (
	"fmt"
	"strings"
	"time"

	"github.com/erp/ledgersync/internal/domain/shared"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Run mode
// ---------------------------------------------------------------------------

// RunMode selects what a run pulls from the provider
type RunMode string

const (
	// RunModeIncremental continues from the last committed cursor of every module
	RunModeIncremental RunMode = "INCREMENTAL"
	// RunModePeriod pulls a bounded date window and excludes snapshot modules
	RunModePeriod RunMode = "PERIOD"
)

// IsValid checks if the run mode is valid
func (m RunMode) IsValid() bool {
	return m == RunModeIncremental || m == RunModePeriod
}

// ParseRunMode parses a run mode, accepting any letter case
func ParseRunMode(s string) (RunMode, error) {
	m := RunMode(strings.ToUpper(strings.TrimSpace(s)))
	if !m.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRunMode, s)
	}
	return m, nil
}

// ---------------------------------------------------------------------------
// Run status
// ---------------------------------------------------------------------------

// RunStatus is the state of a SyncRun
type RunStatus string

const (
	RunStatusQueued   RunStatus = "QUEUED"
	RunStatusRunning  RunStatus = "RUNNING"
	RunStatusDone     RunStatus = "DONE"
	RunStatusFailed   RunStatus = "FAILED"
	RunStatusCanceled RunStatus = "CANCELED"
)

// IsValid checks if the status is valid
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusQueued, RunStatusRunning, RunStatusDone, RunStatusFailed, RunStatusCanceled:
		return true
	}
	return false
}

// IsTerminal reports whether a run in this status can never be re-entered
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusDone || s == RunStatusFailed || s == RunStatusCanceled
}

// String returns the string representation of RunStatus
func (s RunStatus) String() string {
	return string(s)
}

// ---------------------------------------------------------------------------
// Date range
// ---------------------------------------------------------------------------

// DateLayout is the wire and storage layout of period bounds
const DateLayout = "2006-01-02"

// DateRange is an inclusive range of calendar days
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange truncates both bounds to UTC calendar days and validates ordering
func NewDateRange(start, end time.Time) (*DateRange, error) {
	if start.IsZero() || end.IsZero() {
		return nil, fmt.Errorf("%w: both bounds are required", ErrInvalidDateRange)
	}
	s := truncateDay(start)
	e := truncateDay(end)
	if e.Before(s) {
		return nil, fmt.Errorf("%w: end %s is before start %s", ErrInvalidDateRange, e.Format(DateLayout), s.Format(DateLayout))
	}
	return &DateRange{Start: s, End: e}, nil
}

// ParseDateRange parses YYYY-MM-DD bounds
func ParseDateRange(start, end string) (*DateRange, error) {
	s, err := time.Parse(DateLayout, strings.TrimSpace(start))
	if err != nil {
		return nil, fmt.Errorf("%w: start: %v", ErrInvalidDateRange, err)
	}
	e, err := time.Parse(DateLayout, strings.TrimSpace(end))
	if err != nil {
		return nil, fmt.Errorf("%w: end: %v", ErrInvalidDateRange, err)
	}
	return NewDateRange(s, e)
}

// Equal compares two possibly nil ranges
func (r *DateRange) Equal(other *DateRange) bool {
	if r == nil || other == nil {
		return r == nil && other == nil
	}
	return r.Start.Equal(other.Start) && r.End.Equal(other.End)
}

// String returns "start..end"
func (r *DateRange) String() string {
	if r == nil {
		return ""
	}
	return r.Start.Format(DateLayout) + ".." + r.End.Format(DateLayout)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ---------------------------------------------------------------------------
// SyncRun aggregate
// ---------------------------------------------------------------------------

// SyncRun is one durable synchronization attempt for a tenant.
// ModuleIndex and Cursor (see Checkpoint) are the only state read on resume.
type SyncRun struct {
	shared.BaseEntity
	TenantID         uuid.UUID
	Mode             RunMode
	Window           *DateRange
	Status           RunStatus
	Modules          []ModuleID
	ModuleIndex      int
	Cursor           CursorMap
	Progress         ProgressMap
	ErrorMessage     string
	CancelRequested  bool
	ResumedFromRunID *uuid.UUID
	StartedAt        *time.Time
	FinishedAt       *time.Time
	LastCheckpointAt *time.Time
}

// NewSyncRun creates a QUEUED run. Period runs require a window, incremental runs reject one.
func NewSyncRun(tenantID uuid.UUID, mode RunMode, window *DateRange) (*SyncRun, error) {
	if tenantID == uuid.Nil {
		return nil, ErrInvalidTenant
	}
	modules, err := ModulesForMode(mode)
	if err != nil {
		return nil, err
	}
	switch mode {
	case RunModePeriod:
		if window == nil {
			return nil, fmt.Errorf("%w: period runs require a date range", ErrInvalidDateRange)
		}
	case RunModeIncremental:
		if window != nil {
			return nil, fmt.Errorf("%w: incremental runs do not take a date range", ErrInvalidDateRange)
		}
	}
	return &SyncRun{
		BaseEntity: shared.NewBaseEntity(),
		TenantID:   tenantID,
		Mode:       mode,
		Window:     window,
		Status:     RunStatusQueued,
		Modules:    modules,
		Cursor:     CursorMap{},
		Progress:   ProgressMap{},
	}, nil
}

// Checkpoint returns the resumable state of the run
func (r *SyncRun) Checkpoint() Checkpoint {
	return Checkpoint{ModuleIndex: r.ModuleIndex, Cursor: r.Cursor.Clone()}
}

// SeedFrom copies the checkpoint of a failed predecessor into a QUEUED run so
// that it resumes instead of restarting. The predecessor must target the same
// tenant, mode, window and module list.
func (r *SyncRun) SeedFrom(prev *SyncRun) error {
	if r.Status != RunStatusQueued {
		return fmt.Errorf("%w: only queued runs can be seeded", ErrInvalidTransition)
	}
	if prev.Status != RunStatusFailed {
		return fmt.Errorf("%w: seed run %s is %s", ErrInvalidTransition, prev.ID, prev.Status)
	}
	if prev.TenantID != r.TenantID || prev.Mode != r.Mode || !prev.Window.Equal(r.Window) || !SameModules(prev.Modules, r.Modules) {
		return fmt.Errorf("%w: seed run %s does not match", ErrModuleConfig, prev.ID)
	}
	cp := prev.Checkpoint()
	if err := cp.Validate(len(r.Modules)); err != nil {
		return err
	}
	r.ModuleIndex = cp.ModuleIndex
	r.Cursor = cp.Cursor
	id := prev.ID
	r.ResumedFromRunID = &id
	return nil
}

// TotalModules returns the number of modules the run walks
func (r *SyncRun) TotalModules() int {
	return len(r.Modules)
}

// CurrentModule returns the module in progress, or false once every module is done
func (r *SyncRun) CurrentModule() (ModuleID, bool) {
	if r.ModuleIndex < 0 || r.ModuleIndex >= len(r.Modules) {
		return "", false
	}
	return r.Modules[r.ModuleIndex], true
}

// PercentComplete is floor(moduleIndex / totalModules * 100)
func (r *SyncRun) PercentComplete() int {
	if len(r.Modules) == 0 {
		return 0
	}
	return r.ModuleIndex * 100 / len(r.Modules)
}

// IsTerminal reports whether the run reached a terminal status
func (r *SyncRun) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// LastActivity is the newest of checkpoint, start and creation timestamps
func (r *SyncRun) LastActivity() time.Time {
	if r.LastCheckpointAt != nil {
		return *r.LastCheckpointAt
	}
	if r.StartedAt != nil {
		return *r.StartedAt
	}
	return r.CreatedAt
}

// Start transitions QUEUED → RUNNING
func (r *SyncRun) Start(now time.Time) error {
	if r.Status != RunStatusQueued {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, r.Status, RunStatusRunning)
	}
	r.Status = RunStatusRunning
	if r.StartedAt == nil {
		r.StartedAt = &now
	}
	r.Touch(now)
	return nil
}

// RecordPage applies a committed page to the in-memory run state
func (r *SyncRun) RecordPage(module ModuleID, cursor string, delta ModuleProgress, now time.Time) {
	if r.Cursor == nil {
		r.Cursor = CursorMap{}
	}
	if r.Progress == nil {
		r.Progress = ProgressMap{}
	}
	r.Cursor[module] = cursor
	r.Progress[module] = r.Progress[module].Add(delta)
	r.LastCheckpointAt = &now
	r.Touch(now)
}

// AdvanceModule moves to the next module. The index never exceeds the module count.
func (r *SyncRun) AdvanceModule(now time.Time) error {
	if r.Status != RunStatusRunning {
		return fmt.Errorf("%w: cannot advance a %s run", ErrInvalidTransition, r.Status)
	}
	if r.ModuleIndex >= len(r.Modules) {
		return fmt.Errorf("%w: module index already at %d", ErrModuleConfig, r.ModuleIndex)
	}
	r.ModuleIndex++
	r.LastCheckpointAt = &now
	r.Touch(now)
	return nil
}

// Complete transitions RUNNING → DONE
func (r *SyncRun) Complete(now time.Time) error {
	if r.Status != RunStatusRunning {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, r.Status, RunStatusDone)
	}
	r.finish(RunStatusDone, now)
	return nil
}

// Fail transitions RUNNING → FAILED and records the reason. The checkpoint is kept.
func (r *SyncRun) Fail(message string, now time.Time) error {
	if r.Status != RunStatusRunning {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, r.Status, RunStatusFailed)
	}
	r.finish(RunStatusFailed, now)
	r.ErrorMessage = message
	return nil
}

// Cancel transitions QUEUED or RUNNING → CANCELED. Committed progress is kept.
func (r *SyncRun) Cancel(now time.Time) error {
	if r.Status != RunStatusQueued && r.Status != RunStatusRunning {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, r.Status, RunStatusCanceled)
	}
	r.finish(RunStatusCanceled, now)
	return nil
}

func (r *SyncRun) finish(status RunStatus, now time.Time) {
	r.Status = status
	if r.FinishedAt == nil {
		r.FinishedAt = &now
	}
	r.Touch(now)
}

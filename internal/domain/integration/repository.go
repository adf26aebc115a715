package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RunFilter narrows ListRuns results
type RunFilter struct {
	Status   RunStatus
	Mode     RunMode
	Page     int
	PageSize int
}

// SyncRunRepository persists runs. Every state change is a conditional update
// so concurrent callers never both win a transition.
type SyncRunRepository interface {
	Create(ctx context.Context, run *SyncRun) error
	// FindByID returns ErrRunNotFound when the run does not exist
	FindByID(ctx context.Context, id uuid.UUID) (*SyncRun, error)
	// FindLatestFailed returns the newest FAILED run matching tenant, mode and
	// window, or ErrRunNotFound
	FindLatestFailed(ctx context.Context, tenantID uuid.UUID, mode RunMode, window *DateRange) (*SyncRun, error)
	List(ctx context.Context, tenantID uuid.UUID, filter RunFilter) ([]SyncRun, int64, error)

	// Claim moves a QUEUED run to RUNNING when no other run of the same tenant
	// is RUNNING. It reports whether this caller won the claim.
	Claim(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	// AdvanceModule persists a module index. The stored index never decreases.
	AdvanceModule(ctx context.Context, id uuid.UUID, moduleIndex int, now time.Time) error
	// Finish moves a RUNNING run to a terminal status
	Finish(ctx context.Context, id uuid.UUID, status RunStatus, errorMessage string, now time.Time) (bool, error)

	// CancelQueued moves a QUEUED run straight to CANCELED
	CancelQueued(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	// RequestCancel sets the cancellation marker of a RUNNING run
	RequestCancel(ctx context.Context, id uuid.UUID) (bool, error)
	IsCancelRequested(ctx context.Context, id uuid.UUID) (bool, error)

	// FindStale lists RUNNING runs whose last activity is before the cutoff
	FindStale(ctx context.Context, cutoff time.Time, limit int) ([]SyncRun, error)
	// FailStale fails a RUNNING run only if it still shows no activity since cutoff
	FailStale(ctx context.Context, id uuid.UUID, cutoff time.Time, message string, now time.Time) (bool, error)
	// CountRunning returns the number of RUNNING runs per tenant
	CountRunning(ctx context.Context) (map[uuid.UUID]int64, error)
}

// PageCommit is everything written for one fetched page. It is committed in a
// single transaction: records first, then the run checkpoint and the
// cross-run cursor.
type PageCommit struct {
	RunID       uuid.UUID
	TenantID    uuid.UUID
	Module      ModuleID
	Records     []Record
	RawPayloads []RawPayload
	// Cursor is the position of Module after this page
	Cursor string
	// RunCursor and RunProgress are the run's maps with this page applied
	RunCursor   CursorMap
	RunProgress ProgressMap
	// PersistCursor also writes the SyncCursor row (incremental runs only)
	PersistCursor bool
	CommittedAt   time.Time
}

// CheckpointStore commits pages and serves cross-run cursors
type CheckpointStore interface {
	CommitPage(ctx context.Context, commit PageCommit) error
	// FindCursor returns ErrCursorNotFound when the module has never committed
	FindCursor(ctx context.Context, tenantID uuid.UUID, module ModuleID) (*SyncCursor, error)
}

// ConnectionRepository persists tenant credentials
type ConnectionRepository interface {
	// FindByTenant returns ErrNotConnected when no connection exists
	FindByTenant(ctx context.Context, tenantID uuid.UUID) (*TenantConnection, error)
	// Upsert creates or replaces the connection of the tenant
	Upsert(ctx context.Context, conn *TenantConnection) error
	// UpdateTokens stores rotated credentials of an existing connection. It
	// returns ErrNotConnected when the connection was removed meanwhile.
	UpdateTokens(ctx context.Context, conn *TenantConnection) error
	// DeleteByTenant removes the connection; deleting a missing row is not an error
	DeleteByTenant(ctx context.Context, tenantID uuid.UUID) error
	ListConnectedTenants(ctx context.Context) ([]uuid.UUID, error)
}

// TenantDirectory resolves tenant ids
type TenantDirectory interface {
	Exists(ctx context.Context, tenantID uuid.UUID) (bool, error)
}

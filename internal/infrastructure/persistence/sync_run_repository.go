package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/ledgersync/internal/domain/integration"
	"github.com/erp/ledgersync/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultRunPageSize = 20
	maxRunPageSize     = 100
)

// lastActivityExpr is the SQL form of SyncRun.LastActivity
const lastActivityExpr = "COALESCE(last_checkpoint_at, started_at, created_at)"

// GormSyncRunRepository implements integration.SyncRunRepository using GORM.
// Every transition is a single conditional UPDATE; RowsAffected tells the
// caller whether it won.
type GormSyncRunRepository struct {
	db *gorm.DB
}

// NewGormSyncRunRepository creates a new GormSyncRunRepository
func NewGormSyncRunRepository(db *gorm.DB) *GormSyncRunRepository {
	return &GormSyncRunRepository{db: db}
}

// Create inserts a new run
func (r *GormSyncRunRepository) Create(ctx context.Context, run *integration.SyncRun) error {
	var model models.SyncRunModel
	model.FromDomain(run)
	return r.db.WithContext(ctx).Create(&model).Error
}

// FindByID finds a run by its ID
func (r *GormSyncRunRepository) FindByID(ctx context.Context, id uuid.UUID) (*integration.SyncRun, error) {
	var model models.SyncRunModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrRunNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindLatestFailed finds the newest FAILED run with the same tenant, mode and window
func (r *GormSyncRunRepository) FindLatestFailed(ctx context.Context, tenantID uuid.UUID, mode integration.RunMode, window *integration.DateRange) (*integration.SyncRun, error) {
	query := r.db.WithContext(ctx).
		Where("tenant_id = ? AND mode = ? AND status = ?", tenantID, mode, integration.RunStatusFailed)
	if window == nil {
		query = query.Where("window_start IS NULL AND window_end IS NULL")
	} else {
		query = query.Where("window_start = ? AND window_end = ?", window.Start, window.End)
	}

	var model models.SyncRunModel
	if err := query.Order("created_at DESC").First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrRunNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// List returns the runs of a tenant, newest first, and the total count
func (r *GormSyncRunRepository) List(ctx context.Context, tenantID uuid.UUID, filter integration.RunFilter) ([]integration.SyncRun, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.SyncRunModel{}).Where("tenant_id = ?", tenantID)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Mode != "" {
		query = query.Where("mode = ?", filter.Mode)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(filter.Page, 1)
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = defaultRunPageSize
	}
	pageSize = min(pageSize, maxRunPageSize)

	var runModels []models.SyncRunModel
	if err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&runModels).Error; err != nil {
		return nil, 0, err
	}

	runs := make([]integration.SyncRun, len(runModels))
	for i := range runModels {
		runs[i] = *runModels[i].ToDomain()
	}
	return runs, total, nil
}

// Claim moves a QUEUED run to RUNNING unless the tenant already has a RUNNING run.
// The partial unique index on RUNNING runs rejects a concurrent winner.
func (r *GormSyncRunRepository) Claim(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.SyncRunModel{}).
		Where("id = ? AND status = ?", id, integration.RunStatusQueued).
		Where(`NOT EXISTS (
			SELECT 1 FROM sync_runs AS other
			WHERE other.tenant_id = sync_runs.tenant_id AND other.status = ?
		)`, integration.RunStatusRunning).
		Updates(map[string]any{
			"status":     integration.RunStatusRunning,
			"started_at": gorm.Expr("COALESCE(started_at, ?)", now),
			"updated_at": now,
		})
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// AdvanceModule persists a module index on a RUNNING run without moving it backwards
func (r *GormSyncRunRepository) AdvanceModule(ctx context.Context, id uuid.UUID, moduleIndex int, now time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.SyncRunModel{}).
		Where("id = ? AND status = ? AND module_index <= ?", id, integration.RunStatusRunning, moduleIndex).
		Updates(map[string]any{
			"module_index":       moduleIndex,
			"last_checkpoint_at": now,
			"updated_at":         now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: run %s cannot advance to module %d", integration.ErrInvalidTransition, id, moduleIndex)
	}
	return nil
}

// Finish moves a RUNNING run to a terminal status
func (r *GormSyncRunRepository) Finish(ctx context.Context, id uuid.UUID, status integration.RunStatus, errorMessage string, now time.Time) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("%w: %s is not terminal", integration.ErrInvalidTransition, status)
	}
	result := r.db.WithContext(ctx).
		Model(&models.SyncRunModel{}).
		Where("id = ? AND status = ?", id, integration.RunStatusRunning).
		Updates(map[string]any{
			"status":        status,
			"error_message": errorMessage,
			"finished_at":   now,
			"updated_at":    now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// CancelQueued cancels a run that never started
func (r *GormSyncRunRepository) CancelQueued(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.SyncRunModel{}).
		Where("id = ? AND status = ?", id, integration.RunStatusQueued).
		Updates(map[string]any{
			"status":           integration.RunStatusCanceled,
			"cancel_requested": true,
			"finished_at":      now,
			"updated_at":       now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// RequestCancel flags a RUNNING run; the runner stops at its next page boundary
func (r *GormSyncRunRepository) RequestCancel(ctx context.Context, id uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.SyncRunModel{}).
		Where("id = ? AND status = ?", id, integration.RunStatusRunning).
		Update("cancel_requested", true)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// IsCancelRequested reads the cancellation marker
func (r *GormSyncRunRepository) IsCancelRequested(ctx context.Context, id uuid.UUID) (bool, error) {
	var model models.SyncRunModel
	if err := r.db.WithContext(ctx).
		Select("id", "cancel_requested").
		First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, integration.ErrRunNotFound
		}
		return false, err
	}
	return model.CancelRequested, nil
}

// FindStale lists RUNNING runs with no activity since cutoff, oldest first
func (r *GormSyncRunRepository) FindStale(ctx context.Context, cutoff time.Time, limit int) ([]integration.SyncRun, error) {
	if limit <= 0 {
		limit = maxRunPageSize
	}
	var runModels []models.SyncRunModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", integration.RunStatusRunning).
		Where(lastActivityExpr+" < ?", cutoff).
		Order(lastActivityExpr + " ASC").
		Limit(limit).
		Find(&runModels).Error; err != nil {
		return nil, err
	}
	runs := make([]integration.SyncRun, len(runModels))
	for i := range runModels {
		runs[i] = *runModels[i].ToDomain()
	}
	return runs, nil
}

// ListQueued returns the ids of QUEUED runs across all tenants, oldest first
func (r *GormSyncRunRepository) ListQueued(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = maxRunPageSize
	}
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.SyncRunModel{}).
		Where("status = ?", integration.RunStatusQueued).
		Order("created_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// FailStale fails a run only if it is still RUNNING and still idle since cutoff,
// so a runner that checkpointed in the meantime is left alone
func (r *GormSyncRunRepository) FailStale(ctx context.Context, id uuid.UUID, cutoff time.Time, message string, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.SyncRunModel{}).
		Where("id = ? AND status = ?", id, integration.RunStatusRunning).
		Where(lastActivityExpr+" < ?", cutoff).
		Updates(map[string]any{
			"status":        integration.RunStatusFailed,
			"error_message": message,
			"finished_at":   now,
			"updated_at":    now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// CountRunning returns the number of RUNNING runs per tenant
func (r *GormSyncRunRepository) CountRunning(ctx context.Context) (map[uuid.UUID]int64, error) {
	var rows []struct {
		TenantID uuid.UUID
		Count    int64
	}
	if err := r.db.WithContext(ctx).
		Model(&models.SyncRunModel{}).
		Select("tenant_id, COUNT(*) AS count").
		Where("status = ?", integration.RunStatusRunning).
		Group("tenant_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[uuid.UUID]int64, len(rows))
	for _, row := range rows {
		counts[row.TenantID] = row.Count
	}
	return counts, nil
}

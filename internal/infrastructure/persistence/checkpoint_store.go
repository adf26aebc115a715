package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/ledgersync/internal/domain/integration"
	"github.com/erp/ledgersync/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const recordBatchSize = 200

// GormCheckpointStore implements integration.CheckpointStore using GORM
type GormCheckpointStore struct {
	db *gorm.DB
}

// NewGormCheckpointStore creates a new GormCheckpointStore
func NewGormCheckpointStore(db *gorm.DB) *GormCheckpointStore {
	return &GormCheckpointStore{db: db}
}

// CommitPage writes the records of one page, then the run checkpoint, then the
// cross-run cursor, in one transaction. Either all of it is visible or none.
func (s *GormCheckpointStore) CommitPage(ctx context.Context, commit integration.PageCommit) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertRecords(tx, commit.Records); err != nil {
			return err
		}
		if err := upsertRawPayloads(tx, commit.RawPayloads); err != nil {
			return err
		}

		result := tx.Model(&models.SyncRunModel{}).
			Where("id = ? AND status = ?", commit.RunID, integration.RunStatusRunning).
			Updates(map[string]any{
				"cursor":             datatypes.NewJSONType(commit.RunCursor.Clone()),
				"progress":           datatypes.NewJSONType(commit.RunProgress.Clone()),
				"last_checkpoint_at": commit.CommittedAt,
				"updated_at":         commit.CommittedAt,
			})
		if result.Error != nil {
			return fmt.Errorf("update run checkpoint: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("run %s is no longer running", commit.RunID)
		}

		if !commit.PersistCursor {
			return nil
		}
		cursor := models.SyncCursorModel{
			TenantID:  commit.TenantID,
			Module:    string(commit.Module),
			Position:  commit.Cursor,
			UpdatedAt: commit.CommittedAt,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "module"}},
			DoUpdates: clause.AssignmentColumns([]string{"position", "updated_at"}),
		}).Create(&cursor).Error; err != nil {
			return fmt.Errorf("upsert sync cursor: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", integration.ErrCheckpointCommit, err)
	}
	return nil
}

// FindCursor returns the last committed position of a module
func (s *GormCheckpointStore) FindCursor(ctx context.Context, tenantID uuid.UUID, module integration.ModuleID) (*integration.SyncCursor, error) {
	var model models.SyncCursorModel
	if err := s.db.WithContext(ctx).
		First(&model, "tenant_id = ? AND module = ?", tenantID, string(module)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrCursorNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ---------------------------------------------------------------------------
// Record upserts
// ---------------------------------------------------------------------------

// upsertRecords groups records by table and upserts each group on the
// composite id, so replaying a page rewrites the same rows. A page repeating
// an id keeps its last occurrence; PostgreSQL rejects one INSERT .. ON
// CONFLICT touching the same row twice.
func upsertRecords(tx *gorm.DB, records []integration.Record) error {
	records = lastByKey(records, integration.Record.RecordID)
	var (
		receivables []models.SyncedReceivableModel
		payables    []models.SyncedPayableModel
		payments    []models.SyncedPaymentModel
		inventory   []models.SyncedInventoryItemModel
		salesLines  []models.SyncedSalesLineModel
	)
	for _, rec := range records {
		switch v := rec.(type) {
		case *integration.Receivable:
			var m models.SyncedReceivableModel
			m.FromDomain(v)
			receivables = append(receivables, m)
		case *integration.Payable:
			var m models.SyncedPayableModel
			m.FromDomain(v)
			payables = append(payables, m)
		case *integration.Payment:
			var m models.SyncedPaymentModel
			m.FromDomain(v)
			payments = append(payments, m)
		case *integration.InventoryItem:
			var m models.SyncedInventoryItemModel
			m.FromDomain(v)
			inventory = append(inventory, m)
		case *integration.SalesLine:
			var m models.SyncedSalesLineModel
			m.FromDomain(v)
			salesLines = append(salesLines, m)
		default:
			return fmt.Errorf("unsupported record type %T", rec)
		}
	}

	if err := upsertBatch(tx, receivables); err != nil {
		return fmt.Errorf("upsert receivables: %w", err)
	}
	if err := upsertBatch(tx, payables); err != nil {
		return fmt.Errorf("upsert payables: %w", err)
	}
	if err := upsertBatch(tx, payments); err != nil {
		return fmt.Errorf("upsert payments: %w", err)
	}
	if err := upsertBatch(tx, inventory); err != nil {
		return fmt.Errorf("upsert inventory items: %w", err)
	}
	if err := upsertBatch(tx, salesLines); err != nil {
		return fmt.Errorf("upsert sales lines: %w", err)
	}
	return nil
}

func upsertBatch[T any](tx *gorm.DB, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).CreateInBatches(rows, recordBatchSize).Error
}

func upsertRawPayloads(tx *gorm.DB, payloads []integration.RawPayload) error {
	if len(payloads) == 0 {
		return nil
	}
	payloads = lastByKey(payloads, func(p integration.RawPayload) rawPayloadKey {
		return rawPayloadKey{tenantID: p.TenantID, module: p.Module, externalID: p.ExternalID}
	})
	rows := make([]models.RawPayloadModel, len(payloads))
	for i, p := range payloads {
		rows[i].FromDomain(p)
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "module"}, {Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"run_id", "payload", "fetched_at"}),
	}).CreateInBatches(rows, recordBatchSize).Error; err != nil {
		return fmt.Errorf("upsert raw payloads: %w", err)
	}
	return nil
}

type rawPayloadKey struct {
	tenantID   uuid.UUID
	module     integration.ModuleID
	externalID string
}

// lastByKey drops items whose key repeats later in items. Survivors keep the
// position of the key's first occurrence and the value of its last.
func lastByKey[T any, K comparable](items []T, key func(T) K) []T {
	if len(items) < 2 {
		return items
	}
	index := make(map[K]int, len(items))
	out := make([]T, 0, len(items))
	for _, item := range items {
		k := key(item)
		if i, ok := index[k]; ok {
			out[i] = item
			continue
		}
		index[k] = len(out)
		out = append(out, item)
	}
	return out
}

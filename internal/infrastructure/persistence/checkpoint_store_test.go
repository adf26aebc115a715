package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/erp/ledgersync/internal/domain/integration"
	"github.com/erp/ledgersync/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func runningRun(t *testing.T, db *gorm.DB, tenantID uuid.UUID) *integration.SyncRun {
	t.Helper()
	repo := NewGormSyncRunRepository(db)
	run := newQueuedRun(t, repo, tenantID, baseTime)
	won, err := repo.Claim(context.Background(), run.ID, baseTime)
	require.NoError(t, err)
	require.True(t, won)
	return run
}

func receivable(tenantID, runID uuid.UUID, externalID string, amount string) *integration.Receivable {
	return &integration.Receivable{OpenItem: integration.OpenItem{
		RecordMeta: integration.RecordMeta{
			ID:         integration.CompositeID(tenantID, integration.ModuleReceivables, externalID),
			TenantID:   tenantID,
			ExternalID: externalID,
			RunID:      runID,
			SyncedAt:   baseTime,
		},
		DocumentNumber: "INV-" + externalID,
		Amount:         decimal.NewNullDecimal(decimal.RequireFromString(amount)),
		Currency:       "BRL",
	}}
}

func TestGormCheckpointStore_CommitPage(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := NewGormCheckpointStore(db)
	runs := NewGormSyncRunRepository(db)
	tenantID := uuid.New()
	run := runningRun(t, db, tenantID)

	commit := integration.PageCommit{
		RunID:    run.ID,
		TenantID: tenantID,
		Module:   integration.ModuleReceivables,
		Records: []integration.Record{
			receivable(tenantID, run.ID, "1", "100.10"),
			receivable(tenantID, run.ID, "2", "12345678.9876"),
			&integration.SalesLine{
				RecordMeta: integration.RecordMeta{
					ID:         integration.CompositeID(tenantID, integration.ModuleSales, "9", 0),
					TenantID:   tenantID,
					ExternalID: "9",
					RunID:      run.ID,
					SyncedAt:   baseTime,
				},
				LineIndex: 0,
				SKU:       "SKU-1",
			},
		},
		RawPayloads: []integration.RawPayload{{
			TenantID: tenantID, Module: integration.ModuleReceivables, ExternalID: "1",
			RunID: run.ID, Payload: []byte(`{"id":"1"}`), FetchedAt: baseTime,
		}},
		Cursor:        "cursor-2",
		RunCursor:     integration.CursorMap{integration.ModuleReceivables: "cursor-2"},
		RunProgress:   integration.ProgressMap{integration.ModuleReceivables: {Pages: 1, Fetched: 3, Upserted: 3}},
		PersistCursor: true,
		CommittedAt:   baseTime.Add(time.Minute),
	}

	require.NoError(t, store.CommitPage(ctx, commit))

	var count int64
	require.NoError(t, db.Model(&models.SyncedReceivableModel{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
	require.NoError(t, db.Model(&models.SyncedSalesLineModel{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	require.NoError(t, db.Model(&models.RawPayloadModel{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var stored models.SyncedReceivableModel
	require.NoError(t, db.First(&stored, "external_id = ?", "2").Error)
	assert.True(t, stored.Amount.Decimal.Equal(decimal.RequireFromString("12345678.9876")))

	found, err := runs.FindByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "cursor-2", found.Cursor[integration.ModuleReceivables])
	assert.Equal(t, int64(3), found.Progress[integration.ModuleReceivables].Upserted)
	require.NotNil(t, found.LastCheckpointAt)
	assert.True(t, found.LastCheckpointAt.Equal(commit.CommittedAt))

	cursor, err := store.FindCursor(ctx, tenantID, integration.ModuleReceivables)
	require.NoError(t, err)
	assert.Equal(t, "cursor-2", cursor.Position)

	t.Run("replaying a page rewrites the same rows", func(t *testing.T) {
		replay := commit
		replay.Records = []integration.Record{receivable(tenantID, run.ID, "1", "200")}
		replay.Cursor = "cursor-3"
		replay.RunCursor = integration.CursorMap{integration.ModuleReceivables: "cursor-3"}
		require.NoError(t, store.CommitPage(ctx, replay))

		require.NoError(t, db.Model(&models.SyncedReceivableModel{}).Count(&count).Error)
		assert.Equal(t, int64(2), count)
		var replayed models.SyncedReceivableModel
		require.NoError(t, db.First(&replayed, "external_id = ?", "1").Error)
		assert.True(t, replayed.Amount.Decimal.Equal(decimal.NewFromInt(200)))

		cursor, err := store.FindCursor(ctx, tenantID, integration.ModuleReceivables)
		require.NoError(t, err)
		assert.Equal(t, "cursor-3", cursor.Position)
	})

	t.Run("period pages leave the cross-run cursor alone", func(t *testing.T) {
		period := commit
		period.Module = integration.ModulePayables
		period.Records = nil
		period.RawPayloads = nil
		period.PersistCursor = false
		require.NoError(t, store.CommitPage(ctx, period))

		_, err := store.FindCursor(ctx, tenantID, integration.ModulePayables)
		assert.ErrorIs(t, err, integration.ErrCursorNotFound)
	})
}

func TestGormCheckpointStore_CommitPage_RepeatedIDsKeepLast(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := NewGormCheckpointStore(db)
	tenantID := uuid.New()
	run := runningRun(t, db, tenantID)

	payload := func(body string) integration.RawPayload {
		return integration.RawPayload{
			TenantID: tenantID, Module: integration.ModuleReceivables, ExternalID: "1",
			RunID: run.ID, Payload: []byte(body), FetchedAt: baseTime,
		}
	}
	require.NoError(t, store.CommitPage(ctx, integration.PageCommit{
		RunID:    run.ID,
		TenantID: tenantID,
		Module:   integration.ModuleReceivables,
		Records: []integration.Record{
			receivable(tenantID, run.ID, "1", "10"),
			receivable(tenantID, run.ID, "2", "20"),
			receivable(tenantID, run.ID, "1", "30"),
		},
		RawPayloads: []integration.RawPayload{payload(`{"v":1}`), payload(`{"v":2}`)},
		RunCursor:   integration.CursorMap{},
		RunProgress: integration.ProgressMap{},
		CommittedAt: baseTime,
	}))

	var count int64
	require.NoError(t, db.Model(&models.SyncedReceivableModel{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
	var stored models.SyncedReceivableModel
	require.NoError(t, db.First(&stored, "external_id = ?", "1").Error)
	assert.True(t, stored.Amount.Decimal.Equal(decimal.NewFromInt(30)))

	var raw models.RawPayloadModel
	require.NoError(t, db.First(&raw, "external_id = ?", "1").Error)
	assert.JSONEq(t, `{"v":2}`, string(raw.Payload))
}

func TestLastByKey(t *testing.T) {
	type item struct {
		key string
		val int
	}
	key := func(i item) string { return i.key }

	got := lastByKey([]item{{"a", 1}, {"b", 2}, {"a", 3}, {"c", 4}, {"b", 5}}, key)
	assert.Equal(t, []item{{"a", 3}, {"b", 5}, {"c", 4}}, got)

	assert.Empty(t, lastByKey(nil, key))
	assert.Equal(t, []item{{"a", 1}}, lastByKey([]item{{"a", 1}}, key))
}

func TestGormCheckpointStore_CommitPage_RollsBack(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := NewGormCheckpointStore(db)
	tenantID := uuid.New()

	t.Run("run no longer running", func(t *testing.T) {
		run := runningRun(t, db, tenantID)
		_, err := NewGormSyncRunRepository(db).Finish(ctx, run.ID, integration.RunStatusCanceled, "", baseTime)
		require.NoError(t, err)

		err = store.CommitPage(ctx, integration.PageCommit{
			RunID:         run.ID,
			TenantID:      tenantID,
			Module:        integration.ModuleReceivables,
			Records:       []integration.Record{receivable(tenantID, run.ID, "1", "1")},
			Cursor:        "c",
			RunCursor:     integration.CursorMap{integration.ModuleReceivables: "c"},
			PersistCursor: true,
			CommittedAt:   baseTime,
		})
		assert.ErrorIs(t, err, integration.ErrCheckpointCommit)

		var count int64
		require.NoError(t, db.Model(&models.SyncedReceivableModel{}).Count(&count).Error)
		assert.Zero(t, count, "records are rolled back with the checkpoint")
		_, err = store.FindCursor(ctx, tenantID, integration.ModuleReceivables)
		assert.ErrorIs(t, err, integration.ErrCursorNotFound)
	})

	t.Run("unsupported record", func(t *testing.T) {
		err := store.CommitPage(ctx, integration.PageCommit{
			RunID:   uuid.New(),
			Records: []integration.Record{integration.Receivable{}},
		})
		assert.ErrorIs(t, err, integration.ErrCheckpointCommit)
	})
}

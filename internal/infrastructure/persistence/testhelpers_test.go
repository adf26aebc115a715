package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/erp/ledgersync/internal/domain/integration"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// newTestDB opens an in-memory sqlite database with the engine schema
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), GormConfig(nil))
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every connection of :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, AutoMigrate(db))
	return db
}

// newMockDB creates a GORM DB backed by sqlmock with the postgres dialect
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, GormConfig(nil))
	require.NoError(t, err)

	return gormDB, mock, mockDB
}

func newQueuedRun(t *testing.T, repo *GormSyncRunRepository, tenantID uuid.UUID, createdAt time.Time) *integration.SyncRun {
	t.Helper()
	run, err := integration.NewSyncRun(tenantID, integration.RunModeIncremental, nil)
	require.NoError(t, err)
	run.CreatedAt = createdAt
	run.UpdatedAt = createdAt
	require.NoError(t, repo.Create(context.Background(), run))
	return run
}

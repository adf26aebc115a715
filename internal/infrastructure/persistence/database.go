package persistence

import (
	"fmt"
	"time"

	"github.com/erp/ledgersync/internal/infrastructure/config"
	"github.com/erp/ledgersync/internal/infrastructure/logger"
	"github.com/erp/ledgersync/internal/infrastructure/persistence/models"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Database holds the database connection and provides methods for database operations
type Database struct {
	DB *gorm.DB
}

// NewDatabase creates a new database connection with the given configuration
func NewDatabase(cfg *config.DatabaseConfig, zapLogger *zap.Logger) (*Database, error) {
	return NewDatabaseWithLogger(cfg, zapLogger, gormlogger.Warn, 200*time.Millisecond)
}

// NewDatabaseWithLogger creates a new database connection logging SQL through zap
func NewDatabaseWithLogger(cfg *config.DatabaseConfig, zapLogger *zap.Logger, logLevel gormlogger.LogLevel, slowThreshold time.Duration) (*Database, error) {
	if zapLogger == nil {
		zapLogger = zap.NewNop()
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN()), GormConfig(
		logger.NewGormLogger(zapLogger, logLevel, logger.WithSlowThreshold(slowThreshold)),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{DB: db}, nil
}

// GormConfig returns the gorm settings shared by every connection. Driver
// errors are translated so unique violations surface as gorm.ErrDuplicatedKey.
func GormConfig(l gormlogger.Interface) *gorm.Config {
	if l == nil {
		l = gormlogger.Discard
	}
	return &gorm.Config{
		Logger:                 l,
		SkipDefaultTransaction: true,
		TranslateError:         true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// AllModels lists every table owned by the engine
func AllModels() []any {
	return []any{
		&models.TenantModel{},
		&models.TenantConnectionModel{},
		&models.SyncRunModel{},
		&models.SyncCursorModel{},
		&models.RawPayloadModel{},
		&models.SyncedReceivableModel{},
		&models.SyncedPayableModel{},
		&models.SyncedPaymentModel{},
		&models.SyncedInventoryItemModel{},
		&models.SyncedSalesLineModel{},
	}
}

// AutoMigrate creates the engine tables. Production schemas are managed by
// the SQL migrations; this is used by tests and local sqlite setups.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	// At most one RUNNING run per tenant
	return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_sync_runs_one_running
		ON sync_runs (tenant_id) WHERE status = 'RUNNING'`).Error
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Ping checks if the database connection is alive
func (d *Database) Ping() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Ping()
}

// Stats returns database connection pool statistics and an error if unable to retrieve
func (d *Database) Stats() (ConnectionStats, error) {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return ConnectionStats{}, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	stats := sqlDB.Stats()
	return ConnectionStats{
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration,
	}, nil
}

// ConnectionStats holds database connection pool statistics
type ConnectionStats struct {
	MaxOpenConnections int
	OpenConnections    int
	InUse              int
	Idle               int
	WaitCount          int64
	WaitDuration       time.Duration
}

// Transaction executes a function within a database transaction
func (d *Database) Transaction(fn func(tx *gorm.DB) error) error {
	return d.DB.Transaction(fn)
}

package telemetry

import (
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// InstrumentGorm registers the otelgorm plugin so every statement gets a span.
// Query variables are only attached when fullSQL is set.
func InstrumentGorm(db *gorm.DB, dbName string, fullSQL bool, logger *zap.Logger) error {
	opts := []otelgorm.Option{otelgorm.WithDBName(dbName)}
	if !fullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}
	logger.Info("Database tracing enabled", zap.Bool("full_sql", fullSQL))
	return nil
}

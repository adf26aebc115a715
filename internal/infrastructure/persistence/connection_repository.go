package persistence

import (
	"context"
	"errors"

	"github.com/erp/ledgersync/internal/domain/integration"
	"github.com/erp/ledgersync/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormConnectionRepository implements integration.ConnectionRepository using GORM
type GormConnectionRepository struct {
	db *gorm.DB
}

// NewGormConnectionRepository creates a new GormConnectionRepository
func NewGormConnectionRepository(db *gorm.DB) *GormConnectionRepository {
	return &GormConnectionRepository{db: db}
}

// FindByTenant finds the connection of a tenant
func (r *GormConnectionRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID) (*integration.TenantConnection, error) {
	var model models.TenantConnectionModel
	if err := r.db.WithContext(ctx).First(&model, "tenant_id = ?", tenantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrNotConnected
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Upsert creates the connection or replaces the credentials of an existing one.
// The row id and creation time of an existing connection are kept.
func (r *GormConnectionRepository) Upsert(ctx context.Context, conn *integration.TenantConnection) error {
	var model models.TenantConnectionModel
	model.FromDomain(conn)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"encrypted_access_token",
			"encrypted_refresh_token",
			"token_type",
			"expires_at",
			"scope",
			"provider_account_id",
			"provider_realm_id",
			"last_refreshed_at",
			"updated_at",
		}),
	}).Create(&model).Error
}

// UpdateTokens writes rotated credentials only while the connection row still
// exists, so a refresh racing a disconnect cannot recreate it
func (r *GormConnectionRepository) UpdateTokens(ctx context.Context, conn *integration.TenantConnection) error {
	result := r.db.WithContext(ctx).
		Model(&models.TenantConnectionModel{}).
		Where("tenant_id = ?", conn.TenantID).
		Updates(map[string]any{
			"encrypted_access_token":  conn.EncryptedAccessToken,
			"encrypted_refresh_token": conn.EncryptedRefreshToken,
			"token_type":              conn.TokenType,
			"expires_at":              conn.ExpiresAt,
			"scope":                   conn.Scope,
			"provider_account_id":     conn.ProviderAccountID,
			"provider_realm_id":       conn.ProviderRealmID,
			"last_refreshed_at":       conn.LastRefreshedAt,
			"updated_at":              conn.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return integration.ErrNotConnected
	}
	return nil
}

// DeleteByTenant removes the connection of a tenant
func (r *GormConnectionRepository) DeleteByTenant(ctx context.Context, tenantID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Delete(&models.TenantConnectionModel{}).Error
}

// ListConnectedTenants returns every tenant holding a connection
func (r *GormConnectionRepository) ListConnectedTenants(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.TenantConnectionModel{}).
		Order("tenant_id").
		Pluck("tenant_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

package persistence

import (
	"context"
	"strings"

	"github.com/erp/ledgersync/internal/domain/shared"
	"github.com/erp/ledgersync/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormTenantRepository resolves tenant ids against the tenants table.
// It implements integration.TenantDirectory.
type GormTenantRepository struct {
	db *gorm.DB
}

// NewGormTenantRepository creates a new GormTenantRepository
func NewGormTenantRepository(db *gorm.DB) *GormTenantRepository {
	return &GormTenantRepository{db: db}
}

// Exists reports whether an active tenant with the id exists
func (r *GormTenantRepository) Exists(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	if tenantID == uuid.Nil {
		return false, nil
	}
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.TenantModel{}).
		Where("id = ? AND status = ?", tenantID, models.TenantStatusActive).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Create registers a tenant
func (r *GormTenantRepository) Create(ctx context.Context, id uuid.UUID, code, name string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || strings.TrimSpace(name) == "" {
		return shared.NewDomainError("INVALID_TENANT", "Tenant code and name are required")
	}
	model := models.TenantModel{
		Code:   code,
		Name:   strings.TrimSpace(name),
		Status: models.TenantStatusActive,
	}
	model.ID = id
	return r.db.WithContext(ctx).Create(&model).Error
}

package models

// TenantModel is the minimal tenant directory the engine validates ids against
type TenantModel struct {
	BaseModel
	Code   string `gorm:"type:varchar(50);not null;uniqueIndex"`
	Name   string `gorm:"type:varchar(200);not null"`
	Status string `gorm:"type:varchar(20);not null;default:'active'"`
}

// TableName returns the table name for GORM
func (TenantModel) TableName() string {
	return "tenants"
}

// Tenant statuses
const (
	TenantStatusActive   = "active"
	TenantStatusInactive = "inactive"
)

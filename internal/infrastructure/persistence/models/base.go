package models

import (
	"time"

	"github.com/erp/ledgersync/internal/domain/integration"
	"github.com/erp/ledgersync/internal/domain/shared"
	"github.com/google/uuid"
)

// BaseModel provides common persistence fields for all models.
// It maps to the domain's BaseEntity.
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// ToDomain converts BaseModel to domain BaseEntity
func (m *BaseModel) ToDomain() shared.BaseEntity {
	return shared.BaseEntity{
		ID:        m.ID,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// FromDomainBaseEntity populates BaseModel from domain BaseEntity
func (m *BaseModel) FromDomainBaseEntity(e shared.BaseEntity) {
	m.ID = e.ID
	m.CreatedAt = e.CreatedAt
	m.UpdatedAt = e.UpdatedAt
}

// RecordMetaModel holds the columns shared by every synced record table
type RecordMetaModel struct {
	ID                uuid.UUID  `gorm:"type:uuid;primary_key"`
	TenantID          uuid.UUID  `gorm:"type:uuid;not null;index"`
	ExternalID        string     `gorm:"type:varchar(100);not null"`
	ExternalUpdatedAt *time.Time `gorm:"column:external_updated_at"`
	RunID             uuid.UUID  `gorm:"type:uuid;not null"`
	SyncedAt          time.Time  `gorm:"not null"`
}

func recordMetaFromDomain(m integration.RecordMeta) RecordMetaModel {
	return RecordMetaModel{
		ID:                m.ID,
		TenantID:          m.TenantID,
		ExternalID:        m.ExternalID,
		ExternalUpdatedAt: m.ExternalUpdatedAt,
		RunID:             m.RunID,
		SyncedAt:          m.SyncedAt,
	}
}

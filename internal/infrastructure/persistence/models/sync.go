package models

import (
	"time"

	"github.com/erp/ledgersync/internal/domain/integration"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ---------------------------------------------------------------------------
// Sync runs
// ---------------------------------------------------------------------------

// SyncRunModel is the persistence model of integration.SyncRun
type SyncRunModel struct {
	BaseModel
	TenantID         uuid.UUID                                   `gorm:"type:uuid;not null;index:idx_sync_runs_tenant_status,priority:1"`
	Mode             string                                      `gorm:"type:varchar(20);not null"`
	WindowStart      *time.Time                                  `gorm:"type:date"`
	WindowEnd        *time.Time                                  `gorm:"type:date"`
	Status           string                                      `gorm:"type:varchar(20);not null;index:idx_sync_runs_tenant_status,priority:2"`
	Modules          datatypes.JSONSlice[integration.ModuleID]   `gorm:"not null"`
	ModuleIndex      int                                         `gorm:"not null;default:0"`
	Cursor           datatypes.JSONType[integration.CursorMap]   `gorm:"not null"`
	Progress         datatypes.JSONType[integration.ProgressMap] `gorm:"not null"`
	ErrorMessage     string                                      `gorm:"type:text"`
	CancelRequested  bool                                        `gorm:"not null;default:false"`
	ResumedFromRunID *uuid.UUID                                  `gorm:"type:uuid"`
	StartedAt        *time.Time
	FinishedAt       *time.Time
	LastCheckpointAt *time.Time
}

// TableName returns the table name for GORM
func (SyncRunModel) TableName() string {
	return "sync_runs"
}

// ToDomain converts the model to a domain SyncRun
func (m *SyncRunModel) ToDomain() *integration.SyncRun {
	run := &integration.SyncRun{
		BaseEntity:       m.BaseModel.ToDomain(),
		TenantID:         m.TenantID,
		Mode:             integration.RunMode(m.Mode),
		Status:           integration.RunStatus(m.Status),
		Modules:          append([]integration.ModuleID(nil), m.Modules...),
		ModuleIndex:      m.ModuleIndex,
		Cursor:           m.Cursor.Data().Clone(),
		Progress:         m.Progress.Data().Clone(),
		ErrorMessage:     m.ErrorMessage,
		CancelRequested:  m.CancelRequested,
		ResumedFromRunID: m.ResumedFromRunID,
		StartedAt:        m.StartedAt,
		FinishedAt:       m.FinishedAt,
		LastCheckpointAt: m.LastCheckpointAt,
	}
	if m.WindowStart != nil && m.WindowEnd != nil {
		run.Window = &integration.DateRange{
			Start: m.WindowStart.UTC(),
			End:   m.WindowEnd.UTC(),
		}
	}
	return run
}

// FromDomain populates the model from a domain SyncRun
func (m *SyncRunModel) FromDomain(run *integration.SyncRun) {
	m.FromDomainBaseEntity(run.BaseEntity)
	m.TenantID = run.TenantID
	m.Mode = string(run.Mode)
	m.WindowStart, m.WindowEnd = nil, nil
	if run.Window != nil {
		start, end := run.Window.Start, run.Window.End
		m.WindowStart, m.WindowEnd = &start, &end
	}
	m.Status = string(run.Status)
	m.Modules = datatypes.NewJSONSlice(append([]integration.ModuleID(nil), run.Modules...))
	m.ModuleIndex = run.ModuleIndex
	m.Cursor = datatypes.NewJSONType(run.Cursor.Clone())
	m.Progress = datatypes.NewJSONType(run.Progress.Clone())
	m.ErrorMessage = run.ErrorMessage
	m.CancelRequested = run.CancelRequested
	m.ResumedFromRunID = run.ResumedFromRunID
	m.StartedAt = run.StartedAt
	m.FinishedAt = run.FinishedAt
	m.LastCheckpointAt = run.LastCheckpointAt
}

// ---------------------------------------------------------------------------
// Tenant connections
// ---------------------------------------------------------------------------

// TenantConnectionModel stores the encrypted provider credential of a tenant
type TenantConnectionModel struct {
	BaseModel
	TenantID              uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	EncryptedAccessToken  string    `gorm:"type:text;not null"`
	EncryptedRefreshToken string    `gorm:"type:text;not null"`
	TokenType             string    `gorm:"type:varchar(20);not null;default:'Bearer'"`
	ExpiresAt             time.Time `gorm:"not null"`
	Scope                 string    `gorm:"type:text"`
	ProviderAccountID     string    `gorm:"type:varchar(100)"`
	ProviderRealmID       string    `gorm:"type:varchar(100)"`
	LastRefreshedAt       *time.Time
}

// TableName returns the table name for GORM
func (TenantConnectionModel) TableName() string {
	return "tenant_connections"
}

// ToDomain converts the model to a domain TenantConnection
func (m *TenantConnectionModel) ToDomain() *integration.TenantConnection {
	return &integration.TenantConnection{
		BaseEntity:            m.BaseModel.ToDomain(),
		TenantID:              m.TenantID,
		EncryptedAccessToken:  m.EncryptedAccessToken,
		EncryptedRefreshToken: m.EncryptedRefreshToken,
		TokenType:             m.TokenType,
		ExpiresAt:             m.ExpiresAt,
		Scope:                 m.Scope,
		ProviderAccountID:     m.ProviderAccountID,
		ProviderRealmID:       m.ProviderRealmID,
		LastRefreshedAt:       m.LastRefreshedAt,
	}
}

// FromDomain populates the model from a domain TenantConnection
func (m *TenantConnectionModel) FromDomain(c *integration.TenantConnection) {
	m.FromDomainBaseEntity(c.BaseEntity)
	m.TenantID = c.TenantID
	m.EncryptedAccessToken = c.EncryptedAccessToken
	m.EncryptedRefreshToken = c.EncryptedRefreshToken
	m.TokenType = c.TokenType
	m.ExpiresAt = c.ExpiresAt
	m.Scope = c.Scope
	m.ProviderAccountID = c.ProviderAccountID
	m.ProviderRealmID = c.ProviderRealmID
	m.LastRefreshedAt = c.LastRefreshedAt
}

// ---------------------------------------------------------------------------
// Cursors and raw payloads
// ---------------------------------------------------------------------------

// SyncCursorModel is the last committed position of a module across runs
type SyncCursorModel struct {
	TenantID  uuid.UUID `gorm:"type:uuid;primaryKey"`
	Module    string    `gorm:"type:varchar(30);primaryKey"`
	Position  string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SyncCursorModel) TableName() string {
	return "sync_cursors"
}

// ToDomain converts the model to a domain SyncCursor
func (m *SyncCursorModel) ToDomain() *integration.SyncCursor {
	return &integration.SyncCursor{
		TenantID:  m.TenantID,
		Module:    integration.ModuleID(m.Module),
		Position:  m.Position,
		UpdatedAt: m.UpdatedAt,
	}
}

// RawPayloadModel caches the last raw provider record seen per entity
type RawPayloadModel struct {
	TenantID   uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Module     string         `gorm:"type:varchar(30);primaryKey"`
	ExternalID string         `gorm:"type:varchar(100);primaryKey"`
	RunID      uuid.UUID      `gorm:"type:uuid;not null"`
	Payload    datatypes.JSON `gorm:"not null"`
	FetchedAt  time.Time      `gorm:"not null"`
}

// TableName returns the table name for GORM
func (RawPayloadModel) TableName() string {
	return "sync_raw_payloads"
}

// FromDomain populates the model from a domain RawPayload
func (m *RawPayloadModel) FromDomain(p integration.RawPayload) {
	m.TenantID = p.TenantID
	m.Module = string(p.Module)
	m.ExternalID = p.ExternalID
	m.RunID = p.RunID
	m.Payload = datatypes.JSON(p.Payload)
	m.FetchedAt = p.FetchedAt
}

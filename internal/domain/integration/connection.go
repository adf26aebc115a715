package integration

import (
	"time"

	"github.com/erp/ledgersync/internal/domain/shared"
	"github.com/google/uuid"
)

// TenantConnection is the stored OAuth credential of a tenant. Both tokens are
// ciphertext produced by a SecretCipher; plaintext never leaves the token store.
type TenantConnection struct {
	shared.BaseEntity
	TenantID              uuid.UUID
	EncryptedAccessToken  string
	EncryptedRefreshToken string
	TokenType             string
	ExpiresAt             time.Time
	Scope                 string
	ProviderAccountID     string
	ProviderRealmID       string
	LastRefreshedAt       *time.Time
}

// NewTenantConnection creates a connection from freshly encrypted tokens
func NewTenantConnection(tenantID uuid.UUID, encAccess, encRefresh string, expiresAt time.Time) (*TenantConnection, error) {
	if tenantID == uuid.Nil {
		return nil, ErrInvalidTenant
	}
	return &TenantConnection{
		BaseEntity:            shared.NewBaseEntity(),
		TenantID:              tenantID,
		EncryptedAccessToken:  encAccess,
		EncryptedRefreshToken: encRefresh,
		TokenType:             "Bearer",
		ExpiresAt:             expiresAt,
	}, nil
}

// ExpiresWithin reports whether the access token expires before now+margin
func (c *TenantConnection) ExpiresWithin(margin time.Duration, now time.Time) bool {
	return !c.ExpiresAt.After(now.Add(margin))
}

// RefreshDue reports whether the access token should be refreshed before use.
// The margin is capped at half the token lifetime so short-lived tokens are
// not refreshed on every call.
func (c *TenantConnection) RefreshDue(margin time.Duration, now time.Time) bool {
	issued := c.UpdatedAt
	if c.LastRefreshedAt != nil {
		issued = *c.LastRefreshedAt
	}
	if lifetime := c.ExpiresAt.Sub(issued); lifetime > 0 && margin > lifetime/2 {
		margin = lifetime / 2
	}
	return c.ExpiresWithin(margin, now)
}

// Rotate replaces the tokens after a refresh. An empty refresh token keeps the
// current one since providers may omit it on rotation.
func (c *TenantConnection) Rotate(encAccess, encRefresh string, expiresAt, now time.Time) {
	c.EncryptedAccessToken = encAccess
	if encRefresh != "" {
		c.EncryptedRefreshToken = encRefresh
	}
	c.ExpiresAt = expiresAt
	c.LastRefreshedAt = &now
	c.Touch(now)
}

// ---------------------------------------------------------------------------
// Cross-run cursor and raw cache
// ---------------------------------------------------------------------------

// SyncCursor is the last committed position of a module for incremental runs
type SyncCursor struct {
	TenantID  uuid.UUID
	Module    ModuleID
	Position  string
	UpdatedAt time.Time
}

// RawPayload is a cached provider record. It is never authoritative.
type RawPayload struct {
	TenantID   uuid.UUID
	Module     ModuleID
	ExternalID string
	RunID      uuid.UUID
	Payload    []byte
	FetchedAt  time.Time
}

package shared

import (
	"time"

	"github.com/google/uuid"
)

// BaseEntity carries the identity and audit timestamps of a persisted entity.
// Timestamps are UTC at microsecond precision so they survive a round trip
// through a timestamptz column unchanged.
type BaseEntity struct {
	ID        uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewBaseEntity creates a base entity with a generated ID stamped with now
func NewBaseEntity() BaseEntity {
	now := Timestamp(time.Now())
	return BaseEntity{
		ID:        uuid.New(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch records a modification at now
func (e *BaseEntity) Touch(now time.Time) {
	e.UpdatedAt = Timestamp(now)
}

// Timestamp normalizes t to the precision stored by the database
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

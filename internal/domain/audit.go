package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction names one kind of state transition recorded in the audit trail.
type AuditAction string

const (
	ActionInsertEntity AuditAction = "INSERT_ENTITY"
	ActionUpdateEntity AuditAction = "UPDATE_ENTITY"
	ActionInsertDetail AuditAction = "INSERT_DETAIL"
	ActionUpdateDetail AuditAction = "UPDATE_DETAIL"
)

// AuditEntry is an immutable record of one state transition. Timestamp is the
// business change timestamp the transition was applied at; RecordedAt is the
// wall-clock moment the row was written. Entries are append-only.
type AuditEntry struct {
	ID         int64          `json:"id"`
	Actor      string         `json:"actor"`
	Action     AuditAction    `json:"action"`
	EntityID   uuid.UUID      `json:"entity_uid"`
	DetailCode *string        `json:"detail_code"`
	Before     map[string]any `json:"before"`
	After      map[string]any `json:"after"`
	Timestamp  time.Time      `json:"timestamp"`
	RecordedAt time.Time      `json:"recorded_at"`
}

package model

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction enumerates the mutations recorded in the exam audit trail.
type AuditAction string

const (
	AuditActionCreate AuditAction = "CREATE"
	AuditActionUpdate AuditAction = "UPDATE"
	AuditActionDelete AuditAction = "DELETE"
)

// ExamAuditEvent is the queued form of an audit log row.
type ExamAuditEvent struct {
	ExamID     uuid.UUID   `json:"exam_id"`
	Action     AuditAction `json:"action"`
	UserID     int         `json:"user_id"`
	RequestID  string      `json:"request_id,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
	// Attempts counts failed persist attempts.
	Attempts int `json:"attempts,omitempty"`
}

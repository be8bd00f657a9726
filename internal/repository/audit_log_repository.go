package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/cbt-exam/internal/model"
)

// AuditLogRepository persists exam audit events.
type AuditLogRepository struct {
	pool *pgxpool.Pool
}

// NewAuditLogRepository creates a new AuditLogRepository.
func NewAuditLogRepository(pool *pgxpool.Pool) *AuditLogRepository {
	return &AuditLogRepository{pool: pool}
}

// Insert writes one audit row.
func (r *AuditLogRepository) Insert(ctx context.Context, ev model.ExamAuditEvent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO exam_audit_logs (exam_id, action, user_id, request_id, occurred_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5)`,
		ev.ExamID, string(ev.Action), ev.UserID, ev.RequestID, ev.OccurredAt,
	)
	return err
}

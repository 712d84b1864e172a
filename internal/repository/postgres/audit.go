package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/artempl88/sozdaibota-sub000/internal/models"
)

// AuditLogRepository handles audit log data access
type AuditLogRepository struct {
	db *sqlx.DB
}

// NewAuditLogRepository creates a new audit log repository
func NewAuditLogRepository(db *sqlx.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

// Log creates a new audit log entry
func (r *AuditLogRepository) Log(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	query := `
		INSERT INTO audit_logs (
			id, session_id, action, resource_type, resource_id,
			actor, metadata, status, error_message, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.SessionID, entry.Action, entry.ResourceType, entry.ResourceID,
		entry.Actor, entry.Metadata, entry.Status, entry.ErrorMessage, entry.CreatedAt,
	)
	return err
}

// ListBySession lists the most recent audit entries for a session
func (r *AuditLogRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]*models.AuditLog, error) {
	var entries []*models.AuditLog
	query := `
		SELECT * FROM audit_logs
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	err := r.db.SelectContext(ctx, &entries, query, sessionID, limit)
	return entries, err
}

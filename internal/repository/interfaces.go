package repository

import (
	"context"
	"errors"

	"github.com/artempl88/sozdaibota-sub000/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict is returned when an update was based on a stale version
	ErrVersionConflict = errors.New("version conflict")
	// ErrNoChange may be returned by a session mutation to skip the write
	ErrNoChange = errors.New("no change")
)

// SessionRepository defines session storage operations.
// Sessions are never deleted.
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	// Update writes the session if its stored version still equals
	// session.Version, then increments session.Version.
	Update(ctx context.Context, session *models.Session) error
}

// AuditLogRepository defines audit trail storage operations
type AuditLogRepository interface {
	Log(ctx context.Context, entry *models.AuditLog) error
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*models.AuditLog, error)
}

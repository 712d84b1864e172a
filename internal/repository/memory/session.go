// Package memory provides process-local repositories with the same
// semantics as the Postgres ones.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/artempl88/sozdaibota-sub000/internal/models"
	"github.com/artempl88/sozdaibota-sub000/internal/repository"
)

// SessionRepository keeps sessions in a map guarded by a mutex
type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

// NewSessionRepository creates an empty in-memory session repository
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[string]*models.Session)}
}

// Create stores a new session at version 1
func (r *SessionRepository) Create(_ context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.ID]; exists {
		return fmt.Errorf("session %s already exists", session.ID)
	}

	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	session.Version = 1
	r.sessions[session.ID] = session.Clone()
	return nil
}

// Get returns a copy of the stored session
func (r *SessionRepository) Get(_ context.Context, id string) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s.Clone(), nil
}

// Update replaces the stored session when the versions match
func (r *SessionRepository) Update(_ context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions[session.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if current.Version != session.Version {
		return repository.ErrVersionConflict
	}

	session.Version++
	session.UpdatedAt = time.Now().UTC()
	r.sessions[session.ID] = session.Clone()
	return nil
}

// AuditLogRepository keeps audit entries in insertion order
type AuditLogRepository struct {
	mu      sync.Mutex
	entries []*models.AuditLog
}

// NewAuditLogRepository creates an empty in-memory audit repository
func NewAuditLogRepository() *AuditLogRepository {
	return &AuditLogRepository{}
}

// Log appends an entry
func (r *AuditLogRepository) Log(_ context.Context, entry *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	cp := *entry
	r.entries = append(r.entries, &cp)
	return nil
}

// ListBySession returns the newest entries for a session first
func (r *AuditLogRepository) ListBySession(_ context.Context, sessionID string, limit int) ([]*models.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.AuditLog
	for _, e := range r.entries {
		if e.SessionID == sessionID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

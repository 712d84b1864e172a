package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/artempl88/sozdaibota-sub000/internal/models"
	"github.com/artempl88/sozdaibota-sub000/internal/repository"
)

// EventType represents the type of audit event
type EventType string

const (
	EventSessionCreate      EventType = "session.create"
	EventEstimateRequested  EventType = "estimate.requested"
	EventNotificationFailed EventType = "estimate.notification_failed"
	EventEstimateApproved   EventType = "estimate.approved"
	EventEstimateRejected   EventType = "estimate.rejected"
	EventEditRequested      EventType = "estimate.edit_requested"
	EventEstimateEdited     EventType = "estimate.edited"
	EventEstimateDelivered  EventType = "estimate.delivered"
	EventAdminRequest       EventType = "admin.request"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Logger defines the interface for audit logging
type Logger interface {
	Log(ctx context.Context, event *Event) error
	SessionEvents(ctx context.Context, sessionID string, limit int) ([]*Event, error)
}

// Event represents an audit event
type Event struct {
	ID         uuid.UUID              `json:"id"`
	EventType  EventType              `json:"event_type"`
	SessionID  string                 `json:"session_id"`
	Actor      string                 `json:"actor,omitempty"`
	Resource   string                 `json:"resource,omitempty"`
	ResourceID string                 `json:"resource_id,omitempty"`
	Result     string                 `json:"result,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Service implements the audit logger
type Service struct {
	repo   repository.AuditLogRepository
	logger *logrus.Logger
}

// NewService creates a new audit service
func NewService(repo repository.AuditLogRepository, logger *logrus.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

// Log records an audit event
func (s *Service) Log(ctx context.Context, event *Event) error {
	entry := &models.AuditLog{
		ID:           event.ID,
		SessionID:    event.SessionID,
		Action:       string(event.EventType),
		ResourceType: event.Resource,
		ResourceID:   event.ResourceID,
		Actor:        event.Actor,
		Metadata:     models.JSONB(event.Metadata),
		Status:       event.Result,
		ErrorMessage: event.Error,
		CreatedAt:    event.CreatedAt,
	}
	return s.repo.Log(ctx, entry)
}

// Record logs the event and only warns when the trail cannot be written.
// Audit rows never block a state transition.
func (s *Service) Record(ctx context.Context, event *Event) {
	if s == nil {
		return
	}
	if err := s.Log(ctx, event); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"session_id": event.SessionID,
			"event":      event.EventType,
		}).Warn("Failed to write audit event")
	}
}

// SessionEvents retrieves the newest audit events of a session
func (s *Service) SessionEvents(ctx context.Context, sessionID string, limit int) ([]*Event, error) {
	logs, err := s.repo.ListBySession(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}

	events := make([]*Event, len(logs))
	for i, log := range logs {
		events[i] = &Event{
			ID:         log.ID,
			EventType:  EventType(log.Action),
			SessionID:  log.SessionID,
			Actor:      log.Actor,
			Resource:   log.ResourceType,
			ResourceID: log.ResourceID,
			Result:     log.Status,
			Error:      log.ErrorMessage,
			Metadata:   map[string]interface{}(log.Metadata),
			CreatedAt:  log.CreatedAt,
		}
	}
	return events, nil
}

// NewEvent builds a successful estimate event for a session
func NewEvent(eventType EventType, sessionID, estimateID, actor string) *Event {
	return &Event{
		ID:         uuid.New(),
		EventType:  eventType,
		SessionID:  sessionID,
		Actor:      actor,
		Resource:   "estimate",
		ResourceID: estimateID,
		Result:     ResultSuccess,
		CreatedAt:  time.Now(),
		Metadata:   make(map[string]interface{}),
	}
}

// Failed marks the event as a failure carrying err
func (e *Event) Failed(err error) *Event {
	e.Result = ResultFailure
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// With adds a metadata field
func (e *Event) With(key string, value interface{}) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

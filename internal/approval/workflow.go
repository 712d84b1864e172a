// Package approval runs the human-in-the-loop estimate review cycle:
// none -> pending_review -> approved | rejected, approved -> delivered.
// Every transition is a versioned write through the session store.
package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/artempl88/sozdaibota-sub000/internal/audit"
	"github.com/artempl88/sozdaibota-sub000/internal/estimate"
	"github.com/artempl88/sozdaibota-sub000/internal/models"
	"github.com/artempl88/sozdaibota-sub000/internal/notify"
	"github.com/artempl88/sozdaibota-sub000/internal/repository"
)

var (
	// ErrPersistence means a decision could not be durably stored
	ErrPersistence = errors.New("approval persistence failure")
	// ErrUnknownEstimate means no pending estimate carries the given id
	ErrUnknownEstimate = errors.New("no pending estimate with this id")
	// ErrInvalidEdit means an edited estimate failed validation
	ErrInvalidEdit = errors.New("invalid estimate edit")

	errStale      = errors.New("stale estimate")
	errNotPending = errors.New("estimate not pending")
)

// Outcome is the result of RequestReview
type Outcome int

const (
	// OutcomeSkipped means a review is already pending or being prepared
	OutcomeSkipped Outcome = iota
	// OutcomeRequested means the reviewer has the estimate and it is pending
	OutcomeRequested
	// OutcomeNotifyFailed means the reviewer could not be reached
	OutcomeNotifyFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRequested:
		return "requested"
	case OutcomeNotifyFailed:
		return "notify_failed"
	default:
		return "skipped"
	}
}

// SessionStore is the versioned session state the workflow operates on.
// Load must read the authoritative record, not a cached copy.
type SessionStore interface {
	Load(ctx context.Context, id string) (*models.Session, error)
	Mutate(ctx context.Context, id string, fn func(*models.Session) error) (*models.Session, error)
}

// Estimator builds and reprices estimates
type Estimator interface {
	Build(ctx context.Context, in estimate.Input) *models.Estimate
	Reprice(est *models.Estimate) error
}

// Recorder observes workflow transitions
type Recorder interface {
	ObserveTransition(from, to models.ReviewStatus)
	ObserveNotification(ok bool)
}

// EstimateEdit replaces the reviewable parts of a pending estimate
type EstimateEdit struct {
	EstimateID      string             `json:"estimate_id"`
	Components      []models.Component `json:"components"`
	Timeline        string             `json:"timeline"`
	Risks           []string           `json:"risks"`
	Recommendations []string           `json:"recommendations"`
	Editor          string             `json:"-"`
}

// Workflow is the approval state machine
type Workflow struct {
	store     SessionStore
	estimator Estimator
	notifier  notify.Notifier
	audit     *audit.Service
	recorder  Recorder
	now       func() time.Time
	logger    *logrus.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// Option configures a Workflow
type Option func(*Workflow)

// WithAudit records lifecycle markers in the audit trail
func WithAudit(a *audit.Service) Option {
	return func(w *Workflow) { w.audit = a }
}

// WithRecorder reports transitions to metrics
func WithRecorder(r Recorder) Option {
	return func(w *Workflow) { w.recorder = r }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// NewWorkflow creates the approval workflow
func NewWorkflow(store SessionStore, estimator Estimator, notifier notify.Notifier, logger *logrus.Logger, opts ...Option) *Workflow {
	w := &Workflow{
		store:     store,
		estimator: estimator,
		notifier:  notifier,
		now:       time.Now,
		logger:    logger,
		inflight:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// RequestReview builds an estimate for the session, sends it to the
// reviewer and marks it pending. The lifecycle flags only advance after the
// reviewer channel confirmed the send. At most one review is prepared per
// session at a time in this process; across processes the version check on
// commit rejects the second pending transition.
func (w *Workflow) RequestReview(ctx context.Context, sessionID string) (Outcome, error) {
	if !w.acquire(sessionID) {
		return OutcomeSkipped, nil
	}
	defer w.release(sessionID)

	log := w.logger.WithField("session_id", sessionID)

	session, err := w.store.Load(ctx, sessionID)
	if err != nil {
		return OutcomeSkipped, err
	}
	if !session.CanStartEstimate() {
		log.WithField("review_status", session.ReviewStatus).Debug("Review already in progress")
		return OutcomeSkipped, nil
	}

	est := w.estimator.Build(ctx, estimate.Input{
		SessionID: session.ID,
		Profile:   session.Profile,
		Turns:     session.Turns,
	})
	log = log.WithField("estimate_id", est.ID)

	err = w.notifier.SendReview(ctx, notify.Review{
		SessionID: session.ID,
		Profile:   session.Profile,
		LeadScore: session.LeadScore,
		Estimate:  est,
		Turns:     session.Turns,
	})
	w.observeNotification(err == nil)
	if err != nil {
		log.WithError(err).Error("Failed to send estimate to reviewer")
		w.record(ctx, audit.NewEvent(audit.EventNotificationFailed, sessionID, est.ID, "system").Failed(err))
		return OutcomeNotifyFailed, nil
	}

	var from models.ReviewStatus
	_, err = w.store.Mutate(ctx, sessionID, func(s *models.Session) error {
		if !s.CanStartEstimate() {
			return errNotPending
		}
		from = s.ReviewStatus
		now := w.now().UTC()
		if s.ReviewStatus == models.ReviewDelivered {
			startNewCycle(s)
		}
		s.ReviewStatus = models.ReviewPending
		s.EstimateSent = true
		s.EstimateSentAt = &now
		s.EstimatePayload = est
		return nil
	})
	switch {
	case errors.Is(err, errNotPending):
		// Lost the race to another writer; the review just sent is stale
		// and its callback will be ignored.
		log.Warn("Another review became pending first")
		return OutcomeSkipped, nil
	case err != nil:
		log.WithError(err).Error("Failed to persist pending review")
		return OutcomeSkipped, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	w.observeTransition(from, models.ReviewPending)
	w.record(ctx, audit.NewEvent(audit.EventEstimateRequested, sessionID, est.ID, "system").
		With("tier", string(est.Metadata.GeneratedBy)).
		With("total_cost", est.TotalCost))
	log.WithField("tier", est.Metadata.GeneratedBy).Info("Estimate sent for review")
	return OutcomeRequested, nil
}

// HandleDecision applies a reviewer decision and returns the text shown to
// the reviewer. ErrPersistence means nothing was persisted and the decision
// should be retried; decisions for unknown sessions or superseded estimates
// return a *notify.IgnoredError carrying the acknowledgement.
func (w *Workflow) HandleDecision(ctx context.Context, d notify.Decision) (string, error) {
	log := w.logger.WithFields(logrus.Fields{
		"session_id":  d.SessionID,
		"estimate_id": d.EstimateID,
		"action":      d.Action,
		"reviewer":    d.Reviewer,
	})

	var (
		ack string
		err error
	)
	switch d.Action {
	case notify.ActionApprove:
		ack, err = w.approve(ctx, d)
	case notify.ActionReject:
		ack, err = w.reject(ctx, d)
	case notify.ActionEdit:
		ack, err = w.requestEdit(ctx, d)
	default:
		return "", notify.Ignored("Неизвестное действие")
	}

	switch {
	case err == nil:
		log.Info("Reviewer decision applied")
		return ack, nil
	case errors.Is(err, repository.ErrNotFound):
		log.Warn("Decision for unknown session")
		return "", notify.Ignored("Сессия не найдена")
	case errors.Is(err, errStale):
		log.Info("Decision for a superseded estimate ignored")
		return "", notify.Ignored("Эта смета уже неактуальна")
	default:
		log.WithError(err).Error("Reviewer decision not persisted")
		return "", fmt.Errorf("%w: %v", ErrPersistence, err)
	}
}

func (w *Workflow) approve(ctx context.Context, d notify.Decision) (string, error) {
	var (
		from      models.ReviewStatus
		duplicate bool
		rejected  bool
	)
	_, err := w.store.Mutate(ctx, d.SessionID, func(s *models.Session) error {
		duplicate, rejected = false, false
		if !matchesPayload(s, d.EstimateID) {
			return errStale
		}
		if s.EstimateApproved && s.ApprovedEstimateRef == d.EstimateID {
			duplicate = true
			return repository.ErrNoChange
		}
		if s.ReviewStatus != models.ReviewPending {
			rejected = true
			return repository.ErrNoChange
		}

		from = s.ReviewStatus
		now := w.now().UTC()
		s.AppendTurn(models.RoleAssistant, models.KindApprovedEstimate, estimate.ClientMessage(s.EstimatePayload), now)
		s.ReviewStatus = models.ReviewApproved
		s.EstimateApproved = true
		s.EstimateApprovedAt = &now
		s.ApprovedEstimateRef = d.EstimateID
		s.DeliveredToClient = false
		s.DeliveredAt = nil
		return nil
	})
	if err != nil {
		return "", err
	}
	switch {
	case duplicate:
		return "Смета уже одобрена", nil
	case rejected:
		return "Смета уже отклонена", nil
	}

	w.observeTransition(from, models.ReviewApproved)
	w.record(ctx, audit.NewEvent(audit.EventEstimateApproved, d.SessionID, d.EstimateID, d.Reviewer))
	return "Смета одобрена и будет показана клиенту", nil
}

func (w *Workflow) reject(ctx context.Context, d notify.Decision) (string, error) {
	var changed bool
	_, err := w.store.Mutate(ctx, d.SessionID, func(s *models.Session) error {
		changed = false
		if !matchesPayload(s, d.EstimateID) {
			return errStale
		}
		if s.ReviewStatus != models.ReviewPending {
			return repository.ErrNoChange
		}
		s.ReviewStatus = models.ReviewRejected
		changed = true
		return nil
	})
	if err != nil {
		return "", err
	}
	if !changed {
		return "Решение по этой смете уже принято", nil
	}

	w.observeTransition(models.ReviewPending, models.ReviewRejected)
	w.record(ctx, audit.NewEvent(audit.EventEstimateRejected, d.SessionID, d.EstimateID, d.Reviewer))
	return "Смета отклонена", nil
}

func (w *Workflow) requestEdit(ctx context.Context, d notify.Decision) (string, error) {
	session, err := w.store.Load(ctx, d.SessionID)
	if err != nil {
		return "", err
	}
	if !matchesPayload(session, d.EstimateID) || !session.HasPendingEstimate() {
		return "", errStale
	}
	w.record(ctx, audit.NewEvent(audit.EventEditRequested, d.SessionID, d.EstimateID, d.Reviewer))
	return "Откройте редактор сметы по ссылке", nil
}

// Deliver surfaces an approved estimate to the client exactly once. It
// returns the approved-estimate turn on the read that flips
// delivered_to_client, and nil on every other read.
func (w *Workflow) Deliver(ctx context.Context, sessionID string) (*models.Turn, error) {
	var delivered *models.Turn
	var ref string
	_, err := w.store.Mutate(ctx, sessionID, func(s *models.Session) error {
		delivered = nil
		if !s.AwaitingDelivery() {
			return repository.ErrNoChange
		}
		turn, ok := s.LastTurnOfKind(models.KindApprovedEstimate)
		if !ok {
			return repository.ErrNoChange
		}
		now := w.now().UTC()
		s.DeliveredToClient = true
		s.DeliveredAt = &now
		s.ReviewStatus = models.ReviewDelivered
		delivered = &turn
		ref = s.ApprovedEstimateRef
		return nil
	})
	if err != nil {
		return nil, err
	}
	if delivered != nil {
		w.observeTransition(models.ReviewApproved, models.ReviewDelivered)
		w.record(ctx, audit.NewEvent(audit.EventEstimateDelivered, sessionID, ref, "client"))
	}
	return delivered, nil
}

// EditPending replaces the components of the pending estimate and reprices
// it. The estimate keeps its id so the reviewer's buttons stay valid.
func (w *Workflow) EditPending(ctx context.Context, sessionID string, edit EstimateEdit) (*models.Estimate, error) {
	if len(edit.Components) == 0 {
		return nil, fmt.Errorf("%w: at least one component is required", ErrInvalidEdit)
	}

	var edited *models.Estimate
	_, err := w.store.Mutate(ctx, sessionID, func(s *models.Session) error {
		if !s.HasPendingEstimate() || s.EstimatePayload == nil {
			return ErrUnknownEstimate
		}
		if edit.EstimateID != "" && edit.EstimateID != s.EstimatePayload.ID {
			return ErrUnknownEstimate
		}

		est := s.EstimatePayload.Clone()
		est.Components = append([]models.Component(nil), edit.Components...)
		if t := strings.TrimSpace(edit.Timeline); t != "" {
			est.Timeline = t
		}
		if edit.Risks != nil {
			est.Risks = append([]string(nil), edit.Risks...)
		}
		if edit.Recommendations != nil {
			est.Recommendations = append([]string(nil), edit.Recommendations...)
		}
		est.Metadata.GeneratedBy = models.GeneratedByReviewer
		est.Metadata.Approximate = false
		est.Metadata.GeneratedAt = w.now().UTC()
		if err := w.estimator.Reprice(est); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEdit, err)
		}

		s.EstimatePayload = est
		edited = est
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.record(ctx, audit.NewEvent(audit.EventEstimateEdited, sessionID, edited.ID, edit.Editor).
		With("total_cost", edited.TotalCost))
	return edited.Clone(), nil
}

func (w *Workflow) acquire(sessionID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.inflight[sessionID]; busy {
		return false
	}
	w.inflight[sessionID] = struct{}{}
	return true
}

func (w *Workflow) release(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inflight, sessionID)
}

func (w *Workflow) record(ctx context.Context, e *audit.Event) {
	if w.audit != nil {
		w.audit.Record(ctx, e)
	}
}

func (w *Workflow) observeTransition(from, to models.ReviewStatus) {
	if from == "" {
		from = models.ReviewNone
	}
	if w.recorder != nil {
		w.recorder.ObserveTransition(from, to)
	}
}

func (w *Workflow) observeNotification(ok bool) {
	if w.recorder != nil {
		w.recorder.ObserveNotification(ok)
	}
}

func matchesPayload(s *models.Session, estimateID string) bool {
	return s.EstimatePayload != nil && estimateID != "" && s.EstimatePayload.ID == estimateID
}

// startNewCycle clears the previous cycle's approval and delivery flags
func startNewCycle(s *models.Session) {
	s.EstimateApproved = false
	s.EstimateApprovedAt = nil
	s.DeliveredToClient = false
	s.DeliveredAt = nil
}

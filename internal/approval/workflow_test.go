package approval

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artempl88/sozdaibota-sub000/internal/config"
	"github.com/artempl88/sozdaibota-sub000/internal/estimate"
	"github.com/artempl88/sozdaibota-sub000/internal/llm"
	"github.com/artempl88/sozdaibota-sub000/internal/logging"
	"github.com/artempl88/sozdaibota-sub000/internal/models"
	"github.com/artempl88/sozdaibota-sub000/internal/notify"
	"github.com/artempl88/sozdaibota-sub000/internal/repository"
	"github.com/artempl88/sozdaibota-sub000/internal/repository/memory"
)

type memStore struct {
	repo *memory.SessionRepository

	mu         sync.Mutex
	failWrites int
}

func (m *memStore) Load(ctx context.Context, id string) (*models.Session, error) {
	return m.repo.Get(ctx, id)
}

func (m *memStore) Mutate(ctx context.Context, id string, fn func(*models.Session) error) (*models.Session, error) {
	for i := 0; i < 20; i++ {
		current, err := m.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		work := current.Clone()
		if err := fn(work); err != nil {
			if errors.Is(err, repository.ErrNoChange) {
				return current, nil
			}
			return nil, err
		}

		m.mu.Lock()
		if m.failWrites > 0 {
			m.failWrites--
			m.mu.Unlock()
			return nil, errors.New("connection refused")
		}
		m.mu.Unlock()

		err = m.repo.Update(ctx, work)
		if errors.Is(err, repository.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return work, nil
	}
	return nil, repository.ErrVersionConflict
}

type fakeNotifier struct {
	mu      sync.Mutex
	reviews []notify.Review
	err     error
}

func (n *fakeNotifier) SendReview(_ context.Context, r notify.Review) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.reviews = append(n.reviews, r)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.reviews)
}

func (n *fakeNotifier) last() notify.Review {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.reviews[len(n.reviews)-1]
}

type transitionRecorder struct {
	mu          sync.Mutex
	transitions []string
	notified    []bool
}

func (r *transitionRecorder) ObserveTransition(from, to models.ReviewStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, string(from)+"->"+string(to))
}

func (r *transitionRecorder) ObserveNotification(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notified = append(r.notified, ok)
}

type fixture struct {
	store    *memStore
	notifier *fakeNotifier
	recorder *transitionRecorder
	workflow *Workflow
}

func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Minute)
		return t
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	catalog, err := estimate.DefaultCatalog()
	require.NoError(t, err)

	engine := estimate.NewDefaultEngine(config.EstimateConfig{
		HourlyRate:           2000,
		MinimumProjectCost:   15000,
		CustomAllowanceHours: 20,
		MinimalHours:         40,
		Currency:             "RUB",
	}, nil, catalog, logging.Discard())

	f := &fixture{
		store:    &memStore{repo: memory.NewSessionRepository()},
		notifier: &fakeNotifier{},
		recorder: &transitionRecorder{},
	}
	f.workflow = NewWorkflow(f.store, engine, f.notifier, logging.Discard(),
		WithRecorder(f.recorder), WithClock(tickingClock()))
	return f
}

func (f *fixture) newSession(t *testing.T, id string) {
	t.Helper()
	s := &models.Session{
		ID:   id,
		Flow: models.FlowGuided,
		Profile: models.IntakeProfile{
			Name:            "Анна",
			Industry:        "e-commerce",
			Budget:          models.Budget50to100k,
			Timeline:        models.TimelineMonth,
			ContactChannels: []models.ContactChannel{models.ContactTelegram},
			ContactDetails:  "@anna",
		},
		ReviewStatus: models.ReviewNone,
	}
	s.AppendTurn(models.RoleClient, models.KindText, "Нужен бот с каталогом товаров, корзиной и онлайн-оплатой", time.Now())
	require.NoError(t, f.store.repo.Create(context.Background(), s))
}

func (f *fixture) session(t *testing.T, id string) *models.Session {
	t.Helper()
	s, err := f.store.Load(context.Background(), id)
	require.NoError(t, err)
	return s
}

func (f *fixture) decide(t *testing.T, action notify.Action, id, estimateID string) string {
	t.Helper()
	ack, err := f.workflow.HandleDecision(context.Background(), notify.Decision{
		Action: action, SessionID: id, EstimateID: estimateID, Reviewer: "@boss",
	})
	var ignored *notify.IgnoredError
	if errors.As(err, &ignored) {
		return ignored.Ack
	}
	require.NoError(t, err)
	return ack
}

func TestRequestReview_MarksPendingAfterSend(t *testing.T) {
	f := newFixture(t)
	f.newSession(t, "s1")

	outcome, err := f.workflow.RequestReview(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRequested, outcome)

	s := f.session(t, "s1")
	assert.Equal(t, models.ReviewPending, s.ReviewStatus)
	assert.True(t, s.EstimateSent)
	require.NotNil(t, s.EstimateSentAt)
	require.NotNil(t, s.EstimatePayload)
	assert.Equal(t, f.notifier.last().Estimate.ID, s.EstimatePayload.ID)
	assert.GreaterOrEqual(t, s.EstimatePayload.TotalCost, 15000.0)
	assert.Equal(t, []string{"none->pending_review"}, f.recorder.transitions)
}

func TestRequestReview_SkipsWhilePending(t *testing.T) {
	f := newFixture(t)
	f.newSession(t, "s1")
	ctx := context.Background()

	_, err := f.workflow.RequestReview(ctx, "s1")
	require.NoError(t, err)
	firstID := f.session(t, "s1").EstimatePayload.ID

	outcome, err := f.workflow.RequestReview(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Equal(t, 1, f.notifier.count())
	assert.Equal(t, firstID, f.session(t, "s1").EstimatePayload.ID)
}

func TestRequestReview_ConcurrentTurnsSendOneReview(t *testing.T) {
	f := newFixture(t)
	f.newSession(t, "s1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.workflow.RequestReview(context.Background(), "s1")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.notifier.count())
	assert.Equal(t, models.ReviewPending, f.session(t, "s1").ReviewStatus)
}

func TestRequestReview_NotifyFailureLeavesFlags(t *testing.T) {
	f := newFixture(t)
	f.newSession(t, "s1")
	f.notifier.err = fmt.Errorf("%w: chat not found", notify.ErrSendFailure)

	outcome, err := f.workflow.RequestReview(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotifyFailed, outcome)

	s := f.session(t, "s1")
	assert.False(t, s.EstimateSent)
	assert.Nil(t, s.EstimatePayload)
	assert.Equal(t, models.ReviewNone, s.ReviewStatus)
	assert.Equal(t, []bool{false}, f.recorder.notified)
}

func TestApprove_AppendsMessageOnce(t *testing.T) {
	f := newFixture(t)
	f.newSession(t, "s1")
	_, err := f.workflow.RequestReview(context.Background(), "s1")
	require.NoError(t, err)
	id := f.session(t, "s1").EstimatePayload.ID

	ack := f.decide(t, notify.ActionApprove, "s1", id)
	assert.Equal(t, "Смета одобрена и будет показана клиенту", ack)

	s := f.session(t, "s1")
	assert.Equal(t, models.ReviewApproved, s.ReviewStatus)
	assert.True(t, s.EstimateApproved)
	assert.False(t, s.DeliveredToClient)
	assert.Equal(t, id, s.ApprovedEstimateRef)
	require.NotNil(t, s.EstimateApprovedAt)
	approvedAt := *s.EstimateApprovedAt
	turns := len(s.Turns)
	last := s.Turns[turns-1]
	assert.Equal(t, models.KindApprovedEstimate, last.Kind)
	assert.Equal(t, models.RoleAssistant, last.Role)
	assert.NotEmpty(t, last.Content)

	ack = f.decide(t, notify.ActionApprove, "s1", id)
	assert.Equal(t, "Смета уже одобрена", ack)

	s = f.session(t, "s1")
	assert.Len(t, s.Turns, turns)
	assert.Equal(t, approvedAt, *s.EstimateApprovedAt)
}

func TestDecision_StaleEstimateIgnored(t *testing.T) {
	f := newFixture(t)
	f.newSession(t, "s1")
	_, err := f.workflow.RequestReview(context.Background(), "s1")
	require.NoError(t, err)

	ack := f.decide(t, notify.ActionApprove, "s1", "000000000000")
	assert.Equal(t, "Эта смета уже неактуальна", ack)
	assert.Equal(t, models.ReviewPending, f.session(t, "s1").ReviewStatus)

	ack = f.decide(t, notify.ActionApprove, "missing", "000000000000")
	assert.Equal(t, "Сессия не найдена", ack)

	_, err = f.workflow.HandleDecision(context.Background(), notify.Decision{
		Action: notify.ActionEdit, SessionID: "s1", EstimateID: "000000000000",
	})
	var ignored *notify.IgnoredError
	require.ErrorAs(t, err, &ignored)
	assert.Equal(t, "Эта смета уже неактуальна", ignored.Ack)
	assert.NotErrorIs(t, err, ErrPersistence)
}

func TestReject_FreesSessionForNewCycle(t *testing.T) {
	f := newFixture(t)
	f.newSession(t, "s1")
	ctx := context.Background()
	_, err := f.workflow.RequestReview(ctx, "s1")
	require.NoError(t, err)
	before := f.session(t, "s1")
	oldID := before.EstimatePayload.ID

	assert.Equal(t, "Смета отклонена", f.decide(t, notify.ActionReject, "s1", oldID))

	s := f.session(t, "s1")
	assert.Equal(t, models.ReviewRejected, s.ReviewStatus)
	assert.Equal(t, before.EstimateSent, s.EstimateSent)
	assert.Equal(t, before.EstimateSentAt, s.EstimateSentAt)
	assert.Equal(t, before.EstimateApproved, s.EstimateApproved)
	assert.Equal(t, before.DeliveredToClient, s.DeliveredToClient)
	assert.Equal(t, len(before.Turns), len(s.Turns))

	outcome, err := f.workflow.RequestReview(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRequested, outcome)
	newID := f.session(t, "s1").EstimatePayload.ID
	assert.NotEqual(t, oldID, newID)

	assert.Equal(t, "Эта смета уже неактуальна", f.decide(t, notify.ActionApprove, "s1", oldID))
	assert.Equal(t, models.ReviewPending, f.session(t, "s1").ReviewStatus)
}

func TestApprove_AfterRejectIsNoop(t *testing.T) {
	f := newFixture(t)
	f.newSession(t, "s1")
	_, err := f.workflow.RequestReview(context.Background(), "s1")
	require.NoError(t, err)
	id := f.session(t, "s1").EstimatePayload.ID

	f.decide(t, notify.ActionReject, "s1", id)
	assert.Equal(t, "Смета уже отклонена", f.decide(t, notify.ActionApprove, "s1", id))
	assert.False(t, f.session(t, "s1").EstimateApproved)
}

func TestEditDecision_AcknowledgesOnly(t *testing.T) {
	f := newFixture(t)
	f.newSession(t, "s1")
	_, err := f.workflow.RequestReview(context.Background(), "s1")
	require.NoError(t, err)
	before := f.session(t, "s1")

	ack := f.decide(t, notify.ActionEdit, "s1", before.EstimatePayload.ID)
	assert.Equal(t, "Откройте редактор сметы по ссылке", ack)
	assert.Equal(t, before.Version, f.session(t, "s1").Version)
}

func TestDeliver_ExactlyOnceAfterApproval(t *testing.T) {
	f := newFixture(t)
	f.newSession(t, "s1")
	ctx := context.Background()

	turn, err := f.workflow.Deliver(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, turn)

	_, err = f.workflow.RequestReview(ctx, "s1")
	require.NoError(t, err)

	turn, err = f.workflow.Deliver(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, turn, "pending estimate must not be delivered")
	assert.False(t, f.session(t, "s1").DeliveredToClient)

	f.decide(t, notify.ActionApprove, "s1", f.session(t, "s1").EstimatePayload.ID)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered []*models.Turn
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			turn, err := f.workflow.Deliver(ctx, "s1")
			assert.NoError(t, err)
			if turn != nil {
				mu.Lock()
				delivered = append(delivered, turn)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, delivered, 1)
	assert.Equal(t, models.KindApprovedEstimate, delivered[0].Kind)

	s := f.session(t, "s1")
	assert.True(t, s.DeliveredToClient)
	assert.True(t, s.EstimateApproved)
	require.NotNil(t, s.DeliveredAt)
	assert.Equal(t, models.ReviewDelivered, s.ReviewStatus)
}

func TestRequestReview_NewCycleAfterDeliveryResetsFlags(t *testing.T) {
	f := newFixture(t)
	f.newSession(t, "s1")
	ctx := context.Background()

	_, err := f.workflow.RequestReview(ctx, "s1")
	require.NoError(t, err)
	f.decide(t, notify.ActionApprove, "s1", f.session(t, "s1").EstimatePayload.ID)
	_, err = f.workflow.Deliver(ctx, "s1")
	require.NoError(t, err)

	outcome, err := f.workflow.RequestReview(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRequested, outcome)

	s := f.session(t, "s1")
	assert.Equal(t, models.ReviewPending, s.ReviewStatus)
	assert.False(t, s.EstimateApproved)
	assert.Nil(t, s.EstimateApprovedAt)
	assert.False(t, s.DeliveredToClient)
	assert.Nil(t, s.DeliveredAt)
}

func TestHandleDecision_PersistenceFailureIsSurfaced(t *testing.T) {
	f := newFixture(t)
	f.newSession(t, "s1")
	_, err := f.workflow.RequestReview(context.Background(), "s1")
	require.NoError(t, err)
	id := f.session(t, "s1").EstimatePayload.ID

	f.store.failWrites = 1
	_, err = f.workflow.HandleDecision(context.Background(), notify.Decision{
		Action: notify.ActionApprove, SessionID: "s1", EstimateID: id,
	})
	assert.ErrorIs(t, err, ErrPersistence)

	s := f.session(t, "s1")
	assert.False(t, s.EstimateApproved)
	assert.Equal(t, models.ReviewPending, s.ReviewStatus)
}

func TestDispatcher_RetriesPersistenceFailures(t *testing.T) {
	f := newFixture(t)
	f.newSession(t, "s1")
	_, err := f.workflow.RequestReview(context.Background(), "s1")
	require.NoError(t, err)
	id := f.session(t, "s1").EstimatePayload.ID

	f.store.failWrites = 2
	d := NewDispatcher(f.workflow, llm.RetryPolicy{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxRetries: 3}, logging.Discard())

	ack, err := d.HandleDecision(context.Background(), notify.Decision{
		Action: notify.ActionApprove, SessionID: "s1", EstimateID: id,
	})
	require.NoError(t, err)
	assert.Equal(t, "Смета одобрена и будет показана клиенту", ack)
	assert.True(t, f.session(t, "s1").EstimateApproved)
}

func TestDispatcher_GivesUp(t *testing.T) {
	f := newFixture(t)
	f.newSession(t, "s1")
	_, err := f.workflow.RequestReview(context.Background(), "s1")
	require.NoError(t, err)
	id := f.session(t, "s1").EstimatePayload.ID

	f.store.failWrites = 10
	d := NewDispatcher(f.workflow, llm.RetryPolicy{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxRetries: 2}, logging.Discard())

	_, err = d.HandleDecision(context.Background(), notify.Decision{
		Action: notify.ActionApprove, SessionID: "s1", EstimateID: id,
	})
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, 7, f.store.failWrites)
}

func TestEditPending(t *testing.T) {
	f := newFixture(t)
	f.newSession(t, "s1")
	ctx := context.Background()

	_, err := f.workflow.EditPending(ctx, "s1", EstimateEdit{Components: []models.Component{{Name: "x", Hours: 1}}})
	assert.ErrorIs(t, err, ErrUnknownEstimate)

	_, err = f.workflow.RequestReview(ctx, "s1")
	require.NoError(t, err)
	id := f.session(t, "s1").EstimatePayload.ID

	edited, err := f.workflow.EditPending(ctx, "s1", EstimateEdit{
		EstimateID: id,
		Components: []models.Component{
			{Name: "Каталог", Hours: 20},
			{Name: "Оплата", Hours: 15},
		},
		Timeline: "3 недели",
		Editor:   "admin",
	})
	require.NoError(t, err)
	assert.Equal(t, id, edited.ID)
	assert.Equal(t, 35.0, edited.TotalHours)
	assert.Equal(t, 70000.0, edited.TotalCost)
	assert.Equal(t, 40000.0, edited.Components[0].Cost)
	assert.Equal(t, "3 недели", edited.Timeline)
	assert.Equal(t, models.GeneratedByReviewer, edited.Metadata.GeneratedBy)

	stored := f.session(t, "s1").EstimatePayload
	assert.Equal(t, 70000.0, stored.TotalCost)

	_, err = f.workflow.EditPending(ctx, "s1", EstimateEdit{EstimateID: "other", Components: []models.Component{{Name: "x", Hours: 1}}})
	assert.ErrorIs(t, err, ErrUnknownEstimate)

	_, err = f.workflow.EditPending(ctx, "s1", EstimateEdit{EstimateID: id})
	assert.ErrorIs(t, err, ErrInvalidEdit)

	_, err = f.workflow.EditPending(ctx, "s1", EstimateEdit{EstimateID: id, Components: []models.Component{{Name: "x", Hours: -1}}})
	assert.ErrorIs(t, err, ErrInvalidEdit)
}

// Random interleavings of review requests and decisions never leave more
// than one pending estimate, and never deliver an unapproved one.
func TestWorkflow_RandomSequencesKeepInvariants(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		t.Run(fmt.Sprintf("seed_%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			f := newFixture(t)
			f.newSession(t, "s1")
			ctx := context.Background()
			var seen []string

			for step := 0; step < 40; step++ {
				before := f.session(t, "s1")
				sentBefore := f.notifier.count()

				switch rng.Intn(5) {
				case 0:
					_, err := f.workflow.RequestReview(ctx, "s1")
					require.NoError(t, err)
					if before.HasPendingEstimate() || before.ReviewStatus == models.ReviewApproved {
						assert.Equal(t, sentBefore, f.notifier.count())
						assert.Equal(t, before.EstimatePayload.ID, f.session(t, "s1").EstimatePayload.ID)
					}
				case 1, 2:
					action := []notify.Action{notify.ActionApprove, notify.ActionReject, notify.ActionEdit}[rng.Intn(3)]
					id := "000000000000"
					if len(seen) > 0 {
						id = seen[rng.Intn(len(seen))]
					}
					_, err := f.workflow.HandleDecision(ctx, notify.Decision{Action: action, SessionID: "s1", EstimateID: id})
					var ignored *notify.IgnoredError
					if !errors.As(err, &ignored) {
						require.NoError(t, err)
					}
				case 3:
					_, err := f.workflow.Deliver(ctx, "s1")
					require.NoError(t, err)
				case 4:
					_, err := f.workflow.RequestReview(ctx, "s1")
					require.NoError(t, err)
				}

				s := f.session(t, "s1")
				if s.EstimatePayload != nil && (len(seen) == 0 || seen[len(seen)-1] != s.EstimatePayload.ID) {
					seen = append(seen, s.EstimatePayload.ID)
				}
				if s.DeliveredToClient {
					assert.True(t, s.EstimateApproved)
				}
				if s.HasPendingEstimate() {
					assert.True(t, s.EstimateSent)
					assert.False(t, s.EstimateApproved)
				}
			}
		})
	}
}

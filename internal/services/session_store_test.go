package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artempl88/sozdaibota-sub000/internal/logging"
	"github.com/artempl88/sozdaibota-sub000/internal/models"
	"github.com/artempl88/sozdaibota-sub000/internal/repository"
	"github.com/artempl88/sozdaibota-sub000/internal/repository/memory"
)

func newTestStore(t *testing.T) (*SessionStore, *memory.SessionRepository) {
	t.Helper()
	repo := memory.NewSessionRepository()
	cache := NewCacheService(time.Minute)
	t.Cleanup(cache.Close)
	store := NewSessionStore(repo, cache, logging.Discard())
	require.NoError(t, store.Create(context.Background(), &models.Session{ID: "s1", ReviewStatus: models.ReviewNone}))
	return store, repo
}

func TestSessionStore_GetCachesAndMutateInvalidates(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	s, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.Version)
	assert.Equal(t, 1, store.cache.Len())

	s.LeadScore = 9 // copies never leak into the cache
	again, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, again.LeadScore)

	updated, err := store.Mutate(ctx, "s1", func(s *models.Session) error {
		s.LeadScore = 5
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, 0, store.cache.Len())

	fresh, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 5.0, fresh.LeadScore)
}

func TestSessionStore_MutateReadsPastStaleCache(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "s1")
	require.NoError(t, err)

	// Another process writes directly to the repository
	direct, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	direct.LeadScore = 3
	require.NoError(t, repo.Update(ctx, direct))

	updated, err := store.Mutate(ctx, "s1", func(s *models.Session) error {
		s.LeadScore += 1
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4.0, updated.LeadScore)
}

func TestSessionStore_ConcurrentMutationsAreNotLost(t *testing.T) {
	store, _ := newTestStore(t)
	store.maxAttempts = 1000
	ctx := context.Background()

	const writers = 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Mutate(ctx, "s1", func(s *models.Session) error {
				s.AppendTurn(models.RoleClient, models.KindText, "msg", time.Now())
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	s, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, s.Turns, writers)
	assert.Equal(t, int64(writers+1), s.Version)
}

func TestSessionStore_NoChangeSkipsWrite(t *testing.T) {
	store, _ := newTestStore(t)

	s, err := store.Mutate(context.Background(), "s1", func(*models.Session) error {
		return repository.ErrNoChange
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.Version)
}

func TestSessionStore_Errors(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = store.Mutate(ctx, "missing", func(*models.Session) error { return nil })
	assert.ErrorIs(t, err, ErrSessionNotFound)

	boom := errors.New("boom")
	_, err = store.Mutate(ctx, "s1", func(*models.Session) error { return boom })
	assert.ErrorIs(t, err, boom)
}

// stallingRepo holds the first Get open after reading until released
type stallingRepo struct {
	*memory.SessionRepository
	once    sync.Once
	loaded  chan struct{}
	release chan struct{}
}

func (r *stallingRepo) Get(ctx context.Context, id string) (*models.Session, error) {
	s, err := r.SessionRepository.Get(ctx, id)
	stall := false
	r.once.Do(func() { stall = true })
	if stall {
		close(r.loaded)
		<-r.release
	}
	return s, err
}

func TestSessionStore_LoadOlderThanWriteIsNotCached(t *testing.T) {
	repo := &stallingRepo{
		SessionRepository: memory.NewSessionRepository(),
		loaded:            make(chan struct{}),
		release:           make(chan struct{}),
	}
	cache := NewCacheService(time.Minute)
	t.Cleanup(cache.Close)
	store := NewSessionStore(repo, cache, logging.Discard())
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &models.Session{ID: "s1", ReviewStatus: models.ReviewPending}))

	type result struct {
		s   *models.Session
		err error
	}
	early := make(chan result, 1)
	go func() {
		s, err := store.Get(ctx, "s1")
		early <- result{s, err}
	}()
	<-repo.loaded

	_, err := store.Mutate(ctx, "s1", func(s *models.Session) error {
		s.EstimateApproved = true
		s.ReviewStatus = models.ReviewApproved
		return nil
	})
	require.NoError(t, err)

	// A read that starts after the write must not join the older load
	s, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, s.EstimateApproved)

	close(repo.release)
	r := <-early
	require.NoError(t, r.err)
	assert.False(t, r.s.EstimateApproved)

	s, err = store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, s.EstimateApproved)
	assert.Equal(t, int64(2), s.Version)
}

func TestCacheService_SetIfCurrent(t *testing.T) {
	cache := NewCacheService(time.Minute)
	t.Cleanup(cache.Close)

	gen := cache.Generation("s1")
	assert.True(t, cache.SetIfCurrent(&models.Session{ID: "s1", Version: 2}, gen))

	assert.False(t, cache.SetIfCurrent(&models.Session{ID: "s1", Version: 1}, gen))
	cached, ok := cache.Get("s1")
	require.True(t, ok)
	assert.Equal(t, int64(2), cached.Version)

	cache.Delete("s1")
	assert.False(t, cache.SetIfCurrent(&models.Session{ID: "s1", Version: 2}, gen))
	_, ok = cache.Get("s1")
	assert.False(t, ok)

	assert.True(t, cache.SetIfCurrent(&models.Session{ID: "s1", Version: 3}, cache.Generation("s1")))
}

func TestSessionStore_LoadBypassesCache(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "s1")
	require.NoError(t, err)

	direct, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	direct.LeadScore = 8
	require.NoError(t, repo.Update(ctx, direct))

	loaded, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 8.0, loaded.LeadScore)

	_, err = store.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

type conflictRepo struct {
	*memory.SessionRepository
}

func (conflictRepo) Update(context.Context, *models.Session) error {
	return repository.ErrVersionConflict
}

func TestSessionStore_ConflictRetriesAreBounded(t *testing.T) {
	repo := conflictRepo{memory.NewSessionRepository()}
	cache := NewCacheService(time.Minute)
	t.Cleanup(cache.Close)
	store := NewSessionStore(repo, cache, logging.Discard())
	require.NoError(t, store.Create(context.Background(), &models.Session{ID: "s1"}))

	calls := 0
	_, err := store.Mutate(context.Background(), "s1", func(*models.Session) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, defaultMutateAttempts, calls)
}

func TestLeadScore(t *testing.T) {
	p := validProfile()
	base := LeadScore(p, nil)
	// 2 budget + 2 timeline + 2 owner + 1 e-commerce
	assert.Equal(t, 7.0, base)

	var turns []models.Turn
	for i := 0; i < 10; i++ {
		turns = append(turns, models.Turn{Role: models.RoleClient, Kind: models.KindText, Content: "x"})
	}
	assert.Equal(t, 9.0, LeadScore(p, turns))

	p.Budget = models.BudgetOver300k
	assert.Equal(t, 10.0, LeadScore(p, turns))

	assert.Equal(t, 0.0, LeadScore(models.IntakeProfile{}, nil))

	p = validProfile()
	p.Role = "стажёр"
	p.Industry = "стройка"
	assert.Equal(t, 5.0, LeadScore(p, nil))
}

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/artempl88/sozdaibota-sub000/internal/models"
	"github.com/artempl88/sozdaibota-sub000/internal/repository"
)

const defaultMutateAttempts = 5

// SessionStore is a cache-aside layer over the session repository.
// Reads may be served from the cache; every write goes to the repository
// with a version check and then drops the cache entry.
type SessionStore struct {
	repo        repository.SessionRepository
	cache       *CacheService
	group       singleflight.Group
	maxAttempts int
	now         func() time.Time
	logger      *logrus.Logger
}

// NewSessionStore creates a session store
func NewSessionStore(repo repository.SessionRepository, cache *CacheService, logger *logrus.Logger) *SessionStore {
	return &SessionStore{
		repo:        repo,
		cache:       cache,
		maxAttempts: defaultMutateAttempts,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger,
	}
}

// Create persists a new session
func (s *SessionStore) Create(ctx context.Context, session *models.Session) error {
	if err := s.repo.Create(ctx, session); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	s.cache.Delete(session.ID)
	return nil
}

// Get returns a copy of the session, loading it at most once per id
// across concurrent callers. A Get that starts after a write returns never
// sees the state from before that write.
func (s *SessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	if cached, ok := s.cache.Get(id); ok {
		return cached, nil
	}

	// Loads are shared only within one cache generation so a caller arriving
	// after an invalidation does not join a read that predates it.
	gen := s.cache.Generation(id)
	key := fmt.Sprintf("%s@%d", id, gen)
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		session, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		s.cache.SetIfCurrent(session, gen)
		return session, nil
	})
	if err != nil {
		return nil, s.mapError(err)
	}
	return v.(*models.Session).Clone(), nil
}

// Load reads the session from the repository, bypassing the cache. Use it
// where a decision must see writes made by other processes.
func (s *SessionStore) Load(ctx context.Context, id string) (*models.Session, error) {
	gen := s.cache.Generation(id)
	session, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, s.mapError(err)
	}
	s.cache.SetIfCurrent(session, gen)
	return session.Clone(), nil
}

// Mutate applies fn to the freshest stored session and writes it back with
// an optimistic version check, retrying on conflict. fn may run more than
// once, so it must derive everything from the session it is given.
// Returning repository.ErrNoChange from fn skips the write and Mutate
// returns the session as read.
func (s *SessionStore) Mutate(ctx context.Context, id string, fn func(*models.Session) error) (*models.Session, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		current, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, s.mapError(err)
		}

		work := current.Clone()
		if err := fn(work); err != nil {
			if errors.Is(err, repository.ErrNoChange) {
				return current, nil
			}
			return nil, err
		}
		work.UpdatedAt = s.now()

		err = s.repo.Update(ctx, work)
		s.cache.Delete(id)
		if err == nil {
			return work.Clone(), nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, s.mapError(err)
		}

		lastErr = err
		s.logger.WithFields(logrus.Fields{
			"session_id": id,
			"attempt":    attempt,
		}).Debug("Session version conflict, retrying")

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}
	return nil, fmt.Errorf("%w: %v after %d attempts", ErrPersistence, lastErr, s.maxAttempts)
}

func (s *SessionStore) mapError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrSessionNotFound
	}
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}

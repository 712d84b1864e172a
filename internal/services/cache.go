package services

import (
	"sync"
	"time"

	"github.com/artempl88/sozdaibota-sub000/internal/models"
)

// generationRetention bounds how long an invalidation is remembered; a
// repository read older than this cannot be put back into the cache anyway
// because its entry would already have expired.
const generationRetention = 10

// CacheService is a TTL cache of session snapshots keyed by session id.
// It is never the source of truth; entries are dropped on every write.
// Every Delete bumps the id's generation so a load that started before the
// write cannot store its older copy afterwards.
type CacheService struct {
	mu    sync.RWMutex
	items map[string]*cacheItem
	gens  map[string]generation
	seq   uint64
	ttl   time.Duration
	stop  chan struct{}
	once  sync.Once
}

type generation struct {
	value    uint64
	bumpedAt time.Time
}

type cacheItem struct {
	session    *models.Session
	expiration time.Time
}

// NewCacheService creates a cache and starts its cleanup loop
func NewCacheService(ttl time.Duration) *CacheService {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	cs := &CacheService{
		items: make(map[string]*cacheItem),
		gens:  make(map[string]generation),
		ttl:   ttl,
		stop:  make(chan struct{}),
	}

	go cs.cleanupExpired(time.Minute)

	return cs
}

// Get returns a copy of the cached session
func (cs *CacheService) Get(id string) (*models.Session, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	item, exists := cs.items[id]
	if !exists || time.Now().After(item.expiration) {
		return nil, false
	}
	return item.session.Clone(), true
}

// Generation returns the invalidation counter of id. Read it before loading
// from the repository and pass it to SetIfCurrent.
func (cs *CacheService) Generation(id string) uint64 {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.gens[id].value
}

// Set stores a copy of the session unconditionally
func (cs *CacheService) Set(s *models.Session) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.store(s)
}

// SetIfCurrent stores a copy of the session unless the id was invalidated
// after gen was read or a newer version is already cached
func (cs *CacheService) SetIfCurrent(s *models.Session, gen uint64) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.gens[s.ID].value != gen {
		return false
	}
	if item, ok := cs.items[s.ID]; ok && item.session.Version > s.Version {
		return false
	}
	cs.store(s)
	return true
}

func (cs *CacheService) store(s *models.Session) {
	cs.items[s.ID] = &cacheItem{
		session:    s.Clone(),
		expiration: time.Now().Add(cs.ttl),
	}
}

// Delete removes a session from the cache and invalidates loads in flight
func (cs *CacheService) Delete(id string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	delete(cs.items, id)
	cs.seq++
	cs.gens[id] = generation{value: cs.seq, bumpedAt: time.Now()}
}

// Len returns the number of cached entries, expired ones included
func (cs *CacheService) Len() int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return len(cs.items)
}

// Close stops the cleanup loop
func (cs *CacheService) Close() {
	cs.once.Do(func() { close(cs.stop) })
}

func (cs *CacheService) cleanupExpired(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-cs.stop:
			return
		case <-ticker.C:
			cs.mu.Lock()
			now := time.Now()
			for key, item := range cs.items {
				if now.After(item.expiration) {
					delete(cs.items, key)
				}
			}
			for key, g := range cs.gens {
				if now.Sub(g.bumpedAt) > generationRetention*cs.ttl {
					delete(cs.gens, key)
				}
			}
			cs.mu.Unlock()
		}
	}
}

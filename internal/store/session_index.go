package store

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/google/uuid"

	"github.com/humanloop/ibroker/internal/logger"
)

// sessionEntry is the SessionIndex's per-session bookkeeping: the set of
// interaction ids currently pending for the session, and its last activity
// timestamp for TTL purposes.
type sessionEntry struct {
	ownerUserID  string
	lastActivity time.Time
	interactions map[uuid.UUID]struct{}
}

// SessionIndex maps session id to its pending-interaction set, enforcing a
// bounded session table (LRU-disposed on overflow) and TTL-based eviction.
// SessionIndex shares its lock with InteractionStore: callers of the
// *Locked methods must hold InteractionStore.mu.
type SessionIndex struct {
	mu            sync.Mutex // guards cache only; session/interaction mutation uses the store's lock
	cache         *lru.Cache[uuid.UUID, *sessionEntry]
	maxPerSession int
	ttl           time.Duration

	store *InteractionStore

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// NewSessionIndex constructs a SessionIndex bounded to maxSessions entries,
// evicting sessions idle past ttl, allowing at most maxPerSession pending
// interactions per session.
func NewSessionIndex(maxSessions, maxPerSession int, ttl time.Duration) *SessionIndex {
	idx := &SessionIndex{maxPerSession: maxPerSession, ttl: ttl, stopSweep: make(chan struct{})}

	cache, err := lru.NewWithEvict(maxSessions, func(sessionID uuid.UUID, _ *sessionEntry) {
		logger.Warn("session %s evicted by LRU capacity overflow", sessionID)
		if idx.store != nil {
			go idx.store.EvictSession(sessionID)
		}
	})
	if err != nil {
		// Only returned by golang-lru for size <= 0; maxSessions is always a
		// positive config default, so fall back defensively to a 1-entry cache
		// rather than panic.
		cache, _ = lru.New[uuid.UUID, *sessionEntry](1)
	}
	idx.cache = cache
	return idx
}

func (idx *SessionIndex) attachStore(s *InteractionStore) {
	idx.store = s
}

// Touch registers activity for sessionID under ownerUserID, refreshing its
// TTL and creating the session entry if absent.
func (idx *SessionIndex) Touch(sessionID uuid.UUID, ownerUserID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e, ok := idx.cache.Get(sessionID)
	if !ok {
		e = &sessionEntry{ownerUserID: ownerUserID, interactions: make(map[uuid.UUID]struct{})}
		idx.cache.Add(sessionID, e)
	}
	e.lastActivity = time.Now()
}

// Owner returns the owning user id for sessionID, if known.
func (idx *SessionIndex) Owner(sessionID uuid.UUID) (string, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e, ok := idx.cache.Get(sessionID)
	if !ok {
		return "", false
	}
	return e.ownerUserID, true
}

// countLocked returns how many interactions are pending for sessionID.
// Caller must hold InteractionStore.mu.
func (idx *SessionIndex) countLocked(sessionID uuid.UUID) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e, ok := idx.cache.Get(sessionID)
	if !ok {
		return 0
	}
	return len(e.interactions)
}

// addLocked records that id belongs to sessionID. Caller must hold
// InteractionStore.mu.
func (idx *SessionIndex) addLocked(sessionID, id uuid.UUID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e, ok := idx.cache.Get(sessionID)
	if !ok {
		e = &sessionEntry{interactions: make(map[uuid.UUID]struct{})}
		idx.cache.Add(sessionID, e)
	}
	e.interactions[id] = struct{}{}
	e.lastActivity = time.Now()
}

// removeLocked drops id from sessionID's set. Caller must hold InteractionStore.mu.
func (idx *SessionIndex) removeLocked(sessionID, id uuid.UUID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e, ok := idx.cache.Get(sessionID)
	if !ok {
		return
	}
	delete(e.interactions, id)
}

// idsLocked returns a copy of sessionID's current interaction id set. Caller
// must hold InteractionStore.mu.
func (idx *SessionIndex) idsLocked(sessionID uuid.UUID) []uuid.UUID {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e, ok := idx.cache.Get(sessionID)
	if !ok {
		return nil
	}
	out := make([]uuid.UUID, 0, len(e.interactions))
	for id := range e.interactions {
		out = append(out, id)
	}
	return out
}

// evict drops sessionID's entry entirely, without touching the LRU recency list.
func (idx *SessionIndex) evict(sessionID uuid.UUID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.cache.Remove(sessionID)
}

// StartSweeper launches the background TTL sweeper at the given interval. It
// runs until Stop is called.
func (idx *SessionIndex) StartSweeper(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				idx.sweep()
			case <-idx.stopSweep:
				return
			}
		}
	}()
}

// Stop halts the background sweeper.
func (idx *SessionIndex) Stop() {
	idx.sweepOnce.Do(func() { close(idx.stopSweep) })
}

// sweep evicts every session whose TTL has elapsed, regardless of whether its
// interaction set is empty.
func (idx *SessionIndex) sweep() {
	now := time.Now()

	idx.mu.Lock()
	var expired []uuid.UUID
	for _, sessionID := range idx.cache.Keys() {
		e, ok := idx.cache.Peek(sessionID)
		if !ok {
			continue
		}
		if now.Sub(e.lastActivity) >= idx.ttl {
			expired = append(expired, sessionID)
		}
	}
	idx.mu.Unlock()

	for _, sessionID := range expired {
		logger.Debug("session %s idle past TTL, evicting", sessionID)
		if idx.store != nil {
			idx.store.EvictSession(sessionID)
		} else {
			idx.evict(sessionID)
		}
	}
}

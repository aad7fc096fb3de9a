// Package store implements InteractionStore and SessionIndex: the authoritative
// in-memory table of pending interactions and its session-scoped secondary
// index, with atomic resolve/reject and exactly-once completion.
//
// Grounded on the teacher's internal/web/broker.go pendingAuthorization /
// pendingQuestion maps (counter-keyed, two-phase ack/response channels) and
// internal/actor/user_interaction_actor.go's pendingRequests map with
// per-request time.AfterFunc timers, generalized to a single UUID-keyed table
// serving all three interaction kinds.
package store

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/humanloop/ibroker/internal/interaction"
	"github.com/humanloop/ibroker/internal/logger"
)

// Future is the single-consumer completion handle returned by Create. It
// fires exactly once, with either a response or an error.
type Future struct {
	ch chan Outcome
}

// Outcome is what a Future yields: either a response value or an error.
type Outcome struct {
	Response any
	Err      error
}

// Wait blocks until the interaction completes or ctx-like cancellation is
// handled by the caller via a select on Chan().
func (f *Future) Wait() Outcome {
	return <-f.ch
}

// Chan exposes the underlying channel so callers can select against it
// alongside a context's Done channel.
func (f *Future) Chan() <-chan Outcome {
	return f.ch
}

type entry struct {
	interaction *interaction.Interaction
	future      *Future
	timer       *time.Timer
	fired       bool // set by complete when the outcome is decided; nothing reads it
}

// CreateEvent is emitted synchronously from Create, after the store's lock is
// released, for FanoutRouter to deliver as interaction-created.
type CreateEvent struct {
	Snapshot interaction.Snapshot
}

// TerminalEvent is emitted when an interaction reaches a terminal status.
type TerminalEvent struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Status    interaction.Status
}

// Listener receives store lifecycle events. FanoutRouter implements this.
type Listener interface {
	OnInteractionCreated(CreateEvent)
	OnInteractionTerminal(TerminalEvent)
}

// InteractionStore is the authoritative, thread-safe table of pending
// interactions. InteractionStore and SessionIndex share one critical region:
// every mutation of the primary map is paired with the matching mutation of
// the session index under the same lock.
type InteractionStore struct {
	mu  sync.Mutex
	byID map[uuid.UUID]*entry

	sessions *SessionIndex
	listener Listener

	timeoutFor func(interaction.Kind) time.Duration

	closed bool
}

// New constructs an InteractionStore backed by sessions, notifying listener of
// lifecycle events. timeoutFor resolves the per-kind interaction timeout.
func New(sessions *SessionIndex, listener Listener, timeoutFor func(interaction.Kind) time.Duration) *InteractionStore {
	s := &InteractionStore{
		byID:       make(map[uuid.UUID]*entry),
		sessions:   sessions,
		listener:   listener,
		timeoutFor: timeoutFor,
	}
	sessions.attachStore(s)
	return s
}

// Create allocates a fresh interaction, inserts it into the primary map and
// session index atomically, arms its timeout timer, and returns its id and a
// single-consumer future. Fails with ErrQuotaExceeded if the session already
// holds MaxInteractionsPerSession pending interactions.
func (s *InteractionStore) Create(kind interaction.Kind, sessionID uuid.UUID, userID string, data any, meta interaction.Metadata) (uuid.UUID, *Future, error) {
	id := uuid.New()
	now := time.Now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return uuid.Nil, nil, interaction.ErrShutdown
	}
	if sessionID != uuid.Nil {
		if s.sessions.countLocked(sessionID) >= s.sessions.maxPerSession {
			s.mu.Unlock()
			return uuid.Nil, nil, interaction.ErrQuotaExceeded
		}
	}

	it := &interaction.Interaction{
		ID:          id,
		Kind:        kind,
		SessionID:   sessionID,
		UserID:      userID,
		Data:        data,
		Metadata:    meta,
		RequestedAt: now,
		Status:      interaction.StatusPending,
		CreatedBy:   "agent",
		TraceID:     uuid.New(),
	}

	e := &entry{interaction: it, future: &Future{ch: make(chan Outcome, 1)}}
	s.byID[id] = e
	if sessionID != uuid.Nil {
		s.sessions.addLocked(sessionID, id)
	}

	e.timer = time.AfterFunc(s.timeoutFor(kind), func() {
		s.timeoutFire(id)
	})
	s.mu.Unlock()

	logger.Debug("interaction %s created kind=%s session=%s trace=%s", id, kind, sessionID, it.TraceID)
	if s.listener != nil {
		s.listener.OnInteractionCreated(CreateEvent{Snapshot: it.ToSnapshot()})
	}

	return id, e.future, nil
}

// Resolve transitions a pending interaction to resolved. Ordering is strict:
// lookup, verify actingUserID owns the interaction's session, remove from the
// primary map and session index, cancel the timer, set terminal status, and
// only then — outside the lock — signal the future. The first caller to pass
// the lookup-and-remove critical section wins; later callers observe NotFound.
func (s *InteractionStore) Resolve(id uuid.UUID, response any, actingUserID string) error {
	return s.complete(id, actingUserID, func(it *interaction.Interaction) (Outcome, interaction.Status) {
		return Outcome{Response: response}, interaction.StatusResolved
	})
}

// Reject transitions a pending interaction to rejected, signaling the future
// with err.
func (s *InteractionStore) Reject(id uuid.UUID, err error) error {
	return s.complete(id, "", func(it *interaction.Interaction) (Outcome, interaction.Status) {
		return Outcome{Err: err}, interaction.StatusRejected
	})
}

// timeoutFire is the per-interaction timer callback; equivalent to
// Reject(id, ErrTimeout) but reports StatusTimedOut for fan-out purposes.
func (s *InteractionStore) timeoutFire(id uuid.UUID) {
	_ = s.complete(id, "", func(it *interaction.Interaction) (Outcome, interaction.Status) {
		return Outcome{Err: interaction.ErrTimeout}, interaction.StatusTimedOut
	})
}

// Cancel rejects id with ErrCancelled, used when the request's caller context
// is cancelled.
func (s *InteractionStore) Cancel(id uuid.UUID) error {
	return s.Reject(id, interaction.ErrCancelled)
}

// complete implements the shared delete-before-signal skeleton for
// Resolve/Reject/timeoutFire. If actingUserID is non-empty, it must match the
// interaction's UserID or ErrUnauthorized is returned and nothing changes.
func (s *InteractionStore) complete(id uuid.UUID, actingUserID string, decide func(*interaction.Interaction) (Outcome, interaction.Status)) error {
	s.mu.Lock()

	e, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return interaction.ErrNotFound
	}
	if actingUserID != "" && e.interaction.UserID != actingUserID {
		s.mu.Unlock()
		return interaction.ErrUnauthorized
	}

	delete(s.byID, id)
	if e.interaction.SessionID != uuid.Nil {
		s.sessions.removeLocked(e.interaction.SessionID, id)
	}
	if e.timer != nil {
		e.timer.Stop()
	}

	outcome, status := decide(e.interaction)
	now := time.Now()
	e.interaction.Status = status
	e.interaction.DecidedAt = &now
	e.fired = true
	sessionID := e.interaction.SessionID
	if sessionID != uuid.Nil {
		s.sessions.Touch(sessionID, e.interaction.UserID)
	}

	s.mu.Unlock()

	select {
	case e.future.ch <- outcome:
	default:
		logger.Warn("interaction %s future already signaled, dropping duplicate completion", id)
	}

	logger.Debug("interaction %s terminal status=%s", id, status)
	if s.listener != nil {
		s.listener.OnInteractionTerminal(TerminalEvent{ID: id, SessionID: sessionID, Status: status})
	}

	return nil
}

// EvictSession removes every pending interaction for sessionID, rejecting
// each with ErrSessionEvicted.
func (s *InteractionStore) EvictSession(sessionID uuid.UUID) {
	s.mu.Lock()
	ids := s.sessions.idsLocked(sessionID)
	pending := make([]uuid.UUID, 0, len(ids))
	pending = append(pending, ids...)
	s.mu.Unlock()

	for _, id := range pending {
		_ = s.Reject(id, interaction.ErrSessionEvicted)
	}
	s.sessions.evict(sessionID)
}

// GetForSessions returns a read-only snapshot of every pending interaction
// belonging to any of sessionIDs, optionally filtered to a single kind.
func (s *InteractionStore) GetForSessions(sessionIDs []uuid.UUID, kindFilter interaction.Kind) []interaction.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []interaction.Snapshot
	for _, sid := range sessionIDs {
		for _, id := range s.sessions.idsLocked(sid) {
			e, ok := s.byID[id]
			if !ok {
				continue
			}
			if kindFilter != "" && e.interaction.Kind != kindFilter {
				continue
			}
			out = append(out, e.interaction.ToSnapshot())
		}
	}
	return out
}

// LookupKind returns the Kind of a still-pending interaction, used by the
// fanout layer to decode an inbound interaction-response into the right Go
// type before calling Resolve.
func (s *InteractionStore) LookupKind(id uuid.UUID) (interaction.Kind, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[id]
	if !ok {
		return "", false
	}
	return e.interaction.Kind, true
}

// LookupSession returns the SessionID of a still-pending interaction, used by
// the fanout layer to re-verify live session ownership on every inbound
// response rather than trusting the interaction's cached UserID alone.
func (s *InteractionStore) LookupSession(id uuid.UUID) (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[id]
	if !ok {
		return uuid.Nil, false
	}
	return e.interaction.SessionID, true
}

// LookupData returns the original request payload of a still-pending
// interaction, used by the fanout layer to validate an inbound response
// against the payload it answers (e.g. ask-user's every-question-answered
// invariant).
func (s *InteractionStore) LookupData(id uuid.UUID) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return e.interaction.Data, true
}

// TouchSession refreshes sessionID's TTL, used by the fanout layer on
// subscribe/interaction-sync-request so an actively-polled session is not
// idle-evicted out from under it.
func (s *InteractionStore) TouchSession(sessionID uuid.UUID, userID string) {
	if sessionID == uuid.Nil {
		return
	}
	s.sessions.Touch(sessionID, userID)
}

// Shutdown rejects every pending interaction with ErrShutdown and blocks
// further Create calls.
func (s *InteractionStore) Shutdown() {
	s.mu.Lock()
	ids := make([]uuid.UUID, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	s.closed = true
	s.mu.Unlock()

	for _, id := range ids {
		_ = s.Reject(id, interaction.ErrShutdown)
	}
}

package fanout

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/google/uuid"

	"github.com/humanloop/ibroker/internal/audit"
	"github.com/humanloop/ibroker/internal/interaction"
	"github.com/humanloop/ibroker/internal/logger"
	"github.com/humanloop/ibroker/internal/ownership"
)

// Subscriber is a connected duplex client endpoint: authenticated user
// identity, an authorized-session set, a bounded outbound queue, heartbeat
// liveness state, and a seen-nonce set. Grounded on internal/web/client.go's
// Client, generalized to carry session authorization instead of a single
// embedded chat-broker session.
type Subscriber struct {
	ClientID uuid.UUID
	UserID   string

	mu                 sync.Mutex
	authorizedSessions map[uuid.UUID]struct{}
	pendingDeliveries  map[uuid.UUID]struct{}
	seenNonces         *lru.Cache[string, time.Time]

	outbound chan Envelope
	isAlive  bool
	lastSeen time.Time

	closeOnce sync.Once
	done      chan struct{}

	rateWindowStart time.Time
	rateCount       int
}

func newSubscriber(clientID uuid.UUID, userID string, queueSize, nonceCacheSize int) *Subscriber {
	nonces, _ := lru.New[string, time.Time](nonceCacheSize)
	return &Subscriber{
		ClientID:           clientID,
		UserID:             userID,
		authorizedSessions: make(map[uuid.UUID]struct{}),
		pendingDeliveries:  make(map[uuid.UUID]struct{}),
		seenNonces:         nonces,
		outbound:           make(chan Envelope, queueSize),
		isAlive:            true,
		lastSeen:           time.Now(),
		done:               make(chan struct{}),
		rateWindowStart:    time.Now(),
	}
}

// allowSubscribe reports whether this subscriber may issue another
// subscribe/interaction-sync-request within the fixed one-minute window,
// resetting the window once it has elapsed.
func (s *Subscriber) allowSubscribe(limit int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if now.Sub(s.rateWindowStart) >= time.Minute {
		s.rateWindowStart = now
		s.rateCount = 0
	}
	if s.rateCount >= limit {
		return false
	}
	s.rateCount++
	return true
}

// Done returns a channel closed once this subscriber is swept for missing
// heartbeats, signaling its connection goroutines to tear down.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Close signals Done and is idempotent.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// IsAuthorizedFor reports whether sessionID is in the subscriber's authorized set.
func (s *Subscriber) IsAuthorizedFor(sessionID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.authorizedSessions[sessionID]
	return ok
}

// AuthorizedCount returns how many sessions this subscriber is authorized for.
func (s *Subscriber) AuthorizedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.authorizedSessions)
}

func (s *Subscriber) markNonceSeen(nonce string, ts time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.seenNonces.Get(nonce); seen {
		return false
	}
	s.seenNonces.Add(nonce, ts)
	return true
}

// enqueue delivers envelope to this subscriber's outbound queue. On overflow it
// drops the oldest queued envelope, whatever its type and whether or not the
// subscriber is authorized, to make room for the new one; no overflow is
// reported to the caller as an error. If the queue is still full after that
// drop, the new envelope is discarded with a warning.
func (s *Subscriber) enqueue(e Envelope) {
	select {
	case s.outbound <- e:
		return
	default:
	}
	select {
	case <-s.outbound:
	default:
	}
	select {
	case s.outbound <- e:
	default:
		logger.Warn("subscriber %s outbound queue still full after drop-oldest", s.ClientID)
	}
}

// Registry owns the set of connected subscribers and their per-connection
// state. Grounded on internal/web/hub.go's Hub, replacing send-to-everyone
// Broadcast with iterateForSession, which never yields an unauthorized
// subscriber.
type Registry struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]*Subscriber

	verifier ownership.Verifier
	audit    audit.Sink

	maxSubscribers       int
	maxSubsPerSubscriber int
	queueSize            int
	nonceCacheSize       int
	nonceWindow          time.Duration
	subscribeRatePerMinute int
}

// NewRegistry constructs a Registry. verifier and auditSink are injected
// collaborators (spec §9's "explicit construction + DI" redesign).
func NewRegistry(verifier ownership.Verifier, auditSink audit.Sink, maxSubscribers, maxSubsPerSubscriber, queueSize, nonceCacheSize int, nonceWindow time.Duration, subscribeRatePerMinute int) *Registry {
	return &Registry{
		subscribers:            make(map[uuid.UUID]*Subscriber),
		verifier:               verifier,
		audit:                  auditSink,
		maxSubscribers:         maxSubscribers,
		maxSubsPerSubscriber:   maxSubsPerSubscriber,
		queueSize:              queueSize,
		nonceCacheSize:         nonceCacheSize,
		nonceWindow:            nonceWindow,
		subscribeRatePerMinute: subscribeRatePerMinute,
	}
}

// Add registers a new subscriber for userID and returns its clientId.
// Returns ErrLimitExceeded if the registry is already at capacity.
func (r *Registry) Add(userID string) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.subscribers) >= r.maxSubscribers {
		return uuid.Nil, interaction.ErrLimitExceeded
	}

	clientID := uuid.New()
	r.subscribers[clientID] = newSubscriber(clientID, userID, r.queueSize, r.nonceCacheSize)
	logger.Debug("subscriber %s registered for user %s", clientID, userID)
	return clientID, nil
}

// Remove unregisters clientID.
func (r *Registry) Remove(clientID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subscribers, clientID)
	logger.Debug("subscriber %s unregistered", clientID)
}

// Get returns the Subscriber for clientID, if connected.
func (r *Registry) Get(clientID uuid.UUID) (*Subscriber, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.subscribers[clientID]
	return s, ok
}

// Authorize verifies clientID's ownership of each of sessionIDs and adds the
// verified ones to its authorized set. It returns the verified subset and any
// rejected ids. A LIMIT_EXCEEDED error is returned (authorizing nothing) if
// granting every requested id would exceed maxSubsPerSubscriber.
func (r *Registry) Authorize(clientID uuid.UUID, sessionIDs []uuid.UUID) (authorized, rejected []uuid.UUID, err error) {
	sub, ok := r.Get(clientID)
	if !ok {
		return nil, nil, interaction.ErrNotFound
	}

	sub.mu.Lock()
	newCount := len(sub.authorizedSessions)
	for _, sid := range sessionIDs {
		if _, already := sub.authorizedSessions[sid]; !already {
			newCount++
		}
	}
	sub.mu.Unlock()
	if newCount > r.maxSubsPerSubscriber {
		return nil, nil, interaction.ErrLimitExceeded
	}

	for _, sid := range sessionIDs {
		if r.verifier.Verify(sub.UserID, sid) {
			sub.mu.Lock()
			sub.authorizedSessions[sid] = struct{}{}
			sub.mu.Unlock()
			authorized = append(authorized, sid)
		} else {
			rejected = append(rejected, sid)
			if r.audit != nil {
				r.audit.Record(audit.Event{
					Type:      audit.EventUnauthorizedSubscribe,
					ClientID:  clientID,
					UserID:    sub.UserID,
					SessionID: sid,
				})
			}
		}
	}
	return authorized, rejected, nil
}

// Verify re-checks live session ownership through the injected Verifier,
// called on every inbound response so a session whose ownership was revoked
// between interaction creation and response is caught against the
// authoritative source rather than the interaction's cached UserID.
func (r *Registry) Verify(userID string, sessionID uuid.UUID) bool {
	return r.verifier.Verify(userID, sessionID)
}

// CheckSubscribeRate enforces the per-subscriber subscribe/sync rate limit,
// returning ErrRateLimit and recording an audit event on violation. Never
// silently drops the request.
func (r *Registry) CheckSubscribeRate(clientID uuid.UUID) error {
	sub, ok := r.Get(clientID)
	if !ok {
		return interaction.ErrNotFound
	}
	if sub.allowSubscribe(r.subscribeRatePerMinute) {
		return nil
	}
	if r.audit != nil {
		r.audit.Record(audit.Event{Type: audit.EventRateLimit, ClientID: clientID, UserID: sub.UserID})
	}
	return interaction.ErrRateLimit
}

// Reattach resumes an existing subscriber for a reconnecting client: clientID
// must still be registered (i.e. not yet swept or explicitly removed) and
// owned by userID. On success it marks the subscriber alive again so the
// heartbeat sweep doesn't immediately reap the freshly reconnected socket.
func (r *Registry) Reattach(clientID uuid.UUID, userID string) (*Subscriber, bool) {
	sub, ok := r.Get(clientID)
	if !ok || sub.UserID != userID {
		return nil, false
	}
	sub.mu.Lock()
	sub.isAlive = true
	sub.lastSeen = time.Now()
	sub.mu.Unlock()
	return sub, true
}

// FlushQueue drains clientID's outbound queue in FIFO order, passing each
// envelope to send and stopping at the first error — the remainder stays
// queued for the next flush or for the connection's ordinary WritePump loop.
// Called on reconnect and after send-failure recovery.
func (r *Registry) FlushQueue(clientID uuid.UUID, send func(Envelope) error) (int, error) {
	sub, ok := r.Get(clientID)
	if !ok {
		return 0, interaction.ErrNotFound
	}

	n := 0
	for {
		select {
		case env := <-sub.outbound:
			if err := send(env); err != nil {
				// Requeue the failed envelope ahead of everything still queued
				// so the next flush resumes in the same order.
				rest := []Envelope{env}
				for drained := false; !drained; {
					select {
					case e := <-sub.outbound:
						rest = append(rest, e)
					default:
						drained = true
					}
				}
				for _, e := range rest {
					sub.enqueue(e)
				}
				return n, err
			}
			n++
		default:
			return n, nil
		}
	}
}

// Deauthorize removes sessionID from every subscriber's authorized set,
// called when the owning session is evicted (verifier would now return false).
func (r *Registry) Deauthorize(sessionID uuid.UUID) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sub := range r.subscribers {
		sub.mu.Lock()
		delete(sub.authorizedSessions, sessionID)
		sub.mu.Unlock()
	}
}

// IterateForSession calls fn for every subscriber currently authorized for
// sessionID. This is the sole fan-out primitive; it never yields a
// subscriber whose authorizedSessions lacks sessionID.
func (r *Registry) IterateForSession(sessionID uuid.UUID, fn func(*Subscriber)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sub := range r.subscribers {
		if sub.IsAuthorizedFor(sessionID) {
			fn(sub)
		}
	}
}

// ValidateNonce checks replay protection for an inbound interaction-response:
// the nonce must be unseen for this subscriber and ts must fall within
// nonceWindow of server time.
func (r *Registry) ValidateNonce(sub *Subscriber, nonce string, ts time.Time) error {
	now := time.Now()
	if ts.Before(now.Add(-r.nonceWindow)) || ts.After(now.Add(r.nonceWindow)) {
		return interaction.ErrExpired
	}
	if !sub.markNonceSeen(nonce, ts) {
		if r.audit != nil {
			r.audit.Record(audit.Event{Type: audit.EventReplayDetected, ClientID: sub.ClientID, UserID: sub.UserID, Detail: nonce})
		}
		return interaction.ErrReplayDetected
	}
	return nil
}

// MarkHeartbeat records that clientID responded to the latest ping.
func (r *Registry) MarkHeartbeat(clientID uuid.UUID) {
	sub, ok := r.Get(clientID)
	if !ok {
		return
	}
	sub.mu.Lock()
	sub.isAlive = true
	sub.lastSeen = time.Now()
	sub.mu.Unlock()
}

// SweepDead removes every subscriber that failed to respond to the previous
// heartbeat tick (isAlive == false), returning their clientIds to the caller.
// It then resets every remaining
// subscriber to isAlive == false so the next tick's unanswered ping catches them.
func (r *Registry) SweepDead() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dead []uuid.UUID
	for id, sub := range r.subscribers {
		sub.mu.Lock()
		alive := sub.isAlive
		sub.isAlive = false
		sub.mu.Unlock()
		if !alive {
			dead = append(dead, id)
			delete(r.subscribers, id)
			sub.Close()
		}
	}
	return dead
}

// Count returns the total number of connected subscribers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}

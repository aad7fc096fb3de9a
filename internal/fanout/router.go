package fanout

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/humanloop/ibroker/internal/actor"
	"github.com/humanloop/ibroker/internal/audit"
	"github.com/humanloop/ibroker/internal/interaction"
	"github.com/humanloop/ibroker/internal/logger"
	"github.com/humanloop/ibroker/internal/store"
)

// Router bridges InteractionStore events to Registry: delivers
// interaction-request/interaction-update to exactly those subscribers
// authorized for the originating session, and handles inbound
// subscribe/interaction-sync-request/interaction-response messages.
// Implemented as an actor.Actor, mirroring the teacher's removed
// UserInteractionActor's position as the bridge between a pending-request
// table and per-connection delivery.
type Router struct {
	registry *Registry
	store    InteractionResolver
	audit    audit.Sink

	sequence atomic.Uint64

	// undelivered holds snapshots created while no authorized subscriber was
	// connected, so a subscriber that authorizes later within session TTL
	// still receives them on its next subscribe/sync. Guarded separately from
	// Registry's lock since store listener callbacks and connection
	// goroutines both reach it.
	undeliveredMu sync.Mutex
	undelivered   map[uuid.UUID][]interaction.Snapshot
}

// InteractionResolver is the subset of *store.InteractionStore the Router
// needs, kept as an interface so fanout can be tested without constructing a
// full store.
type InteractionResolver interface {
	Resolve(id uuid.UUID, response any, actingUserID string) error
	Reject(id uuid.UUID, err error) error
	GetForSessions(sessionIDs []uuid.UUID, kindFilter interaction.Kind) []interaction.Snapshot
	LookupSession(id uuid.UUID) (uuid.UUID, bool)
	LookupData(id uuid.UUID) (any, bool)
	TouchSession(sessionID uuid.UUID, userID string)
}

// NewRouter constructs a Router over registry. resolver may be nil at
// construction time and supplied later via SetResolver — useful when the
// InteractionStore (which implements InteractionResolver) must itself be
// constructed with this Router as its event listener, a circular dependency
// broken by two-phase wiring.
func NewRouter(registry *Registry, resolver InteractionResolver, auditSink audit.Sink) *Router {
	return &Router{
		registry:    registry,
		store:       resolver,
		audit:       auditSink,
		undelivered: make(map[uuid.UUID][]interaction.Snapshot),
	}
}

// SetResolver wires the InteractionResolver after construction, completing
// the circular Store<->Router dependency.
func (r *Router) SetResolver(resolver InteractionResolver) {
	r.store = resolver
}

// ID implements actor.Actor.
func (r *Router) ID() string { return "fanout-router" }

// Start implements actor.Actor.
func (r *Router) Start(ctx context.Context) error {
	logger.Info("fanout router started")
	return nil
}

// Stop implements actor.Actor.
func (r *Router) Stop(ctx context.Context) error {
	logger.Info("fanout router stopped")
	return nil
}

// Receive implements actor.Actor. The Router's own work happens via direct
// calls from InteractionStore (store.Listener) and connection goroutines
// rather than its own mailbox, so there is nothing meaningful to dispatch
// here; it exists so Router can be registered with actor.System for uniform
// lifecycle management and health reporting alongside this codebase's other actors.
func (r *Router) Receive(ctx context.Context, msg actor.Message) error {
	return nil
}

// OnInteractionCreated implements store.Listener.
func (r *Router) OnInteractionCreated(e store.CreateEvent) {
	r.deliverCreated(e)
}

// OnInteractionTerminal implements store.Listener.
func (r *Router) OnInteractionTerminal(e store.TerminalEvent) {
	r.deliverTerminal(e)
}

func (r *Router) deliverCreated(e store.CreateEvent) {
	snap := e.Snapshot
	env := Envelope{
		Type:           TypeInteractionRequest,
		SequenceNumber: r.sequence.Add(1),
		Interaction: &InteractionRequestData{
			InteractionType: snap.Kind,
			ID:              snap.ID,
			SessionID:       snap.SessionID,
			Data:            snap.Data,
			Metadata:        snap.Metadata,
			RequestedAt:     snap.RequestedAt,
		},
	}

	delivered := false
	r.registry.IterateForSession(snap.SessionID, func(sub *Subscriber) {
		sub.mu.Lock()
		sub.pendingDeliveries[snap.ID] = struct{}{}
		sub.mu.Unlock()
		sub.enqueue(env)
		delivered = true
	})

	if !delivered {
		r.undeliveredMu.Lock()
		r.undelivered[snap.SessionID] = append(r.undelivered[snap.SessionID], snap)
		r.undeliveredMu.Unlock()
	}
}

func (r *Router) deliverTerminal(e store.TerminalEvent) {
	env := Envelope{
		Type:           TypeInteractionUpdate,
		SequenceNumber: r.sequence.Add(1),
		Update:         &InteractionUpdateData{ID: e.ID, SessionID: e.SessionID, Status: e.Status},
	}

	r.registry.IterateForSession(e.SessionID, func(sub *Subscriber) {
		sub.mu.Lock()
		delete(sub.pendingDeliveries, e.ID)
		sub.mu.Unlock()
		sub.enqueue(env)
	})

	r.undeliveredMu.Lock()
	pending := r.undelivered[e.SessionID]
	for i, snap := range pending {
		if snap.ID == e.ID {
			r.undelivered[e.SessionID] = append(pending[:i], pending[i+1:]...)
			break
		}
	}
	r.undeliveredMu.Unlock()
}

// HandleSubscribe processes an inbound subscribe or interaction-sync-request
// message for clientID, returning the sync-response envelope (including any
// previously undelivered interactions for newly-authorized sessions) or a
// typed error envelope.
func (r *Router) HandleSubscribe(clientID uuid.UUID, sessionIDs []uuid.UUID, isSync bool) Envelope {
	if err := r.registry.CheckSubscribeRate(clientID); err != nil {
		return NewErrorEnvelope(string(errCode(err)), err.Error(), nil)
	}

	sub, ok := r.registry.Get(clientID)
	if !ok {
		return NewErrorEnvelope(string(interaction.CodeNotFound), "subscriber not found", nil)
	}

	authorized, rejected, err := r.registry.Authorize(clientID, sessionIDs)
	if err != nil {
		code := string(errCode(err))
		return NewErrorEnvelope(code, err.Error(), nil)
	}
	if len(rejected) > 0 && len(authorized) == 0 {
		return NewErrorEnvelope(string(interaction.CodeUnauthorized), "no requested session is owned by this user", nil)
	}

	var snaps []interaction.Snapshot
	if r.store != nil {
		snaps = r.store.GetForSessions(authorized, "")
		for _, sid := range authorized {
			r.store.TouchSession(sid, sub.UserID)
		}
	}
	r.undeliveredMu.Lock()
	for _, sid := range authorized {
		if pending, ok := r.undelivered[sid]; ok {
			snaps = append(snaps, pending...)
			delete(r.undelivered, sid)
		}
	}
	r.undeliveredMu.Unlock()

	return Envelope{
		Type:           TypeInteractionSyncResponse,
		SequenceNumber: r.sequence.Add(1),
		Sync:           &SyncResponseData{Interactions: snaps},
	}
}

// HandleResponse processes an inbound interaction-response message. kind must
// be known by the caller (looked up by the transport layer from the pending
// snapshot) in order to decode resp into the correct Go type.
func (r *Router) HandleResponse(sub *Subscriber, interactionID uuid.UUID, kind interaction.Kind, resp any, nonce string, ts time.Time) error {
	if err := r.registry.ValidateNonce(sub, nonce, ts); err != nil {
		return err
	}

	if sessionID, ok := r.store.LookupSession(interactionID); ok && sessionID != uuid.Nil {
		if !r.registry.Verify(sub.UserID, sessionID) {
			if r.audit != nil {
				r.audit.Record(audit.Event{
					Type:      audit.EventSessionMismatch,
					ClientID:  sub.ClientID,
					UserID:    sub.UserID,
					SessionID: sessionID,
				})
			}
			return interaction.ErrUnauthorized
		}
		r.store.TouchSession(sessionID, sub.UserID)
	}

	if kind == interaction.KindAskUser {
		if askResp, ok := resp.(interaction.AskUserResponse); ok {
			if data, ok := r.store.LookupData(interactionID); ok {
				if payload, ok := data.(interaction.AskUserPayload); ok {
					if err := askResp.Validate(payload); err != nil {
						return err
					}
				}
			}
		}
	}

	if kind == interaction.KindPlanApproval {
		if par, ok := resp.(interaction.PlanApprovalResponse); ok && par.PermissionMode == "reject" {
			return r.store.Reject(interactionID, interaction.WithMessage(interaction.ErrCancelled, par.Feedback))
		}
	}

	return r.store.Resolve(interactionID, resp, sub.UserID)
}

func errCode(err error) interaction.Code {
	if ie, ok := err.(*interaction.Error); ok {
		return ie.Code
	}
	return interaction.CodeInternal
}

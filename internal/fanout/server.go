package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"

	"github.com/humanloop/ibroker/internal/config"
	"github.com/humanloop/ibroker/internal/interaction"
	"github.com/humanloop/ibroker/internal/logger"
)

// Server exposes the /ws upgrade endpoint, grounded on
// internal/web/server.go's NewServer/Start and token-in-query-param auth
// check. Unlike the teacher, it owns no embedded browser UI — that is an
// external collaborator per this repo's scope.
type Server struct {
	addr       string
	authToken  string
	router     *Router
	registry   *Registry

	maxFrameBytes     int64
	heartbeatInterval time.Duration

	resolveKind func(uuid.UUID) (interaction.Kind, bool)

	httpServer *http.Server
	stopSweep  chan struct{}
}

// NewServer constructs a Server bound to cfg.ListenAddr, requiring
// authToken on every request. resolveKind is used to type an inbound
// interaction-response by looking up its still-pending interaction's kind.
func NewServer(cfg *config.Config, router *Router, registry *Registry, authToken string, resolveKind func(uuid.UUID) (interaction.Kind, bool)) *Server {
	return &Server{
		addr:              cfg.ListenAddr,
		authToken:         authToken,
		router:            router,
		registry:          registry,
		maxFrameBytes:     cfg.MaxFrameBytes,
		heartbeatInterval: cfg.HeartbeatInterval,
		resolveKind:       resolveKind,
	}
}

// Start begins listening in the background.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("fanout server listening on %s", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("fanout HTTP server error: %v", err)
		}
	}()

	s.stopSweep = make(chan struct{})
	go s.sweepLoop()

	return nil
}

// sweepLoop periodically reaps subscribers that missed the previous
// heartbeat's pong, at the same cadence as the ping itself.
func (s *Server) sweepLoop() {
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, clientID := range s.registry.SweepDead() {
				logger.Debug("subscriber %s reaped for missed heartbeat", clientID)
			}
		case <-s.stopSweep:
			return
		}
	}
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop() error {
	if s.stopSweep != nil {
		close(s.stopSweep)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown fanout server: %w", err)
	}
	return nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	queryToken := r.URL.Query().Get("token")
	if queryToken != s.authToken {
		logger.Warn("websocket connection rejected: invalid auth token")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "Bad Request: missing userId", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("failed to upgrade websocket: %v", err)
		return
	}

	clientID, reconnected := s.reattachOrAdd(conn, userID, r.URL.Query().Get("clientId"))
	if clientID == uuid.Nil {
		return
	}

	// The connected envelope is written directly, ahead of any queued
	// backlog, so a reconnecting client always learns its clientId as the
	// very first frame regardless of what was waiting for it.
	connectedData, err := json.Marshal(Envelope{Type: TypeConnected, SubscriberID: &clientID})
	if err == nil {
		_ = conn.WriteMessage(websocket.TextMessage, connectedData)
	}

	if reconnected {
		s.flushReconnectQueue(conn, clientID)
	}

	sub, _ := s.registry.Get(clientID)
	c := newConnection(clientID, sub, conn, s.router, s.registry, s.maxFrameBytes, s.heartbeatInterval, s.resolveKind)

	go c.WritePump()
	go c.ReadPump()
}

// reattachOrAdd resumes an existing subscriber when the client supplies a
// clientId it previously received and still owns, preserving its
// authorizedSessions and queued backlog across the new socket; otherwise it
// mints a fresh subscriber exactly as a first connection would.
func (s *Server) reattachOrAdd(conn *websocket.Conn, userID, reconnectID string) (uuid.UUID, bool) {
	if reconnectID != "" {
		if parsed, err := uuid.Parse(reconnectID); err == nil {
			if _, ok := s.registry.Reattach(parsed, userID); ok {
				return parsed, true
			}
		}
	}

	clientID, err := s.registry.Add(userID)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, mustMarshalRejection(err))
		conn.Close()
		return uuid.Nil, false
	}
	return clientID, false
}

// flushReconnectQueue drains whatever queued for clientID while its previous
// connection was down, writing each envelope directly in FIFO order and
// stopping at the first send error; anything left behind is picked up by the
// new connection's ordinary WritePump loop.
func (s *Server) flushReconnectQueue(conn *websocket.Conn, clientID uuid.UUID) {
	n, err := s.registry.FlushQueue(clientID, func(env Envelope) error {
		data, marshalErr := json.Marshal(env)
		if marshalErr != nil {
			return marshalErr
		}
		return conn.WriteMessage(websocket.TextMessage, data)
	})
	if err != nil {
		logger.Warn("reconnect flush for %s stopped after %d envelopes: %v", clientID, n, err)
		return
	}
	if n > 0 {
		logger.Debug("reconnect flush for %s delivered %d queued envelopes", clientID, n)
	}
}

func mustMarshalRejection(err error) []byte {
	env := errorEnvelopeFor(err, nil)
	data, marshalErr := json.Marshal(env)
	if marshalErr != nil {
		return []byte(`{"type":"error","code":"INTERNAL"}`)
	}
	return data
}

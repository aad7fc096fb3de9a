package fanout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/humanloop/ibroker/internal/audit"
	"github.com/humanloop/ibroker/internal/broker"
	"github.com/humanloop/ibroker/internal/interaction"
	"github.com/humanloop/ibroker/internal/ownership"
	"github.com/humanloop/ibroker/internal/store"
)

// harness wires InteractionStore, Registry, Router, and Broker exactly as
// cmd/brokerd/main.go does, fronted by an httptest.Server exercising the
// real /ws upgrade handler, so these tests drive the whole fan-out path
// end to end rather than any single package in isolation.
type harness struct {
	httpServer   *httptest.Server
	verifier     *ownership.InMemory
	brokerFacade *broker.Broker
	registry     *Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	verifier := ownership.NewInMemory()
	auditSink := audit.NewNoopSink()
	sessions := store.NewSessionIndex(100, 100, time.Hour)
	registry := NewRegistry(verifier, auditSink, 100, 50, 50, 100, time.Minute, 100)
	router := NewRouter(registry, nil, auditSink)
	interactionStore := store.New(sessions, router, func(interaction.Kind) time.Duration { return 5 * time.Second })
	router.SetResolver(interactionStore)

	srv := &Server{
		registry:      registry,
		router:        router,
		maxFrameBytes: 1024 * 1024,
		heartbeatInterval: time.Minute,
		resolveKind:   interactionStore.LookupKind,
	}

	httpServer := httptest.NewServer(http.HandlerFunc(srv.handleWebSocket))
	t.Cleanup(httpServer.Close)

	return &harness{httpServer: httpServer, verifier: verifier, brokerFacade: broker.New(interactionStore), registry: registry}
}

func (h *harness) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	conn, _ := h.dialWithClientID(t, userID, "")
	return conn
}

// dialWithClientID connects, optionally presenting a prior clientId for
// reconnect, and returns both the socket and the clientId the server
// assigned (or resumed), read off the connected envelope that always opens
// a session.
func (h *harness) dialWithClientID(t *testing.T, userID, reconnectClientID string) (*websocket.Conn, uuid.UUID) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.httpServer.URL, "http") + "/ws?userId=" + userID
	if reconnectClientID != "" {
		url += "&clientId=" + reconnectClientID
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	connected := readEnvelope(t, conn, time.Second)
	require.Equal(t, TypeConnected, connected.Type)
	require.NotNil(t, connected.SubscriberID)
	return conn, *connected.SubscriberID
}

func readEnvelope(t *testing.T, conn *websocket.Conn, timeout time.Duration) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

// TestEndToEndPermissionRequestRoundTrip walks the full path: the broker
// raises a permission interaction for a session, the owning client receives
// it over the authorized connection, responds, and the broker's await
// unblocks with that decision.
func TestEndToEndPermissionRequestRoundTrip(t *testing.T) {
	h := newHarness(t)
	sessionID := uuid.New()
	h.verifier.Register(sessionID, "alice")

	conn := h.dial(t, "alice")

	subscribeEnv := Envelope{Type: TypeSubscribe, SessionIDs: []uuid.UUID{sessionID}}
	data, err := json.Marshal(subscribeEnv)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	syncResp := readEnvelope(t, conn, time.Second)
	require.Equal(t, TypeInteractionSyncResponse, syncResp.Type)

	resultCh := make(chan interaction.PermissionResponse, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := h.brokerFacade.RequestPermission(context.Background(), "Bash", map[string]any{"command": "ls"}, sessionID, "alice", nil, interaction.ModeDefault)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- resp
	}()

	reqEnv := readEnvelope(t, conn, 2*time.Second)
	require.Equal(t, TypeInteractionRequest, reqEnv.Type)
	require.NotNil(t, reqEnv.Interaction)
	assert.Equal(t, interaction.KindPermission, reqEnv.Interaction.InteractionType)
	assert.Equal(t, sessionID, reqEnv.Interaction.SessionID)

	now := time.Now()
	respRaw, err := json.Marshal(interaction.PermissionResponse{Decision: interaction.DecisionAllow})
	require.NoError(t, err)
	responseEnv := Envelope{
		Type:          TypeInteractionResponse,
		InteractionID: &reqEnv.Interaction.ID,
		Response:      respRaw,
		Nonce:         "nonce-1",
		Timestamp:     &now,
	}
	data, err = json.Marshal(responseEnv)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	select {
	case resp := <-resultCh:
		assert.Equal(t, interaction.DecisionAllow, resp.Decision)
	case err := <-errCh:
		t.Fatalf("RequestPermission returned an error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("broker never observed the human's decision")
	}
}

// TestReconnectFlushesQueuedInteraction verifies a subscriber that existed
// before the test's socket ever dialed in — standing in for a connection
// that dropped without the server reaping it — resumes its
// authorizedSessions and receives whatever queued for it in the meantime via
// the flush path once it reconnects presenting its prior clientId.
func TestReconnectFlushesQueuedInteraction(t *testing.T) {
	h := newHarness(t)
	sessionID := uuid.New()
	h.verifier.Register(sessionID, "alice")

	// A subscriber authorized for sessionID with nobody reading its outbound
	// queue, exactly as a registered-but-disconnected client would look.
	clientID, err := h.registry.Add("alice")
	require.NoError(t, err)
	_, _, err = h.registry.Authorize(clientID, []uuid.UUID{sessionID})
	require.NoError(t, err)

	resultCh := make(chan interaction.PermissionResponse, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := h.brokerFacade.RequestPermission(context.Background(), "Bash", map[string]any{"command": "ls"}, sessionID, "alice", nil, interaction.ModeDefault)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- resp
	}()

	// Give the router a moment to enqueue the interaction-request into the
	// subscriber's still-undrained outbound channel.
	time.Sleep(100 * time.Millisecond)

	reconn, resumedID := h.dialWithClientID(t, "alice", clientID.String())
	require.Equal(t, clientID, resumedID)

	reqEnv := readEnvelope(t, reconn, 2*time.Second)
	require.Equal(t, TypeInteractionRequest, reqEnv.Type)
	require.NotNil(t, reqEnv.Interaction)
	assert.Equal(t, sessionID, reqEnv.Interaction.SessionID)

	now := time.Now()
	respRaw, err := json.Marshal(interaction.PermissionResponse{Decision: interaction.DecisionAllow})
	require.NoError(t, err)
	responseEnv := Envelope{
		Type:          TypeInteractionResponse,
		InteractionID: &reqEnv.Interaction.ID,
		Response:      respRaw,
		Nonce:         "nonce-reconnect",
		Timestamp:     &now,
	}
	data, err := json.Marshal(responseEnv)
	require.NoError(t, err)
	require.NoError(t, reconn.WriteMessage(websocket.TextMessage, data))

	select {
	case resp := <-resultCh:
		assert.Equal(t, interaction.DecisionAllow, resp.Decision)
	case err := <-errCh:
		t.Fatalf("RequestPermission returned an error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("broker never observed the human's decision after reconnect")
	}
}

// TestUnauthorizedSubscriberNeverSeesInteraction verifies a connected client
// that is not authorized for a session never receives its interaction-request,
// even though it shares the server with an authorized client.
func TestUnauthorizedSubscriberNeverSeesInteraction(t *testing.T) {
	h := newHarness(t)
	sessionID := uuid.New()
	h.verifier.Register(sessionID, "alice")

	bystander := h.dial(t, "mallory")
	subscribeEnv := Envelope{Type: TypeSubscribe, SessionIDs: []uuid.UUID{sessionID}}
	data, _ := json.Marshal(subscribeEnv)
	require.NoError(t, bystander.WriteMessage(websocket.TextMessage, data))

	errEnv := readEnvelope(t, bystander, time.Second)
	assert.Equal(t, TypeError, errEnv.Type)

	go func() {
		_, _ = h.brokerFacade.RequestPermission(context.Background(), "Bash", nil, sessionID, "alice", nil, interaction.ModeDefault)
	}()

	require.NoError(t, bystander.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err := bystander.ReadMessage()
	assert.Error(t, err, "bystander should never receive a frame for a session it was never authorized for")
}

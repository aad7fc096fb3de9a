package fanout

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"

	"github.com/humanloop/ibroker/internal/interaction"
	"github.com/humanloop/ibroker/internal/logger"
)

// connection pairs a Subscriber with its WebSocket transport, grounded on the
// teacher's internal/web/client.go ReadPump/WritePump goroutine pair and
// ping/pong heartbeat handling.
type connection struct {
	clientID uuid.UUID
	sub      *Subscriber
	conn     *websocket.Conn
	router   *Router
	registry *Registry

	writeWait     time.Duration
	pongWait      time.Duration
	pingPeriod    time.Duration
	maxFrameBytes int64

	// resolveKind looks up the Kind of a still-pending interaction so an
	// inbound interaction-response can be decoded into the right Go type.
	resolveKind func(id uuid.UUID) (interaction.Kind, bool)
}

func newConnection(clientID uuid.UUID, sub *Subscriber, conn *websocket.Conn, router *Router, registry *Registry, maxFrameBytes int64, heartbeatInterval time.Duration, resolveKind func(uuid.UUID) (interaction.Kind, bool)) *connection {
	return &connection{
		clientID:      clientID,
		sub:           sub,
		conn:          conn,
		router:        router,
		registry:      registry,
		writeWait:     10 * time.Second,
		pongWait:      heartbeatInterval * 2,
		pingPeriod:    heartbeatInterval,
		maxFrameBytes: maxFrameBytes,
		resolveKind:   resolveKind,
	}
}

// ReadPump pumps inbound frames from the socket to the Router until the
// connection closes. Must run in its own goroutine.
func (c *connection) ReadPump() {
	defer c.conn.Close()

	c.conn.SetReadLimit(c.maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.registry.MarkHeartbeat(c.clientID)
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("websocket read error for %s: %v", c.clientID, err)
			}
			return
		}

		if int64(len(raw)) > c.maxFrameBytes {
			c.sub.enqueue(NewErrorEnvelope(string(interaction.CodeFrameTooLarge), "frame exceeds maximum size", nil))
			continue
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.sub.enqueue(NewErrorEnvelope(string(interaction.CodeSchema), "malformed envelope", nil))
			continue
		}

		c.handle(env)
	}
}

func (c *connection) handle(env Envelope) {
	switch env.Type {
	case TypeSubscribe:
		resp := c.router.HandleSubscribe(c.clientID, env.SessionIDs, false)
		c.sub.enqueue(resp)

	case TypeInteractionSyncReq:
		resp := c.router.HandleSubscribe(c.clientID, env.SessionIDs, true)
		c.sub.enqueue(resp)

	case TypeInteractionResponse:
		c.handleResponse(env)

	case TypePong:
		c.registry.MarkHeartbeat(c.clientID)

	default:
		c.sub.enqueue(NewErrorEnvelope(string(interaction.CodeSchema), "unknown message type", env.InteractionID))
	}
}

func (c *connection) handleResponse(env Envelope) {
	if env.InteractionID == nil || env.Nonce == "" || env.Timestamp == nil {
		c.sub.enqueue(NewErrorEnvelope(string(interaction.CodeSchema), "interaction-response requires interactionId, nonce, timestamp", env.InteractionID))
		return
	}

	kind, ok := c.resolveKind(*env.InteractionID)
	if !ok {
		c.sub.enqueue(NewErrorEnvelope(string(interaction.CodeNotFound), "interaction not found or already terminal", env.InteractionID))
		return
	}

	resp, err := DecodeInteractionResponse(kind, env.Response)
	if err != nil {
		c.sub.enqueue(errorEnvelopeFor(err, env.InteractionID))
		return
	}

	if err := c.router.HandleResponse(c.sub, *env.InteractionID, kind, resp, env.Nonce, *env.Timestamp); err != nil {
		c.sub.enqueue(errorEnvelopeFor(err, env.InteractionID))
		return
	}
}

func errorEnvelopeFor(err error, id *uuid.UUID) Envelope {
	if ie, ok := err.(*interaction.Error); ok {
		return NewErrorEnvelope(string(ie.Code), ie.Message, id)
	}
	return NewErrorEnvelope(string(interaction.CodeInternal), err.Error(), id)
}

// WritePump pumps outbound envelopes from the subscriber's queue to the
// socket, pinging on pingPeriod. Must run in its own goroutine.
func (c *connection) WritePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.sub.outbound:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(env)
			if err != nil {
				logger.Error("failed to marshal envelope for %s: %v", c.clientID, err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.sub.Done():
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

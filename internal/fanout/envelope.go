// Package fanout bridges InteractionStore events to SubscriberRegistry: it
// filters interaction-created/resolved/timeout events down to subscribers
// authorized for the originating session, and validates/dispatches inbound
// subscriber messages.
//
// Grounded on the teacher's internal/web/messages.go (WebMessage envelope)
// and internal/web/client.go's handleMessage type switch, generalized into a
// discriminated-union envelope whose inbound types are dispatched by a switch
// on Envelope.Type in connection.go's handle.
package fanout

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/humanloop/ibroker/internal/interaction"
)

// Outbound envelope type discriminants (server -> client).
const (
	TypeInteractionRequest      = "interaction-request"
	TypeInteractionUpdate       = "interaction-update"
	TypeInteractionSyncResponse = "interaction-sync-response"
	TypeError                   = "error"
	TypePing                    = "ping"
	// TypeConnected carries the subscriber's clientId immediately after
	// upgrade, so the client can present it as the clientId query parameter
	// on a later reconnect and resume its authorizedSessions and queued
	// backlog instead of starting over as a brand-new subscriber.
	TypeConnected = "connected"
)

// Inbound envelope type discriminants (client -> server).
const (
	TypeSubscribe            = "subscribe"
	TypeInteractionSyncReq   = "interaction-sync-request"
	TypeInteractionResponse  = "interaction-response"
	TypePong                 = "pong"
)

// Envelope is the outer discriminated-union wrapper every frame carries. The
// payload fields below are mutually exclusive by Type; exactly one is
// populated per outbound message, and inbound decoding reads the field(s)
// matching its own Type.
type Envelope struct {
	Type           string `json:"type"`
	SequenceNumber uint64 `json:"sequenceNumber,omitempty"`

	// Outbound payloads.
	Interaction *InteractionRequestData `json:"interaction,omitempty"`
	Update      *InteractionUpdateData  `json:"update,omitempty"`
	Sync        *SyncResponseData       `json:"sync,omitempty"`
	ErrorCode   string                  `json:"code,omitempty"`
	ErrorMsg    string                  `json:"message,omitempty"`
	InteractionID *uuid.UUID            `json:"interactionId,omitempty"`
	SubscriberID  *uuid.UUID            `json:"clientId,omitempty"`

	// Inbound-only fields.
	SessionIDs []uuid.UUID     `json:"sessionIds,omitempty"`
	Response   json.RawMessage `json:"response,omitempty"`
	Nonce      string          `json:"nonce,omitempty"`
	Timestamp  *time.Time      `json:"timestamp,omitempty"`
}

// InteractionRequestData is the payload of an outbound interaction-request.
type InteractionRequestData struct {
	InteractionType interaction.Kind `json:"interactionType"`
	ID              uuid.UUID        `json:"id"`
	SessionID       uuid.UUID        `json:"sessionId"`
	Data            any              `json:"data"`
	Metadata        interaction.Metadata `json:"metadata"`
	RequestedAt     time.Time        `json:"requestedAt"`
}

// InteractionUpdateData is the payload of an outbound interaction-update.
type InteractionUpdateData struct {
	ID        uuid.UUID          `json:"id"`
	SessionID uuid.UUID          `json:"sessionId"`
	Status    interaction.Status `json:"status"`
}

// SyncResponseData is the payload of an outbound interaction-sync-response.
type SyncResponseData struct {
	Interactions []interaction.Snapshot `json:"interactions"`
}

// NewErrorEnvelope builds a typed error envelope, optionally tied to a specific interaction.
func NewErrorEnvelope(code, message string, interactionID *uuid.UUID) Envelope {
	return Envelope{Type: TypeError, ErrorCode: code, ErrorMsg: message, InteractionID: interactionID}
}

// DecodeInteractionResponse unmarshals an interaction-response envelope's raw
// response field according to kind. Callers pick the concrete Go type by kind
// since the wire payload is untyped JSON.
func DecodeInteractionResponse(kind interaction.Kind, raw json.RawMessage) (any, error) {
	switch kind {
	case interaction.KindPermission:
		var r interaction.PermissionResponse
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, interaction.WithMessage(interaction.ErrSchema, err.Error())
		}
		if err := r.Validate(); err != nil {
			return nil, err
		}
		return r, nil
	case interaction.KindPlanApproval:
		var r interaction.PlanApprovalResponse
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, interaction.WithMessage(interaction.ErrSchema, err.Error())
		}
		return r, nil
	case interaction.KindAskUser:
		var r interaction.AskUserResponse
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, interaction.WithMessage(interaction.ErrSchema, err.Error())
		}
		return r, nil
	default:
		return nil, interaction.WithMessage(interaction.ErrSchema, "unknown interaction kind")
	}
}

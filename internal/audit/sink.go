// Package audit defines the AuditSink collaborator interface for security
// events the fanout layer surfaces, and a logging-backed default
// implementation grounded on internal/logger.
package audit

import (
	"github.com/google/uuid"

	"github.com/humanloop/ibroker/internal/logger"
)

// EventType names a security event reported to an AuditSink.
type EventType string

const (
	EventUnauthorizedSubscribe EventType = "UNAUTHORIZED_SUBSCRIBE"
	EventReplayDetected        EventType = "REPLAY_DETECTED"
	EventRateLimit             EventType = "RATE_LIMIT"
	EventSessionMismatch       EventType = "SESSION_MISMATCH"
)

// Event is a single security-relevant occurrence surfaced by SubscriberRegistry
// or FanoutRouter.
type Event struct {
	Type      EventType
	ClientID  uuid.UUID
	UserID    string
	SessionID uuid.UUID
	Detail    string
}

// Sink receives security events. Implementations must not block the caller
// for long; the default LoggingSink just logs.
type Sink interface {
	Record(Event)
}

// LoggingSink is the default Sink, writing every event through internal/logger
// at warn level.
type LoggingSink struct{}

// NewLoggingSink constructs a LoggingSink.
func NewLoggingSink() *LoggingSink { return &LoggingSink{} }

// Record implements Sink.
func (s *LoggingSink) Record(e Event) {
	logger.Warn("audit: %s client=%s user=%s session=%s detail=%s", e.Type, e.ClientID, e.UserID, e.SessionID, e.Detail)
}

// NoopSink discards every event; useful in tests that don't care about audit output.
type NoopSink struct{}

// NewNoopSink constructs a NoopSink.
func NewNoopSink() *NoopSink { return &NoopSink{} }

// Record implements Sink.
func (s *NoopSink) Record(Event) {}

// Package ownership defines the SessionOwnershipVerifier collaborator
// interface and a small in-memory implementation suitable for tests and for
// fronting an external authoritative session registry in production.
package ownership

import (
	"sync"

	"github.com/google/uuid"
)

// Verifier answers whether userID owns sessionID. It is a pure function over
// an authoritative session registry owned by the auth layer; SubscriberRegistry
// calls it on every subscribe / sync / response.
type Verifier interface {
	Verify(userID string, sessionID uuid.UUID) bool
}

// InMemory is a Verifier backed by an explicit session→owner map, intended for
// tests and for small single-node deployments that do not have a separate
// auth service.
type InMemory struct {
	mu     sync.RWMutex
	owners map[uuid.UUID]string
}

// NewInMemory constructs an empty InMemory verifier.
func NewInMemory() *InMemory {
	return &InMemory{owners: make(map[uuid.UUID]string)}
}

// Register records that sessionID belongs to userID.
func (m *InMemory) Register(sessionID uuid.UUID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[sessionID] = userID
}

// Forget removes sessionID's ownership record.
func (m *InMemory) Forget(sessionID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.owners, sessionID)
}

// Verify implements Verifier.
func (m *InMemory) Verify(userID string, sessionID uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	owner, ok := m.owners[sessionID]
	return ok && owner == userID
}

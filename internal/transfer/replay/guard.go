// Package replay remembers recently used client transaction IDs so a
// registrar retrying a command cannot accidentally run it twice. Scope is
// per registrar: two registrars may reuse the same client TRID.
package replay

import (
	"context"
	"sync"
	"time"

	id "registryd/pkg/domain"
)

// DefaultWindow is how long a client TRID stays reserved.
const DefaultWindow = 24 * time.Hour

// Guard checks and reserves a client TRID in one step.
type Guard interface {
	// CheckAndRemember reserves the TRID for the registrar. It returns
	// false when the TRID was already used inside the window.
	CheckAndRemember(ctx context.Context, registrar id.RegistrarID, clientTrid string) (bool, error)
}

// InMemory is a map-backed Guard for tests and single-node deployments.
type InMemory struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
}

// InMemoryOption configures an InMemory guard.
type InMemoryOption func(*InMemory)

// WithWindow overrides the reservation window.
func WithWindow(window time.Duration) InMemoryOption {
	return func(g *InMemory) { g.window = window }
}

// NewInMemory constructs an in-memory guard.
func NewInMemory(opts ...InMemoryOption) *InMemory {
	g := &InMemory{
		window: DefaultWindow,
		seen:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *InMemory) CheckAndRemember(_ context.Context, registrar id.RegistrarID, clientTrid string) (bool, error) {
	key := registrar.String() + ":" + clientTrid
	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if reserved, ok := g.seen[key]; ok && now.Sub(reserved) < g.window {
		return false, nil
	}
	g.seen[key] = now

	// Opportunistic cleanup of expired reservations.
	for k, reserved := range g.seen {
		if now.Sub(reserved) >= g.window {
			delete(g.seen, k)
		}
	}
	return true, nil
}

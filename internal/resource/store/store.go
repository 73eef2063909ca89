// Package store persists EPP resources together with their dependent
// entities (billing events, poll messages, history entries) behind one
// interface. Cross-entity references are opaque keys resolved here, never
// in-memory pointers, so readers can build ephemeral projected graphs
// without ownership cycles.
//
// Two implementations exist: an in-memory arena for tests and single-node
// use, and a PostgreSQL store. Mutations go through Tx.RunInTx; the store's
// transaction isolation is what serializes concurrent flows against the
// same resource.
package store

import (
	"context"

	"registryd/internal/billing"
	"registryd/internal/history"
	"registryd/internal/poll"
	"registryd/internal/resource/models"
	id "registryd/pkg/domain"
)

// Store is the entity arena. Lookup misses return sentinel.ErrNotFound
// (wrapped); Put is create-or-replace except PutHistoryEntry, which is
// append-only.
type Store interface {
	GetResource(ctx context.Context, resourceID id.ResourceID) (models.Resource, error)
	PutResource(ctx context.Context, resource models.Resource) error

	GetBillingEvent(ctx context.Context, key id.EntityKey) (*billing.Event, error)
	PutBillingEvent(ctx context.Context, event *billing.Event) error
	DeleteBillingEvent(ctx context.Context, key id.EntityKey) error
	// ListBillingEventsByTarget returns every billing event for a resource,
	// fired or not, ordered by event time.
	ListBillingEventsByTarget(ctx context.Context, targetID id.ResourceID) ([]*billing.Event, error)

	GetPollMessage(ctx context.Context, key id.EntityKey) (*poll.Message, error)
	PutPollMessage(ctx context.Context, message *poll.Message) error
	DeletePollMessage(ctx context.Context, key id.EntityKey) error
	// ListPollMessagesByRegistrar returns every stored message for a
	// registrar ordered by event time, including ones not yet visible;
	// visibility gating is the poll service's concern.
	ListPollMessagesByRegistrar(ctx context.Context, clientID id.RegistrarID) ([]*poll.Message, error)

	PutHistoryEntry(ctx context.Context, entry *history.Entry) error
	ListHistoryByResource(ctx context.Context, resourceID id.ResourceID) ([]*history.Entry, error)
}

// Tx provides the atomic mutation boundary for flows. Implementations may
// wrap a database transaction or, in-memory, a per-resource lock.
type Tx interface {
	RunInTx(ctx context.Context, resourceID id.ResourceID, fn func(ctx context.Context, s Store) error) error
}

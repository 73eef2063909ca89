package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"registryd/internal/billing"
	"registryd/internal/history"
	"registryd/internal/poll"
	"registryd/internal/resource/models"
	id "registryd/pkg/domain"
	"registryd/pkg/platform/sentinel"
)

// queryer is the subset of database/sql shared by *sql.DB and *sql.Tx, so
// the same store code serves both transactional and plain reads.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Postgres persists entities as JSONB rows keyed by their opaque keys, with
// the columns flows filter on lifted out for indexing.
type Postgres struct {
	q queryer
}

// NewPostgres constructs a store over a connection pool.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{q: db}
}

// NewPostgresTx constructs a store bound to an open transaction. Used by the
// transaction runner so flow mutations commit all-or-nothing.
func NewPostgresTx(tx *sql.Tx) *Postgres {
	return &Postgres{q: tx}
}

// EnsureSchema creates the tables if they do not exist. Deployments with
// managed migrations can skip this.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS resources (
	repo_id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	payload JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS billing_events (
	id UUID PRIMARY KEY,
	target_id TEXT NOT NULL,
	event_time TIMESTAMPTZ NOT NULL,
	payload JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS billing_events_target_idx ON billing_events (target_id, event_time);
CREATE TABLE IF NOT EXISTS poll_messages (
	id UUID PRIMARY KEY,
	client_id TEXT NOT NULL,
	event_time TIMESTAMPTZ NOT NULL,
	payload JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS poll_messages_client_idx ON poll_messages (client_id, event_time);
CREATE TABLE IF NOT EXISTS history_entries (
	id UUID PRIMARY KEY,
	resource_id TEXT NOT NULL,
	modification_time TIMESTAMPTZ NOT NULL,
	payload JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS history_entries_resource_idx ON history_entries (resource_id, modification_time);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Postgres) GetResource(ctx context.Context, resourceID id.ResourceID) (models.Resource, error) {
	var kind string
	var payload []byte
	err := s.q.QueryRowContext(ctx,
		`SELECT kind, payload FROM resources WHERE repo_id = $1`, resourceID.String(),
	).Scan(&kind, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("resource %s: %w", resourceID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get resource %s: %w", resourceID, err)
	}
	return decodeResource(models.ResourceKind(kind), payload)
}

func (s *Postgres) PutResource(ctx context.Context, resource models.Resource) error {
	payload, err := json.Marshal(resource)
	if err != nil {
		return fmt.Errorf("encode resource: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
INSERT INTO resources (repo_id, kind, payload) VALUES ($1, $2, $3)
ON CONFLICT (repo_id) DO UPDATE SET kind = EXCLUDED.kind, payload = EXCLUDED.payload`,
		resource.Base().RepoID.String(), string(resource.Kind()), payload)
	if err != nil {
		return fmt.Errorf("put resource %s: %w", resource.Base().RepoID, err)
	}
	return nil
}

func decodeResource(kind models.ResourceKind, payload []byte) (models.Resource, error) {
	switch kind {
	case models.KindDomain:
		var d models.Domain
		if err := json.Unmarshal(payload, &d); err != nil {
			return nil, fmt.Errorf("decode domain: %w", err)
		}
		return &d, nil
	case models.KindContact:
		var c models.Contact
		if err := json.Unmarshal(payload, &c); err != nil {
			return nil, fmt.Errorf("decode contact: %w", err)
		}
		return &c, nil
	default:
		return nil, fmt.Errorf("unknown resource kind %q", kind)
	}
}

func (s *Postgres) GetBillingEvent(ctx context.Context, key id.EntityKey) (*billing.Event, error) {
	var payload []byte
	err := s.q.QueryRowContext(ctx,
		`SELECT payload FROM billing_events WHERE id = $1`, key.ID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("billing event %s: %w", key, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get billing event %s: %w", key, err)
	}
	var event billing.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode billing event: %w", err)
	}
	return &event, nil
}

func (s *Postgres) PutBillingEvent(ctx context.Context, event *billing.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode billing event: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
INSERT INTO billing_events (id, target_id, event_time, payload) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET target_id = EXCLUDED.target_id, event_time = EXCLUDED.event_time, payload = EXCLUDED.payload`,
		event.Key.ID, event.TargetID.String(), event.EventTime, payload)
	if err != nil {
		return fmt.Errorf("put billing event %s: %w", event.Key, err)
	}
	return nil
}

func (s *Postgres) DeleteBillingEvent(ctx context.Context, key id.EntityKey) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM billing_events WHERE id = $1`, key.ID)
	if err != nil {
		return fmt.Errorf("delete billing event %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("billing event %s: %w", key, sentinel.ErrNotFound)
	}
	return nil
}

func (s *Postgres) ListBillingEventsByTarget(ctx context.Context, targetID id.ResourceID) ([]*billing.Event, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT payload FROM billing_events WHERE target_id = $1 ORDER BY event_time`, targetID.String())
	if err != nil {
		return nil, fmt.Errorf("list billing events for %s: %w", targetID, err)
	}
	defer rows.Close()

	var out []*billing.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan billing event: %w", err)
		}
		var event billing.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, fmt.Errorf("decode billing event: %w", err)
		}
		out = append(out, &event)
	}
	return out, rows.Err()
}

func (s *Postgres) GetPollMessage(ctx context.Context, key id.EntityKey) (*poll.Message, error) {
	var payload []byte
	err := s.q.QueryRowContext(ctx,
		`SELECT payload FROM poll_messages WHERE id = $1`, key.ID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("poll message %s: %w", key, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get poll message %s: %w", key, err)
	}
	var message poll.Message
	if err := json.Unmarshal(payload, &message); err != nil {
		return nil, fmt.Errorf("decode poll message: %w", err)
	}
	return &message, nil
}

func (s *Postgres) PutPollMessage(ctx context.Context, message *poll.Message) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode poll message: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
INSERT INTO poll_messages (id, client_id, event_time, payload) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET client_id = EXCLUDED.client_id, event_time = EXCLUDED.event_time, payload = EXCLUDED.payload`,
		message.Key.ID, message.ClientID.String(), message.EventTime, payload)
	if err != nil {
		return fmt.Errorf("put poll message %s: %w", message.Key, err)
	}
	return nil
}

func (s *Postgres) DeletePollMessage(ctx context.Context, key id.EntityKey) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM poll_messages WHERE id = $1`, key.ID)
	if err != nil {
		return fmt.Errorf("delete poll message %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("poll message %s: %w", key, sentinel.ErrNotFound)
	}
	return nil
}

func (s *Postgres) ListPollMessagesByRegistrar(ctx context.Context, clientID id.RegistrarID) ([]*poll.Message, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT payload FROM poll_messages WHERE client_id = $1 ORDER BY event_time`, clientID.String())
	if err != nil {
		return nil, fmt.Errorf("list poll messages for %s: %w", clientID, err)
	}
	defer rows.Close()

	var out []*poll.Message
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan poll message: %w", err)
		}
		var message poll.Message
		if err := json.Unmarshal(payload, &message); err != nil {
			return nil, fmt.Errorf("decode poll message: %w", err)
		}
		out = append(out, &message)
	}
	return out, rows.Err()
}

func (s *Postgres) PutHistoryEntry(ctx context.Context, entry *history.Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode history entry: %w", err)
	}
	// History is append-only; a key collision is a real conflict.
	_, err = s.q.ExecContext(ctx, `
INSERT INTO history_entries (id, resource_id, modification_time, payload) VALUES ($1, $2, $3, $4)`,
		entry.Key.ID, entry.ParentResource.String(), entry.ModificationTime, payload)
	if err != nil {
		return fmt.Errorf("put history entry %s: %w", entry.Key, err)
	}
	return nil
}

func (s *Postgres) ListHistoryByResource(ctx context.Context, resourceID id.ResourceID) ([]*history.Entry, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT payload FROM history_entries WHERE resource_id = $1 ORDER BY modification_time`, resourceID.String())
	if err != nil {
		return nil, fmt.Errorf("list history for %s: %w", resourceID, err)
	}
	defer rows.Close()

	var out []*history.Entry
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		var entry history.Entry
		if err := json.Unmarshal(payload, &entry); err != nil {
			return nil, fmt.Errorf("decode history entry: %w", err)
		}
		out = append(out, &entry)
	}
	return out, rows.Err()
}

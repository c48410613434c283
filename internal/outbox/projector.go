package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/lanonasis/auth-gateway/internal/eventlog"
)

// SQLProjector applies claimed Rows to the secondary store's read-side
// tables (spec.md §4.7): an append-only auth_events mirror plus a handful
// of narrow projections (current session/API-key/user state) that the
// handlers never query directly but that downstream consumers of the
// secondary database read from. Every statement is idempotent under
// event_id so re-delivery after a crash between ship and the primary's
// status update never double-applies.
type SQLProjector struct {
	migrated bool
}

// NewSQLProjector returns a Projector targeting the secondary store's
// schema. Callers must have already run the secondary migrations (see
// Migrate) before the forwarder's first Run.
func NewSQLProjector() *SQLProjector {
	return &SQLProjector{}
}

// Migrate creates the secondary store's tables if they don't already
// exist. It is idempotent and safe to call on every forwarder start.
func Migrate(ctx context.Context, tx pgx.Tx) error {
	stmts := []string{
		`create table if not exists auth_events (
			id bigserial primary key,
			event_id text unique not null,
			aggregate_type text not null,
			aggregate_id text not null,
			version bigint not null,
			event_type text not null,
			payload jsonb not null,
			metadata jsonb,
			occurred_at timestamptz not null
		);`,
		`create index if not exists auth_events_aggregate_idx on auth_events (aggregate_type, aggregate_id);`,
		`create table if not exists current_user_projection (
			user_id text primary key,
			last_event_id text not null,
			updated_at timestamptz not null
		);`,
		`create table if not exists active_session_projection (
			session_id text primary key,
			user_id text not null,
			revoked boolean not null default false,
			updated_at timestamptz not null
		);`,
		`create table if not exists active_api_key_projection (
			api_key_id text primary key,
			user_id text not null,
			revoked boolean not null default false,
			updated_at timestamptz not null
		);`,
		`create table if not exists audit_trail (
			id bigserial primary key,
			event_id text unique not null,
			aggregate_type text not null,
			aggregate_id text not null,
			event_type text not null,
			payload jsonb not null,
			occurred_at timestamptz not null
		);`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("outbox: migrate secondary: %w", err)
		}
	}
	return nil
}

// Apply idempotently mirrors r into auth_events and, for event types the
// read side cares about, updates the corresponding narrow projection.
func (p *SQLProjector) Apply(ctx context.Context, tx pgx.Tx, r Row) error {
	if _, err := tx.Exec(ctx, `
		insert into auth_events (event_id, aggregate_type, aggregate_id, version, event_type, payload, metadata, occurred_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		on conflict (event_id) do nothing;
	`, r.EventID, r.AggregateType, r.AggregateID, r.Version, r.EventType, r.Payload, r.Metadata, r.OccurredAt); err != nil {
		return fmt.Errorf("outbox: mirror event: %w", err)
	}

	switch eventlog.EventType(r.EventType) {
	case eventlog.EventUserUpserted:
		if _, err := tx.Exec(ctx, `
			insert into current_user_projection (user_id, last_event_id, updated_at)
			values ($1, $2, $3)
			on conflict (user_id) do update set
				last_event_id = excluded.last_event_id, updated_at = excluded.updated_at
			where current_user_projection.updated_at <= excluded.updated_at;
		`, r.AggregateID, r.EventID, r.OccurredAt); err != nil {
			return fmt.Errorf("outbox: project user: %w", err)
		}

	case eventlog.EventSessionCreated:
		userID, _ := payloadString(r.Payload, "user_id")
		if _, err := tx.Exec(ctx, `
			insert into active_session_projection (session_id, user_id, revoked, updated_at)
			values ($1, $2, false, $3)
			on conflict (session_id) do update set
				user_id = excluded.user_id, revoked = false, updated_at = excluded.updated_at
			where active_session_projection.updated_at <= excluded.updated_at;
		`, r.AggregateID, userID, r.OccurredAt); err != nil {
			return fmt.Errorf("outbox: project session created: %w", err)
		}

	case eventlog.EventSessionRevoked:
		if _, err := tx.Exec(ctx, `
			update active_session_projection set revoked = true, updated_at = $2
			where session_id = $1 and updated_at <= $2;
		`, r.AggregateID, r.OccurredAt); err != nil {
			return fmt.Errorf("outbox: project session revoked: %w", err)
		}

	case eventlog.EventApiKeyCreated:
		userID, _ := payloadString(r.Payload, "user_id")
		if _, err := tx.Exec(ctx, `
			insert into active_api_key_projection (api_key_id, user_id, revoked, updated_at)
			values ($1, $2, false, $3)
			on conflict (api_key_id) do update set
				user_id = excluded.user_id, revoked = false, updated_at = excluded.updated_at
			where active_api_key_projection.updated_at <= excluded.updated_at;
		`, r.AggregateID, userID, r.OccurredAt); err != nil {
			return fmt.Errorf("outbox: project api key created: %w", err)
		}

	case eventlog.EventApiKeyRevoked:
		if _, err := tx.Exec(ctx, `
			update active_api_key_projection set revoked = true, updated_at = $2
			where api_key_id = $1 and updated_at <= $2;
		`, r.AggregateID, r.OccurredAt); err != nil {
			return fmt.Errorf("outbox: project api key revoked: %w", err)
		}

	case eventlog.EventAuthEventLogged:
		if _, err := tx.Exec(ctx, `
			insert into audit_trail (event_id, aggregate_type, aggregate_id, event_type, payload, occurred_at)
			values ($1, $2, $3, $4, $5, $6)
			on conflict (event_id) do nothing;
		`, r.EventID, r.AggregateType, r.AggregateID, r.EventType, r.Payload, r.OccurredAt); err != nil {
			return fmt.Errorf("outbox: project audit: %w", err)
		}
	}

	return nil
}

func payloadString(payload []byte, key string) (string, bool) {
	var m map[string]interface{}
	if err := json.Unmarshal(payload, &m); err != nil {
		return "", false
	}
	v, ok := m[key].(string)
	return v, ok
}

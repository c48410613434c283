package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lanonasis/auth-gateway/internal/crypto"
)

// Executor is the slice of *sql.Tx that Append needs. internal/store.Tx
// satisfies it structurally, so engine code can pass the same transaction
// it used for a store mutation straight into Append without either
// package importing the other's concrete type.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Appender appends an Event and its outbox row inside an existing
// transaction.
type Appender interface {
	Append(ctx context.Context, tx Executor, e Event) error
}

// sqlAppender implements Appender against the primary Postgres schema.
type sqlAppender struct {
	destination string
}

// NewSQLAppender returns an Appender that writes events table rows plus one
// outbox row per event, targeting destination (the secondary store's
// logical name, stamped onto the outbox row for the forwarder to read).
func NewSQLAppender(destination string) Appender {
	return &sqlAppender{destination: destination}
}

// Append takes a per-aggregate advisory lock (pg_advisory_xact_lock, scoped
// to the transaction) so two concurrent writers to the same aggregate
// cannot both compute the same next version number, then inserts the event
// at version = max(version)+1 and enqueues one outbox row in the same
// statement batch. The advisory lock key is derived from aggregate_type and
// aggregate_id so unrelated aggregates never contend.
func (a *sqlAppender) Append(ctx context.Context, tx Executor, e Event) error {
	if e.EventID == "" {
		e.EventID = crypto.NewID()
	}

	lockKey := advisoryLockKey(string(e.AggregateType), e.AggregateID)
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKey); err != nil {
		return fmt.Errorf("eventlog: acquire aggregate lock: %w", err)
	}

	var nextVersion int64
	row := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1
		FROM events
		WHERE aggregate_type = $1 AND aggregate_id = $2
	`, e.AggregateType, e.AggregateID)
	if err := row.Scan(&nextVersion); err != nil {
		return fmt.Errorf("eventlog: compute next version: %w", err)
	}
	e.Version = nextVersion

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO events (event_id, aggregate_type, aggregate_id, version, event_type, payload, metadata, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.EventID, e.AggregateType, e.AggregateID, e.Version, e.EventType, jsonb(e.Payload), jsonb(e.Metadata), e.OccurredAt); err != nil {
		return fmt.Errorf("eventlog: insert event: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO outbox (event_id, destination, status, attempts, next_attempt_at)
		VALUES ($1, $2, 'pending', 0, NOW())
	`, e.EventID, a.destination); err != nil {
		return fmt.Errorf("eventlog: enqueue outbox row: %w", err)
	}

	return nil
}

// advisoryLockKey folds an aggregate's identity into the 64-bit key
// pg_advisory_xact_lock takes. Two different aggregates collide only if
// their FNV-1a hashes collide, which is an acceptable false-contention rate
// for a lock held for the length of one transaction.
func advisoryLockKey(aggregateType, aggregateID string) int64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for _, c := range aggregateType + ":" + aggregateID {
		h ^= uint64(c)
		h *= prime64
	}
	return int64(h)
}

// jsonb marshals m for a jsonb column, tolerating nil.
func jsonb(m map[string]interface{}) []byte {
	if m == nil {
		return []byte("{}")
	}
	b, err := json.Marshal(m)
	if err != nil {
		return []byte("{}")
	}
	return b
}

// Package outbox drains pending rows left by internal/eventlog into the
// secondary (read-side) store, idempotently keyed by event_id (spec.md
// §4.7). It generalizes the claim-then-ship, exponential-backoff pattern
// the teacher's sibling repo uses for its message-queue outbox worker to a
// direct Postgres-to-Postgres projector.
package outbox

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lanonasis/auth-gateway/internal/log"
)

const (
	batchSize   = 50 // spec.md §4.7 default claim size
	maxAttempts = 5  // after this many failures, mark failed/dead-letter (spec.md §4.7)
)

// Row is one claimed outbox entry joined with its event payload.
type Row struct {
	OutboxID      int64
	EventID       string
	AggregateType string
	AggregateID   string
	Version       int64
	EventType     string
	Payload       json.RawMessage
	Metadata      json.RawMessage
	OccurredAt    time.Time
	Attempts      int
}

// Projector applies one claimed Row to the secondary store. Implementations
// must be idempotent under event_id: applying the same row twice leaves the
// destination in the same state as applying it once.
type Projector interface {
	Apply(ctx context.Context, tx pgx.Tx, r Row) error
}

// Forwarder polls the primary store's outbox table and ships claimed rows
// to Projector, running as the outbox-drain actor in cmd/gateway-forwarder's
// oklog/run.Group.
type Forwarder struct {
	primary   *pgxpool.Pool // connection to the primary store: claims outbox rows and updates their status
	secondary *pgxpool.Pool // connection to the secondary (read-side) store
	project   Projector
	logger    log.Logger
	interval  time.Duration
}

// NewForwarder constructs a Forwarder. interval gates how often an idle
// worker polls; next_attempt_at on individual rows gates retry load beyond
// that.
func NewForwarder(primary, secondary *pgxpool.Pool, project Projector, logger log.Logger, interval time.Duration) *Forwarder {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Forwarder{primary: primary, secondary: secondary, project: project, logger: logger, interval: interval}
}

// Run polls until ctx is cancelled, satisfying oklog/run.Group's actor
// signature (a blocking function paired with an interrupt function).
func (f *Forwarder) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := f.drainBatch(ctx)
			if err != nil {
				f.logger.WithField("error", err).Warn("outbox: batch failed")
				continue
			}
			if n > 0 {
				f.logger.WithField("count", n).Debug("outbox: forwarded batch")
			}
		}
	}
}

// drainBatch claims up to batchSize pending rows with SELECT ... FOR UPDATE
// SKIP LOCKED (so multiple forwarder instances can run concurrently without
// double-shipping), ships each to the secondary store inside its own
// transaction, and updates the claim row's status accordingly.
func (f *Forwarder) drainBatch(ctx context.Context) (int, error) {
	tx, err := f.primary.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT o.id, o.event_id, e.aggregate_type, e.aggregate_id, e.version,
		       e.event_type, e.payload, e.metadata, e.occurred_at, o.attempts
		FROM outbox o
		JOIN events e ON e.event_id = o.event_id
		WHERE o.status = 'pending' AND o.next_attempt_at <= NOW()
		ORDER BY o.next_attempt_at ASC, o.id ASC
		LIMIT $1
		FOR UPDATE OF o SKIP LOCKED
	`, batchSize)
	if err != nil {
		return 0, err
	}

	var claimed []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.OutboxID, &r.EventID, &r.AggregateType, &r.AggregateID,
			&r.Version, &r.EventType, &r.Payload, &r.Metadata, &r.OccurredAt, &r.Attempts); err != nil {
			rows.Close()
			return 0, err
		}
		claimed = append(claimed, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(claimed) == 0 {
		return 0, tx.Commit(ctx)
	}

	// Push next_attempt_at forward to mark rows in-flight, then commit the
	// short claim transaction; ship outside of it.
	inFlightUntil := time.Now().Add(30 * time.Second)
	for _, r := range claimed {
		if _, err := tx.Exec(ctx, `UPDATE outbox SET next_attempt_at = $2 WHERE id = $1`, r.OutboxID, inFlightUntil); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	shipped := 0
	for _, r := range claimed {
		if err := f.ship(ctx, r); err != nil {
			f.fail(ctx, r, err)
			continue
		}
		shipped++
	}
	return shipped, nil
}

// ship applies r to the secondary store in one transaction, then marks the
// primary outbox row sent.
func (f *Forwarder) ship(ctx context.Context, r Row) error {
	stx, err := f.secondary.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = stx.Rollback(ctx) }()

	if err := f.project.Apply(ctx, stx, r); err != nil {
		return err
	}
	if err := stx.Commit(ctx); err != nil {
		return err
	}

	_, err = f.primary.Exec(ctx, `UPDATE outbox SET status = 'sent', last_error = NULL WHERE id = $1`, r.OutboxID)
	return err
}

func (f *Forwarder) fail(ctx context.Context, r Row, shipErr error) {
	attempt := r.Attempts + 1
	if attempt >= maxAttempts {
		_, _ = f.primary.Exec(ctx, `UPDATE outbox SET status = 'failed', attempts = $2, last_error = $3 WHERE id = $1`,
			r.OutboxID, attempt, shipErr.Error())
		f.logger.WithField("outbox_id", r.OutboxID).WithField("event_id", r.EventID).Error("outbox: giving up after max attempts")
		return
	}

	delay := nextRetryDelay(attempt)
	_, _ = f.primary.Exec(ctx, `
		UPDATE outbox SET attempts = $2, next_attempt_at = NOW() + $3 * interval '1 second', last_error = $4
		WHERE id = $1
	`, r.OutboxID, attempt, delay.Seconds(), shipErr.Error())
	f.logger.WithField("outbox_id", r.OutboxID).WithField("retry_in", delay).Warn("outbox: ship failed, retry scheduled")
}

// nextRetryDelay is exponential backoff (base 2s, capped at 5 min per
// spec.md §4.7) with ±20% jitter so a burst of failing rows doesn't retry
// in lockstep.
func nextRetryDelay(attempt int) time.Duration {
	sec := math.Pow(2, float64(attempt))
	if sec < 2 {
		sec = 2
	}
	if sec > 300 {
		sec = 300
	}
	d := time.Duration(sec * float64(time.Second))
	jitter := time.Duration((rand.Float64()*0.4 - 0.2) * float64(d))
	return d + jitter
}

// Package sql is the Postgres implementation of store.Store (spec.md §4.2),
// the credential store's command side. It generalizes the teacher's
// storage/sql package: a conn wrapping *sql.DB, a trans wrapping *sql.Tx,
// both implementing the same Exec/Query/QueryRow method set so the CRUD
// methods below don't care which one they're called through.
package sql

import (
	"context"
	gosql "database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/lanonasis/auth-gateway/internal/store"
)

// conn is the primary database connection.
type conn struct {
	db     *gosql.DB
	logger logrus.FieldLogger
}

// Open connects to dataSourceName, runs pending migrations, and returns a
// store.Store backed by Postgres.
func Open(dataSourceName string, logger logrus.FieldLogger) (store.Store, error) {
	db, err := gosql.Open("postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("sql: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("sql: ping: %w", err)
	}
	c := &conn{db: db, logger: logger}
	if _, err := c.migrate(); err != nil {
		return nil, fmt.Errorf("sql: migrate: %w", err)
	}
	return c, nil
}

func (c *conn) Close() error { return c.db.Close() }

func (c *conn) Exec(query string, args ...interface{}) (gosql.Result, error) {
	return c.db.Exec(query, args...)
}

func (c *conn) ExecContext(ctx context.Context, query string, args ...interface{}) (gosql.Result, error) {
	return c.db.ExecContext(ctx, query, args...)
}

func (c *conn) Query(query string, args ...interface{}) (*gosql.Rows, error) {
	return c.db.Query(query, args...)
}

func (c *conn) QueryContext(ctx context.Context, query string, args ...interface{}) (*gosql.Rows, error) {
	return c.db.QueryContext(ctx, query, args...)
}

func (c *conn) QueryRow(query string, args ...interface{}) *gosql.Row {
	return c.db.QueryRow(query, args...)
}

func (c *conn) QueryRowContext(ctx context.Context, query string, args ...interface{}) *gosql.Row {
	return c.db.QueryRowContext(ctx, query, args...)
}

// trans wraps an open *sql.Tx and additionally satisfies store.Tx so callers
// can append an event in the same transaction as a state change.
type trans struct {
	tx *gosql.Tx
	c  *conn
}

func (t *trans) Commit() error   { return t.tx.Commit() }
func (t *trans) Rollback() error { return t.tx.Rollback() }

func (t *trans) Exec(query string, args ...interface{}) (gosql.Result, error) {
	return t.tx.Exec(query, args...)
}

func (t *trans) ExecContext(ctx context.Context, query string, args ...interface{}) (gosql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

func (t *trans) Query(query string, args ...interface{}) (*gosql.Rows, error) {
	return t.tx.Query(query, args...)
}

func (t *trans) QueryContext(ctx context.Context, query string, args ...interface{}) (*gosql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

func (t *trans) QueryRow(query string, args ...interface{}) *gosql.Row {
	return t.tx.QueryRow(query, args...)
}

func (t *trans) QueryRowContext(ctx context.Context, query string, args ...interface{}) *gosql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

// WithTx runs fn inside a single serializable transaction, retrying on
// Postgres serialization failures the way the teacher's flavorPostgres does.
// Unlike the teacher's ExecTx, fn's error is never inspected for retry
// eligibility here: a serialization failure surfaces as a *pq.Error from
// Commit, which is the only place we need to check for it, since callers
// are expected to return domain errors (store.ErrConflict etc.) verbatim.
func (c *conn) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	opts := &gosql.TxOptions{Isolation: gosql.LevelSerializable}
	for {
		sqlTx, err := c.db.BeginTx(ctx, opts)
		if err != nil {
			return err
		}
		t := &trans{tx: sqlTx, c: c}

		if err := fn(ctx, t); err != nil {
			sqlTx.Rollback()
			return err
		}

		err = sqlTx.Commit()
		if err != nil {
			if isSerializationFailure(err) {
				continue
			}
			return err
		}
		return nil
	}
}

func isSerializationFailure(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code.Name() == "serialization_failure"
}

// alreadyExists reports whether err is a Postgres unique-violation, the
// signal CreateX methods translate into store.ErrAlreadyExists.
func alreadyExists(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code.Name() == "unique_violation"
}

// querier abstracts conn vs trans the way the teacher's crud.go does, so a
// lookup helper can run against either.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *gosql.Row
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (gosql.Result, error)
}

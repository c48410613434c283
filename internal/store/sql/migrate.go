package sql

import (
	gosql "database/sql"
	"fmt"
)

// migration is one forward-only schema change, applied in order and
// recorded in the migrations table, generalizing the teacher's hand-rolled
// migrate.go rather than pulling in a migration framework.
type migration struct {
	stmt string
}

var migrations = []migration{
	{stmt: `
		create table oauth_client (
			client_id text primary key,
			client_secret_hash text not null default '',
			client_type text not null,
			application_type text not null,
			require_pkce boolean not null default false,
			allowed_code_challenge_methods text[] not null default '{}',
			allowed_redirect_uris text[] not null default '{}',
			allowed_scopes text[] not null default '{}',
			default_scopes text[] not null default '{}',
			status text not null default 'active',
			created_at timestamptz not null,
			updated_at timestamptz not null
		);
	`},
	{stmt: `
		create table authorization_code (
			id text primary key,
			code_hash text not null,
			lookup_hash text not null unique,
			client_id text not null references oauth_client(client_id),
			user_id text not null,
			redirect_uri text not null,
			scope text[] not null default '{}',
			state text not null default '',
			code_challenge text not null default '',
			code_challenge_method text not null default '',
			expires_at timestamptz not null,
			consumed boolean not null default false,
			consumed_at timestamptz,
			ip_address text not null default '',
			user_agent text not null default '',
			created_at timestamptz not null
		);
	`},
	{stmt: `
		create table oauth_token (
			id text primary key,
			token_hash text not null,
			lookup_hash text not null unique,
			token_type text not null,
			client_id text not null references oauth_client(client_id),
			user_id text not null,
			scope text[] not null default '{}',
			expires_at timestamptz not null,
			revoked boolean not null default false,
			revoked_at timestamptz,
			revoked_reason text not null default '',
			parent_token_id text references oauth_token(id),
			created_at timestamptz not null
		);
	`},
	{stmt: `create index oauth_token_parent_idx on oauth_token(parent_token_id);`},
	{stmt: `
		create table device_authorization (
			id text primary key,
			device_code_hash text not null,
			device_code_lookup text not null unique,
			user_code text not null unique,
			client_id text not null references oauth_client(client_id),
			scope text[] not null default '{}',
			verification_uri text not null default '',
			interval_seconds integer not null default 5,
			expires_at timestamptz not null,
			status text not null default 'pending',
			user_id text,
			last_polled_at timestamptz,
			created_at timestamptz not null
		);
	`},
	{stmt: `
		create table api_key (
			id text primary key,
			key_hash text not null,
			lookup_hash text not null unique,
			prefix text not null,
			user_id text not null,
			organization_id text not null default '',
			name text not null default '',
			scopes text[] not null default '{}',
			expires_at timestamptz,
			is_active boolean not null default true,
			last_used_at timestamptz,
			created_at timestamptz not null
		);
	`},
	{stmt: `create index api_key_user_idx on api_key(user_id);`},
	{stmt: `
		create table user_account (
			user_id text primary key,
			email text not null unique,
			role text not null default 'user',
			provider text not null default '',
			last_sign_in_at timestamptz,
			metadata jsonb not null default '{}',
			created_at timestamptz not null,
			updated_at timestamptz not null
		);
	`},
	{stmt: `
		create table session (
			id text primary key,
			user_id text not null references user_account(user_id),
			platform text not null default '',
			ip_address text not null default '',
			user_agent text not null default '',
			created_at timestamptz not null,
			last_used_at timestamptz not null,
			expires_at timestamptz not null,
			revoked boolean not null default false
		);
	`},
	{stmt: `
		create table admin_account (
			id text primary key,
			email text not null unique,
			password_hash text not null,
			created_at timestamptz not null
		);
	`},
	{stmt: `
		create table admin_session (
			id text primary key,
			admin_id text not null references admin_account(id),
			token_hash text not null,
			lookup_hash text not null unique,
			never_expires boolean not null default true,
			created_at timestamptz not null,
			revoked_at timestamptz
		);
	`},
	{stmt: `
		create table events (
			event_id text primary key,
			aggregate_type text not null,
			aggregate_id text not null,
			version bigint not null,
			event_type text not null,
			payload jsonb not null default '{}',
			metadata jsonb not null default '{}',
			occurred_at timestamptz not null,
			unique(aggregate_type, aggregate_id, version)
		);
	`},
	{stmt: `
		create table outbox (
			outbox_id text primary key,
			event_id text not null references events(event_id),
			status text not null default 'pending',
			attempts integer not null default 0,
			next_attempt_at timestamptz not null,
			created_at timestamptz not null default now()
		);
	`},
	{stmt: `create index outbox_pending_idx on outbox(status, next_attempt_at);`},
}

func (c *conn) migrate() (int, error) {
	if _, err := c.Exec(`
		create table if not exists migrations (
			num integer not null,
			at timestamptz not null default now()
		);
	`); err != nil {
		return 0, fmt.Errorf("creating migrations table: %w", err)
	}

	applied := 0
	for {
		done := false
		err := c.WithTxRaw(func(tx *trans) error {
			var num gosql.NullInt64
			if err := tx.QueryRow(`select max(num) from migrations;`).Scan(&num); err != nil {
				return fmt.Errorf("select max migration: %w", err)
			}
			n := 0
			if num.Valid {
				n = int(num.Int64)
			}
			if n >= len(migrations) {
				done = true
				return nil
			}
			if _, err := tx.Exec(migrations[n].stmt); err != nil {
				return fmt.Errorf("migration %d: %w", n+1, err)
			}
			if _, err := tx.Exec(`insert into migrations (num) values ($1);`, n+1); err != nil {
				return fmt.Errorf("record migration %d: %w", n+1, err)
			}
			return nil
		})
		if err != nil {
			return applied, err
		}
		if done {
			return applied, nil
		}
		applied++
	}
}

// WithTxRaw runs fn in a plain (non-serializable) transaction, used only by
// migrate: schema changes run once at startup and don't need the
// serializable-retry semantics WithTx provides for request-path writes.
func (c *conn) WithTxRaw(fn func(tx *trans) error) error {
	sqlTx, err := c.db.Begin()
	if err != nil {
		return err
	}
	t := &trans{tx: sqlTx, c: c}
	if err := fn(t); err != nil {
		sqlTx.Rollback()
		return err
	}
	return sqlTx.Commit()
}

// Package sql implements vault.Store against Postgres, grounded the same
// way internal/store/sql is: a thin conn wrapping *sql.DB plus a forward-only
// migration list run once at Open.
package sql

import (
	"context"
	gosql "database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/lanonasis/auth-gateway/internal/vault"
)

type conn struct {
	db *gosql.DB
}

// Open connects to dataSourceName, pings it, and applies vault's migrations.
func Open(dataSourceName string) (vault.Store, error) {
	db, err := gosql.Open("postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("vault/sql: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("vault/sql: ping: %w", err)
	}
	c := &conn{db: db}
	if err := c.migrate(); err != nil {
		return nil, fmt.Errorf("vault/sql: migrate: %w", err)
	}
	return c, nil
}

func (c *conn) migrate() error {
	stmts := []string{
		`create table if not exists vault_migrations (num integer primary key);`,
		`create table if not exists vault_project (
			id text primary key,
			organization_id text not null,
			name text not null,
			created_at timestamptz not null,
			updated_at timestamptz not null
		);`,
		`create index if not exists vault_project_org_idx on vault_project (organization_id);`,
		`create table if not exists vault_stored_api_key (
			id text primary key,
			project_id text not null references vault_project(id) on delete cascade,
			name text not null,
			environment text not null,
			encrypted_value text not null,
			created_at timestamptz not null,
			updated_at timestamptz not null,
			unique (project_id, name, environment)
		);`,
		`create index if not exists vault_stored_api_key_project_idx on vault_stored_api_key (project_id);`,
	}
	var applied int
	if err := c.db.QueryRow(`select count(*) from vault_migrations`).Scan(&applied); err != nil {
		// first run: vault_migrations doesn't exist yet until stmts[0] runs.
		applied = 0
	}
	for i, stmt := range stmts {
		if i < applied {
			continue
		}
		tx, err := c.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i, err)
		}
		if _, err := tx.Exec(`insert into vault_migrations (num) values ($1) on conflict do nothing`, i); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func (c *conn) CreateProject(ctx context.Context, p vault.Project) error {
	_, err := c.db.ExecContext(ctx, `
		insert into vault_project (id, organization_id, name, created_at, updated_at)
		values ($1, $2, $3, $4, $5);
	`, p.ID, p.OrganizationID, p.Name, p.CreatedAt, p.UpdatedAt)
	if isUniqueViolation(err) {
		return vault.ErrAlreadyExists
	}
	return err
}

func (c *conn) GetProject(ctx context.Context, id string) (vault.Project, error) {
	var p vault.Project
	err := c.db.QueryRowContext(ctx, `
		select id, organization_id, name, created_at, updated_at from vault_project where id = $1;
	`, id).Scan(&p.ID, &p.OrganizationID, &p.Name, &p.CreatedAt, &p.UpdatedAt)
	if err == gosql.ErrNoRows {
		return p, vault.ErrNotFound
	}
	return p, err
}

// DeleteProject removes the project row; vault_stored_api_key's "on delete
// cascade" foreign key removes every StoredApiKey under it in the same
// statement (spec.md §4.5: "deleting a project cascades").
func (c *conn) DeleteProject(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `delete from vault_project where id = $1;`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return vault.ErrNotFound
	}
	return nil
}

func (c *conn) ListProjectsByOrganization(ctx context.Context, organizationID string) ([]vault.Project, error) {
	rows, err := c.db.QueryContext(ctx, `
		select id, organization_id, name, created_at, updated_at
		from vault_project where organization_id = $1 order by created_at;
	`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []vault.Project
	for rows.Next() {
		var p vault.Project
		if err := rows.Scan(&p.ID, &p.OrganizationID, &p.Name, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (c *conn) CreateStoredApiKey(ctx context.Context, k vault.StoredApiKey) error {
	_, err := c.db.ExecContext(ctx, `
		insert into vault_stored_api_key (id, project_id, name, environment, encrypted_value, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7)
		on conflict (project_id, name, environment) do update set
			encrypted_value = excluded.encrypted_value, updated_at = excluded.updated_at;
	`, k.ID, k.ProjectID, k.Name, k.Environment, k.EncryptedValue, k.CreatedAt, k.UpdatedAt)
	return err
}

func (c *conn) GetStoredApiKey(ctx context.Context, id string) (vault.StoredApiKey, error) {
	var k vault.StoredApiKey
	err := c.db.QueryRowContext(ctx, `
		select id, project_id, name, environment, encrypted_value, created_at, updated_at
		from vault_stored_api_key where id = $1;
	`, id).Scan(&k.ID, &k.ProjectID, &k.Name, &k.Environment, &k.EncryptedValue, &k.CreatedAt, &k.UpdatedAt)
	if err == gosql.ErrNoRows {
		return k, vault.ErrNotFound
	}
	return k, err
}

func (c *conn) FindStoredApiKey(ctx context.Context, projectID, name string, env vault.Environment) (vault.StoredApiKey, error) {
	var k vault.StoredApiKey
	err := c.db.QueryRowContext(ctx, `
		select id, project_id, name, environment, encrypted_value, created_at, updated_at
		from vault_stored_api_key where project_id = $1 and name = $2 and environment = $3;
	`, projectID, name, env).Scan(&k.ID, &k.ProjectID, &k.Name, &k.Environment, &k.EncryptedValue, &k.CreatedAt, &k.UpdatedAt)
	if err == gosql.ErrNoRows {
		return k, vault.ErrNotFound
	}
	return k, err
}

func (c *conn) ListStoredApiKeysByProject(ctx context.Context, projectID string) ([]vault.StoredApiKey, error) {
	rows, err := c.db.QueryContext(ctx, `
		select id, project_id, name, environment, encrypted_value, created_at, updated_at
		from vault_stored_api_key where project_id = $1 order by created_at;
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []vault.StoredApiKey
	for rows.Next() {
		var k vault.StoredApiKey
		if err := rows.Scan(&k.ID, &k.ProjectID, &k.Name, &k.Environment, &k.EncryptedValue, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (c *conn) DeleteStoredApiKey(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `delete from vault_stored_api_key where id = $1;`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return vault.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code.Name() == "unique_violation"
}

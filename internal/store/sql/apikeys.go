package sql

import (
	"context"
	gosql "database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/lanonasis/auth-gateway/internal/store"
)

func (c *conn) CreateApiKey(ctx context.Context, tx store.Tx, k store.ApiKey) error {
	_, err := tx.ExecContext(ctx, `
		insert into api_key (
			id, key_hash, lookup_hash, prefix, user_id, organization_id,
			name, scopes, expires_at, is_active, last_used_at, created_at
		) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);
	`,
		k.ID, k.KeyHash, k.LookupHash, k.Prefix, k.UserID, k.OrganizationID,
		k.Name, pq.Array(k.Scopes), k.ExpiresAt, k.IsActive, k.LastUsedAt, k.CreatedAt,
	)
	if alreadyExists(err) {
		return store.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert api_key: %w", err)
	}
	return nil
}

func scanApiKey(row interface{ Scan(...interface{}) error }) (store.ApiKey, error) {
	var k store.ApiKey
	err := row.Scan(
		&k.ID, &k.KeyHash, &k.LookupHash, &k.Prefix, &k.UserID, &k.OrganizationID,
		&k.Name, pq.Array(&k.Scopes), &k.ExpiresAt, &k.IsActive, &k.LastUsedAt, &k.CreatedAt,
	)
	return k, err
}

const selectApiKeyCols = `
	select id, key_hash, lookup_hash, prefix, user_id, organization_id,
		name, scopes, expires_at, is_active, last_used_at, created_at
	from api_key`

func (c *conn) GetApiKeyByLookupHash(ctx context.Context, lookupHash string) (store.ApiKey, error) {
	k, err := scanApiKey(c.QueryRowContext(ctx, selectApiKeyCols+` where lookup_hash = $1;`, lookupHash))
	if err != nil {
		if err == gosql.ErrNoRows {
			return k, store.ErrNotFound
		}
		return k, fmt.Errorf("select api_key: %w", err)
	}
	return k, nil
}

func (c *conn) ListApiKeysByUser(ctx context.Context, userID string) ([]store.ApiKey, error) {
	rows, err := c.QueryContext(ctx, selectApiKeyCols+` where user_id = $1 order by created_at desc;`, userID)
	if err != nil {
		return nil, fmt.Errorf("select api_key: %w", err)
	}
	defer rows.Close()

	var out []store.ApiKey
	for rows.Next() {
		k, err := scanApiKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api_key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (c *conn) UpdateApiKey(ctx context.Context, id string, updater func(store.ApiKey) (store.ApiKey, error)) error {
	return c.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		k, err := scanApiKey(tx.QueryRowContext(ctx, selectApiKeyCols+` where id = $1 for update;`, id))
		if err != nil {
			if err == gosql.ErrNoRows {
				return store.ErrNotFound
			}
			return fmt.Errorf("select api_key: %w", err)
		}
		k, err = updater(k)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			update api_key set name = $1, scopes = $2, expires_at = $3, is_active = $4
			where id = $5;
		`, k.Name, pq.Array(k.Scopes), k.ExpiresAt, k.IsActive, id)
		if err != nil {
			return fmt.Errorf("update api_key: %w", err)
		}
		return nil
	})
}

// TouchApiKeyLastUsed is fire-and-forget by contract (internal/apikey calls
// it from a detached goroutine): it logs rather than returns write errors,
// since losing a last-used timestamp update is never worth failing the
// request that's already been authorized.
func (c *conn) TouchApiKeyLastUsed(ctx context.Context, id string, at time.Time) {
	if _, err := c.ExecContext(ctx, `update api_key set last_used_at = $1 where id = $2;`, at, id); err != nil {
		c.logger.WithError(err).WithField("api_key_id", id).Warn("sql: touch api key last used failed")
	}
}

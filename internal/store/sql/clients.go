package sql

import (
	"context"
	gosql "database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/lanonasis/auth-gateway/internal/store"
)

func (c *conn) CreateClient(ctx context.Context, cl store.OAuthClient) error {
	_, err := c.ExecContext(ctx, `
		insert into oauth_client (
			client_id, client_secret_hash, client_type, application_type,
			require_pkce, allowed_code_challenge_methods, allowed_redirect_uris,
			allowed_scopes, default_scopes, status, created_at, updated_at
		) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);
	`,
		cl.ClientID, cl.ClientSecretHash, cl.ClientType, cl.ApplicationType,
		cl.RequirePKCE, pkceMethodsArray(cl.AllowedCodeChallengeMethods), pq.Array(cl.AllowedRedirectURIs),
		pq.Array(cl.AllowedScopes), pq.Array(cl.DefaultScopes), cl.Status, cl.CreatedAt, cl.UpdatedAt,
	)
	if err != nil {
		if alreadyExists(err) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("insert oauth_client: %w", err)
	}
	return nil
}

func scanClient(row interface{ Scan(...interface{}) error }) (store.OAuthClient, error) {
	var cl store.OAuthClient
	var methods []string
	err := row.Scan(
		&cl.ClientID, &cl.ClientSecretHash, &cl.ClientType, &cl.ApplicationType,
		&cl.RequirePKCE, pq.Array(&methods), pq.Array(&cl.AllowedRedirectURIs),
		pq.Array(&cl.AllowedScopes), pq.Array(&cl.DefaultScopes), &cl.Status, &cl.CreatedAt, &cl.UpdatedAt,
	)
	if err != nil {
		return cl, err
	}
	for _, m := range methods {
		cl.AllowedCodeChallengeMethods = append(cl.AllowedCodeChallengeMethods, store.PKCEMethod(m))
	}
	return cl, nil
}

const selectClientCols = `
	select client_id, client_secret_hash, client_type, application_type,
		require_pkce, allowed_code_challenge_methods, allowed_redirect_uris,
		allowed_scopes, default_scopes, status, created_at, updated_at
	from oauth_client`

func (c *conn) GetClient(ctx context.Context, clientID string) (store.OAuthClient, error) {
	cl, err := scanClient(c.QueryRowContext(ctx, selectClientCols+` where client_id = $1;`, clientID))
	if err != nil {
		if err == gosql.ErrNoRows {
			return cl, store.ErrNotFound
		}
		return cl, fmt.Errorf("select oauth_client: %w", err)
	}
	return cl, nil
}

func (c *conn) ListClients(ctx context.Context) ([]store.OAuthClient, error) {
	rows, err := c.QueryContext(ctx, selectClientCols+`;`)
	if err != nil {
		return nil, fmt.Errorf("select oauth_client: %w", err)
	}
	defer rows.Close()

	var out []store.OAuthClient
	for rows.Next() {
		cl, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan oauth_client: %w", err)
		}
		out = append(out, cl)
	}
	return out, rows.Err()
}

func (c *conn) UpdateClient(ctx context.Context, clientID string, updater func(store.OAuthClient) (store.OAuthClient, error)) error {
	return c.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		cl, err := scanClient(tx.QueryRowContext(ctx, selectClientCols+` where client_id = $1 for update;`, clientID))
		if err != nil {
			if err == gosql.ErrNoRows {
				return store.ErrNotFound
			}
			return fmt.Errorf("select oauth_client: %w", err)
		}
		cl, err = updater(cl)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			update oauth_client set
				client_secret_hash = $1, client_type = $2, application_type = $3,
				require_pkce = $4, allowed_code_challenge_methods = $5, allowed_redirect_uris = $6,
				allowed_scopes = $7, default_scopes = $8, status = $9, updated_at = $10
			where client_id = $11;
		`,
			cl.ClientSecretHash, cl.ClientType, cl.ApplicationType,
			cl.RequirePKCE, pkceMethodsArray(cl.AllowedCodeChallengeMethods), pq.Array(cl.AllowedRedirectURIs),
			pq.Array(cl.AllowedScopes), pq.Array(cl.DefaultScopes), cl.Status, cl.UpdatedAt, clientID,
		)
		if err != nil {
			return fmt.Errorf("update oauth_client: %w", err)
		}
		return nil
	})
}

func pkceMethodsArray(methods []store.PKCEMethod) pq.StringArray {
	out := make(pq.StringArray, len(methods))
	for i, m := range methods {
		out[i] = string(m)
	}
	return out
}

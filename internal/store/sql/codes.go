package sql

import (
	"context"
	gosql "database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/lanonasis/auth-gateway/internal/store"
)

func (c *conn) CreateAuthorizationCode(ctx context.Context, tx store.Tx, a store.AuthorizationCode) error {
	_, err := tx.ExecContext(ctx, `
		insert into authorization_code (
			id, code_hash, lookup_hash, client_id, user_id, redirect_uri,
			scope, state, code_challenge, code_challenge_method,
			expires_at, consumed, ip_address, user_agent, created_at
		) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15);
	`,
		a.ID, a.CodeHash, a.LookupHash, a.ClientID, a.UserID, a.RedirectURI,
		pq.Array(a.Scope), a.State, a.CodeChallenge, a.CodeChallengeMethod,
		a.ExpiresAt, a.Consumed, a.IPAddress, a.UserAgent, a.CreatedAt,
	)
	if err != nil {
		if alreadyExists(err) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("insert authorization_code: %w", err)
	}
	return nil
}

// ConsumeAuthorizationCode implements the one-shot exchange invariant: the
// row is locked, validated, and marked consumed in a single serializable
// transaction so a replayed code can never be exchanged twice even under
// concurrent requests.
func (c *conn) ConsumeAuthorizationCode(ctx context.Context, lookupHash, clientID, redirectURI string, now time.Time) (store.AuthorizationCode, error) {
	var out store.AuthorizationCode
	err := c.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var a store.AuthorizationCode
		row := tx.QueryRowContext(ctx, `
			select id, code_hash, lookup_hash, client_id, user_id, redirect_uri,
				scope, state, code_challenge, code_challenge_method,
				expires_at, consumed, ip_address, user_agent, created_at
			from authorization_code where lookup_hash = $1 for update;
		`, lookupHash)
		if err := row.Scan(
			&a.ID, &a.CodeHash, &a.LookupHash, &a.ClientID, &a.UserID, &a.RedirectURI,
			pq.Array(&a.Scope), &a.State, &a.CodeChallenge, &a.CodeChallengeMethod,
			&a.ExpiresAt, &a.Consumed, &a.IPAddress, &a.UserAgent, &a.CreatedAt,
		); err != nil {
			if err == gosql.ErrNoRows {
				return store.ErrNotFound
			}
			return fmt.Errorf("select authorization_code: %w", err)
		}

		if a.Consumed {
			return store.ErrConflict
		}
		if a.ClientID != clientID || a.RedirectURI != redirectURI || now.After(a.ExpiresAt) {
			return store.ErrNotFound
		}

		if _, err := tx.ExecContext(ctx, `update authorization_code set consumed = true, consumed_at = $1 where id = $2;`, now, a.ID); err != nil {
			return fmt.Errorf("consume authorization_code: %w", err)
		}
		a.Consumed = true
		a.ConsumedAt = &now
		out = a
		return nil
	})
	return out, err
}

package sql

import (
	"context"
	gosql "database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/lanonasis/auth-gateway/internal/store"
)

func (c *conn) CreateTokenPair(ctx context.Context, tx store.Tx, access, refresh store.Token) error {
	if err := insertToken(ctx, tx, refresh); err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	if err := insertToken(ctx, tx, access); err != nil {
		return fmt.Errorf("insert access token: %w", err)
	}
	return nil
}

func insertToken(ctx context.Context, tx store.Tx, t store.Token) error {
	_, err := tx.ExecContext(ctx, `
		insert into oauth_token (
			id, token_hash, lookup_hash, token_type, client_id, user_id,
			scope, expires_at, revoked, revoked_reason, parent_token_id, created_at
		) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);
	`,
		t.ID, t.TokenHash, t.LookupHash, t.TokenType, t.ClientID, t.UserID,
		pq.Array(t.Scope), t.ExpiresAt, t.Revoked, t.RevokedReason, t.ParentTokenID, t.CreatedAt,
	)
	if alreadyExists(err) {
		return store.ErrAlreadyExists
	}
	return err
}

func scanToken(row interface{ Scan(...interface{}) error }) (store.Token, error) {
	var t store.Token
	err := row.Scan(
		&t.ID, &t.TokenHash, &t.LookupHash, &t.TokenType, &t.ClientID, &t.UserID,
		pq.Array(&t.Scope), &t.ExpiresAt, &t.Revoked, &t.RevokedAt, &t.RevokedReason, &t.ParentTokenID, &t.CreatedAt,
	)
	return t, err
}

const selectTokenCols = `
	select id, token_hash, lookup_hash, token_type, client_id, user_id,
		scope, expires_at, revoked, revoked_at, revoked_reason, parent_token_id, created_at
	from oauth_token`

func (c *conn) GetTokenByLookupHash(ctx context.Context, lookupHash string, tokenType store.TokenType) (store.Token, error) {
	t, err := scanToken(c.QueryRowContext(ctx, selectTokenCols+` where lookup_hash = $1 and token_type = $2;`, lookupHash, tokenType))
	if err != nil {
		if err == gosql.ErrNoRows {
			return t, store.ErrNotFound
		}
		return t, fmt.Errorf("select oauth_token: %w", err)
	}
	return t, nil
}

func (c *conn) RevokeToken(ctx context.Context, tx store.Tx, id string, reason store.RevokeReason) error {
	_, err := tx.ExecContext(ctx, `
		update oauth_token set revoked = true, revoked_at = now(), revoked_reason = $1
		where id = $2 and revoked = false;
	`, reason, id)
	if err != nil {
		return fmt.Errorf("revoke oauth_token: %w", err)
	}
	return nil
}

// RevokeTokenChain walks the parent_token_id chain starting at rootID and
// revokes every descendant, used both for an ordinary token/revoke request
// (RFC 7009: revoking a refresh token invalidates its access tokens) and for
// replay-detected mass revocation (spec.md §4.2 invariant 4).
func (c *conn) RevokeTokenChain(ctx context.Context, tx store.Tx, rootID string, reason store.RevokeReason) error {
	_, err := tx.ExecContext(ctx, `
		with recursive chain(id) as (
			select id from oauth_token where id = $1
			union all
			select ot.id from oauth_token ot join chain on ot.parent_token_id = chain.id
		)
		update oauth_token set revoked = true, revoked_at = now(), revoked_reason = $2
		where id in (select id from chain) and revoked = false;
	`, rootID, reason)
	if err != nil {
		return fmt.Errorf("revoke token chain: %w", err)
	}
	return nil
}

// RotateRefreshToken revokes existingID itself with reason "rotated" and its
// descendant access tokens with reason "ancestor_rotated" (spec.md §4.2; the
// Store interface doc at store.go distinguishes the two), then inserts the
// replacement pair, all inside one serializable transaction so a concurrent
// replay of the same refresh token can't both succeed.
func (c *conn) RotateRefreshToken(ctx context.Context, existingID string, newAccess, newRefresh store.Token) (store.Token, store.Token, error) {
	var a, r store.Token
	err := c.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := c.RevokeToken(ctx, tx, existingID, store.RevokeReasonRotated); err != nil {
			return err
		}
		if err := c.revokeDescendants(ctx, tx, existingID, store.RevokeReasonAncestorRotated); err != nil {
			return err
		}
		if err := c.CreateTokenPair(ctx, tx, newAccess, newRefresh); err != nil {
			return err
		}
		a, r = newAccess, newRefresh
		return nil
	})
	return a, r, err
}

// revokeDescendants revokes every token reachable from rootID via
// parent_token_id, excluding rootID itself.
func (c *conn) revokeDescendants(ctx context.Context, tx store.Tx, rootID string, reason store.RevokeReason) error {
	_, err := tx.ExecContext(ctx, `
		with recursive chain(id) as (
			select id from oauth_token where parent_token_id = $1
			union all
			select ot.id from oauth_token ot join chain on ot.parent_token_id = chain.id
		)
		update oauth_token set revoked = true, revoked_at = now(), revoked_reason = $2
		where id in (select id from chain) and revoked = false;
	`, rootID, reason)
	if err != nil {
		return fmt.Errorf("revoke descendant tokens: %w", err)
	}
	return nil
}

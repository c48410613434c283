package sql

import (
	"context"
	gosql "database/sql"
	"encoding/json"
	"fmt"

	"github.com/lanonasis/auth-gateway/internal/store"
)

// UpsertUser inserts a new UserAccount or, if the email already exists,
// updates its role/provider/last_sign_in_at (spec.md §4.4: login bridge
// creates the user on first sign-in, refreshes it on every subsequent one).
func (c *conn) UpsertUser(ctx context.Context, tx store.Tx, u store.UserAccount) (store.UserAccount, error) {
	metadata, err := json.Marshal(u.Metadata)
	if err != nil {
		return u, fmt.Errorf("marshal user metadata: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		insert into user_account (user_id, email, role, provider, last_sign_in_at, metadata, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		on conflict (email) do update set
			role = excluded.role,
			provider = excluded.provider,
			last_sign_in_at = excluded.last_sign_in_at,
			updated_at = excluded.updated_at
		returning user_id, email, role, provider, last_sign_in_at, metadata, created_at, updated_at;
	`, u.UserID, u.Email, u.Role, u.Provider, u.LastSignInAt, metadata, u.CreatedAt, u.UpdatedAt)

	return scanUser(row)
}

func scanUser(row interface{ Scan(...interface{}) error }) (store.UserAccount, error) {
	var u store.UserAccount
	var metadata []byte
	if err := row.Scan(&u.UserID, &u.Email, &u.Role, &u.Provider, &u.LastSignInAt, &metadata, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == gosql.ErrNoRows {
			return u, store.ErrNotFound
		}
		return u, fmt.Errorf("select user_account: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &u.Metadata); err != nil {
			return u, fmt.Errorf("unmarshal user metadata: %w", err)
		}
	}
	return u, nil
}

const selectUserCols = `select user_id, email, role, provider, last_sign_in_at, metadata, created_at, updated_at from user_account`

func (c *conn) GetUser(ctx context.Context, userID string) (store.UserAccount, error) {
	return scanUser(c.QueryRowContext(ctx, selectUserCols+` where user_id = $1;`, userID))
}

func (c *conn) GetUserByEmail(ctx context.Context, email string) (store.UserAccount, error) {
	return scanUser(c.QueryRowContext(ctx, selectUserCols+` where email = $1;`, email))
}

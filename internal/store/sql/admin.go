package sql

import (
	"context"
	gosql "database/sql"
	"fmt"

	"github.com/lanonasis/auth-gateway/internal/store"
)

func (c *conn) GetAdminAccountByEmail(ctx context.Context, email string) (store.AdminAccount, error) {
	var a store.AdminAccount
	err := c.QueryRowContext(ctx, `
		select id, email, password_hash, created_at from admin_account where email = $1;
	`, email).Scan(&a.ID, &a.Email, &a.PasswordHash, &a.CreatedAt)
	if err != nil {
		if err == gosql.ErrNoRows {
			return a, store.ErrNotFound
		}
		return a, fmt.Errorf("select admin_account: %w", err)
	}
	return a, nil
}

func (c *conn) GetAdminAccount(ctx context.Context, id string) (store.AdminAccount, error) {
	var a store.AdminAccount
	err := c.QueryRowContext(ctx, `
		select id, email, password_hash, created_at from admin_account where id = $1;
	`, id).Scan(&a.ID, &a.Email, &a.PasswordHash, &a.CreatedAt)
	if err != nil {
		if err == gosql.ErrNoRows {
			return a, store.ErrNotFound
		}
		return a, fmt.Errorf("select admin_account: %w", err)
	}
	return a, nil
}

func (c *conn) UpdateAdminAccount(ctx context.Context, id string, updater func(store.AdminAccount) (store.AdminAccount, error)) error {
	return c.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var a store.AdminAccount
		err := tx.QueryRowContext(ctx, `
			select id, email, password_hash, created_at from admin_account where id = $1 for update;
		`, id).Scan(&a.ID, &a.Email, &a.PasswordHash, &a.CreatedAt)
		if err != nil {
			if err == gosql.ErrNoRows {
				return store.ErrNotFound
			}
			return fmt.Errorf("select admin_account: %w", err)
		}
		a, err = updater(a)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `update admin_account set email = $1, password_hash = $2 where id = $3;`, a.Email, a.PasswordHash, id); err != nil {
			return fmt.Errorf("update admin_account: %w", err)
		}
		return nil
	})
}

func (c *conn) CreateAdminSession(ctx context.Context, s store.AdminSession) error {
	_, err := c.ExecContext(ctx, `
		insert into admin_session (id, admin_id, token_hash, lookup_hash, never_expires, created_at, revoked_at)
		values ($1, $2, $3, $4, $5, $6, $7);
	`, s.ID, s.AdminID, s.TokenHash, s.LookupHash, s.NeverExpires, s.CreatedAt, s.RevokedAt)
	if alreadyExists(err) {
		return store.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert admin_session: %w", err)
	}
	return nil
}

func (c *conn) GetAdminSessionByLookupHash(ctx context.Context, lookupHash string) (store.AdminSession, error) {
	var s store.AdminSession
	err := c.QueryRowContext(ctx, `
		select id, admin_id, token_hash, lookup_hash, never_expires, created_at, revoked_at
		from admin_session where lookup_hash = $1;
	`, lookupHash).Scan(&s.ID, &s.AdminID, &s.TokenHash, &s.LookupHash, &s.NeverExpires, &s.CreatedAt, &s.RevokedAt)
	if err != nil {
		if err == gosql.ErrNoRows {
			return s, store.ErrNotFound
		}
		return s, fmt.Errorf("select admin_session: %w", err)
	}
	return s, nil
}

package sql

import (
	"context"
	gosql "database/sql"
	"fmt"

	"github.com/lanonasis/auth-gateway/internal/store"
)

func (c *conn) CreateSession(ctx context.Context, tx store.Tx, s store.Session) error {
	_, err := tx.ExecContext(ctx, `
		insert into session (id, user_id, platform, ip_address, user_agent, created_at, last_used_at, expires_at, revoked)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9);
	`, s.ID, s.UserID, s.Platform, s.IPAddress, s.UserAgent, s.CreatedAt, s.LastUsedAt, s.ExpiresAt, s.Revoked)
	if alreadyExists(err) {
		return store.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (c *conn) GetSession(ctx context.Context, id string) (store.Session, error) {
	var s store.Session
	err := c.QueryRowContext(ctx, `
		select id, user_id, platform, ip_address, user_agent, created_at, last_used_at, expires_at, revoked
		from session where id = $1;
	`, id).Scan(&s.ID, &s.UserID, &s.Platform, &s.IPAddress, &s.UserAgent, &s.CreatedAt, &s.LastUsedAt, &s.ExpiresAt, &s.Revoked)
	if err != nil {
		if err == gosql.ErrNoRows {
			return s, store.ErrNotFound
		}
		return s, fmt.Errorf("select session: %w", err)
	}
	return s, nil
}

func (c *conn) RevokeSession(ctx context.Context, tx store.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `update session set revoked = true where id = $1;`, id)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

package sql

import (
	"context"
	gosql "database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/lanonasis/auth-gateway/internal/store"
)

func (c *conn) CreateDeviceAuthorization(ctx context.Context, tx store.Tx, d store.DeviceAuthorization) error {
	_, err := tx.ExecContext(ctx, `
		insert into device_authorization (
			id, device_code_hash, device_code_lookup, user_code, client_id,
			scope, verification_uri, interval_seconds, expires_at, status,
			user_id, last_polled_at, created_at
		) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13);
	`,
		d.ID, d.DeviceCodeHash, d.DeviceCodeLookup, d.UserCode, d.ClientID,
		pq.Array(d.Scope), d.VerificationURI, d.IntervalSeconds, d.ExpiresAt, d.Status,
		d.UserID, d.LastPolledAt, d.CreatedAt,
	)
	if alreadyExists(err) {
		return store.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert device_authorization: %w", err)
	}
	return nil
}

func scanDevice(row interface{ Scan(...interface{}) error }) (store.DeviceAuthorization, error) {
	var d store.DeviceAuthorization
	err := row.Scan(
		&d.ID, &d.DeviceCodeHash, &d.DeviceCodeLookup, &d.UserCode, &d.ClientID,
		pq.Array(&d.Scope), &d.VerificationURI, &d.IntervalSeconds, &d.ExpiresAt, &d.Status,
		&d.UserID, &d.LastPolledAt, &d.CreatedAt,
	)
	return d, err
}

const selectDeviceCols = `
	select id, device_code_hash, device_code_lookup, user_code, client_id,
		scope, verification_uri, interval_seconds, expires_at, status,
		user_id, last_polled_at, created_at
	from device_authorization`

func (c *conn) GetDeviceAuthorizationByUserCode(ctx context.Context, userCode string) (store.DeviceAuthorization, error) {
	d, err := scanDevice(c.QueryRowContext(ctx, selectDeviceCols+` where user_code = $1;`, userCode))
	if err != nil {
		if err == gosql.ErrNoRows {
			return d, store.ErrNotFound
		}
		return d, fmt.Errorf("select device_authorization: %w", err)
	}
	return d, nil
}

func (c *conn) GetDeviceAuthorizationByDeviceLookup(ctx context.Context, lookupHash string) (store.DeviceAuthorization, error) {
	d, err := scanDevice(c.QueryRowContext(ctx, selectDeviceCols+` where device_code_lookup = $1;`, lookupHash))
	if err != nil {
		if err == gosql.ErrNoRows {
			return d, store.ErrNotFound
		}
		return d, fmt.Errorf("select device_authorization: %w", err)
	}
	return d, nil
}

func (c *conn) UpdateDeviceAuthorization(ctx context.Context, id string, updater func(store.DeviceAuthorization) (store.DeviceAuthorization, error)) error {
	return c.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		d, err := scanDevice(tx.QueryRowContext(ctx, selectDeviceCols+` where id = $1 for update;`, id))
		if err != nil {
			if err == gosql.ErrNoRows {
				return store.ErrNotFound
			}
			return fmt.Errorf("select device_authorization: %w", err)
		}
		d, err = updater(d)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			update device_authorization set
				status = $1, user_id = $2, last_polled_at = $3, interval_seconds = $4
			where id = $5;
		`, d.Status, d.UserID, d.LastPolledAt, d.IntervalSeconds, id)
		if err != nil {
			return fmt.Errorf("update device_authorization: %w", err)
		}
		return nil
	})
}

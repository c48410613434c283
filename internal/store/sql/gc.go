package sql

import (
	"context"
	"fmt"
	"time"

	"github.com/lanonasis/auth-gateway/internal/store"
)

// GarbageCollect deletes expired authorization codes, device authorizations,
// and tokens, generalizing the teacher's storage/sql gc.go from its
// auth_request/auth_code/device_request/device_token tables to this
// gateway's equivalents.
func (c *conn) GarbageCollect(ctx context.Context, now time.Time) (store.GCResult, error) {
	var result store.GCResult

	r, err := c.ExecContext(ctx, `delete from authorization_code where expires_at < $1;`, now)
	if err != nil {
		return result, fmt.Errorf("gc authorization_code: %w", err)
	}
	if n, err := r.RowsAffected(); err == nil {
		result.AuthorizationCodes = n
	}

	r, err = c.ExecContext(ctx, `delete from device_authorization where expires_at < $1;`, now)
	if err != nil {
		return result, fmt.Errorf("gc device_authorization: %w", err)
	}
	if n, err := r.RowsAffected(); err == nil {
		result.DeviceAuthorizations = n
	}

	r, err = c.ExecContext(ctx, `delete from oauth_token where expires_at < $1;`, now)
	if err != nil {
		return result, fmt.Errorf("gc oauth_token: %w", err)
	}
	if n, err := r.RowsAffected(); err == nil {
		result.ExpiredTokens = n
	}

	return result, nil
}

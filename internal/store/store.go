package store

import (
	"context"
	gosql "database/sql"
	"time"
)

// Tx is an open transaction. Callers that need to append an event in the
// same transaction as a state change (spec.md §4.7 "same database
// transaction" invariant) retrieve one via Store.WithTx and pass it through
// to both the store mutation and internal/eventlog.Append: Tx satisfies the
// narrow executor interface eventlog declares for itself, so no import of
// internal/store is needed on that side.
type Tx interface {
	// Commit and Rollback finish the transaction. Exactly one of them
	// must be called.
	Commit() error
	Rollback() error

	ExecContext(ctx context.Context, query string, args ...interface{}) (gosql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *gosql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*gosql.Rows, error)
}

// GCResult reports how many expired rows a GarbageCollect pass removed.
type GCResult struct {
	AuthorizationCodes   int64
	DeviceAuthorizations int64
	ExpiredTokens        int64
}

// Store is the credential store interface (spec.md §4.2). It generalizes
// the teacher's storage.Storage: flat, verb-named methods per aggregate,
// and function-taking Update* calls for optimistic in-place mutation.
// Implementations must support atomic compare-and-swap semantics for
// Consume/Rotate/Revoke operations.
type Store interface {
	Close() error

	// WithTx runs fn inside a single database transaction; fn's error, if
	// any, rolls the transaction back and is returned unchanged.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Clients.
	CreateClient(ctx context.Context, c OAuthClient) error
	GetClient(ctx context.Context, clientID string) (OAuthClient, error)
	UpdateClient(ctx context.Context, clientID string, updater func(OAuthClient) (OAuthClient, error)) error
	ListClients(ctx context.Context) ([]OAuthClient, error)

	// Authorization codes.
	CreateAuthorizationCode(ctx context.Context, tx Tx, c AuthorizationCode) error
	// ConsumeAuthorizationCode atomically locks the row identified by
	// lookupHash, validates it belongs to clientID and matches
	// redirectURI byte-for-byte, is unconsumed and unexpired, then marks
	// it consumed. It returns ErrConflict on replay and ErrNotFound on
	// expiry/mismatch (spec.md invariant 1).
	ConsumeAuthorizationCode(ctx context.Context, lookupHash, clientID, redirectURI string, now time.Time) (AuthorizationCode, error)

	// Tokens.
	CreateTokenPair(ctx context.Context, tx Tx, access, refresh Token) error
	GetTokenByLookupHash(ctx context.Context, lookupHash string, tokenType TokenType) (Token, error)
	RevokeToken(ctx context.Context, tx Tx, id string, reason RevokeReason) error
	// RevokeTokenChain revokes rootID and every token whose parent chain
	// (transitively) leads back to rootID, in one transaction.
	RevokeTokenChain(ctx context.Context, tx Tx, rootID string, reason RevokeReason) error
	// RotateRefreshToken revokes existing (and its descendants) with
	// reason rotated/ancestor_rotated and inserts newAccess/newRefresh,
	// all within a single transaction.
	RotateRefreshToken(ctx context.Context, existingID string, newAccess, newRefresh Token) (Token, Token, error)

	// Device authorization flow.
	CreateDeviceAuthorization(ctx context.Context, tx Tx, d DeviceAuthorization) error
	GetDeviceAuthorizationByUserCode(ctx context.Context, userCode string) (DeviceAuthorization, error)
	GetDeviceAuthorizationByDeviceLookup(ctx context.Context, lookupHash string) (DeviceAuthorization, error)
	UpdateDeviceAuthorization(ctx context.Context, id string, updater func(DeviceAuthorization) (DeviceAuthorization, error)) error

	// API keys.
	CreateApiKey(ctx context.Context, tx Tx, k ApiKey) error
	GetApiKeyByLookupHash(ctx context.Context, lookupHash string) (ApiKey, error)
	UpdateApiKey(ctx context.Context, id string, updater func(ApiKey) (ApiKey, error)) error
	ListApiKeysByUser(ctx context.Context, userID string) ([]ApiKey, error)
	TouchApiKeyLastUsed(ctx context.Context, id string, at time.Time)

	// Users.
	UpsertUser(ctx context.Context, tx Tx, u UserAccount) (UserAccount, error)
	GetUser(ctx context.Context, userID string) (UserAccount, error)
	GetUserByEmail(ctx context.Context, email string) (UserAccount, error)

	// Sessions.
	CreateSession(ctx context.Context, tx Tx, s Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	RevokeSession(ctx context.Context, tx Tx, id string) error

	// Admin.
	GetAdminAccountByEmail(ctx context.Context, email string) (AdminAccount, error)
	GetAdminAccount(ctx context.Context, id string) (AdminAccount, error)
	UpdateAdminAccount(ctx context.Context, id string, updater func(AdminAccount) (AdminAccount, error)) error
	CreateAdminSession(ctx context.Context, s AdminSession) error
	GetAdminSessionByLookupHash(ctx context.Context, lookupHash string) (AdminSession, error)

	// GarbageCollect deletes all expired authorization codes, device
	// authorizations, and tokens.
	GarbageCollect(ctx context.Context, now time.Time) (GCResult, error)
}

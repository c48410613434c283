// Package storetest provides conformance tests for store.Store
// implementations, generalizing the teacher's storage/conformance package:
// one RunTests entry point exercising every implementation identically, so
// the Postgres and in-memory backends are held to the same behavioral
// contract.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lanonasis/auth-gateway/internal/crypto"
	"github.com/lanonasis/auth-gateway/internal/store"
)

var neverExpire = time.Now().UTC().Add(100 * 365 * 24 * time.Hour)

type subTest struct {
	name string
	run  func(t *testing.T, s store.Store)
}

// RunTests runs every conformance test against a fresh store returned by
// newStore. The store is closed at the end of each subtest.
func RunTests(t *testing.T, newStore func() store.Store) {
	tests := []subTest{
		{"ClientCRUD", testClientCRUD},
		{"AuthorizationCodeLifecycle", testAuthorizationCodeLifecycle},
		{"TokenLifecycleAndRevocation", testTokenLifecycleAndRevocation},
		{"DeviceAuthorizationLifecycle", testDeviceAuthorizationLifecycle},
		{"ApiKeyCRUD", testApiKeyCRUD},
		{"UserUpsert", testUserUpsert},
		{"SessionCRUD", testSessionCRUD},
		{"GarbageCollection", testGarbageCollection},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore()
			defer s.Close()
			tc.run(t, s)
		})
	}
}

func testClientCRUD(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	c := store.OAuthClient{
		ClientID:            crypto.NewID(),
		ClientType:          store.ClientTypeConfidential,
		ApplicationType:     store.AppTypeServer,
		AllowedRedirectURIs: []string{"https://example.com/callback"},
		AllowedScopes:       []string{"read", "write"},
		DefaultScopes:       []string{"read"},
		Status:              store.ClientActive,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	require.NoError(t, s.CreateClient(ctx, c))
	require.ErrorIs(t, s.CreateClient(ctx, c), store.ErrAlreadyExists)

	got, err := s.GetClient(ctx, c.ClientID)
	require.NoError(t, err)
	require.Equal(t, c.AllowedScopes, got.AllowedScopes)

	err = s.UpdateClient(ctx, c.ClientID, func(old store.OAuthClient) (store.OAuthClient, error) {
		old.Status = store.ClientRevoked
		return old, nil
	})
	require.NoError(t, err)

	got, err = s.GetClient(ctx, c.ClientID)
	require.NoError(t, err)
	require.Equal(t, store.ClientRevoked, got.Status)

	_, err = s.GetClient(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testAuthorizationCodeLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	client := seedClient(t, s)

	code := store.AuthorizationCode{
		ID:          crypto.NewID(),
		CodeHash:    "hash",
		LookupHash:  crypto.LookupHash("hash-key", "raw-code"),
		ClientID:    client.ClientID,
		UserID:      "user-1",
		RedirectURI: "https://example.com/callback",
		Scope:       []string{"read"},
		ExpiresAt:   now.Add(5 * time.Minute),
		CreatedAt:   now,
	}
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return s.CreateAuthorizationCode(ctx, tx, code)
	}))

	consumed, err := s.ConsumeAuthorizationCode(ctx, code.LookupHash, client.ClientID, code.RedirectURI, now)
	require.NoError(t, err)
	require.True(t, consumed.Consumed)

	_, err = s.ConsumeAuthorizationCode(ctx, code.LookupHash, client.ClientID, code.RedirectURI, now)
	require.ErrorIs(t, err, store.ErrConflict, "replaying a consumed code must be rejected")

	_, err = s.ConsumeAuthorizationCode(ctx, "missing", client.ClientID, code.RedirectURI, now)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testTokenLifecycleAndRevocation(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	client := seedClient(t, s)

	refresh := store.Token{
		ID:         crypto.NewID(),
		TokenHash:  "hash",
		LookupHash: crypto.LookupHash("hash-key", "raw-refresh"),
		TokenType:  store.TokenTypeRefresh,
		ClientID:   client.ClientID,
		UserID:     "user-1",
		Scope:      []string{"read"},
		ExpiresAt:  neverExpire,
		CreatedAt:  now,
	}
	access := store.Token{
		ID:            crypto.NewID(),
		TokenHash:     crypto.LookupHash("hash-key", "raw-access"),
		LookupHash:    crypto.LookupHash("hash-key", "raw-access"),
		TokenType:     store.TokenTypeAccess,
		ClientID:      client.ClientID,
		UserID:        "user-1",
		Scope:         []string{"read"},
		ExpiresAt:     now.Add(15 * time.Minute),
		ParentTokenID: &refresh.ID,
		CreatedAt:     now,
	}
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return s.CreateTokenPair(ctx, tx, access, refresh)
	}))

	got, err := s.GetTokenByLookupHash(ctx, refresh.LookupHash, store.TokenTypeRefresh)
	require.NoError(t, err)
	require.False(t, got.Revoked)

	newAccess := access
	newAccess.ID = crypto.NewID()
	newRefresh := refresh
	newRefresh.ID = crypto.NewID()
	newRefresh.LookupHash = crypto.LookupHash("hash-key", "raw-refresh-2")

	_, _, err = s.RotateRefreshToken(ctx, refresh.ID, newAccess, newRefresh)
	require.NoError(t, err)

	oldRefresh, err := s.GetTokenByLookupHash(ctx, refresh.LookupHash, store.TokenTypeRefresh)
	require.NoError(t, err)
	require.True(t, oldRefresh.Revoked, "rotated refresh token must be revoked")

	oldAccess, err := s.GetTokenByLookupHash(ctx, access.LookupHash, store.TokenTypeAccess)
	require.NoError(t, err)
	require.True(t, oldAccess.Revoked, "revoking a refresh token must cascade to its access token")
}

func testDeviceAuthorizationLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	client := seedClient(t, s)

	d := store.DeviceAuthorization{
		ID:               crypto.NewID(),
		DeviceCodeHash:   "hash",
		DeviceCodeLookup: crypto.LookupHash("hash-key", "raw-device"),
		UserCode:         "ABCD-EFGH",
		ClientID:         client.ClientID,
		Scope:            []string{"read"},
		IntervalSeconds:  5,
		ExpiresAt:        now.Add(10 * time.Minute),
		Status:           store.DeviceStatusPending,
		CreatedAt:        now,
	}
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return s.CreateDeviceAuthorization(ctx, tx, d)
	}))

	byUserCode, err := s.GetDeviceAuthorizationByUserCode(ctx, d.UserCode)
	require.NoError(t, err)
	require.Equal(t, store.DeviceStatusPending, byUserCode.Status)

	userID := "user-1"
	err = s.UpdateDeviceAuthorization(ctx, d.ID, func(old store.DeviceAuthorization) (store.DeviceAuthorization, error) {
		old.Status = store.DeviceStatusApproved
		old.UserID = &userID
		return old, nil
	})
	require.NoError(t, err)

	byLookup, err := s.GetDeviceAuthorizationByDeviceLookup(ctx, d.DeviceCodeLookup)
	require.NoError(t, err)
	require.Equal(t, store.DeviceStatusApproved, byLookup.Status)
	require.Equal(t, userID, *byLookup.UserID)
}

func testApiKeyCRUD(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC()

	k := store.ApiKey{
		ID:         crypto.NewID(),
		KeyHash:    "hash",
		LookupHash: crypto.LookupHash("hash-key", "raw-key"),
		Prefix:     "lak_live_",
		UserID:     "user-1",
		Name:       "ci",
		Scopes:     []string{"read"},
		IsActive:   true,
		CreatedAt:  now,
	}
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return s.CreateApiKey(ctx, tx, k)
	}))

	got, err := s.GetApiKeyByLookupHash(ctx, k.LookupHash)
	require.NoError(t, err)
	require.True(t, got.IsActive)

	err = s.UpdateApiKey(ctx, k.ID, func(old store.ApiKey) (store.ApiKey, error) {
		old.IsActive = false
		return old, nil
	})
	require.NoError(t, err)

	got, err = s.GetApiKeyByLookupHash(ctx, k.LookupHash)
	require.NoError(t, err)
	require.False(t, got.IsActive)

	keys, err := s.ListApiKeysByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, keys, 1)

	s.TouchApiKeyLastUsed(ctx, k.ID, now)
}

func testUserUpsert(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC()

	u := store.UserAccount{
		UserID:    crypto.NewID(),
		Email:     "person@example.com",
		Role:      "user",
		CreatedAt: now,
		UpdatedAt: now,
	}
	created, err := upsertUser(ctx, s, u)
	require.NoError(t, err)
	require.Equal(t, u.Email, created.Email)

	again := u
	again.Role = "admin"
	updated, err := upsertUser(ctx, s, again)
	require.NoError(t, err)
	require.Equal(t, "admin", updated.Role, "a second upsert by email must update, not duplicate")

	byEmail, err := s.GetUserByEmail(ctx, u.Email)
	require.NoError(t, err)
	require.Equal(t, "admin", byEmail.Role)
}

func testSessionCRUD(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	u := store.UserAccount{UserID: crypto.NewID(), Email: "session-user@example.com", CreatedAt: now, UpdatedAt: now}
	_, err := upsertUser(ctx, s, u)
	require.NoError(t, err)

	sess := store.Session{
		ID:         crypto.NewID(),
		UserID:     u.UserID,
		Platform:   "web",
		CreatedAt:  now,
		LastUsedAt: now,
		ExpiresAt:  now.Add(time.Hour),
	}
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return s.CreateSession(ctx, tx, sess)
	}))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.False(t, got.Revoked)

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return s.RevokeSession(ctx, tx, sess.ID)
	}))

	got, err = s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.True(t, got.Revoked)
}

func testGarbageCollection(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	client := seedClient(t, s)

	expiredCode := store.AuthorizationCode{
		ID: crypto.NewID(), CodeHash: "h", LookupHash: crypto.NewID(),
		ClientID: client.ClientID, UserID: "u", RedirectURI: "https://example.com/callback",
		ExpiresAt: now.Add(-time.Minute), CreatedAt: now.Add(-time.Hour),
	}
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return s.CreateAuthorizationCode(ctx, tx, expiredCode)
	}))

	result, err := s.GarbageCollect(ctx, now)
	require.NoError(t, err)
	require.GreaterOrEqual(t, result.AuthorizationCodes, int64(1))

	_, err = s.ConsumeAuthorizationCode(ctx, expiredCode.LookupHash, client.ClientID, expiredCode.RedirectURI, now)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func upsertUser(ctx context.Context, s store.Store, u store.UserAccount) (store.UserAccount, error) {
	var out store.UserAccount
	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		created, err := s.UpsertUser(ctx, tx, u)
		if err != nil {
			return err
		}
		out = created
		return nil
	})
	return out, err
}

func seedClient(t *testing.T, s store.Store) store.OAuthClient {
	ctx := context.Background()
	now := time.Now().UTC()
	c := store.OAuthClient{
		ClientID:            crypto.NewID(),
		ClientType:          store.ClientTypeConfidential,
		ApplicationType:     store.AppTypeServer,
		AllowedRedirectURIs: []string{"https://example.com/callback"},
		AllowedScopes:       []string{"read"},
		DefaultScopes:       []string{"read"},
		Status:              store.ClientActive,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	require.NoError(t, s.CreateClient(ctx, c))
	return c
}

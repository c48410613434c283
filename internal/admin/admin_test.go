package admin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lanonasis/auth-gateway/internal/crypto"
	"github.com/lanonasis/auth-gateway/internal/eventlog"
	"github.com/lanonasis/auth-gateway/internal/store"
	"github.com/lanonasis/auth-gateway/internal/store/memory"
)

type fakeAppender struct{ events []eventlog.Event }

func (f *fakeAppender) Append(_ context.Context, _ eventlog.Executor, e eventlog.Event) error {
	f.events = append(f.events, e)
	return nil
}

func seedAdmin(t *testing.T, s *memory.Store, email, password string) store.AdminAccount {
	t.Helper()
	hash, err := crypto.SlowHash(password, 4) // low cost, test speed only
	require.NoError(t, err)
	a := store.AdminAccount{ID: crypto.NewID(), Email: email, PasswordHash: hash}
	s.AddAdminAccount(a)
	return a
}

func TestBypassLoginAndValidateBearer(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	seedAdmin(t, s, "root@example.com", "hunter2pass")

	svc := New(s, &fakeAppender{}, "hash-key")

	token, admin, err := svc.BypassLogin(ctx, "ROOT@example.com", "hunter2pass")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	resolved, err := svc.ValidateBearer(ctx, token)
	require.NoError(t, err)
	require.Equal(t, admin.ID, resolved.ID)

	_, _, err = svc.BypassLogin(ctx, "root@example.com", "wrong-password")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.ValidateBearer(ctx, "not-a-real-token")
	require.Error(t, err)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	admin := seedAdmin(t, s, "root@example.com", "oldpassword")
	svc := New(s, &fakeAppender{}, "hash-key")

	err := svc.ChangePassword(ctx, admin.ID, "wrong-old-password", "newpassword")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	err = svc.ChangePassword(ctx, admin.ID, "oldpassword", "newpassword")
	require.NoError(t, err)

	_, _, err = svc.BypassLogin(ctx, "root@example.com", "newpassword")
	require.NoError(t, err)
	_, _, err = svc.BypassLogin(ctx, "root@example.com", "oldpassword")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterApp(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	svc := New(s, &fakeAppender{}, "hash-key")

	result, err := svc.RegisterApp(ctx, RegisterAppRequest{
		ClientType:          store.ClientTypeConfidential,
		ApplicationType:     store.AppTypeServer,
		RequirePKCE:         true,
		AllowedRedirectURIs: []string{"https://app.example.com/callback"},
		AllowedScopes:       []string{"profile", "email"},
		DefaultScopes:       []string{"profile"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Client.ClientID)
	require.NotEmpty(t, result.ClientSecret)
	require.Equal(t, store.ClientActive, result.Client.Status)

	stored, err := s.GetClient(ctx, result.Client.ClientID)
	require.NoError(t, err)
	require.NotEqual(t, result.ClientSecret, stored.ClientSecretHash) // secret is hashed at rest

	publicResult, err := svc.RegisterApp(ctx, RegisterAppRequest{
		ClientType:          store.ClientTypePublic,
		ApplicationType:     store.AppTypeNative,
		AllowedRedirectURIs: []string{"app://callback"},
	})
	require.NoError(t, err)
	require.Empty(t, publicResult.ClientSecret)
}

func TestRegisterAppRequiresRedirectURI(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	svc := New(s, &fakeAppender{}, "hash-key")

	_, err := svc.RegisterApp(ctx, RegisterAppRequest{ClientType: store.ClientTypePublic})
	require.Error(t, err)
}

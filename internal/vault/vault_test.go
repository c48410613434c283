package vault_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lanonasis/auth-gateway/internal/vault"
	"github.com/lanonasis/auth-gateway/internal/vault/memory"
)

func testEncryptor(t *testing.T) vault.Encryptor {
	t.Helper()
	// 32 zero bytes base64-encoded, a fixed test key never used for real data.
	enc, err := vault.NewFernetEncryptor([]string{"AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="})
	require.NoError(t, err)
	return enc
}

func TestPutAndReveal(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	v := vault.New(store, testEncryptor(t))

	now := time.Now().UTC()
	require.NoError(t, store.CreateProject(ctx, vault.Project{ID: "proj1", OrganizationID: "org1", Name: "demo", CreatedAt: now, UpdatedAt: now}))

	k := vault.StoredApiKey{ID: "key1", ProjectID: "proj1", Name: "stripe", Environment: vault.EnvironmentProduction, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, v.Put(ctx, k, "sk_live_topsecret"))

	plaintext, err := v.Reveal(ctx, "proj1", "stripe", vault.EnvironmentProduction)
	require.NoError(t, err)
	require.Equal(t, "sk_live_topsecret", plaintext)

	stored, err := store.FindStoredApiKey(ctx, "proj1", "stripe", vault.EnvironmentProduction)
	require.NoError(t, err)
	require.True(t, vault.IsEncrypted(stored.EncryptedValue))
}

func TestRevealMissingKey(t *testing.T) {
	ctx := context.Background()
	v := vault.New(memory.New(), testEncryptor(t))
	_, err := v.Reveal(ctx, "proj1", "missing", vault.EnvironmentSandbox)
	require.ErrorIs(t, err, vault.ErrNotFound)
}

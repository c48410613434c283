// Package apikey implements the first-party API-key subsystem: creation,
// rotation, revocation, and the fast-hash validation path the duck-typed
// authentication middleware calls on every request carrying a key instead
// of a bearer token (spec.md §4.5). It generalizes the shape of the
// teacher pack's API-key service (one service method per lifecycle
// operation, hash-then-lookup validation, fire-and-forget last-used touch)
// to this gateway's dual-hash store.ApiKey.
package apikey

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lanonasis/auth-gateway/internal/crypto"
	"github.com/lanonasis/auth-gateway/internal/eventlog"
	"github.com/lanonasis/auth-gateway/internal/store"
)

// Prefix distinguishes a live key from a test/sandbox key at a glance, the
// same way the manifesto keys use "sk_live_"/"sk_test_" prefixes.
type Prefix string

const (
	PrefixLive Prefix = "lak_live_"
	PrefixTest Prefix = "lak_test_"
)

// Service issues and validates API keys against a credential store.
type Service struct {
	store    store.Store
	appender eventlog.Appender
	hashKey  string // HMAC key for the fast lookup hash
}

// New builds a Service. hashKey is the server-side secret mixed into every
// lookup hash; it must never be derived from the key material itself.
func New(st store.Store, appender eventlog.Appender, hashKey string) *Service {
	return &Service{store: st, appender: appender, hashKey: hashKey}
}

// Created is returned once, at creation time, with the only copy of the
// plaintext key the caller will ever see.
type Created struct {
	Key    store.ApiKey
	Secret string
}

// Create generates a new opaque key, stores only its hashes, and returns
// the plaintext exactly once.
func (s *Service) Create(ctx context.Context, userID, organizationID, name string, scopes []string, env Prefix, expiresAt *time.Time) (Created, error) {
	raw, err := crypto.NewOpaqueToken()
	if err != nil {
		return Created{}, fmt.Errorf("apikey: generate: %w", err)
	}
	secret := string(env) + raw

	slow, err := crypto.SlowHash(secret, 0)
	if err != nil {
		return Created{}, fmt.Errorf("apikey: hash: %w", err)
	}

	k := store.ApiKey{
		ID:             crypto.NewID(),
		KeyHash:        slow,
		LookupHash:     crypto.LookupHash(s.hashKey, secret),
		Prefix:         string(env),
		UserID:         userID,
		OrganizationID: organizationID,
		Name:           name,
		Scopes:         scopes,
		ExpiresAt:      expiresAt,
		IsActive:       true,
		CreatedAt:      time.Now().UTC(),
	}

	var created store.ApiKey
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := s.store.CreateApiKey(ctx, tx, k); err != nil {
			return err
		}
		created = k
		return s.appender.Append(ctx, tx, eventlog.Event{
			AggregateType: eventlog.AggregateApiKey,
			AggregateID:   k.ID,
			EventType:     eventlog.EventApiKeyCreated,
			Payload:       map[string]interface{}{"user_id": userID, "name": name, "scopes": scopes},
			OccurredAt:    k.CreatedAt,
		})
	})
	if err != nil {
		return Created{}, err
	}

	return Created{Key: created, Secret: secret}, nil
}

// Validate looks up a presented key by its fast lookup hash, verifies it
// against the slow hash, and rejects it if inactive or expired. On success
// it touches last-used asynchronously via TouchLastUsed so the request path
// never waits on that write.
func (s *Service) Validate(ctx context.Context, presented string) (store.ApiKey, error) {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return store.ApiKey{}, store.ErrNotFound
	}

	lookup := crypto.LookupHash(s.hashKey, presented)
	k, err := s.store.GetApiKeyByLookupHash(ctx, lookup)
	if err != nil {
		return store.ApiKey{}, err
	}
	if !crypto.VerifySlowHash(k.KeyHash, presented) {
		return store.ApiKey{}, store.ErrNotFound
	}
	if !k.IsActive {
		return store.ApiKey{}, fmt.Errorf("apikey: revoked: %w", store.ErrNotFound)
	}
	if k.ExpiresAt != nil && time.Now().After(*k.ExpiresAt) {
		return store.ApiKey{}, fmt.Errorf("apikey: expired: %w", store.ErrNotFound)
	}

	s.TouchLastUsed(k.ID)
	return k, nil
}

// TouchLastUsed records key usage on a detached context so a slow metadata
// write never adds latency to the request that is using the key.
func (s *Service) TouchLastUsed(id string) {
	go s.store.TouchApiKeyLastUsed(context.Background(), id, time.Now().UTC())
}

// Revoke deactivates a key and appends an ApiKeyRevoked event.
func (s *Service) Revoke(ctx context.Context, id string) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := s.store.UpdateApiKey(ctx, id, func(k store.ApiKey) (store.ApiKey, error) {
			k.IsActive = false
			return k, nil
		}); err != nil {
			return err
		}
		return s.appender.Append(ctx, tx, eventlog.Event{
			AggregateType: eventlog.AggregateApiKey,
			AggregateID:   id,
			EventType:     eventlog.EventApiKeyRevoked,
			OccurredAt:    time.Now().UTC(),
		})
	})
}

// Rotate revokes old and creates a replacement with the same scopes, name,
// and ownership, returning the new plaintext secret. Callers look old up
// themselves (e.g. via ListApiKeysByUser) before calling Rotate.
func (s *Service) Rotate(ctx context.Context, old store.ApiKey) (Created, error) {
	if err := s.Revoke(ctx, old.ID); err != nil {
		return Created{}, err
	}
	env := Prefix(old.Prefix)
	created, err := s.Create(ctx, old.UserID, old.OrganizationID, old.Name, old.Scopes, env, old.ExpiresAt)
	if err != nil {
		return Created{}, err
	}
	if err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return s.appender.Append(ctx, tx, eventlog.Event{
			AggregateType: eventlog.AggregateApiKey,
			AggregateID:   created.Key.ID,
			EventType:     eventlog.EventApiKeyRotated,
			Payload:       map[string]interface{}{"replaces": old.ID},
			OccurredAt:    time.Now().UTC(),
		})
	}); err != nil {
		return Created{}, err
	}
	return created, nil
}

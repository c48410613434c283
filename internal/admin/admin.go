// Package admin implements the self-contained bypass path (spec.md §4.8):
// bypass-login, change-password, register-app against only the credential
// store's admin tables, so it keeps working with IdentityProvider and the
// outbox destination both offline. It generalizes the teacher's
// server/firstauth.go bootstrap-account flow (bcrypt password hashing via
// golang.org/x/crypto/bcrypt, already a teacher dependency) and
// server/client_registration.go's dynamic client registration
// (client_id/client_secret issuance) to this gateway's admin/OAuthClient
// types.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lanonasis/auth-gateway/internal/apierr"
	"github.com/lanonasis/auth-gateway/internal/crypto"
	"github.com/lanonasis/auth-gateway/internal/eventlog"
	"github.com/lanonasis/auth-gateway/internal/store"
)

// ErrInvalidCredentials is returned by BypassLogin on a bad email/password.
var ErrInvalidCredentials = errors.New("admin: invalid credentials")

// Service implements the three bypass endpoints against a credential store.
type Service struct {
	store    store.Store
	appender eventlog.Appender
	hashKey  string // HMAC key for AdminSession's fast lookup hash
	clock    func() time.Time
}

// New builds a Service. hashKey must be the same server-side secret used
// for every other lookup hash in the gateway (tokens, api keys) unless the
// operator deliberately wants bypass sessions keyed separately.
func New(st store.Store, appender eventlog.Appender, hashKey string) *Service {
	return &Service{store: st, appender: appender, hashKey: hashKey, clock: time.Now}
}

// BypassLogin verifies email/password against AdminAccount and issues a
// never-expiring bearer token, recorded as an AdminSession row (spec.md
// §4.8: "on success returns a token whose Session has never_expires=true").
func (s *Service) BypassLogin(ctx context.Context, email, password string) (string, store.AdminAccount, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	admin, err := s.store.GetAdminAccountByEmail(ctx, email)
	if err != nil {
		return "", store.AdminAccount{}, ErrInvalidCredentials
	}
	if !crypto.VerifySlowHash(admin.PasswordHash, password) {
		return "", store.AdminAccount{}, ErrInvalidCredentials
	}

	raw, err := crypto.NewOpaqueToken()
	if err != nil {
		return "", store.AdminAccount{}, fmt.Errorf("admin: generate session token: %w", err)
	}

	now := s.clock()
	sess := store.AdminSession{
		ID:           crypto.NewID(),
		AdminID:      admin.ID,
		TokenHash:    mustSlowHash(raw),
		LookupHash:   crypto.LookupHash(s.hashKey, raw),
		NeverExpires: true,
		CreatedAt:    now,
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := s.store.CreateAdminSession(ctx, sess); err != nil {
			return err
		}
		return s.appender.Append(ctx, tx, eventlog.Event{
			AggregateType: eventlog.AggregateAdmin,
			AggregateID:   admin.ID,
			EventType:     eventlog.EventAdminBypassLogin,
			OccurredAt:    now,
		})
	})
	if err != nil {
		return "", store.AdminAccount{}, fmt.Errorf("admin: persist session: %w", err)
	}

	return raw, admin, nil
}

// ValidateBearer resolves a presented admin bearer token to its AdminAccount,
// the way internal/authn resolves a first-party session JWT or an API key.
// Callers gate /admin/change-password and /admin/register-app on this.
func (s *Service) ValidateBearer(ctx context.Context, presented string) (store.AdminAccount, error) {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return store.AdminAccount{}, store.ErrNotFound
	}

	lookup := crypto.LookupHash(s.hashKey, presented)
	sess, err := s.store.GetAdminSessionByLookupHash(ctx, lookup)
	if err != nil {
		return store.AdminAccount{}, err
	}
	if !crypto.VerifySlowHash(sess.TokenHash, presented) {
		return store.AdminAccount{}, store.ErrNotFound
	}
	if sess.RevokedAt != nil {
		return store.AdminAccount{}, fmt.Errorf("admin: session revoked: %w", store.ErrNotFound)
	}

	return s.store.GetAdminAccount(ctx, sess.AdminID)
}

// ChangePassword rotates the caller's password. It requires the admin
// bearer to have already been validated by ValidateBearer; callers pass the
// resolved AdminAccount.ID as adminID (spec.md §4.8: "requires the admin
// bearer").
func (s *Service) ChangePassword(ctx context.Context, adminID, oldPassword, newPassword string) error {
	var verified bool
	err := s.store.UpdateAdminAccount(ctx, adminID, func(a store.AdminAccount) (store.AdminAccount, error) {
		if !crypto.VerifySlowHash(a.PasswordHash, oldPassword) {
			return a, ErrInvalidCredentials
		}
		verified = true
		newHash, err := crypto.SlowHash(newPassword, 0)
		if err != nil {
			return a, fmt.Errorf("admin: hash new password: %w", err)
		}
		a.PasswordHash = newHash
		return a, nil
	})
	if err != nil {
		return err
	}
	if !verified {
		return ErrInvalidCredentials
	}

	return s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return s.appender.Append(ctx, tx, eventlog.Event{
			AggregateType: eventlog.AggregateAdmin,
			AggregateID:   adminID,
			EventType:     eventlog.EventAdminPasswordChanged,
			OccurredAt:    s.clock(),
		})
	})
}

// RegisterAppRequest is the parsed body of POST /admin/register-app.
type RegisterAppRequest struct {
	ClientID            string                `json:"client_id"`
	ClientType          store.ClientType      `json:"client_type"`
	ApplicationType     store.ApplicationType `json:"application_type"`
	RequirePKCE         bool                  `json:"require_pkce"`
	AllowedRedirectURIs []string              `json:"allowed_redirect_uris"`
	AllowedScopes       []string              `json:"allowed_scopes"`
	DefaultScopes       []string              `json:"default_scopes"`
}

// RegisteredApp is returned once, carrying the one-shot client secret for
// confidential clients (spec.md §4.8: "returns client_id and (for
// confidential clients) a one-shot client_secret").
type RegisteredApp struct {
	Client       store.OAuthClient
	ClientSecret string // empty for public clients
}

// RegisterApp creates an OAuthClient, generating client_id when unset and a
// client_secret for confidential clients.
func (s *Service) RegisterApp(ctx context.Context, req RegisterAppRequest) (RegisteredApp, error) {
	if len(req.AllowedRedirectURIs) == 0 {
		return RegisteredApp{}, apierr.NewDisplayed(400, "at least one redirect_uri is required")
	}
	if req.ClientType != store.ClientTypePublic && req.ClientType != store.ClientTypeConfidential {
		return RegisteredApp{}, apierr.NewDisplayed(400, "client_type must be public or confidential")
	}

	clientID := req.ClientID
	if clientID == "" {
		clientID = crypto.NewID()
	}

	var secret string
	c := store.OAuthClient{
		ClientID:                    clientID,
		ClientType:                  req.ClientType,
		ApplicationType:             req.ApplicationType,
		RequirePKCE:                 req.RequirePKCE,
		AllowedCodeChallengeMethods: []store.PKCEMethod{store.PKCEMethodS256},
		AllowedRedirectURIs:         req.AllowedRedirectURIs,
		AllowedScopes:               req.AllowedScopes,
		DefaultScopes:               req.DefaultScopes,
		Status:                      store.ClientActive,
		CreatedAt:                   s.clock(),
		UpdatedAt:                   s.clock(),
	}

	if c.ClientType == store.ClientTypeConfidential {
		raw, err := crypto.NewOpaqueToken()
		if err != nil {
			return RegisteredApp{}, fmt.Errorf("admin: generate client secret: %w", err)
		}
		secret = raw
		hash, err := crypto.SlowHash(raw, 0)
		if err != nil {
			return RegisteredApp{}, fmt.Errorf("admin: hash client secret: %w", err)
		}
		c.ClientSecretHash = hash
	}

	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := s.store.CreateClient(ctx, c); err != nil {
			return err
		}
		return s.appender.Append(ctx, tx, eventlog.Event{
			AggregateType: eventlog.AggregateOAuthClient,
			AggregateID:   c.ClientID,
			EventType:     eventlog.EventOAuthClientRegistered,
			Payload:       map[string]interface{}{"client_type": string(c.ClientType), "application_type": string(c.ApplicationType)},
			OccurredAt:    c.CreatedAt,
		})
	})
	if err != nil {
		return RegisteredApp{}, fmt.Errorf("admin: persist client: %w", err)
	}

	return RegisteredApp{Client: c, ClientSecret: secret}, nil
}

func mustSlowHash(raw string) string {
	h, err := crypto.SlowHash(raw, 0)
	if err != nil {
		// bcrypt only fails on a too-long input; opaque tokens are fixed,
		// short length, so this path is unreachable in practice.
		panic(fmt.Sprintf("admin: hash opaque token: %v", err))
	}
	return h
}

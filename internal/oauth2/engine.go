// Package oauth2 implements the authorization code + PKCE grant, the RFC
// 8628 device flow, refresh rotation, revocation, and introspection
// (spec.md §4.1). It generalizes the teacher's server/oauth2.go,
// server/authorizationhandlers.go, server/tokenhandlers.go, and
// server/deviceflowhandlers.go: the same error-type split
// (apierr.RedirectError vs apierr.APIError), the same opaque-token-plus-hash
// credential shape, restructured around this gateway's store.Store instead
// of an identity-provider-backed connector model.
package oauth2

import (
	"context"
	"time"

	"github.com/lanonasis/auth-gateway/internal/apierr"
	"github.com/lanonasis/auth-gateway/internal/crypto"
	"github.com/lanonasis/auth-gateway/internal/eventlog"
	"github.com/lanonasis/auth-gateway/internal/log"
	"github.com/lanonasis/auth-gateway/internal/store"
)

// TTLs configures every time-to-live the engine issues, all overridable by
// config (spec.md §6).
type TTLs struct {
	AuthCode     time.Duration
	AccessToken  time.Duration
	RefreshToken time.Duration
	DeviceCode   time.Duration
}

// DefaultTTLs matches spec.md §6's defaults.
func DefaultTTLs() TTLs {
	return TTLs{
		AuthCode:     300 * time.Second,
		AccessToken:  900 * time.Second,
		RefreshToken: 30 * 24 * time.Hour,
		DeviceCode:   900 * time.Second,
	}
}

// Config carries the policy knobs spec.md §6 lists alongside TTLs.
type Config struct {
	TTLs
	RequirePKCE           bool
	AllowPlainPKCE        bool
	EnforceStateParameter bool
	// HashKey seeds the fast lookup hash (internal/crypto.LookupHash) used
	// to index slow-hashed authorization codes and refresh tokens.
	HashKey string
	// DevicePollIntervalDelta is added to a device authorization's
	// interval_seconds each time a client polls faster than allowed.
	DevicePollIntervalDelta int
}

// Engine is the OAuth protocol state machine.
type Engine struct {
	store    store.Store
	appender eventlog.Appender
	cfg      Config
	logger   log.Logger
	clock    func() time.Time
}

// New builds an Engine.
func New(st store.Store, appender eventlog.Appender, cfg Config, logger log.Logger) *Engine {
	return &Engine{store: st, appender: appender, cfg: cfg, logger: logger, clock: time.Now}
}

// AuthorizeRequest is the parsed form of a GET /oauth/authorize request.
type AuthorizeRequest struct {
	ClientID            string
	ResponseType        string
	RedirectURI         string
	Scope               []string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	UserID              string // resolved by the session bridge before calling Authorize
	IPAddress           string
	UserAgent           string
}

// AuthorizeResult carries the redirect target for a successful (or
// protocol-level-failed-but-redirectable) authorize request.
type AuthorizeResult struct {
	RedirectURI string
	Code        string
	State       string
}

// Authorize implements spec.md §4.1's GET /oauth/authorize state machine.
// Steps that cannot trust redirect_uri yet return a *apierr.DisplayedError;
// once the redirect_uri has been validated, failures return
// *apierr.RedirectError so the caller can 303 back to the client.
func (e *Engine) Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResult, error) {
	if req.ResponseType != "code" {
		return nil, apierr.NewDisplayed(400, "unsupported response_type %q", req.ResponseType)
	}
	if req.ClientID == "" || req.RedirectURI == "" {
		return nil, apierr.NewDisplayed(400, "client_id and redirect_uri are required")
	}

	client, err := e.store.GetClient(ctx, req.ClientID)
	if err != nil {
		return nil, apierr.NewDisplayed(400, "unknown client")
	}
	if client.Status != store.ClientActive {
		return nil, apierr.NewDisplayed(400, "client is not active")
	}

	if !containsExact(client.AllowedRedirectURIs, req.RedirectURI) {
		return nil, apierr.NewDisplayed(400, "redirect_uri is not registered for this client")
	}

	// From here on redirect_uri is trusted: failures go back to the client.
	fail := func(code, desc string) error {
		return &apierr.RedirectError{RedirectURI: req.RedirectURI, State: req.State, Type: code, Description: desc}
	}

	if e.cfg.EnforceStateParameter && req.State == "" {
		return nil, fail(apierr.InvalidRequest, "state is required")
	}

	method := store.PKCEMethod(req.CodeChallengeMethod)
	if method == "" {
		method = store.PKCEMethodS256
	}
	if !containsMethod(client.AllowedCodeChallengeMethods, method) {
		return nil, fail(apierr.InvalidRequest, "code_challenge_method not permitted for this client")
	}
	if method == store.PKCEMethodPlain && !e.cfg.AllowPlainPKCE {
		return nil, fail(apierr.InvalidRequest, "plain code_challenge_method is disabled")
	}
	if (client.RequirePKCE || e.cfg.RequirePKCE) && req.CodeChallenge == "" {
		return nil, fail(apierr.InvalidRequest, "code_challenge is required")
	}
	if req.CodeChallenge != "" && !validChallengeLength(req.CodeChallenge) {
		return nil, fail(apierr.InvalidRequest, "code_challenge must be 43-256 characters")
	}

	scopes, ok := filterScopes(client, req.Scope)
	if !ok {
		return nil, fail(apierr.InvalidScope, "requested scope exceeds client's allowed scopes")
	}

	raw, err := crypto.NewOpaqueToken()
	if err != nil {
		return nil, fail(apierr.ServerError, "failed to generate authorization code")
	}
	hash, err := crypto.SlowHash(raw, 0)
	if err != nil {
		return nil, fail(apierr.ServerError, "failed to hash authorization code")
	}

	now := e.clock()
	code := store.AuthorizationCode{
		ID:                  crypto.NewID(),
		CodeHash:             hash,
		LookupHash:           crypto.LookupHash(e.cfg.HashKey, raw),
		ClientID:             client.ClientID,
		UserID:               req.UserID,
		RedirectURI:          req.RedirectURI,
		Scope:                scopes,
		State:                req.State,
		CodeChallenge:        req.CodeChallenge,
		CodeChallengeMethod:  method,
		ExpiresAt:            now.Add(e.cfg.AuthCode),
		IPAddress:            req.IPAddress,
		UserAgent:            req.UserAgent,
		CreatedAt:            now,
	}

	if err := e.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return e.store.CreateAuthorizationCode(ctx, tx, code)
	}); err != nil {
		return nil, fail(apierr.ServerError, "failed to persist authorization code")
	}

	return &AuthorizeResult{RedirectURI: req.RedirectURI, Code: raw, State: req.State}, nil
}

func containsExact(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func containsMethod(haystack []store.PKCEMethod, needle store.PKCEMethod) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// TokenResponse is the JSON body spec.md §6 mandates for a successful
// /oauth/token call.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

func (e *Engine) issueTokenPair(ctx context.Context, tx store.Tx, clientID, userID string, scope []string) (store.Token, store.Token, string, string, error) {
	now := e.clock()

	rawAccess, err := crypto.NewOpaqueToken()
	if err != nil {
		return store.Token{}, store.Token{}, "", "", err
	}
	rawRefresh, err := crypto.NewOpaqueToken()
	if err != nil {
		return store.Token{}, store.Token{}, "", "", err
	}

	refresh := store.Token{
		ID:         crypto.NewID(),
		TokenHash:  mustSlowHash(rawRefresh),
		LookupHash: crypto.LookupHash(e.cfg.HashKey, rawRefresh),
		TokenType:  store.TokenTypeRefresh,
		ClientID:   clientID,
		UserID:     userID,
		Scope:      scope,
		ExpiresAt:  now.Add(e.cfg.RefreshToken),
		CreatedAt:  now,
	}
	access := store.Token{
		ID:            crypto.NewID(),
		TokenHash:     crypto.LookupHash(e.cfg.HashKey, rawAccess), // fast hash: verified every request
		LookupHash:    crypto.LookupHash(e.cfg.HashKey, rawAccess),
		TokenType:     store.TokenTypeAccess,
		ClientID:      clientID,
		UserID:        userID,
		Scope:         scope,
		ExpiresAt:     now.Add(e.cfg.AccessToken),
		ParentTokenID: &refresh.ID,
		CreatedAt:     now,
	}

	if err := e.store.CreateTokenPair(ctx, tx, access, refresh); err != nil {
		return store.Token{}, store.Token{}, "", "", err
	}
	return access, refresh, rawAccess, rawRefresh, nil
}

func mustSlowHash(raw string) string {
	h, err := crypto.SlowHash(raw, 0)
	if err != nil {
		panic(err) // bcrypt only fails on malformed cost, which we never pass
	}
	return h
}

func scopeString(scope []string) string {
	out := ""
	for i, s := range scope {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}

func (e *Engine) emitTokenIssued(ctx context.Context, tx store.Tx, aggregateID string, eventType eventlog.EventType, userID string) error {
	return e.appender.Append(ctx, tx, eventlog.Event{
		AggregateType: eventlog.AggregateOAuthToken,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       map[string]interface{}{"user_id": userID},
		OccurredAt:    e.clock(),
	})
}

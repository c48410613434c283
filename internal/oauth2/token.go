package oauth2

import (
	"context"
	"errors"
	"time"

	"github.com/lanonasis/auth-gateway/internal/apierr"
	"github.com/lanonasis/auth-gateway/internal/crypto"
	"github.com/lanonasis/auth-gateway/internal/eventlog"
	"github.com/lanonasis/auth-gateway/internal/store"
)

// Grant type identifiers, the values POST /oauth/token accepts in
// grant_type (spec.md §4.1).
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
)

// TokenRequest is the parsed form body of POST /oauth/token, a union of
// every grant's parameters; only the fields relevant to GrantType are read.
type TokenRequest struct {
	GrantType    string
	ClientID     string
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	DeviceCode   string
}

// Token dispatches to the grant-specific handler named by req.GrantType.
func (e *Engine) Token(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	client, err := e.store.GetClient(ctx, req.ClientID)
	if err != nil {
		return nil, apierr.New(apierr.InvalidClient, "unknown client")
	}
	if client.Status != store.ClientActive {
		return nil, apierr.New(apierr.InvalidClient, "client is not active")
	}

	switch req.GrantType {
	case GrantAuthorizationCode:
		return e.exchangeAuthorizationCode(ctx, client, req)
	case GrantRefreshToken:
		return e.exchangeRefreshToken(ctx, client, req)
	case GrantDeviceCode:
		return e.pollDeviceCode(ctx, client, req)
	default:
		return nil, apierr.New(apierr.UnsupportedGrantType, "unsupported grant_type %q", req.GrantType)
	}
}

func (e *Engine) exchangeAuthorizationCode(ctx context.Context, client store.OAuthClient, req TokenRequest) (*TokenResponse, error) {
	if req.Code == "" || req.RedirectURI == "" {
		return nil, apierr.New(apierr.InvalidRequest, "code and redirect_uri are required")
	}

	lookup := crypto.LookupHash(e.cfg.HashKey, req.Code)
	code, err := e.store.ConsumeAuthorizationCode(ctx, lookup, client.ClientID, req.RedirectURI, e.clock())
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apierr.New(apierr.InvalidGrant, "authorization code already used")
		}
		return nil, apierr.New(apierr.InvalidGrant, "authorization code is invalid or expired")
	}
	if !crypto.VerifySlowHash(code.CodeHash, req.Code) {
		return nil, apierr.New(apierr.InvalidGrant, "authorization code is invalid")
	}

	if err := verifyPKCE(code.CodeChallengeMethod, req.CodeVerifier, code.CodeChallenge); err != nil {
		return nil, apierr.New(apierr.InvalidGrant, "Invalid code_verifier")
	}

	var access, refresh store.Token
	var rawAccess, rawRefresh string
	err = e.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var terr error
		access, refresh, rawAccess, rawRefresh, terr = e.issueTokenPair(ctx, tx, client.ClientID, code.UserID, code.Scope)
		if terr != nil {
			return terr
		}
		return e.emitTokenIssued(ctx, tx, refresh.ID, eventlog.EventTokenIssued, code.UserID)
	})
	if err != nil {
		return nil, apierr.New(apierr.ServerError, "failed to issue tokens")
	}

	return &TokenResponse{
		AccessToken:  rawAccess,
		RefreshToken: rawRefresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(e.cfg.AccessToken.Seconds()),
		Scope:        scopeString(access.Scope),
	}, nil
}

func (e *Engine) exchangeRefreshToken(ctx context.Context, client store.OAuthClient, req TokenRequest) (*TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, apierr.New(apierr.InvalidRequest, "refresh_token is required")
	}

	lookup := crypto.LookupHash(e.cfg.HashKey, req.RefreshToken)
	existing, err := e.store.GetTokenByLookupHash(ctx, lookup, store.TokenTypeRefresh)
	if err != nil {
		return nil, apierr.New(apierr.InvalidGrant, "refresh token is invalid")
	}
	if !crypto.VerifySlowHash(existing.TokenHash, req.RefreshToken) {
		return nil, apierr.New(apierr.InvalidGrant, "refresh token is invalid")
	}
	if existing.ClientID != client.ClientID {
		return nil, apierr.New(apierr.InvalidGrant, "refresh token does not belong to this client")
	}

	if existing.Revoked {
		// Replay of an already-rotated token: revoke the whole chain rooted
		// at it, defense in depth (spec.md invariant 2).
		_ = e.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return e.store.RevokeTokenChain(ctx, tx, existing.ID, store.RevokeReasonReplayDetected)
		})
		return nil, apierr.New(apierr.InvalidGrant, "refresh token has already been used")
	}
	if e.clock().After(existing.ExpiresAt) {
		_ = e.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return e.store.RevokeTokenChain(ctx, tx, existing.ID, store.RevokeReasonExpired)
		})
		return nil, apierr.New(apierr.InvalidGrant, "refresh token has expired")
	}

	now := e.clock()
	rawAccess, err := crypto.NewOpaqueToken()
	if err != nil {
		return nil, apierr.New(apierr.ServerError, "failed to generate access token")
	}
	rawRefresh, err := crypto.NewOpaqueToken()
	if err != nil {
		return nil, apierr.New(apierr.ServerError, "failed to generate refresh token")
	}

	newRefresh := store.Token{
		ID:         crypto.NewID(),
		TokenHash:  mustSlowHash(rawRefresh),
		LookupHash: crypto.LookupHash(e.cfg.HashKey, rawRefresh),
		TokenType:  store.TokenTypeRefresh,
		ClientID:   client.ClientID,
		UserID:     existing.UserID,
		Scope:      existing.Scope,
		ExpiresAt:  now.Add(e.cfg.RefreshToken),
		CreatedAt:  now,
	}
	newAccess := store.Token{
		ID:            crypto.NewID(),
		TokenHash:     crypto.LookupHash(e.cfg.HashKey, rawAccess),
		LookupHash:    crypto.LookupHash(e.cfg.HashKey, rawAccess),
		TokenType:     store.TokenTypeAccess,
		ClientID:      client.ClientID,
		UserID:        existing.UserID,
		Scope:         existing.Scope,
		ExpiresAt:     now.Add(e.cfg.AccessToken),
		ParentTokenID: &newRefresh.ID,
		CreatedAt:     now,
	}

	_, _, err = e.store.RotateRefreshToken(ctx, existing.ID, newAccess, newRefresh)
	if err != nil {
		return nil, apierr.New(apierr.ServerError, "failed to rotate refresh token")
	}

	return &TokenResponse{
		AccessToken:  rawAccess,
		RefreshToken: rawRefresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(e.cfg.AccessToken.Seconds()),
		Scope:        scopeString(existing.Scope),
	}, nil
}

// DeviceAuthorizeRequest is the parsed form of POST /oauth/device.
type DeviceAuthorizeRequest struct {
	ClientID        string
	Scope           []string
	VerificationURI string
}

// DeviceAuthorizeResult is returned to the client polling device; it never
// carries the raw device_code's twin user_code secrecy concerns since
// user_code is meant to be read aloud/typed by a human.
type DeviceAuthorizeResult struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int64  `json:"expires_in"`
	Interval                int    `json:"interval"`
}

// DeviceAuthorize creates a DeviceAuthorization row and returns the
// device_code/user_code pair (spec.md §4.1 "Device Authorization").
func (e *Engine) DeviceAuthorize(ctx context.Context, req DeviceAuthorizeRequest) (*DeviceAuthorizeResult, error) {
	client, err := e.store.GetClient(ctx, req.ClientID)
	if err != nil || client.Status != store.ClientActive {
		return nil, apierr.New(apierr.InvalidClient, "unknown client")
	}

	scopes, ok := filterScopes(client, req.Scope)
	if !ok {
		return nil, apierr.New(apierr.InvalidScope, "requested scope exceeds client's allowed scopes")
	}

	rawDeviceCode, err := crypto.NewOpaqueToken()
	if err != nil {
		return nil, apierr.New(apierr.ServerError, "failed to generate device code")
	}
	userCode, err := crypto.NewUserCode()
	if err != nil {
		return nil, apierr.New(apierr.ServerError, "failed to generate user code")
	}

	const defaultInterval = 5
	now := e.clock()
	d := store.DeviceAuthorization{
		ID:               crypto.NewID(),
		DeviceCodeHash:   mustSlowHash(rawDeviceCode),
		DeviceCodeLookup: crypto.LookupHash(e.cfg.HashKey, rawDeviceCode),
		UserCode:         userCode,
		ClientID:         client.ClientID,
		Scope:            scopes,
		VerificationURI:  req.VerificationURI,
		IntervalSeconds:  defaultInterval,
		ExpiresAt:        now.Add(e.cfg.DeviceCode),
		Status:           store.DeviceStatusPending,
		CreatedAt:        now,
	}

	if err := e.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return e.store.CreateDeviceAuthorization(ctx, tx, d)
	}); err != nil {
		return nil, apierr.New(apierr.ServerError, "failed to persist device authorization")
	}

	return &DeviceAuthorizeResult{
		DeviceCode:              rawDeviceCode,
		UserCode:                userCode,
		VerificationURI:         req.VerificationURI,
		VerificationURIComplete: req.VerificationURI + "?user_code=" + userCode,
		ExpiresIn:               int64(e.cfg.DeviceCode.Seconds()),
		Interval:                defaultInterval,
	}, nil
}

// pollDeviceCode implements the polling rules spec.md §4.1 describes for
// grant_type=urn:ietf:params:oauth:grant-type:device_code.
func (e *Engine) pollDeviceCode(ctx context.Context, client store.OAuthClient, req TokenRequest) (*TokenResponse, error) {
	if req.DeviceCode == "" {
		return nil, apierr.New(apierr.InvalidRequest, "device_code is required")
	}

	lookup := crypto.LookupHash(e.cfg.HashKey, req.DeviceCode)
	d, err := e.store.GetDeviceAuthorizationByDeviceLookup(ctx, lookup)
	if err != nil {
		return nil, apierr.New(apierr.InvalidGrant, "device_code is invalid")
	}
	if d.ClientID != client.ClientID {
		return nil, apierr.New(apierr.InvalidGrant, "device_code does not belong to this client")
	}

	now := e.clock()
	if d.Status == store.DeviceStatusPending && now.After(d.ExpiresAt) {
		_ = e.store.UpdateDeviceAuthorization(ctx, d.ID, func(old store.DeviceAuthorization) (store.DeviceAuthorization, error) {
			old.Status = store.DeviceStatusExpired
			return old, nil
		})
		return nil, apierr.New(apierr.ExpiredToken, "device code has expired")
	}

	switch d.Status {
	case store.DeviceStatusDenied:
		return nil, apierr.New(apierr.AccessDenied, "user denied the authorization request")
	case store.DeviceStatusExpired:
		return nil, apierr.New(apierr.ExpiredToken, "device code has expired")
	case store.DeviceStatusPending:
		tooSoon := false
		if d.LastPolledAt != nil {
			tooSoon = now.Sub(*d.LastPolledAt) < time.Duration(d.IntervalSeconds)*time.Second
		}
		_ = e.store.UpdateDeviceAuthorization(ctx, d.ID, func(old store.DeviceAuthorization) (store.DeviceAuthorization, error) {
			t := now
			old.LastPolledAt = &t
			if tooSoon {
				old.IntervalSeconds += e.cfg.DevicePollIntervalDelta
			}
			return old, nil
		})
		if tooSoon {
			return nil, apierr.New(apierr.SlowDown, "polling too frequently")
		}
		return nil, apierr.New(apierr.AuthorizationPending, "authorization request is still pending")
	case store.DeviceStatusApproved:
		if d.UserID == nil {
			return nil, apierr.New(apierr.ServerError, "approved device authorization missing user")
		}
		var access store.Token
		var rawAccess, rawRefresh string
		err := e.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			var terr error
			access, _, rawAccess, rawRefresh, terr = e.issueTokenPair(ctx, tx, client.ClientID, *d.UserID, d.Scope)
			return terr
		})
		if err != nil {
			return nil, apierr.New(apierr.ServerError, "failed to issue tokens")
		}
		_ = e.store.UpdateDeviceAuthorization(ctx, d.ID, func(old store.DeviceAuthorization) (store.DeviceAuthorization, error) {
			old.Status = store.DeviceStatusExpired // consumed: one-shot poll success
			return old, nil
		})
		return &TokenResponse{
			AccessToken:  rawAccess,
			RefreshToken: rawRefresh,
			TokenType:    "Bearer",
			ExpiresIn:    int64(e.cfg.AccessToken.Seconds()),
			Scope:        scopeString(access.Scope),
		}, nil
	default:
		return nil, apierr.New(apierr.ServerError, "device authorization in unknown state")
	}
}

// Revoke implements POST /oauth/revoke (RFC 7009): always succeeds from the
// caller's point of view, even for an unknown token.
func (e *Engine) Revoke(ctx context.Context, rawToken, tokenTypeHint string) error {
	lookup := crypto.LookupHash(e.cfg.HashKey, rawToken)

	tryType := func(t store.TokenType) (store.Token, bool) {
		tok, err := e.store.GetTokenByLookupHash(ctx, lookup, t)
		if err != nil {
			return store.Token{}, false
		}
		return tok, true
	}

	order := []store.TokenType{store.TokenTypeAccess, store.TokenTypeRefresh}
	if tokenTypeHint == string(store.TokenTypeRefresh) {
		order = []store.TokenType{store.TokenTypeRefresh, store.TokenTypeAccess}
	}

	for _, t := range order {
		tok, ok := tryType(t)
		if !ok {
			continue
		}
		return e.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			if t == store.TokenTypeRefresh {
				return e.store.RevokeTokenChain(ctx, tx, tok.ID, store.RevokeReasonRevoked)
			}
			return e.store.RevokeToken(ctx, tx, tok.ID, store.RevokeReasonRevoked)
		})
	}
	return nil // unknown token: RFC 7009 still returns success
}

// IntrospectResult is the JSON body POST /oauth/introspect returns.
type IntrospectResult struct {
	Active   bool   `json:"active"`
	ClientID string `json:"client_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Scope    string `json:"scope,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Exp      int64  `json:"exp,omitempty"`
	Iat      int64  `json:"iat,omitempty"`
	Revoked  bool   `json:"revoked"`
}

// Introspect implements POST /oauth/introspect (spec.md §4.1): a token is
// active iff it exists, is unrevoked, and unexpired.
func (e *Engine) Introspect(ctx context.Context, rawToken string) (*IntrospectResult, error) {
	lookup := crypto.LookupHash(e.cfg.HashKey, rawToken)

	for _, t := range []store.TokenType{store.TokenTypeAccess, store.TokenTypeRefresh} {
		tok, err := e.store.GetTokenByLookupHash(ctx, lookup, t)
		if err != nil {
			continue
		}
		active := !tok.Revoked && e.clock().Before(tok.ExpiresAt)
		return &IntrospectResult{
			Active:    active,
			ClientID:  tok.ClientID,
			UserID:    tok.UserID,
			Scope:     scopeString(tok.Scope),
			TokenType: string(tok.TokenType),
			Exp:       tok.ExpiresAt.Unix(),
			Iat:       tok.CreatedAt.Unix(),
			Revoked:   tok.Revoked,
		}, nil
	}
	return &IntrospectResult{Active: false}, nil
}

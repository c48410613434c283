// Package session implements the browser login bridge that resolves the
// end-user for /oauth/authorize (spec.md §4.4): two cookies on success
// (lanonasis_session, HttpOnly signed JWT; lanonasis_user, readable JSON),
// backed by a server-side Session record. It generalizes the teacher's
// internal/remember-me handler (GetOrUnsetCookie result type, cookie
// lifecycle tied to a storage-backed session row) from its per-connector
// "active session" concept to this gateway's local UserAccount/Session
// pair. It renders no HTML login page and takes no page-rendering hook;
// cmd/gatewayd's GET /web/login handler writes its own plain response.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lanonasis/auth-gateway/internal/crypto"
	"github.com/lanonasis/auth-gateway/internal/eventlog"
	"github.com/lanonasis/auth-gateway/internal/store"
)

const (
	SessionCookieName = "lanonasis_session"
	UserCookieName    = "lanonasis_user"
)

// IdentityProvider is the external collaborator spec.md §1 names: password
// verification is delegated to it, never implemented here.
type IdentityProvider interface {
	VerifyPassword(ctx context.Context, email, password string) (verified bool, role string, err error)
}

// ErrInvalidCredentials is returned by Login on a failed password check.
var ErrInvalidCredentials = errors.New("session: invalid credentials")

// Bridge implements GET/POST /web/login and GET /web/logout.
type Bridge struct {
	store        store.Store
	appender     eventlog.Appender
	idp          IdentityProvider
	jwtSecret    []byte
	cookieDomain string
	ttl          time.Duration
	clock        func() time.Time
}

// Config carries the cross-subdomain cookie scope and session lifetime.
type Config struct {
	JWTSecret    []byte
	CookieDomain string
	TTL          time.Duration // default 7 days
}

// New builds a Bridge.
func New(st store.Store, appender eventlog.Appender, idp IdentityProvider, cfg Config) *Bridge {
	if cfg.TTL == 0 {
		cfg.TTL = 7 * 24 * time.Hour
	}
	return &Bridge{store: st, appender: appender, idp: idp, jwtSecret: cfg.JWTSecret, cookieDomain: cfg.CookieDomain, ttl: cfg.TTL, clock: time.Now}
}

// userCookiePayload is the lanonasis_user cookie's JSON body, readable by
// client-side scripts for UI convenience.
type userCookiePayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Login verifies credentials via IdentityProvider, upserts the local
// UserAccount, creates a Session record, and returns the two cookies to set
// (spec.md §4.4 POST /web/login).
func (b *Bridge) Login(ctx context.Context, email, password, platform, ipAddress, userAgent string) ([]GetOrUnsetCookie, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	verified, role, err := b.idp.VerifyPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if !verified {
		return nil, ErrInvalidCredentials
	}

	now := b.clock()
	var user store.UserAccount
	var sess store.Session
	err = b.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		u, err := b.store.UpsertUser(ctx, tx, store.UserAccount{
			UserID:       crypto.NewID(),
			Email:        email,
			Role:         role,
			Provider:     "identity_provider",
			LastSignInAt: &now,
			UpdatedAt:    now,
		})
		if err != nil {
			return err
		}
		user = u

		sess = store.Session{
			ID:         crypto.NewID(),
			UserID:     user.UserID,
			Platform:   platform,
			IPAddress:  ipAddress,
			UserAgent:  userAgent,
			CreatedAt:  now,
			LastUsedAt: now,
			ExpiresAt:  now.Add(b.ttl),
		}
		if err := b.store.CreateSession(ctx, tx, sess); err != nil {
			return err
		}

		return b.appender.Append(ctx, tx, eventlog.Event{
			AggregateType: eventlog.AggregateSession,
			AggregateID:   sess.ID,
			EventType:     eventlog.EventSessionCreated,
			Payload:       map[string]interface{}{"user_id": user.UserID, "platform": platform},
			OccurredAt:    now,
		})
	})
	if err != nil {
		return nil, err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(b.ttl)),
		},
		Email:     user.Email,
		Role:      user.Role,
		Platform:  platform,
		SessionID: sess.ID,
	})
	signed, err := token.SignedString(b.jwtSecret)
	if err != nil {
		return nil, err
	}

	userPayload, err := json.Marshal(userCookiePayload{ID: user.UserID, Email: user.Email, Role: user.Role})
	if err != nil {
		return nil, err
	}

	return []GetOrUnsetCookie{
		RequestSetCookie(http.Cookie{
			Name: SessionCookieName, Value: signed, Path: "/", Domain: b.cookieDomain,
			Expires: now.Add(b.ttl), MaxAge: int(b.ttl.Seconds()),
			Secure: true, HttpOnly: true, SameSite: http.SameSiteLaxMode,
		}),
		RequestSetCookie(http.Cookie{
			Name: UserCookieName, Value: string(userPayload), Path: "/", Domain: b.cookieDomain,
			Expires: now.Add(b.ttl), MaxAge: int(b.ttl.Seconds()),
			Secure: false, HttpOnly: false, SameSite: http.SameSiteLaxMode,
		}),
	}, nil
}

// Logout revokes the session referenced by the lanonasis_session cookie (if
// it parses and resolves to a live Session) and returns cookie-clearing
// instructions. It never fails: an already-invalid cookie is simply
// cleared.
func (b *Bridge) Logout(ctx context.Context, r *http.Request) []GetOrUnsetCookie {
	if c, err := r.Cookie(SessionCookieName); err == nil {
		if sessionID, ok := b.sessionIDFromCookie(c.Value); ok {
			_ = b.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
				if err := b.store.RevokeSession(ctx, tx, sessionID); err != nil {
					return err
				}
				return b.appender.Append(ctx, tx, eventlog.Event{
					AggregateType: eventlog.AggregateSession,
					AggregateID:   sessionID,
					EventType:     eventlog.EventSessionRevoked,
					OccurredAt:    b.clock(),
				})
			})
		}
	}
	return []GetOrUnsetCookie{
		RequestUnsetCookie(SessionCookieName, b.cookieDomain),
		RequestUnsetCookie(UserCookieName, b.cookieDomain),
	}
}

// sessionIDFromCookie extracts the sid claim from a session JWT, tolerating
// an already-expired token so logout can still revoke its session row.
func (b *Bridge) sessionIDFromCookie(raw string) (string, bool) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return b.jwtSecret, nil
	})
	if err != nil && !errors.Is(err, jwt.ErrTokenExpired) {
		return "", false
	}
	if claims.SessionID == "" {
		return "", false
	}
	return claims.SessionID, true
}

// ResolveUser verifies the lanonasis_session cookie on req, checks that the
// Session record it names exists and has not been revoked by Logout, and
// returns the authenticated user id, used by /oauth/authorize to decide
// whether to proceed or redirect to login (spec.md §4.1 step 5).
func (b *Bridge) ResolveUser(r *http.Request) (userID string, ok bool) {
	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return "", false
	}
	claims := &Claims{}
	_, err = jwt.ParseWithClaims(c.Value, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return b.jwtSecret, nil
	})
	if err != nil {
		return "", false
	}
	sess, err := b.store.GetSession(r.Context(), claims.SessionID)
	if err != nil || sess.Revoked {
		return "", false
	}
	return claims.Subject, true
}

// SanitizeReturnTo restricts a return_to query value to the same
// registrable domain as authBaseURL, so login can't be used as an open
// redirect (spec.md §4.4).
func SanitizeReturnTo(returnTo, authBaseURL, fallback string) string {
	if returnTo == "" {
		return fallback
	}
	u, err := url.Parse(returnTo)
	if err != nil || u.Host == "" {
		// Relative paths are always safe; anything else without a host is
		// suspicious and falls back.
		if err == nil && u.Host == "" && strings.HasPrefix(returnTo, "/") {
			return returnTo
		}
		return fallback
	}
	base, err := url.Parse(authBaseURL)
	if err != nil {
		return fallback
	}
	if !sameRegistrableDomain(u.Host, base.Host) {
		return fallback
	}
	return returnTo
}

// sameRegistrableDomain is a pragmatic approximation (last two labels
// match) rather than a full public-suffix-list lookup, sufficient for the
// single-organization cookie_domain scope this gateway operates under.
func sameRegistrableDomain(a, b string) bool {
	la, lb := labels(a), labels(b)
	if len(la) < 2 || len(lb) < 2 {
		return strings.EqualFold(a, b)
	}
	return strings.EqualFold(la[len(la)-2]+"."+la[len(la)-1], lb[len(lb)-2]+"."+lb[len(lb)-1])
}

func labels(host string) []string {
	host = strings.Split(host, ":")[0]
	return strings.Split(host, ".")
}

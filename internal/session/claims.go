package session

import "github.com/golang-jwt/jwt/v5"

// Claims is the lanonasis_session cookie's JWT payload (spec.md §6):
// sub, email, role, platform, iat, exp. internal/authn verifies tokens of
// this shape; internal/session issues them.
type Claims struct {
	jwt.RegisteredClaims
	Email     string `json:"email"`
	Role      string `json:"role"`
	Platform  string `json:"platform"`
	SessionID string `json:"sid"`
}

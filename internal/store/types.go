// Package store defines the credential store's data model and interface
// (spec.md §3, §4.2). It generalizes the teacher's storage.Storage
// interface shape (flat verb-named methods, function-taking Update* calls)
// to this gateway's OAuth/API-key/session entities.
package store

import "time"

// ClientType distinguishes OAuth clients that hold a secret from those
// that cannot (CLIs, SPAs, mobile, MCP integrations).
type ClientType string

const (
	ClientTypePublic       ClientType = "public"
	ClientTypeConfidential ClientType = "confidential"
)

// ApplicationType further classifies a client for scope/UX purposes.
type ApplicationType string

const (
	AppTypeWeb    ApplicationType = "web"
	AppTypeNative ApplicationType = "native"
	AppTypeCLI    ApplicationType = "cli"
	AppTypeMCP    ApplicationType = "mcp"
	AppTypeServer ApplicationType = "server"
)

// ClientStatus is the lifecycle state of an OAuthClient. Clients are never
// destroyed, only revoked.
type ClientStatus string

const (
	ClientActive   ClientStatus = "active"
	ClientInactive ClientStatus = "inactive"
	ClientRevoked  ClientStatus = "revoked"
)

// PKCEMethod is a code_challenge_method value.
type PKCEMethod string

const (
	PKCEMethodS256  PKCEMethod = "S256"
	PKCEMethodPlain PKCEMethod = "plain"
)

// OAuthClient identifies a registered application (spec.md §3).
type OAuthClient struct {
	ClientID                   string
	ClientSecretHash           string // empty for public clients
	ClientType                 ClientType
	ApplicationType            ApplicationType
	RequirePKCE                bool
	AllowedCodeChallengeMethods []PKCEMethod
	AllowedRedirectURIs        []string
	AllowedScopes              []string
	DefaultScopes              []string
	Status                     ClientStatus
	CreatedAt                  time.Time
	UpdatedAt                  time.Time
}

// AuthorizationCode is a short-lived one-time credential (spec.md §3).
type AuthorizationCode struct {
	ID                  string
	CodeHash             string // bcrypt verification hash
	LookupHash           string // fast index hash, see internal/crypto
	ClientID             string
	UserID               string
	RedirectURI          string
	Scope                []string
	State                string
	CodeChallenge        string
	CodeChallengeMethod  PKCEMethod
	ExpiresAt            time.Time
	Consumed             bool
	ConsumedAt           *time.Time
	IPAddress            string
	UserAgent            string
	CreatedAt            time.Time
}

// TokenType distinguishes access from refresh tokens.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// RevokeReason records why a token transitioned to revoked, used to
// distinguish ordinary rotation from replay-detected mass revocation.
type RevokeReason string

const (
	RevokeReasonRotated         RevokeReason = "rotated"
	RevokeReasonAncestorRotated RevokeReason = "ancestor_rotated"
	RevokeReasonReplayDetected  RevokeReason = "replay_detected"
	RevokeReasonRevoked         RevokeReason = "revoked"
	RevokeReasonExpired         RevokeReason = "expired"
)

// Token is either an access token or a refresh token (spec.md §3).
type Token struct {
	ID             string
	TokenHash      string // bcrypt hash for refresh, fast hash for access
	LookupHash     string
	TokenType      TokenType
	ClientID       string
	UserID         string
	Scope          []string
	ExpiresAt      time.Time
	Revoked        bool
	RevokedAt      *time.Time
	RevokedReason  RevokeReason
	ParentTokenID  *string
	CreatedAt      time.Time
}

// DeviceAuthorizationStatus is the device-code flow's lifecycle state.
type DeviceAuthorizationStatus string

const (
	DeviceStatusPending  DeviceAuthorizationStatus = "pending"
	DeviceStatusApproved DeviceAuthorizationStatus = "approved"
	DeviceStatusDenied   DeviceAuthorizationStatus = "denied"
	DeviceStatusExpired  DeviceAuthorizationStatus = "expired"
)

// DeviceAuthorization is RFC 8628 device-code flow state (spec.md §3).
type DeviceAuthorization struct {
	ID               string
	DeviceCodeHash   string
	DeviceCodeLookup string
	UserCode         string
	ClientID         string
	Scope            []string
	VerificationURI  string
	IntervalSeconds  int
	ExpiresAt        time.Time
	Status           DeviceAuthorizationStatus
	UserID           *string
	LastPolledAt     *time.Time
	CreatedAt        time.Time
}

// ApiKey is a long-lived first-party credential for server/machine callers
// (spec.md §3).
type ApiKey struct {
	ID             string
	KeyHash        string
	LookupHash     string
	Prefix         string
	UserID         string
	OrganizationID string
	Name           string
	Scopes         []string
	ExpiresAt      *time.Time
	IsActive       bool
	LastUsedAt     *time.Time
	CreatedAt      time.Time
}

// UserAccount is the local user registry (spec.md §3).
type UserAccount struct {
	UserID        string
	Email         string
	Role          string
	Provider      string
	LastSignInAt  *time.Time
	Metadata      map[string]string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Session is a server-side record of a browser session (spec.md §3).
type Session struct {
	ID           string
	UserID       string
	Platform     string
	IPAddress    string
	UserAgent    string
	CreatedAt    time.Time
	LastUsedAt   time.Time
	ExpiresAt    time.Time
	Revoked      bool
}

// AdminAccount is an out-of-band super-user account (spec.md §4.8).
type AdminAccount struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// AdminSession never expires by policy (NeverExpires is carried explicitly
// rather than via a far-future ExpiresAt, so callers can't accidentally
// compare it against "now" and get a false expiry).
type AdminSession struct {
	ID           string
	AdminID      string
	TokenHash    string
	LookupHash   string
	NeverExpires bool
	CreatedAt    time.Time
	RevokedAt    *time.Time
}

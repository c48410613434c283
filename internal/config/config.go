// Package config loads and validates the gateway's YAML configuration file,
// generalizing the teacher's cmd/dex/config.go: a single struct unmarshaled
// with ghodss/yaml, an os.ExpandEnv pre-pass over the raw bytes so secrets
// can be injected via environment variables, and a Validate method that
// collects every problem before returning rather than failing on the first.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the gateway's full runtime configuration.
type Config struct {
	Issuer string `json:"issuer"`

	Storage   Storage   `json:"storage"`
	Redis     Redis     `json:"redis"`
	Web       Web       `json:"web"`
	Telemetry Telemetry `json:"telemetry"`
	Session   Session   `json:"session"`
	Expiry    Expiry    `json:"expiry"`
	Admin     Admin     `json:"admin"`
	Logger    Logger    `json:"logger"`
	Vault     Vault     `json:"vault"`

	// IdentityProviderURL/IdentityProviderServiceKey configure the HTTP
	// adapter for the external password-verification collaborator
	// (spec.md §1's IdentityProvider). Left empty in deployments that want
	// the in-process fake (e.g. local development, or the admin bypass
	// path's "identity provider offline" case, spec.md §4.8).
	IdentityProviderURL        string `json:"identityProviderUrl"`
	IdentityProviderServiceKey string `json:"identityProviderServiceKey"`
}

// Storage holds the two Postgres connections the CQRS command/outbox split
// requires (spec.md §4.7): primary is the command-side database the API
// writes to, secondary is the read-side projection the outbox forwarder
// ships events into.
type Storage struct {
	PrimaryDSN   string `json:"primaryDSN"`
	SecondaryDSN string `json:"secondaryDSN"`
}

// Redis configures the rate limiter's shared counter store.
type Redis struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// Web is the gateway's public HTTP listener.
type Web struct {
	HTTP           string   `json:"http"`
	HTTPS          string   `json:"https"`
	TLSCert        string   `json:"tlsCert"`
	TLSKey         string   `json:"tlsKey"`
	AllowedOrigins []string `json:"allowedOrigins"`
}

// Telemetry is the internal metrics/health listener, kept separate from Web
// the way the teacher's cmd/dex/serve.go does (never expose /metrics on the
// public listener).
type Telemetry struct {
	HTTP string `json:"http"`
}

// Session configures the browser login-bridge cookies (spec.md §4.4).
type Session struct {
	JWTSecret    string `json:"jwtSecret"`
	CookieDomain string `json:"cookieDomain"`
	TTL          string `json:"ttl"`
}

// Expiry overrides the OAuth engine's default token lifetimes (spec.md
// §4.1's TTLs), expressed as Go duration strings the way the teacher's
// Expiry config does ("300s", "15m", "720h").
type Expiry struct {
	AuthorizationCodes string `json:"authorizationCodes"`
	AccessTokens       string `json:"accessTokens"`
	RefreshTokens      string `json:"refreshTokens"`
	DeviceCodes        string `json:"deviceCodes"`
}

// Admin describes the single out-of-band super-user account (spec.md
// §4.8). Validate requires Email; BootstrapSecret is loaded but not read
// anywhere, and no code creates the admin account from this block.
type Admin struct {
	Email            string `json:"email"`
	BootstrapSecret  string `json:"bootstrapSecret"`
}

// Logger selects structured-log verbosity and format, generalizing the
// teacher's Logger config (pkg/log, logrus-backed).
type Logger struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Vault configures encryption at rest for user-entrusted third-party API
// keys (spec.md §4.5). EncryptionKeys are base64-encoded 32-byte Fernet
// keys; the first encrypts new values, every key is tried on decrypt, so
// rotating in a new primary key never breaks reads of rows written under an
// older one.
type Vault struct {
	EncryptionKeys []string `json:"encryptionKeys"`
}

// Validate collects every configuration problem instead of stopping at the
// first, matching the teacher's check-list pattern in cmd/dex/config.go.
func (c Config) Validate() error {
	checks := []struct {
		bad    bool
		errMsg string
	}{
		{c.Issuer == "", "no issuer specified in config file"},
		{c.Storage.PrimaryDSN == "", "storage.primaryDSN is required"},
		{c.Storage.SecondaryDSN == "", "storage.secondaryDSN is required"},
		{c.Redis.Addr == "", "redis.addr is required for distributed rate limiting"},
		{c.Web.HTTP == "" && c.Web.HTTPS == "", "must supply a HTTP/HTTPS address to listen on"},
		{c.Web.HTTPS != "" && c.Web.TLSCert == "", "no cert specified for HTTPS"},
		{c.Web.HTTPS != "" && c.Web.TLSKey == "", "no private key specified for HTTPS"},
		{c.Session.JWTSecret == "", "session.jwtSecret is required"},
		{c.Session.CookieDomain == "", "session.cookieDomain is required"},
		{c.Admin.Email == "", "admin.email is required"},
		{len(c.Vault.EncryptionKeys) == 0, "vault.encryptionKeys requires at least one key"},
	}

	var errs []string
	for _, check := range checks {
		if check.bad {
			errs = append(errs, check.errMsg)
		}
	}
	if _, err := c.Expiry.parse(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) != 0 {
		return fmt.Errorf("invalid config:\n\t-\t%s", strings.Join(errs, "\n\t-\t"))
	}
	return nil
}

// parsedExpiry is Expiry's string durations parsed and defaulted.
type parsedExpiry struct {
	AuthorizationCodes time.Duration
	AccessTokens       time.Duration
	RefreshTokens      time.Duration
	DeviceCodes        time.Duration
}

func (e Expiry) parse() (parsedExpiry, error) {
	var p parsedExpiry
	fields := []struct {
		raw string
		dst *time.Duration
		def time.Duration
		name string
	}{
		{e.AuthorizationCodes, &p.AuthorizationCodes, 5 * time.Minute, "expiry.authorizationCodes"},
		{e.AccessTokens, &p.AccessTokens, 15 * time.Minute, "expiry.accessTokens"},
		{e.RefreshTokens, &p.RefreshTokens, 30 * 24 * time.Hour, "expiry.refreshTokens"},
		{e.DeviceCodes, &p.DeviceCodes, 15 * time.Minute, "expiry.deviceCodes"},
	}
	for _, f := range fields {
		if f.raw == "" {
			*f.dst = f.def
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return p, fmt.Errorf("%s: invalid duration %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return p, nil
}

// ParsedExpiry returns the Expiry block with defaults applied and durations
// parsed; callers should only call this after Validate has returned nil.
func (c Config) ParsedExpiry() parsedExpiry {
	p, _ := c.Expiry.parse()
	return p
}

// SessionTTL parses Session.TTL, defaulting to 7 days.
func (c Config) SessionTTL() (time.Duration, error) {
	if c.Session.TTL == "" {
		return 7 * 24 * time.Hour, nil
	}
	return time.ParseDuration(c.Session.TTL)
}

// ExpandEnv substitutes ${VAR}/$VAR references in raw config bytes before
// they're unmarshaled, the same "expand the raw source" approach the
// teacher's config.go takes for storage config blocks, generalized to the
// whole file so secrets (DB passwords, JWT keys) never need to sit in the
// config file itself.
func ExpandEnv(raw []byte) []byte {
	return []byte(os.ExpandEnv(string(raw)))
}

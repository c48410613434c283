package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashKind selects which verification hash family backs a credential.
// Access tokens are verified on every request (see spec.md §4.1 "Token
// generation invariants"), so they use a fast hash; authorization codes
// and refresh tokens are long-lived and exchanged rarely, so they use a
// slow password hash to raise the cost of an offline brute-force attempt
// against a leaked database.
type HashKind int

const (
	// HashFast is a keyed SHA-256, used for access tokens and for the
	// lookup-index column of slow-hashed credentials.
	HashFast HashKind = iota
	// HashSlow is bcrypt, used to verify authorization codes and refresh
	// tokens.
	HashSlow
)

// LookupHash returns a deterministic, fast, keyed digest of raw that is
// safe to use as a unique index column: two equal raw values always
// produce the same LookupHash, which lets the store find a row by hash
// even when the verification hash (bcrypt) is non-deterministic by design.
func LookupHash(key, raw string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(raw))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// SlowHash produces a bcrypt verification hash of raw. cost defaults to
// bcrypt.DefaultCost when 0.
func SlowHash(raw string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(raw), cost)
	if err != nil {
		return "", fmt.Errorf("crypto: hash credential: %w", err)
	}
	return string(h), nil
}

// VerifySlowHash reports whether raw matches the bcrypt hash produced by
// SlowHash, in constant time (bcrypt.CompareHashAndPassword already is).
func VerifySlowHash(hash, raw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw)) == nil
}

// VerifyFastHash reports whether raw hashes (under LookupHash) to the same
// value as want, comparing in constant time.
func VerifyFastHash(key, want, raw string) bool {
	got := LookupHash(key, raw)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

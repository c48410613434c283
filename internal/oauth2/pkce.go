package oauth2

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"github.com/lanonasis/auth-gateway/internal/store"
)

// verifyPKCE recomputes challenge' = method(verifier) and compares it in
// constant time to the stored challenge (spec.md §4.1 step (c)).
func verifyPKCE(method store.PKCEMethod, verifier, storedChallenge string) error {
	if len(verifier) < 43 || len(verifier) > 128 {
		return fmt.Errorf("code_verifier must be 43-128 characters")
	}

	var computed string
	switch method {
	case store.PKCEMethodPlain:
		computed = verifier
	case store.PKCEMethodS256:
		sum := sha256.Sum256([]byte(verifier))
		computed = base64.RawURLEncoding.EncodeToString(sum[:])
	default:
		return fmt.Errorf("unknown code_challenge_method %q", method)
	}

	if subtle.ConstantTimeCompare([]byte(computed), []byte(storedChallenge)) != 1 {
		return fmt.Errorf("invalid code_verifier")
	}
	return nil
}

// validChallengeLength enforces RFC 7636's 43-256 character bound on a
// presented code_challenge.
func validChallengeLength(challenge string) bool {
	return len(challenge) >= 43 && len(challenge) <= 256
}

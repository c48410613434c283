// Package vault stores third-party credentials the user entrusts to the
// service for later programmatic use (spec.md §3 StoredApiKey/Project). It
// generalizes the teacher's storage/sql field-level encryption service
// (Fernet, key rotation via a primary key plus a try-all decrypt list) from
// encrypting connector configs to encrypting StoredApiKey.encrypted_value.
package vault

import (
	"fmt"
	"strings"

	"github.com/fernet/fernet-go"
)

const encryptedPrefix = "encrypted:"

// Encryptor is the collaborator spec.md §3 delegates StoredApiKey
// encryption to; this package is one concrete implementation of it.
type Encryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// fernetEncryptor encrypts with the first configured key and attempts
// decryption with every configured key, so an old key stays readable for as
// long as it takes to re-encrypt existing rows under the new primary key.
type fernetEncryptor struct {
	primaryKey *fernet.Key
	allKeys    []*fernet.Key
}

// NewFernetEncryptor builds an Encryptor from one or more base64-encoded
// 32-byte Fernet keys. The first key is used for all new encryption; every
// key is tried, in order, when decrypting.
func NewFernetEncryptor(encodedKeys []string) (Encryptor, error) {
	if len(encodedKeys) == 0 {
		return nil, fmt.Errorf("vault: at least one encryption key required")
	}

	allKeys := make([]*fernet.Key, len(encodedKeys))
	for i, encoded := range encodedKeys {
		key, err := fernet.DecodeKey(encoded)
		if err != nil {
			return nil, fmt.Errorf("vault: invalid fernet key %d: %w", i, err)
		}
		allKeys[i] = key
	}

	return &fernetEncryptor{primaryKey: allKeys[0], allKeys: allKeys}, nil
}

// Encrypt returns a ciphertext tagged with encryptedPrefix so Decrypt (and
// any migration tooling) can tell an encrypted column value from a legacy
// plaintext one.
func (fe *fernetEncryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	token, err := fernet.EncryptAndSign([]byte(plaintext), fe.primaryKey)
	if err != nil {
		return "", fmt.Errorf("vault: encrypt: %w", err)
	}
	return encryptedPrefix + string(token), nil
}

// Decrypt reverses Encrypt. A value without the encrypted prefix is assumed
// to be pre-encryption plaintext and is returned unchanged, so enabling
// encryption never breaks reads of rows written before it was turned on.
func (fe *fernetEncryptor) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	token := strings.TrimPrefix(ciphertext, encryptedPrefix)
	if token == ciphertext {
		return ciphertext, nil
	}
	plaintext := fernet.VerifyAndDecrypt([]byte(token), 0, fe.allKeys)
	if plaintext == nil {
		return "", fmt.Errorf("vault: decrypt: invalid token or wrong key")
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether value carries the encrypted-value tag.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, encryptedPrefix)
}

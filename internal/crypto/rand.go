// Package crypto provides the gateway's token/ID generation and hashing
// primitives: CSPRNG opaque values, a fast lookup hash used to index
// credentials, and a slow verification hash used to actually authenticate
// them. It generalizes the teacher's pkg/crypto (RandBytes, AES-GCM) and
// storage.NewID/NewHMACKey helpers to this gateway's credential shapes.
package crypto

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"strings"
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	got, err := rand.Read(b)
	if err != nil {
		return nil, err
	}
	if n != got {
		return nil, errors.New("crypto: unable to generate enough random data")
	}
	return b, nil
}

// opaqueTokenBytes is 48 bytes (384 bits) of entropy, the floor spec.md
// requires for every issued code/token.
const opaqueTokenBytes = 48

// NewOpaqueToken returns a base64url-without-padding opaque value with at
// least 48 bytes of CSPRNG entropy, suitable for authorization codes,
// access tokens, refresh tokens and device codes.
func NewOpaqueToken() (string, error) {
	b, err := RandBytes(opaqueTokenBytes)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// idEncoding mirrors the teacher's storage.NewID: lowercase base32, no
// padding, with the leading byte forced into the letter range so generated
// IDs are always valid identifiers even for storages that forbid leading
// digits.
var idEncoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567")

// NewID returns a random string usable as a surrogate primary key.
func NewID() string {
	buf, err := RandBytes(16)
	if err != nil {
		panic(err)
	}
	return string(buf[0]%26+'a') + strings.TrimRight(idEncoding.EncodeToString(buf[1:]), "=")
}

// NewUserCode returns a device-flow user code of the form "ABCD-1234": 8
// characters drawn from an alphabet with ambiguous characters (0/O, 1/I,
// vowels) removed, grouped for easy manual entry.
func NewUserCode() (string, error) {
	const alphabet = "BCDFGHJKLMNPQRSTVWXZ23456789"
	b, err := RandBytes(8)
	if err != nil {
		return "", err
	}
	code := make([]byte, 8)
	for i, v := range b {
		code[i] = alphabet[int(v)%len(alphabet)]
	}
	return string(code[:4]) + "-" + string(code[4:]), nil
}

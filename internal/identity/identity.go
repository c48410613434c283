// Package identity provides the two IdentityProvider bindings this gateway
// ships (spec.md §1 names IdentityProvider itself as an external
// collaborator): an HTTP-calling adapter for the real deployment, and an
// in-process fake for tests and local development. It generalizes the
// teacher's cmd/first-auth/gRPCapi.GrpcApiDex.VerifyPassword client (one
// method, one remote call, bool+error return) to a plain HTTP call since
// this gateway's identity provider speaks REST, not gRPC.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPProvider implements session.IdentityProvider by calling a remote
// identity service's password-verification endpoint.
type HTTPProvider struct {
	baseURL    string
	serviceKey string
	client     *http.Client
}

// NewHTTPProvider builds an HTTPProvider. baseURL is the identity
// provider's root URL (identity_provider_url); serviceKey authenticates
// this gateway to it (identity_provider_service_key).
func NewHTTPProvider(baseURL, serviceKey string) *HTTPProvider {
	return &HTTPProvider{
		baseURL:    baseURL,
		serviceKey: serviceKey,
		client:     &http.Client{Timeout: 5 * time.Second},
	}
}

type verifyRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyResponse struct {
	Verified bool   `json:"verified"`
	Role     string `json:"role"`
	NotFound bool   `json:"not_found"`
}

// VerifyPassword POSTs the credential pair to the identity provider's
// verification endpoint and reports whether it accepted them.
func (p *HTTPProvider) VerifyPassword(ctx context.Context, email, password string) (bool, string, error) {
	body, err := json.Marshal(verifyRequest{Email: email, Password: password})
	if err != nil {
		return false, "", fmt.Errorf("identity: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/verify-password", bytes.NewReader(body))
	if err != nil {
		return false, "", fmt.Errorf("identity: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.serviceKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return false, "", fmt.Errorf("identity: call verify-password: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, "", fmt.Errorf("identity: verify-password returned %d", resp.StatusCode)
	}

	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, "", fmt.Errorf("identity: decode response: %w", err)
	}
	if out.NotFound {
		return false, "", nil
	}
	return out.Verified, out.Role, nil
}

// FakeProvider is an in-process IdentityProvider for tests and local
// development: a fixed map of email to password and role.
type FakeProvider struct {
	Users map[string]FakeUser
}

// FakeUser is one FakeProvider entry.
type FakeUser struct {
	Password string
	Role     string
}

// NewFakeProvider builds a FakeProvider over the given users, keyed by
// lowercased email.
func NewFakeProvider(users map[string]FakeUser) *FakeProvider {
	return &FakeProvider{Users: users}
}

// VerifyPassword checks email/password against the in-memory map.
func (p *FakeProvider) VerifyPassword(_ context.Context, email, password string) (bool, string, error) {
	u, ok := p.Users[email]
	if !ok || u.Password != password {
		return false, "", nil
	}
	return true, u.Role, nil
}

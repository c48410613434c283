package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/lanonasis/auth-gateway/internal/admin"
	"github.com/lanonasis/auth-gateway/internal/apierr"
	"github.com/lanonasis/auth-gateway/internal/apikey"
	"github.com/lanonasis/auth-gateway/internal/audit"
	"github.com/lanonasis/auth-gateway/internal/authn"
	"github.com/lanonasis/auth-gateway/internal/crypto"
	"github.com/lanonasis/auth-gateway/internal/oauth2"
	"github.com/lanonasis/auth-gateway/internal/ratelimit"
	"github.com/lanonasis/auth-gateway/internal/session"
	"github.com/lanonasis/auth-gateway/internal/vault"
)

type adminContextKey struct{}

func contextWithAdmin(ctx context.Context, adminID string) context.Context {
	return context.WithValue(ctx, adminContextKey{}, adminID)
}

func adminFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(adminContextKey{}).(string)
	return id, ok
}

// writeAPIErr translates any error from an oauth2.Engine call into the
// right wire response, matching the teacher's displayedAuthErr/
// redirectedAuthErr dispatch in server/error.go.
func writeAPIErr(w http.ResponseWriter, r *http.Request, err error) {
	switch e := err.(type) {
	case *apierr.APIError:
		_ = apierr.WriteTokenError(w, e)
	case *apierr.RedirectError:
		apierr.WriteRedirect(w, r, e)
	case *apierr.DisplayedError:
		apierr.WriteDisplayed(w, e)
	default:
		apierr.WriteDisplayed(w, apierr.NewDisplayed(http.StatusInternalServerError, "internal error"))
	}
}

func (d routeDeps) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	userID, ok := d.bridge.ResolveUser(r)
	if !ok {
		returnTo := session.SanitizeReturnTo(r.URL.RequestURI(), d.cfg.Issuer, "/web/login")
		http.Redirect(w, r, "/web/login?return_to="+url.QueryEscape(returnTo), http.StatusSeeOther)
		return
	}

	result, err := d.engine.Authorize(r.Context(), oauth2.AuthorizeRequest{
		ClientID:            q.Get("client_id"),
		ResponseType:        q.Get("response_type"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               splitScope(q.Get("scope")),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		UserID:              userID,
		IPAddress:           clientIP(r),
		UserAgent:           r.UserAgent(),
	})
	if err != nil {
		d.audit.Record(r.Context(), audit.Record{Actor: userID, Action: "oauth.authorize", Success: false, ErrorCode: err.Error(), IPAddress: clientIP(r), UserAgent: r.UserAgent()})
		writeAPIErr(w, r, err)
		return
	}
	d.audit.Record(r.Context(), audit.Record{Actor: userID, Action: "oauth.authorize", Success: true, IPAddress: clientIP(r), UserAgent: r.UserAgent()})

	v := url.Values{"code": {result.Code}}
	if result.State != "" {
		v.Set("state", result.State)
	}
	sep := "?"
	if strings.Contains(result.RedirectURI, "?") {
		sep = "&"
	}
	http.Redirect(w, r, result.RedirectURI+sep+v.Encode(), http.StatusSeeOther)
}

func (d routeDeps) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeAPIErr(w, r, apierr.New(apierr.InvalidRequest, "malformed form body"))
		return
	}
	resp, err := d.engine.Token(r.Context(), oauth2.TokenRequest{
		GrantType:    r.PostForm.Get("grant_type"),
		ClientID:     r.PostForm.Get("client_id"),
		Code:         r.PostForm.Get("code"),
		RedirectURI:  r.PostForm.Get("redirect_uri"),
		CodeVerifier: r.PostForm.Get("code_verifier"),
		RefreshToken: r.PostForm.Get("refresh_token"),
		DeviceCode:   r.PostForm.Get("device_code"),
	})
	if err != nil {
		writeAPIErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d routeDeps) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeAPIErr(w, r, apierr.New(apierr.InvalidRequest, "malformed form body"))
		return
	}
	// RFC 7009: always 200, even for an unknown token.
	_ = d.engine.Revoke(r.Context(), r.PostForm.Get("token"), r.PostForm.Get("token_type_hint"))
	w.WriteHeader(http.StatusOK)
}

func (d routeDeps) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeAPIErr(w, r, apierr.New(apierr.InvalidRequest, "malformed form body"))
		return
	}
	result, err := d.engine.Introspect(r.Context(), r.PostForm.Get("token"))
	if err != nil {
		writeAPIErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (d routeDeps) handleDeviceAuthorize(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeAPIErr(w, r, apierr.New(apierr.InvalidRequest, "malformed form body"))
		return
	}
	result, err := d.engine.DeviceAuthorize(r.Context(), oauth2.DeviceAuthorizeRequest{
		ClientID:        r.PostForm.Get("client_id"),
		Scope:           splitScope(r.PostForm.Get("scope")),
		VerificationURI: d.cfg.Issuer + "/device",
	})
	if err != nil {
		writeAPIErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// discoveryDocument is a minimal RFC 8414-shaped metadata document
// advertising this gateway's OAuth endpoints.
type discoveryDocument struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	RevocationEndpoint            string   `json:"revocation_endpoint"`
	IntrospectionEndpoint         string   `json:"introspection_endpoint"`
	DeviceAuthorizationEndpoint   string   `json:"device_authorization_endpoint"`
	ResponseTypesSupported        []string `json:"response_types_supported"`
	GrantTypesSupported           []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported"`
}

func (d routeDeps) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, discoveryDocument{
		Issuer:                        d.cfg.Issuer,
		AuthorizationEndpoint:         d.cfg.Issuer + "/oauth/authorize",
		TokenEndpoint:                 d.cfg.Issuer + "/oauth/token",
		RevocationEndpoint:            d.cfg.Issuer + "/oauth/revoke",
		IntrospectionEndpoint:         d.cfg.Issuer + "/oauth/introspect",
		DeviceAuthorizationEndpoint:   d.cfg.Issuer + "/oauth/device",
		ResponseTypesSupported:        []string{"code"},
		GrantTypesSupported:           []string{oauth2.GrantAuthorizationCode, oauth2.GrantRefreshToken, oauth2.GrantDeviceCode},
		CodeChallengeMethodsSupported: []string{"S256", "plain"},
	})
}

func (d routeDeps) handleWebLoginGet(w http.ResponseWriter, r *http.Request) {
	returnTo := r.URL.Query().Get("return_to")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("login form rendering is an external collaborator; return_to=" + returnTo))
}

func (d routeDeps) handleWebLoginPost(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		apierr.WriteDisplayed(w, apierr.NewDisplayed(http.StatusBadRequest, "malformed form body"))
		return
	}
	email := r.PostForm.Get("email")
	password := r.PostForm.Get("password")
	returnTo := session.SanitizeReturnTo(r.PostForm.Get("return_to"), d.cfg.Issuer, "/")

	cookies, err := d.bridge.Login(r.Context(), email, password, r.PostForm.Get("platform"), clientIP(r), r.UserAgent())
	if err != nil {
		d.audit.Record(r.Context(), audit.Record{Actor: email, Action: "web.login", Success: false, ErrorCode: err.Error(), IPAddress: clientIP(r), UserAgent: r.UserAgent()})
		apierr.WriteDisplayed(w, apierr.NewDisplayed(http.StatusUnauthorized, "invalid email or password"))
		return
	}
	d.audit.Record(r.Context(), audit.Record{Actor: email, Action: "web.login", Success: true, IPAddress: clientIP(r), UserAgent: r.UserAgent()})

	for _, c := range cookies {
		c.Apply(w)
	}
	http.Redirect(w, r, returnTo, http.StatusSeeOther)
}

func (d routeDeps) handleWebLogout(w http.ResponseWriter, r *http.Request) {
	for _, c := range d.bridge.Logout(r.Context(), r) {
		c.Apply(w)
	}
	http.Redirect(w, r, "/web/login", http.StatusSeeOther)
}

func (d routeDeps) handleAdminBypassLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		apierr.WriteDisplayed(w, apierr.NewDisplayed(http.StatusBadRequest, "malformed form body"))
		return
	}
	email := r.PostForm.Get("email")
	token, acct, err := d.admin.BypassLogin(r.Context(), email, r.PostForm.Get("password"))
	if err != nil {
		d.audit.Record(r.Context(), audit.Record{Actor: email, Action: "admin.bypass_login", Success: false, ErrorCode: err.Error(), IPAddress: clientIP(r), UserAgent: r.UserAgent()})
		apierr.WriteDisplayed(w, apierr.NewDisplayed(http.StatusUnauthorized, "invalid credentials"))
		return
	}
	d.audit.Record(r.Context(), audit.Record{Actor: "admin:" + acct.ID, Action: "admin.bypass_login", Success: true, IPAddress: clientIP(r), UserAgent: r.UserAgent()})
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "admin_id": acct.ID, "email": acct.Email})
}

// withAdminAuth requires an "Authorization: Bearer <admin token>" header
// validated against admin.Service, distinct from authn.Middleware since
// admin sessions are opaque bearer tokens, never JWTs or API keys
// (spec.md §4.8).
func (d routeDeps) withAdminAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const prefix = "Bearer "
		h := r.Header.Get("Authorization")
		if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
			apierr.WriteDisplayed(w, apierr.NewDisplayed(http.StatusUnauthorized, "missing admin bearer token"))
			return
		}
		acct, err := d.admin.ValidateBearer(r.Context(), h[len(prefix):])
		if err != nil {
			apierr.WriteDisplayed(w, apierr.NewDisplayed(http.StatusUnauthorized, "invalid admin token"))
			return
		}
		ctx := contextWithAdmin(r.Context(), acct.ID)
		next(w, r.WithContext(ctx))
	}
}

func (d routeDeps) handleAdminChangePassword(w http.ResponseWriter, r *http.Request) {
	adminID, _ := adminFromContext(r.Context())
	var req struct{ OldPassword, NewPassword string }
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteDisplayed(w, apierr.NewDisplayed(http.StatusBadRequest, "malformed JSON body"))
		return
	}
	if err := d.admin.ChangePassword(r.Context(), adminID, req.OldPassword, req.NewPassword); err != nil {
		apierr.WriteDisplayed(w, apierr.NewDisplayed(http.StatusBadRequest, "could not change password"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d routeDeps) handleAdminRegisterApp(w http.ResponseWriter, r *http.Request) {
	var req admin.RegisterAppRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteDisplayed(w, apierr.NewDisplayed(http.StatusBadRequest, "malformed JSON body"))
		return
	}
	result, err := d.admin.RegisterApp(r.Context(), req)
	if err != nil {
		if de, ok := err.(*apierr.DisplayedError); ok {
			apierr.WriteDisplayed(w, de)
			return
		}
		apierr.WriteDisplayed(w, apierr.NewDisplayed(http.StatusInternalServerError, "could not register app"))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"client_id": result.Client.ClientID, "client_secret": result.ClientSecret})
}

func (d routeDeps) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	caller, _ := authn.FromContext(r.Context())
	var req struct {
		Name           string   `json:"name"`
		OrganizationID string   `json:"organization_id"`
		Scopes         []string `json:"scopes"`
		Live           bool     `json:"live"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteDisplayed(w, apierr.NewDisplayed(http.StatusBadRequest, "malformed JSON body"))
		return
	}
	env := apikey.PrefixTest
	if req.Live {
		env = apikey.PrefixLive
	}
	created, err := d.apikeys.Create(r.Context(), caller.UserID, req.OrganizationID, req.Name, req.Scopes, env, nil)
	if err != nil {
		apierr.WriteDisplayed(w, apierr.NewDisplayed(http.StatusInternalServerError, "could not create API key"))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": created.Key.ID, "key": created.Secret})
}

// apiKeySummary is the safe-to-expose projection of store.ApiKey: never the
// hash fields, which exist only for server-side verification.
type apiKeySummary struct {
	ID         string     `json:"id"`
	Prefix     string     `json:"prefix"`
	Name       string     `json:"name"`
	Scopes     []string   `json:"scopes"`
	IsActive   bool       `json:"is_active"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (d routeDeps) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	caller, _ := authn.FromContext(r.Context())
	keys, err := d.store.ListApiKeysByUser(r.Context(), caller.UserID)
	if err != nil {
		apierr.WriteDisplayed(w, apierr.NewDisplayed(http.StatusInternalServerError, "could not list API keys"))
		return
	}
	out := make([]apiKeySummary, len(keys))
	for i, k := range keys {
		out[i] = apiKeySummary{
			ID: k.ID, Prefix: k.Prefix, Name: k.Name, Scopes: k.Scopes, IsActive: k.IsActive,
			ExpiresAt: k.ExpiresAt, LastUsedAt: k.LastUsedAt, CreatedAt: k.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (d routeDeps) handleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := d.apikeys.Revoke(r.Context(), id); err != nil {
		apierr.WriteDisplayed(w, apierr.NewDisplayed(http.StatusInternalServerError, "could not revoke API key"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleVaultCreateProject creates a Project owning StoredApiKeys (spec.md
// §4.5).
func (d routeDeps) handleVaultCreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrganizationID string `json:"organization_id"`
		Name           string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteDisplayed(w, apierr.NewDisplayed(http.StatusBadRequest, "malformed JSON body"))
		return
	}
	if req.OrganizationID == "" || req.Name == "" {
		apierr.WriteDisplayed(w, apierr.NewDisplayed(http.StatusBadRequest, "organization_id and name are required"))
		return
	}

	now := time.Now().UTC()
	p := vault.Project{ID: crypto.NewID(), OrganizationID: req.OrganizationID, Name: req.Name, CreatedAt: now, UpdatedAt: now}
	if err := d.vault.CreateProject(r.Context(), p); err != nil {
		apierr.WriteDisplayed(w, apierr.NewDisplayed(http.StatusInternalServerError, "could not create project"))
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (d routeDeps) handleVaultListProjects(w http.ResponseWriter, r *http.Request) {
	organizationID := r.URL.Query().Get("organization_id")
	if organizationID == "" {
		apierr.WriteDisplayed(w, apierr.NewDisplayed(http.StatusBadRequest, "organization_id query parameter is required"))
		return
	}
	projects, err := d.vault.ListProjects(r.Context(), organizationID)
	if err != nil {
		apierr.WriteDisplayed(w, apierr.NewDisplayed(http.StatusInternalServerError, "could not list projects"))
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

// handleVaultDeleteProject deletes a project and every StoredApiKey under it
// (spec.md §4.5: "deleting a project cascades").
func (d routeDeps) handleVaultDeleteProject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := d.vault.DeleteProject(r.Context(), id); err != nil {
		apierr.WriteDisplayed(w, apierr.NewDisplayed(http.StatusInternalServerError, "could not delete project"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// storedApiKeySummary is the safe-to-list projection of vault.StoredApiKey:
// never EncryptedValue, which only handleVaultRevealKey exposes, decrypted,
// to an already-authorized caller.
type storedApiKeySummary struct {
	ID          string            `json:"id"`
	ProjectID   string            `json:"project_id"`
	Name        string            `json:"name"`
	Environment vault.Environment `json:"environment"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// handleVaultPutKey creates or updates a StoredApiKey, encrypting value at
// rest (spec.md §4.5: unique by project_id/name/environment).
func (d routeDeps) handleVaultPutKey(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["id"]
	var req struct {
		Name        string            `json:"name"`
		Environment vault.Environment `json:"environment"`
		Value       string            `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteDisplayed(w, apierr.NewDisplayed(http.StatusBadRequest, "malformed JSON body"))
		return
	}
	if req.Name == "" || req.Environment == "" || req.Value == "" {
		apierr.WriteDisplayed(w, apierr.NewDisplayed(http.StatusBadRequest, "name, environment and value are required"))
		return
	}

	now := time.Now().UTC()
	k := vault.StoredApiKey{ID: crypto.NewID(), ProjectID: projectID, Name: req.Name, Environment: req.Environment, CreatedAt: now, UpdatedAt: now}
	if err := d.vault.Put(r.Context(), k, req.Value); err != nil {
		apierr.WriteDisplayed(w, apierr.NewDisplayed(http.StatusInternalServerError, "could not store key"))
		return
	}
	writeJSON(w, http.StatusCreated, storedApiKeySummary{
		ID: k.ID, ProjectID: k.ProjectID, Name: k.Name, Environment: k.Environment, CreatedAt: k.CreatedAt, UpdatedAt: k.UpdatedAt,
	})
}

func (d routeDeps) handleVaultListKeys(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["id"]
	keys, err := d.vault.ListStoredApiKeys(r.Context(), projectID)
	if err != nil {
		apierr.WriteDisplayed(w, apierr.NewDisplayed(http.StatusInternalServerError, "could not list keys"))
		return
	}
	out := make([]storedApiKeySummary, len(keys))
	for i, k := range keys {
		out[i] = storedApiKeySummary{
			ID: k.ID, ProjectID: k.ProjectID, Name: k.Name, Environment: k.Environment, CreatedAt: k.CreatedAt, UpdatedAt: k.UpdatedAt,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleVaultRevealKey is the only endpoint that returns a StoredApiKey's
// decrypted value (spec.md §4.5: "returned decrypted only to authorized
// project members"); authorization is internal/authn's bearer/API-key check
// at the route level, same as every other /api/v1 endpoint.
func (d routeDeps) handleVaultRevealKey(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["id"]
	name := mux.Vars(r)["name"]
	env := vault.Environment(r.URL.Query().Get("environment"))
	if env == "" {
		apierr.WriteDisplayed(w, apierr.NewDisplayed(http.StatusBadRequest, "environment query parameter is required"))
		return
	}
	plaintext, err := d.vault.Reveal(r.Context(), projectID, name, env)
	if err != nil {
		apierr.WriteDisplayed(w, apierr.NewDisplayed(http.StatusNotFound, "key not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"value": plaintext})
}

func (d routeDeps) handleVaultDeleteKey(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["keyID"]
	if err := d.vault.DeleteStoredApiKey(r.Context(), id); err != nil {
		apierr.WriteDisplayed(w, apierr.NewDisplayed(http.StatusInternalServerError, "could not delete key"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func splitScope(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Fields(raw)
}

func clientIP(r *http.Request) string {
	return ratelimit.PrincipalIP(r)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

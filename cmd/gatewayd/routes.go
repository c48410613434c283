package main

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/lanonasis/auth-gateway/internal/ratelimit"
)

// newRouter builds the gateway's route table. /oauth/* and /api/v1/oauth/*
// alias the same handlers, grounded on the teacher's server/server.go
// pattern of registering one handler under several mux.Router paths
// (spec.md §6 "Route aliasing").
func newRouter(d routeDeps) http.Handler {
	r := mux.NewRouter()

	rateLimited := func(rule ratelimit.Rule, h http.HandlerFunc) http.Handler {
		return ratelimit.Middleware(d.limiter, rule, ratelimit.PrincipalIP)(h)
	}

	authorizeHandler := rateLimited(ratelimit.RuleAuthorize, d.handleAuthorize)
	tokenHandler := rateLimited(ratelimit.RuleToken, d.handleToken)
	revokeHandler := rateLimited(ratelimit.RuleRevoke, d.handleRevoke)
	introspectHandler := http.HandlerFunc(d.handleIntrospect)
	deviceHandler := http.HandlerFunc(d.handleDeviceAuthorize)

	for _, prefix := range []string{"/oauth", "/api/v1/oauth"} {
		r.Handle(prefix+"/authorize", authorizeHandler).Methods(http.MethodGet)
		r.Handle(prefix+"/token", tokenHandler).Methods(http.MethodPost)
		r.Handle(prefix+"/revoke", revokeHandler).Methods(http.MethodPost)
		r.Handle(prefix+"/introspect", introspectHandler).Methods(http.MethodPost)
		r.Handle(prefix+"/device", deviceHandler).Methods(http.MethodPost)
	}

	r.HandleFunc("/.well-known/oauth-authorization-server", d.handleDiscovery).Methods(http.MethodGet)

	r.Handle("/web/login", rateLimited(ratelimit.RuleWebLogin, d.handleWebLoginPost)).Methods(http.MethodPost)
	r.HandleFunc("/web/login", d.handleWebLoginGet).Methods(http.MethodGet)
	r.HandleFunc("/web/logout", d.handleWebLogout).Methods(http.MethodGet)

	r.Handle("/admin/bypass-login", rateLimited(ratelimit.RuleAdminBypass, d.handleAdminBypassLogin)).Methods(http.MethodPost)
	r.HandleFunc("/admin/change-password", d.withAdminAuth(d.handleAdminChangePassword)).Methods(http.MethodPost)
	r.HandleFunc("/admin/register-app", d.withAdminAuth(d.handleAdminRegisterApp)).Methods(http.MethodPost)

	apiDefault := func(h http.HandlerFunc) http.Handler {
		return rateLimited(ratelimit.RuleAPIDefault, func(w http.ResponseWriter, r *http.Request) {
			d.authMw.Wrap(h).ServeHTTP(w, r)
		})
	}
	r.Handle("/api/v1/keys", apiDefault(d.handleCreateAPIKey)).Methods(http.MethodPost)
	r.Handle("/api/v1/keys", apiDefault(d.handleListAPIKeys)).Methods(http.MethodGet)
	r.Handle("/api/v1/keys/{id}", apiDefault(d.handleRevokeAPIKey)).Methods(http.MethodDelete)

	r.Handle("/api/v1/vault/projects", apiDefault(d.handleVaultCreateProject)).Methods(http.MethodPost)
	r.Handle("/api/v1/vault/projects", apiDefault(d.handleVaultListProjects)).Methods(http.MethodGet)
	r.Handle("/api/v1/vault/projects/{id}", apiDefault(d.handleVaultDeleteProject)).Methods(http.MethodDelete)
	r.Handle("/api/v1/vault/projects/{id}/keys", apiDefault(d.handleVaultPutKey)).Methods(http.MethodPost)
	r.Handle("/api/v1/vault/projects/{id}/keys", apiDefault(d.handleVaultListKeys)).Methods(http.MethodGet)
	r.Handle("/api/v1/vault/projects/{id}/keys/{name}/reveal", apiDefault(d.handleVaultRevealKey)).Methods(http.MethodGet)
	r.Handle("/api/v1/vault/keys/{keyID}", apiDefault(d.handleVaultDeleteKey)).Methods(http.MethodDelete)

	return r
}

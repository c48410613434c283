package oauth2

import "github.com/lanonasis/auth-gateway/internal/store"

// mcpScopes is the fixed scope set implicitly granted to public MCP clients
// (spec.md §4.1 "MCP auto-registration allow-list"), mirroring the
// allow-list-filtering idiom of the teacher's parseCrossClientScope: no
// policy evaluation, just set membership.
var mcpScopes = []string{
	"mcp:full", "mcp:tools", "mcp:resources", "mcp:prompts", "mcp:connect",
	"api:access", "memories:read", "memories:write", "memories:delete", "profile",
}

// effectiveAllowedScopes returns c's allowed_scopes, augmented with the
// fixed MCP scope set when c is a public MCP client.
func effectiveAllowedScopes(c store.OAuthClient) []string {
	if c.ApplicationType != store.AppTypeMCP || c.ClientType != store.ClientTypePublic {
		return c.AllowedScopes
	}
	allowed := make(map[string]struct{}, len(c.AllowedScopes)+len(mcpScopes))
	out := make([]string, 0, len(c.AllowedScopes)+len(mcpScopes))
	for _, s := range c.AllowedScopes {
		if _, ok := allowed[s]; !ok {
			allowed[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, s := range mcpScopes {
		if _, ok := allowed[s]; !ok {
			allowed[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// filterScopes validates requested against c's effective allow-list. An
// empty requested list falls back to c.DefaultScopes. Any requested scope
// outside the allow-list is an error.
func filterScopes(c store.OAuthClient, requested []string) ([]string, bool) {
	if len(requested) == 0 {
		return c.DefaultScopes, true
	}
	allowSet := make(map[string]struct{}, len(c.AllowedScopes))
	for _, s := range effectiveAllowedScopes(c) {
		allowSet[s] = struct{}{}
	}
	for _, s := range requested {
		if _, ok := allowSet[s]; !ok {
			return nil, false
		}
	}
	return requested, true
}

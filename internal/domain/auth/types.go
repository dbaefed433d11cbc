// Package auth authenticates API keys and maps them to tenant principals.
package auth

import "slices"

// ScopeAdmin allows resolving approval requests.
const ScopeAdmin = "admin"

// APIKey is a configured key. KeyHash is "sha256:<hex>", bare SHA-256 hex,
// or an Argon2id PHC string; the raw key is never stored.
type APIKey struct {
	Name     string
	TenantID string
	KeyHash  string
	Scopes   []string
}

// Principal is the caller a request was authenticated as.
type Principal struct {
	TenantID string
	KeyName  string
	Scopes   []string
}

// HasScope reports whether the principal was granted scope.
func (p *Principal) HasScope(scope string) bool {
	if p == nil {
		return false
	}
	return slices.Contains(p.Scopes, scope)
}

// Package auth validates caller identity on the HTTP boundary. Tokens are
// JWTs, verified either against a provider's JWKS (asymmetric) or a shared
// HS256 secret.
package auth

import "context"

type contextKey string

const claimsContextKey contextKey = "torii_auth_claims"

// Claims is the validated caller identity. The field set covers common
// identity providers; everything else lands in Custom.
type Claims struct {
	Subject  string         `json:"sub"`
	Email    string         `json:"email,omitempty"`
	Role     string         `json:"role,omitempty"`
	TenantID string         `json:"tenant_id,omitempty"`
	Custom   map[string]any `json:"-"`
}

// GetStringClaim retrieves a custom claim as a string, or "".
func (c *Claims) GetStringClaim(key string) string {
	if c.Custom == nil {
		return ""
	}
	if s, ok := c.Custom[key].(string); ok {
		return s
	}
	return ""
}

// HasAnyRole reports whether the caller holds one of the given roles.
func (c *Claims) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if c.Role == role {
			return true
		}
	}
	return false
}

// ClaimsFromContext extracts claims, or nil for anonymous requests.
func ClaimsFromContext(ctx context.Context) *Claims {
	if claims, ok := ctx.Value(claimsContextKey).(*Claims); ok {
		return claims
	}
	return nil
}

// ContextWithClaims returns a child context carrying the claims.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

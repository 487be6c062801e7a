// Package auth resolves inbound credentials to a tenant-scoped principal
// before any query executes. Every request either carries a credential that
// maps to a tenant or is rejected; there is no anonymous tenant.
package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/fabric/pkg/api"
	"github.com/Mindburn-Labs/fabric/pkg/principal"
)

// APIKeyMap maps static API keys to tenant identifiers. This is the simple
// credential path for worker pollers and local development.
type APIKeyMap map[string]string

// Claims are the JWT claims the fabric expects: a subject plus a tenant
// binding. Tokens without a tenant are rejected.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
}

// JWTValidator validates HMAC-signed bearer tokens.
type JWTValidator struct {
	secret []byte
}

// NewJWTValidator returns a validator for HS256 tokens signed with secret,
// or nil when no secret is configured (bearer auth disabled, fail closed).
func NewJWTValidator(secret string) *JWTValidator {
	if secret == "" {
		return nil
	}
	return &JWTValidator{secret: []byte(secret)}
}

// Validate parses and verifies a token string.
func (v *JWTValidator) Validate(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// publicPaths need no credential.
var publicPaths = []string{
	"/health",
	"/readiness",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// NewMiddleware resolves the tenant for every request. Two credential forms
// are accepted: X-API-Key looked up in keys, and Authorization: Bearer
// validated by validator. Either may be nil/empty; a request matching
// neither is rejected with 401 before any handler runs.
func NewMiddleware(keys APIKeyMap, validator *JWTValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			if key := r.Header.Get("X-API-Key"); key != "" {
				tenantID, ok := keys[key]
				if !ok {
					api.WriteUnauthorized(w, "unknown API key")
					return
				}
				p := &principal.Base{
					ID:       "apikey",
					TenantID: tenantID,
					Roles:    []string{"service"},
				}
				next.ServeHTTP(w, r.WithContext(principal.WithPrincipal(r.Context(), p)))
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.WriteUnauthorized(w, "missing credential")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				api.WriteUnauthorized(w, "invalid Authorization header format (expected 'Bearer <token>')")
				return
			}
			if validator == nil {
				api.WriteUnauthorized(w, "bearer authentication not configured")
				return
			}

			claims, err := validator.Validate(parts[1])
			if err != nil {
				api.WriteUnauthorized(w, "invalid or expired token")
				return
			}
			if claims.Subject == "" {
				api.WriteUnauthorized(w, "token subject is required")
				return
			}
			if claims.TenantID == "" {
				api.WriteUnauthorized(w, "token tenant binding is required")
				return
			}

			p := &principal.Base{
				ID:       claims.Subject,
				TenantID: claims.TenantID,
				Roles:    claims.Roles,
			}
			next.ServeHTTP(w, r.WithContext(principal.WithPrincipal(r.Context(), p)))
		})
	}
}

package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Default header names populated by the authenticating edge proxy.
const (
	defaultUserIDHeader = "X-User-ID"
	defaultEmailHeader  = "X-User-Email"
	defaultRolesHeader  = "X-User-Roles"

	defaultFallbackRole = RoleUser
)

// Authenticator turns proxy-injected identity headers into request identities.
// The API never sees end-user credentials; the edge terminates authentication
// and forwards the verified principal in headers.
type Authenticator struct {
	userIDHeader string
	emailHeader  string
	rolesHeader  string
	fallbackRole string
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithUserIDHeader overrides the header carrying the principal's UID.
func WithUserIDHeader(name string) Option {
	return func(a *Authenticator) {
		name = strings.TrimSpace(name)
		if name != "" {
			a.userIDHeader = name
		}
	}
}

// WithEmailHeader overrides the header carrying the principal's email.
func WithEmailHeader(name string) Option {
	return func(a *Authenticator) {
		name = strings.TrimSpace(name)
		if name != "" {
			a.emailHeader = name
		}
	}
}

// WithRolesHeader overrides the header carrying the comma-separated role list.
func WithRolesHeader(name string) Option {
	return func(a *Authenticator) {
		name = strings.TrimSpace(name)
		if name != "" {
			a.rolesHeader = name
		}
	}
}

// WithFallbackRole sets the role assumed when the proxy sends none.
func WithFallbackRole(role string) Option {
	return func(a *Authenticator) {
		role = normaliseRole(role)
		if role != "" {
			a.fallbackRole = role
		}
	}
}

// NewAuthenticator constructs an Authenticator for middleware composition.
func NewAuthenticator(opts ...Option) *Authenticator {
	a := &Authenticator{
		userIDHeader: defaultUserIDHeader,
		emailHeader:  defaultEmailHeader,
		rolesHeader:  defaultRolesHeader,
		fallbackRole: defaultFallbackRole,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireAuth rejects requests without an identity header and ensures allowed roles.
func (a *Authenticator) RequireAuth(allowedRoles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedRoles))
	for _, role := range allowedRoles {
		role = normaliseRole(role)
		if role == "" {
			continue
		}
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a == nil {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authorization service unavailable")
				return
			}

			uid := strings.TrimSpace(r.Header.Get(a.userIDHeader))
			if uid == "" {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "identity header missing")
				return
			}

			identity := &Identity{
				UID:   uid,
				Email: strings.TrimSpace(r.Header.Get(a.emailHeader)),
				Roles: parseRoles(r.Header.Get(a.rolesHeader)),
			}
			if len(identity.Roles) == 0 && a.fallbackRole != "" {
				identity.Roles = []string{a.fallbackRole}
			}

			if len(identity.Roles) == 0 {
				respondAuthError(w, http.StatusUnauthorized, "missing_role", "no roles associated with identity")
				return
			}

			if len(allowed) > 0 && !hasAllowedRole(identity.Roles, allowed) {
				respondAuthError(w, http.StatusForbidden, "insufficient_role", "identity does not have required role")
				return
			}

			ctx := WithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func hasAllowedRole(identityRoles []string, allowed map[string]struct{}) bool {
	for _, role := range identityRoles {
		if _, ok := allowed[normaliseRole(role)]; ok {
			return true
		}
	}
	return false
}

func parseRoles(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		role := normaliseRole(part)
		if role == "" {
			continue
		}
		if _, exists := seen[role]; exists {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

func respondAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   code,
		"message": message,
		"status":  status,
	})
}

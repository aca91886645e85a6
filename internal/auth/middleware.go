package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/rfq-portal/internal/platform/httpx"
	"github.com/odyssey-erp/rfq-portal/internal/shared"
)

// PublicPaths lists routes served without a bearer token.
var PublicPaths = map[string]struct{}{
	"/healthz":        {},
	"/metrics":        {},
	"/v1/rfqs/public": {},
}

// Middleware wires bearer authentication and role guards for HTTP handlers.
type Middleware struct {
	Tokens *Tokens
	Logger *slog.Logger
}

// Authenticate attaches the caller principal to the request context. Paths in
// PublicPaths pass through untouched.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PublicPaths[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}
		raw, ok := bearerToken(r)
		if !ok {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing bearer token")
			return
		}
		principal, err := m.Tokens.Verify(raw)
		if err != nil {
			if m.Logger != nil {
				m.Logger.Warn("bearer token rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
			}
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), principal)))
	})
}

// RequireRole ensures the current principal holds one of roles.
func (m Middleware) RequireRole(roles ...shared.Role) func(http.Handler) http.Handler {
	allowed := make(map[shared.Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", shared.ErrNoPrincipal.Error())
				return
			}
			if _, ok := allowed[p.Role]; !ok {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", shared.ErrRoleNotAllowed.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken reads the Authorization header. Browsers cannot set headers on
// WebSocket handshakes, so upgrades may pass access_token in the query.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			token = strings.TrimSpace(r.URL.Query().Get("access_token"))
			return token, token != ""
		}
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

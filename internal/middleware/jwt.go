package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"clinic-realtime/internal/auth"
)

const (
	accessTokenParam  = "access_token"
	internalKeyHeader = "X-Internal-Key"
)

// IdentityResolver decouples the middleware from the token implementation.
type IdentityResolver interface {
	ResolveIdentity(credential string) (auth.Identity, error)
}

type AuthMiddleware struct {
	resolver       IdentityResolver
	realtimePrefix string
	log            *slog.Logger
}

// NewAuthMiddleware accepts a query-parameter credential only for requests
// whose path sits under realtimePrefix.
func NewAuthMiddleware(r IdentityResolver, realtimePrefix string, log *slog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		resolver:       r,
		realtimePrefix: strings.TrimSuffix(realtimePrefix, "/"),
		log:            log,
	}
}

func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential := am.credential(r)
		if credential == "" {
			http.Error(w, "Missing authentication token", http.StatusUnauthorized)
			return
		}

		id, err := am.resolver.ResolveIdentity(credential)
		if err != nil || id.IsZero() {
			am.log.Debug("rejected credential", "path", r.URL.Path, "remote", r.RemoteAddr, "error", err)
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

func (am *AuthMiddleware) credential(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}

	// Browsers cannot set headers on a websocket handshake.
	if am.isRealtimePath(r.URL.Path) {
		return strings.TrimSpace(r.URL.Query().Get(accessTokenParam))
	}
	return ""
}

func (am *AuthMiddleware) isRealtimePath(path string) bool {
	if am.realtimePrefix == "" {
		return false
	}
	return path == am.realtimePrefix || strings.HasPrefix(path, am.realtimePrefix+"/")
}

// InternalKey guards endpoints called by the booking/session layer.
func InternalKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(internalKeyHeader)
			if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

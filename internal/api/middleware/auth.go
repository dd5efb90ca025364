package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/example/medsupply-storefront/internal/auth"
	"go.uber.org/zap"
)

const (
	SessionCookie = "cart_session"
	SessionHeader = "X-Cart-Session"
)

// respondError writes a JSON error response
func respondError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// ExtractToken extracts the storefront API token from cookie or Authorization header
func ExtractToken(r *http.Request) string {
	// Try cookie first (for browser)
	if cookie, err := r.Cookie("access_token"); err == nil {
		return cookie.Value
	}
	// Fall back to Authorization header (for API clients)
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

func extractSession(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		return cookie.Value
	}
	return r.Header.Get(SessionHeader)
}

type contextKey string

const (
	NamespaceContextKey  contextKey = "cart_namespace"
	newSessionContextKey contextKey = "cart_new_session"
)

// CartSession resolves the guest session of a request and puts its cart
// namespace in the context. A request without a valid session gets a new one,
// returned both as a cookie and in the X-Cart-Session header. A valid session
// past half its lifetime is re-issued for the same namespace.
func CartSession(sessions *auth.SessionService, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("session")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var namespace string
			renew := false
			if tokenString := extractSession(r); tokenString != "" {
				claims, err := sessions.Parse(tokenString)
				if err == nil {
					namespace = claims.Namespace
					renew = sessions.NeedsRenewal(claims)
				} else {
					logger.Debug("discarding cart session", zap.Error(err))
				}
			}

			ctx := r.Context()
			switch {
			case namespace == "":
				tokenString, ns, expiresAt, err := sessions.Issue()
				if err != nil {
					logger.Error("failed to issue cart session", zap.Error(err))
					respondError(w, "session unavailable", http.StatusInternalServerError)
					return
				}
				namespace = ns
				setSession(w, r, tokenString, expiresAt)
				ctx = context.WithValue(ctx, newSessionContextKey, true)

			case renew:
				tokenString, expiresAt, err := sessions.IssueFor(namespace)
				if err != nil {
					// the current session is still valid
					logger.Warn("failed to renew cart session", zap.Error(err))
					break
				}
				setSession(w, r, tokenString, expiresAt)
			}

			ctx = context.WithValue(ctx, NamespaceContextKey, namespace)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func setSession(w http.ResponseWriter, r *http.Request, tokenString string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    tokenString,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	w.Header().Set(SessionHeader, tokenString)
}

// IsNewSession reports whether the session of the request was issued by this
// request, i.e. its cart cannot hold anything yet.
func IsNewSession(ctx context.Context) bool {
	fresh, _ := ctx.Value(newSessionContextKey).(bool)
	return fresh
}

// NamespaceFromContext retrieves the cart namespace from the request context
func NamespaceFromContext(ctx context.Context) (string, bool) {
	namespace, ok := ctx.Value(NamespaceContextKey).(string)
	return namespace, ok && namespace != ""
}

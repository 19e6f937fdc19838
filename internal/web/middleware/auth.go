package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/JonMunkholm/intake/internal/core"
)

// TokenCookie carries an operator token for browser clients, which cannot
// set headers on EventSource requests.
const TokenCookie = "intake_token"

// OperatorResolver turns request credentials into an operator.
type OperatorResolver interface {
	Resolve(apiKey, bearer string) (core.Operator, error)
}

// Authenticate attaches the operator identified by the X-API-Key header, an
// Authorization bearer token or the token cookie to the request context.
// When required is false, requests without credentials pass through without
// an operator; requests with bad credentials are always rejected.
func Authenticate(resolver OperatorResolver, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := strings.TrimSpace(r.Header.Get("X-API-Key"))
			bearer := bearerToken(r)

			if apiKey == "" && bearer == "" {
				if !required {
					next.ServeHTTP(w, r)
					return
				}
				slog.Warn("auth: missing credentials",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				writeAuthError(w, http.StatusUnauthorized, "missing credentials", "AUTH_MISSING")
				return
			}

			op, err := resolver.Resolve(apiKey, bearer)
			if err != nil {
				slog.Warn("auth: invalid credentials",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
					"error", err,
				)
				writeAuthError(w, http.StatusUnauthorized, "invalid credentials", "AUTH_INVALID")
				return
			}

			ctx := core.ContextWithOperator(r.Context(), op)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	if c, err := r.Cookie(TokenCookie); err == nil {
		return c.Value
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message, "message": message, "code": code})
}

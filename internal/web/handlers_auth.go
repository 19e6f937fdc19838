package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/intake/internal/auth"
	"github.com/JonMunkholm/intake/internal/core"
	"github.com/JonMunkholm/intake/internal/logging"
	"github.com/JonMunkholm/intake/internal/web/middleware"
)

// handleIssueToken exchanges an API key for an operator bearer token. The
// token is also set as a cookie so browser event streams are authenticated.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.Header.Get("X-API-Key"))
	if key == "" {
		respondError(w, r, core.ErrNotAuthenticated, http.StatusUnauthorized)
		return
	}

	op, err := s.auth.ResolveAPIKey(key)
	if err != nil {
		logging.FromContext(r.Context()).Warn("token request with invalid API key", "ip", middleware.ClientIP(r))
		respondError(w, r, core.ErrNotAuthenticated, http.StatusUnauthorized)
		return
	}

	token, expires, err := s.auth.IssueToken(op)
	if errors.Is(err, auth.ErrTokensDisabled) {
		respondErrorJSON(w, core.UserMessage{
			Message: "Token sign-in is not enabled on this server",
			Action:  "Send your API key with each request instead",
			Code:    "AUTH002",
		}, http.StatusNotImplemented)
		return
	}
	if err != nil {
		fail(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.TokenCookie,
		Value:    token,
		Path:     "/api",
		Expires:  expires,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"operator":   op.ID,
		"expires_at": expires,
	})
}

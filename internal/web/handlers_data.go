package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/JonMunkholm/intake/internal/web/templates"
)

// handleHome renders the upload page.
func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	templates.Home(fmt.Sprintf("%dMB", s.service.Ingestor().MaxFileSize()>>20)).Render(r.Context(), w)
}

// handleHealth reports whether the case store is reachable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus returns the parse limiter state and the number of live sessions.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"parses":          s.service.LimiterStatus(),
		"active_sessions": s.service.ActiveSessions(),
	})
}

// handleSessionSummary returns the session's counts and states, as an HTML
// fragment for HTMX polling.
func (s *Server) handleSessionSummary(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		fail(w, r, err)
		return
	}

	sum := sess.Summary()
	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		templates.SessionSummary(sum).Render(r.Context(), w)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// handleRows returns one page of the review grid.
func (s *Server) handleRows(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		fail(w, r, err)
		return
	}

	page, err := sess.Page(
		parseIntParam(r, "page", 1),
		parseIntParam(r, "page_size", 0),
		parseBoolParam(r, "errors_only"),
	)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

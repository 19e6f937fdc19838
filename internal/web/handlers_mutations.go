package web

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/intake/internal/core"
	"github.com/JonMunkholm/intake/internal/logging"
)

// handleUpdateCells applies a single {row, field, value} edit or an array of
// them, in order, and returns the new summary.
func (s *Server) handleUpdateCells(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		fail(w, r, err)
		return
	}

	var raw json.RawMessage
	if err := decodeJSON(w, r, &raw); err != nil {
		badRequest(w, err)
		return
	}

	var edits []core.CellEdit
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(raw, &edits)
	} else {
		var edit core.CellEdit
		err = json.Unmarshal(raw, &edit)
		edits = []core.CellEdit{edit}
	}
	if err != nil {
		badRequest(w, err)
		return
	}
	if len(edits) == 0 {
		writeJSON(w, http.StatusOK, sess.Summary())
		return
	}

	if err := sess.UpdateCells(edits); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Summary())
}

// handleFix runs a bulk correction and reports how many cells it changed.
func (s *Server) handleFix(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		fail(w, r, err)
		return
	}

	op := core.Correction(chi.URLParam(r, "op"))
	changed, err := sess.Correct(op)
	if err != nil {
		fail(w, r, err)
		return
	}

	logging.WithFields(r.Context(), "session_id", sess.ID).
		Info("correction applied", "correction", op, "changed", changed)

	writeJSON(w, http.StatusOK, map[string]any{
		"changed": changed,
		"summary": sess.Summary(),
	})
}

// handleDropSession discards the session so the operator can start over.
func (s *Server) handleDropSession(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DropSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package web

// handlers_collab.go serves the import and case endpoints the submitter
// writes to, backed by the case store. A remote intake server reaches them
// through internal/caseapi.

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/intake/internal/core"
	"github.com/JonMunkholm/intake/internal/logging"
)

// batchRequest mirrors caseapi.BatchRequest.
type batchRequest struct {
	ImportID string             `json:"import_id"`
	Cases    []core.CasePayload `json:"cases"`
}

// handleCreateImport creates an import record in PROCESSING state.
func (s *Server) handleCreateImport(w http.ResponseWriter, r *http.Request) {
	var rec core.ImportRecord
	if err := decodeJSON(w, r, &rec); err != nil {
		badRequest(w, err)
		return
	}

	id, err := s.store.CreateImport(r.Context(), rec)
	if err != nil {
		fail(w, r, err)
		return
	}

	logging.WithFields(r.Context(), "import_id", id).
		Info("import created", "file", rec.FileName, "total_rows", rec.TotalRows)
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// handleGetImport returns an import record.
func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	imp, err := s.store.GetImport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, imp)
}

// handleUpdateImport sets an import's status and aggregate counts.
func (s *Server) handleUpdateImport(w http.ResponseWriter, r *http.Request) {
	var upd core.ImportUpdate
	if err := decodeJSON(w, r, &upd); err != nil {
		badRequest(w, err)
		return
	}
	if !upd.Status.Valid() {
		badRequest(w, fmt.Errorf("%w: unknown status %q", errBadRequest, upd.Status))
		return
	}
	if upd.SuccessCount < 0 || upd.FailureCount < 0 {
		badRequest(w, fmt.Errorf("%w: counts must not be negative", errBadRequest))
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.store.UpdateImport(r.Context(), id, upd); err != nil {
		fail(w, r, err)
		return
	}

	logging.WithFields(r.Context(), "import_id", id).Info("import updated",
		"status", upd.Status, "success_count", upd.SuccessCount, "failure_count", upd.FailureCount)
	w.WriteHeader(http.StatusNoContent)
}

// handleCreateCases creates up to core.BatchSize cases and answers with one
// result per payload in request order. Rows that cannot be created fail
// individually; only a malformed or oversized request fails as a whole.
func (s *Server) handleCreateCases(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			fail(w, r, core.ErrBatchTooLarge)
			return
		}
		badRequest(w, err)
		return
	}
	if req.ImportID == "" {
		badRequest(w, fmt.Errorf("%w: import_id is required", errBadRequest))
		return
	}

	results, err := s.store.CreateCases(r.Context(), req.ImportID, req.Cases)
	if err != nil {
		fail(w, r, err)
		return
	}

	created := 0
	for _, res := range results {
		if res.Success {
			created++
		}
	}
	logging.WithFields(r.Context(), "import_id", req.ImportID).
		Info("case batch processed", "cases", len(req.Cases), "created", created)

	writeJSON(w, http.StatusOK, map[string][]core.BatchResult{"results": results})
}

// handleCaseHistory returns the history entries of one case.
func (s *Server) handleCaseHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.store.CaseHistory(r.Context(), chi.URLParam(r, "caseID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]core.HistoryEntry{"history": history})
}

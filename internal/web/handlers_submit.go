package web

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/intake/internal/logging"
)

// handleSubmit creates the import record and starts sending batches. It
// returns once the record exists; follow progress on the events stream.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	s.startRun(w, r, "submission started", s.service.Submit)
}

// handleRetry resends the failed rows under the same import record.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	s.startRun(w, r, "retry started", s.service.Retry)
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request, msg string, start func(ctx context.Context, id string) error) {
	ctx := WithRequestMetadata(r.Context(), r)
	id := chi.URLParam(r, "id")

	if err := start(ctx, id); err != nil {
		fail(w, r, err)
		return
	}

	sess, err := s.service.Session(ctx, id)
	if err != nil {
		fail(w, r, err)
		return
	}
	sum := sess.Summary()
	logging.WithFields(ctx, "session_id", id, "import_id", sum.Submit.ImportID).
		Info(msg, "rows", sum.Submit.Total, "batches", sum.Submit.TotalBatches)

	writeJSON(w, http.StatusAccepted, sum.Submit)
}

// handleCancel stops the submission before its next batch.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.service.Cancel(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}
	logging.WithFields(r.Context(), "session_id", id).Info("submission cancel requested")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

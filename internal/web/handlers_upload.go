package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/JonMunkholm/intake/internal/core"
	"github.com/JonMunkholm/intake/internal/logging"
)

// multipartMemory is how much of an upload is held in memory before
// spilling to a temp file.
const multipartMemory = 8 << 20

// sseHeartbeat keeps idle event streams open through proxies.
const sseHeartbeat = 15 * time.Second

// handleStartSession accepts a CSV upload and starts parsing it in the
// background. The response carries the session ID to poll or subscribe to.
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	maxSize := s.service.Ingestor().MaxFileSize()
	// Leave room for the multipart envelope; the ingestor enforces the file size.
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+1<<20)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		reason := "invalid upload form"
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			reason = fmt.Sprintf("file exceeds the %dMB limit", maxSize>>20)
		}
		fail(w, r, &core.FileRejectedError{Reason: reason})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		fail(w, r, &core.FileRejectedError{Reason: "no file provided"})
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	// StartImport owns file from here and closes it when parsing ends.
	sess, err := s.service.StartImport(ctx, header.Filename, file, header.Size)
	if err != nil {
		fail(w, r, err)
		return
	}

	logging.WithFields(ctx, "session_id", sess.ID, "file", header.Filename).
		Info("upload accepted", "bytes", header.Size)

	if isHTMX(r) {
		w.Header().Set("HX-Trigger", "session-started")
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": sess.ID})
}

// handleSessionEvents streams parse and submission progress via Server-Sent
// Events. The stream ends after a terminal event: a failed parse or a
// finished submission.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		fail(w, r, err)
		return
	}

	events, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	eventID := 0
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// Session closed: replaced, dropped or reaped.
				fmt.Fprint(w, "event: closed\ndata: {}\n\n")
				rc.Flush()
				return
			}

			eventID++
			data, _ := json.Marshal(ev)
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", eventID, ev.Kind, data)
			if err := rc.Flush(); err != nil {
				return
			}
			if terminal(ev) {
				return
			}

		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			if err := rc.Flush(); err != nil {
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}

func terminal(ev core.Event) bool {
	switch {
	case ev.Parse != nil:
		return ev.Parse.Phase == core.ParseFailed
	case ev.Submit != nil:
		return ev.Submit.State == core.SubmitCompleted || ev.Submit.State == core.SubmitCancelled
	}
	return false
}

// handleFailuresCSV exports the rows whose latest submission failed.
func (s *Server) handleFailuresCSV(w http.ResponseWriter, r *http.Request) {
	s.exportFailures(w, r, "csv", "text/csv; charset=utf-8", core.WriteFailuresCSV)
}

// handleFailuresXLSX exports the failed rows as a workbook.
func (s *Server) handleFailuresXLSX(w http.ResponseWriter, r *http.Request) {
	s.exportFailures(w, r, "xlsx",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", core.WriteFailuresXLSX)
}

func (s *Server) exportFailures(w http.ResponseWriter, r *http.Request, ext, contentType string,
	write func(w io.Writer, rows []core.FailedRow) error) {
	sess, err := s.session(r)
	if err != nil {
		fail(w, r, err)
		return
	}

	// Render fully before sending headers so a write error can still be reported.
	var buf bytes.Buffer
	if err := write(&buf, sess.FailedRows()); err != nil {
		fail(w, r, err)
		return
	}

	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("failed_cases_%s.%s", timestamp, ext)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.Write(buf.Bytes())
}

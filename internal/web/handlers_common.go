package web

// handlers_common.go holds request parsing helpers shared by the handlers.

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/intake/internal/core"
)

// maxJSONBody bounds JSON request bodies. A full batch of cases fits easily.
const maxJSONBody = 4 << 20

// parseIntParam parses a positive integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

// parseBoolParam parses a boolean query parameter; anything unparsable is false.
func parseBoolParam(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}

// errBadRequest marks malformed request bodies.
var errBadRequest = errors.New("malformed request")

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("%w: trailing data after JSON body", errBadRequest)
	}
	return nil
}

// badRequest writes a 400 for a malformed body.
func badRequest(w http.ResponseWriter, err error) {
	respondErrorJSON(w, core.UserMessage{
		Message: "The request could not be read: " + strings.TrimPrefix(err.Error(), errBadRequest.Error()+": "),
		Action:  "Check the request body",
		Code:    "REQ001",
	}, http.StatusBadRequest)
}

// session looks up the session named in the URL for the calling operator.
func (s *Server) session(r *http.Request) (*core.Session, error) {
	return s.service.Session(r.Context(), chi.URLParam(r, "id"))
}

// Package handlers provides the localhost REST API the UI uses to queue
// actions and drive synchronization.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/emarzona/backend/internal/errors"
	"github.com/emarzona/backend/internal/logging"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error string           `json:"error"`
	Code  errors.ErrorCode `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Failed to encode response", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	status := errors.HTTPStatus(code)
	if status >= 500 {
		logging.ErrorWithCode("Agent request failed", string(code), err)
	}
	writeJSON(w, status, ErrorResponse{Error: errors.Public(err), Code: code})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(errors.ErrInvalid, "invalid request body", err)
	}
	return nil
}

func errInvalid(msg string) error {
	return errors.New(errors.ErrInvalid, msg)
}

// Package httputil provides JSON response helpers for the API surface.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/microshell/shell_host/internal/errors"
)

// ErrorResponse is the wire shape of an API error.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError writes err as a JSON error response. Unstructured errors
// are reported as internal failures without leaking their message.
func WriteError(w http.ResponseWriter, err error) {
	svcErr := errors.GetServiceError(err)
	if svcErr == nil {
		svcErr = errors.Internal("internal error", err)
	}
	WriteJSON(w, svcErr.HTTPStatus, ErrorResponse{
		Error:   svcErr.Message,
		Code:    string(svcErr.Code),
		Details: svcErr.Details,
	})
}

// Unauthorized writes a 401 response.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, errors.Unauthorized(message))
}

// DecodeJSON decodes the request body into v, limiting its size.
func DecodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.InvalidInput("invalid request body")
	}
	return nil
}

// Package httputil holds the JSON request and response helpers shared by
// every HTTP handler.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/the-pines/frog/internal/errors"
)

// ErrorResponse is the body of every non-2xx reply that is not a domain
// decision.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteJSON writes data with the given status.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError writes {"error": message}.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}

// BadRequest writes a 400.
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, message)
}

// NotFound writes a 404.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, message)
}

// Unauthorized writes a 401.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, message)
}

// InternalError writes the opaque 500 body. Callers log the cause.
func InternalError(w http.ResponseWriter) {
	WriteError(w, http.StatusInternalServerError, "Internal server error")
}

// WriteServiceError renders a ServiceError. Internal errors never expose
// their message or wrapped cause. Request errors nest their field details
// under "details"; domain errors carry their details as top-level keys
// next to "error" so clients can read e.g. "spender" or "txHash" directly.
func WriteServiceError(w http.ResponseWriter, se *errors.ServiceError) {
	if se.HTTPStatus >= http.StatusInternalServerError && se.HTTPStatus != http.StatusBadGateway {
		InternalError(w)
		return
	}

	switch se.Code {
	case errors.CodeBadRequest, errors.CodeValidation:
		WriteJSON(w, se.HTTPStatus, ErrorResponse{Error: se.Message, Details: se.Details})
		return
	}

	body := make(map[string]interface{}, len(se.Details)+1)
	for k, v := range se.Details {
		body[k] = v
	}
	body["error"] = se.Message
	WriteJSON(w, se.HTTPStatus, body)
}

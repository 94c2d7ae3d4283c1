package rest

import (
	"encoding/json"
	"net/http"
)

// Middleware wraps an http.Handler with cross-cutting behavior.
type Middleware func(http.Handler) http.Handler

// contextKey namespaces values stored on a request context to avoid
// collisions with other packages using string or other built-in key types.
type contextKey string

const contextKeyRequestMeta contextKey = "request_meta"

// RequestMeta carries per-request bookkeeping threaded through the context
// by requestIDMiddleware.
type RequestMeta struct {
	RequestID string
}

// ValidationError reports one or more field-level input problems, returned
// by request-binding helpers in the lead and webhook handlers.
type ValidationError struct {
	Message string
	Fields  map[string][]string
}

func (e *ValidationError) Error() string { return e.Message }

func newValidationError(message string, fields map[string][]string) *ValidationError {
	return &ValidationError{Message: message, Fields: fields}
}

// writeJSON encodes v as the JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, handler ErrorHandler, err error) {
	status, code, message, details := handler.HandleError(err)
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

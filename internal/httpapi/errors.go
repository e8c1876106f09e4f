package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"inferbridge/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// codedError is implemented by errors that carry a taxonomy code.
type codedError interface {
	ErrorCode() string
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: code, Status: status})
}

// writeServiceError maps a service error to its HTTP status and returns it.
func writeServiceError(w http.ResponseWriter, err error) int {
	status := http.StatusInternalServerError
	var he HTTPError
	if errors.As(err, &he) {
		status = he.StatusCode()
	}
	var code string
	var ce codedError
	if errors.As(err, &ce) {
		code = ce.ErrorCode()
	}
	if status == http.StatusTooManyRequests {
		IncrementBackpressure("busy")
	}
	writeJSONError(w, status, err.Error(), code)
	return status
}

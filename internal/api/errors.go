package api

import (
	"encoding/json"
	"errors"
	"net/http"
)

var (
	// ErrMissingDependency is returned by New when a required dependency is nil.
	ErrMissingDependency = errors.New("api: missing dependency")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("api: server already started")

	// ErrStartupHook wraps the error of a failed startup hook.
	ErrStartupHook = errors.New("api: startup hook failed")
)

// Error is the JSON body of every non-2xx response.
type Error struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Error codes.
const (
	CodeBadRequest       = "bad_request"
	CodeNotFound         = "not_found"
	CodeMethodNotAllowed = "method_not_allowed"
	CodeTooLarge         = "request_too_large"
	CodeInternal         = "internal_error"
)

// codes maps the statuses this package answers with to their error code.
var codes = map[int]string{
	http.StatusBadRequest:            CodeBadRequest,
	http.StatusNotFound:              CodeNotFound,
	http.StatusMethodNotAllowed:      CodeMethodNotAllowed,
	http.StatusRequestEntityTooLarge: CodeTooLarge,
	http.StatusInternalServerError:   CodeInternal,
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Client may have gone away
		json.NewEncoder(w).Encode(v)
	}
}

// writeError answers r with an Error body for status.
func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	code, ok := codes[status]
	if !ok {
		code = CodeInternal
	}
	writeJSON(w, status, Error{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: requestID(r),
	})
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
)

// Delegate answers the POST routes under /api. Fields holds the decoded
// request body: JSON object members, or form values where a single value
// is a string and repeated keys become []string.
//
// A returned error is reported to the client as 400 with its message.
type Delegate interface {
	General(ctx context.Context, fields map[string]any) (any, error)
	Data(ctx context.Context, fields map[string]any) (any, error)
	Request(ctx context.Context, fields map[string]any) (any, error)
}

func (s *Server) handleGeneral(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, s.delegate.General)
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, s.delegate.Data)
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, s.delegate.Request)
}

// dispatch parses the body and hands it to fn.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, fn func(context.Context, map[string]any) (any, error)) {
	fields, err := parseBody(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	result, err := fn(r.Context(), fields)
	if err != nil {
		s.logger.Debug("api request rejected", "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if result == nil {
		result = map[string]any{}
	}
	writeJSON(w, http.StatusOK, result)
}

// handleStatus returns the lifecycle status of the simulator.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.status == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

// parseBody decodes a JSON object, urlencoded form or multipart form.
// An empty body yields an empty map.
func parseBody(r *http.Request) (map[string]any, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")) //nolint:errcheck // Unknown types fall through to form parsing

	switch mediaType {
	case "application/json":
		var fields map[string]any
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decoding JSON body: %w", err)
		}
		if fields == nil {
			fields = map[string]any{}
		}
		return fields, nil
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxRequestBodySize); err != nil {
			return nil, fmt.Errorf("parsing multipart form: %w", err)
		}
	default:
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("parsing form: %w", err)
		}
	}

	fields := make(map[string]any, len(r.PostForm))
	for key, values := range r.PostForm {
		if len(values) == 1 {
			fields[key] = values[0]
		} else {
			fields[key] = values
		}
	}
	return fields, nil
}

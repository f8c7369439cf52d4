package api

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"strings"
)

// indexFile is served for the site root.
const indexFile = "index.html"

// errUnsafePath is returned by resolveAsset for paths that could escape the
// asset root.
var errUnsafePath = errors.New("unsafe asset path")

// resolveAsset maps a decoded URL path to a name inside the asset root.
// The empty path and "/" resolve to index.html. Paths with "..", empty or
// "." elements, backslashes or NUL bytes are rejected.
func resolveAsset(urlPath string) (string, error) {
	name := strings.TrimPrefix(urlPath, "/")
	if name == "" {
		return indexFile, nil
	}
	if strings.ContainsAny(name, "\\\x00") || !fs.ValidPath(name) {
		return "", errUnsafePath
	}
	return name, nil
}

// handleStatic serves a file from the asset root.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	name, err := resolveAsset(r.URL.Path)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "file not found")
		return
	}

	f, err := s.assets.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrInvalid) {
			writeError(w, r, http.StatusNotFound, "file not found")
			return
		}
		s.logger.Error("opening static asset failed", "name", name, "error", err)
		writeError(w, r, http.StatusInternalServerError, "reading asset failed")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.logger.Error("stat static asset failed", "name", name, "error", err)
		writeError(w, r, http.StatusInternalServerError, "reading asset failed")
		return
	}
	if info.IsDir() {
		writeError(w, r, http.StatusNotFound, "file not found")
		return
	}

	if rs, ok := f.(io.ReadSeeker); ok {
		http.ServeContent(w, r, info.Name(), info.ModTime(), rs)
		return
	}
	data, err := io.ReadAll(f)
	if err != nil {
		s.logger.Error("reading static asset failed", "name", name, "error", err)
		writeError(w, r, http.StatusInternalServerError, "reading asset failed")
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), bytes.NewReader(data))
}

// Package web provides the static asset root of the HTTP server.
//
// The simulator UI is embedded into the binary with go:embed. A directory
// on disk can replace it during development (http.web_dir); it is opened
// with os.Root so neither ".." nor symlinks can reach outside it.
package web

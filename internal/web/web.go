package web

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

//go:embed static/*
var content embed.FS

// DefaultDocument is served for the empty path.
const DefaultDocument = "index.html"

// ErrUnavailable is returned when an asset root cannot be used.
var ErrUnavailable = errors.New("web: asset root unavailable")

// Embedded returns the asset root compiled into the binary.
func Embedded() (fs.FS, error) {
	sub, err := fs.Sub(content, "static")
	if err != nil {
		return nil, fmt.Errorf("%w: embedded assets: %w", ErrUnavailable, err)
	}
	return sub, nil
}

// Dir opens dir as an asset root confined to that directory.
//
// The directory must exist and contain the default document.
func Dir(dir string) (fs.FS, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	assets := root.FS()
	if _, err := fs.Stat(assets, DefaultDocument); err != nil {
		root.Close() //nolint:errcheck // Root is discarded
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, dir, err)
	}
	return assets, nil
}

// Open returns Dir(dir), or the embedded assets when dir is empty.
func Open(dir string) (fs.FS, error) {
	if dir == "" {
		return Embedded()
	}
	return Dir(dir)
}

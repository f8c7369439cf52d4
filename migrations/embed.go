// Package migrations embeds the journal schema into the binary.
package migrations

import "embed"

// FS holds the SQL migration files at its root.
//
//go:embed *.sql
var FS embed.FS

// Package migrations embeds the SQLite schema migrations so the binary
// needs no migrations directory at runtime.
package migrations

import "embed"

// FS holds the NNNNNN_name.{up,down}.sql files.
//
//go:embed *.sql
var FS embed.FS

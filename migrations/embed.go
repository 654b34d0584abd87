// Package migrations embeds the operator schema migrations for cmd/migrate.
package migrations

import "embed"

// FS holds the numbered up/down SQL files
//
//go:embed *.sql
var FS embed.FS

// Package pgmigrations embeds the SQL migrations for the Postgres watch store.
package pgmigrations

import "embed"

// FS holds the golang-migrate up/down files.
//
//go:embed *.sql
var FS embed.FS

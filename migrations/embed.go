// Package migrations embeds the SQL schema migrations of the engine.
package migrations

import "embed"

// FS holds every *.up.sql / *.down.sql pair
//
//go:embed *.sql
var FS embed.FS

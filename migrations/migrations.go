// Package migrations embeds the SQL files that bun's migrator applies
// against the run-history store.
package migrations

import "embed"

//go:embed sql/*.sql
var FS embed.FS

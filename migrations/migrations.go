// Package migrations embeds the goose SQL migrations so the binary can
// migrate the schema without a checkout on disk.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

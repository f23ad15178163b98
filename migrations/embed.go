// Package migrations embeds the SQL schema migrations so a single binary can
// bootstrap its own database.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

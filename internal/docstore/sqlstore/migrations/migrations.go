// Package migrations embeds the sqlstore schema migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

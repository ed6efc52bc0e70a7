// Package migrations embeds the screenplay store schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Package migrations embeds the ordering-service schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

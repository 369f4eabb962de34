// Package migrations embeds the allowance-service schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

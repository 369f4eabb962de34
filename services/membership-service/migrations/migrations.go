// Package migrations embeds the membership-service schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

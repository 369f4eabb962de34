// Package migrations embeds the restaurant-service schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

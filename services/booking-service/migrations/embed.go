// Package migrations embeds the booking-service schema migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Package migrations contains embedded SQL migrations for the mail outbox.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

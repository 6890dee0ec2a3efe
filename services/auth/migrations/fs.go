// Package migrations embeds the SQL migration files for the shared identity
// database. The auth service owns and applies them; the email service only
// reads the resulting schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

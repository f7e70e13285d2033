package migrations

import "embed"

// FS holds the SQL migrations applied to the session's talk.db.
//
//go:embed *.sql
var FS embed.FS

package migrations

import "embed"

// FS contains the embedded escrow schema migrations.
//
//go:embed *.sql
var FS embed.FS

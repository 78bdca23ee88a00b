package migrations

import "embed"

// FS holds the versioned SQL scripts, applied in filename order.
//
//go:embed scripts/*.sql
var FS embed.FS

// Package migrations embeds the schema so the library carries it without
// files on disk.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

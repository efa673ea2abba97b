// Package migrations embeds the ClickHouse schema for goose
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Dir is the goose directory inside FS
const Dir = "."

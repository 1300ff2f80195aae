// Package migrations embeds the relay's Postgres schema.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS

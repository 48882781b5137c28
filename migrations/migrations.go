// Package migrations embeds the relaykit schema for each supported driver.
package migrations

import "embed"

// SqliteMigrations holds the on-device schema.
//
//go:embed sqlite/*.sql
var SqliteMigrations embed.FS

// PostgresMigrations holds the shared-server schema.
//
//go:embed postgres/*.sql
var PostgresMigrations embed.FS

// Package db embeds the goose SQL migrations of the tick cache.
package db

import "embed"

// Migrations holds migrations/*.sql for goose.SetBaseFS.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory name inside Migrations.
const MigrationsDir = "migrations"

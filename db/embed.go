// Package db embeds the marketplace database schema.
package db

import _ "embed"

// Schema holds the idempotent DDL for every marketplace table.
//
//go:embed migrations/001_schema.sql
var Schema string

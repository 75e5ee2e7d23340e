// Package dbmigrations exposes embedded SQL migrations for trunkwatch binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into trunkwatch binaries.
//
//go:embed *.sql
var Files embed.FS

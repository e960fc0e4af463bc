// Package db provides the embedded database schemas and seed data.
package db

import _ "embed"

// Schema contains the PostgreSQL DDL for all application tables.
//
//go:embed migrations/postgres/001_schema.sql
var Schema string

// SQLiteSchema contains the SQLite DDL used by the offline store.
//
//go:embed migrations/sqlite/001_schema.sql
var SQLiteSchema string

// Products is the sample catalog loaded by seed-db.
//
//go:embed seed/products.json
var Products []byte

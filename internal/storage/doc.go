// Package storage is the persistence layer behind kolpulse.
//
// It supports two drivers:
//   - "sqlite": a local database file (modernc.org/sqlite, no cgo)
//   - "postgres": a shared database (pgx stdlib driver)
//
// Queries are written with '?' placeholders and rebound per driver by sqlx.
// Timestamps are stored as unix milliseconds. Multi-row writes run in a
// single transaction.
package storage

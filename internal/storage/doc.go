// Package storage implements reminder.Store.
//
// Drivers:
//   - "sqlite" (default): a local database file through modernc.org/sqlite.
//   - "postgres": a PostgreSQL server through gorm.
//
// Instants are stored in UTC. SQLite keeps them as unix nanoseconds so the
// due comparison is exact; Postgres uses timestamptz.
package storage

// Package sqlite implements repository.Store on SQLite.
//
// SQLite is the default backend for development and the one the tests use:
// no server to run, and ":memory:" gives every test a fresh database.
//
// modernc.org/sqlite is a pure Go translation of SQLite (no CGo, no C
// compiler needed). It registers itself with database/sql as "sqlite".
//
// DATABASE/SQL OVERVIEW:
//   - sql.DB:  a connection pool (NOT a single connection!)
//   - sql.Row: a single result row
//
// The pattern is always:
//  1. sql.Open(driverName, dataSourceName) → creates a pool
//  2. db.QueryRowContext / db.ExecContext  → runs queries
//  3. row.Scan(&field1, &field2)           → reads results into Go variables
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/auth-starter/internal/repository"
)

//go:embed migrations/*.sql
var migrations embed.FS

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// DB wraps a sql.DB connection pool and implements repository.Store.
type DB struct {
	conn *sql.DB
}

// compile-time check that *DB implements repository.Store
var _ repository.Store = (*DB)(nil)

// New opens the SQLite database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/auth.db"  → file-based database (persistent)
//   - ":memory:"      → in-memory database (tests; lost on close)
func New(ctx context.Context, dbPath string) (*DB, error) {
	dsn := dbPath
	if dbPath != MemoryPath && !strings.Contains(dbPath, "?") {
		// Concurrent writers wait for the lock instead of failing with SQLITE_BUSY.
		dsn = dbPath + "?_pragma=busy_timeout(5000)"
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every connection to ":memory:" is a different database, so the pool
	// must hold exactly one.
	if dbPath == MemoryPath {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a registration is being written.
	if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	if err := repository.Migrate(ctx, conn, "sqlite3", migrations, "migrations"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Ping verifies the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// isUniqueViolation reports whether err is SQLite's UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
		sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

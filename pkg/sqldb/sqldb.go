// Package sqldb opens the fabric's relational store and hides the
// differences between the two supported engines: Postgres for multi-node
// deployments and SQLite (pure Go driver) for tests and single-node use.
package sqldb

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect identifies the SQL engine behind a *sql.DB.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// Open connects to the store named by url. Postgres URLs use the usual
// postgres:// form; anything prefixed sqlite:// (including sqlite://:memory:)
// opens the embedded engine.
func Open(url string) (*sql.DB, Dialect, error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		db, err := sql.Open("postgres", url)
		if err != nil {
			return nil, "", fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxIdleConns(5)
		db.SetMaxOpenConns(15)
		return db, Postgres, nil
	case strings.HasPrefix(url, "sqlite://"):
		dsn := strings.TrimPrefix(url, "sqlite://")
		if dsn == ":memory:" || dsn == "" {
			// Shared cache so the pool sees one database, not one per conn.
			dsn = "file::memory:?cache=shared"
		}
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, "", fmt.Errorf("open sqlite: %w", err)
		}
		db.SetMaxOpenConns(1)
		return db, SQLite, nil
	default:
		return nil, "", fmt.Errorf("unsupported database url %q", url)
	}
}

// OpenMemory opens a private in-memory SQLite database. Intended for tests.
func OpenMemory() (*sql.DB, Dialect, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, "", fmt.Errorf("open sqlite memory: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, SQLite, nil
}

// IsUniqueViolation reports whether err is a unique-constraint failure on
// either engine. Postgres surfaces SQLSTATE 23505; the SQLite driver only
// exposes a formatted message.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed: UNIQUE")
}

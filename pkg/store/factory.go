package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Open creates a store for driver ("memory", "sqlite" or "postgres").
// dsn is a file path for sqlite and a connection string for postgres.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		if dsn == "" {
			dsn = "agentpay.db"
		}
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("store: open sqlite: %w", err)
		}
		// SQLite allows a single writer; one connection keeps nested calls on the same handle.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: sqlite pragma: %w", err)
		}
		return initSQL(ctx, db, DialectSQLite)
	case "postgres":
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("store: open postgres: %w", err)
		}
		return initSQL(ctx, db, DialectPostgres)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}
}

func initSQL(ctx context.Context, db *sql.DB, dialect Dialect) (Store, error) {
	s := NewSQLStore(db, dialect)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

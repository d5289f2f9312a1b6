// Package sqlite opens a single-file SQLite database for store.Repository.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"hardwarepos/backend/internal/store/sqlstore"
)

// Timestamps are stored as unix milliseconds.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS categories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	custom_id TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	category_id INTEGER NOT NULL,
	stock_quantity INTEGER NOT NULL CHECK (stock_quantity >= 0),
	price_cents INTEGER NOT NULL CHECK (price_cents >= 0),
	FOREIGN KEY (category_id) REFERENCES categories(id)
);

CREATE TABLE IF NOT EXISTS bills (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	bill_date INTEGER NOT NULL,
	cashier_id INTEGER NOT NULL,
	customer TEXT,
	refunded INTEGER NOT NULL DEFAULT 0,
	refunded_date INTEGER,
	FOREIGN KEY (cashier_id) REFERENCES users(id)
);

CREATE INDEX IF NOT EXISTS idx_bills_cashier ON bills(cashier_id);
CREATE INDEX IF NOT EXISTS idx_bills_date ON bills(bill_date);

CREATE TABLE IF NOT EXISTS bill_items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	bill_id INTEGER NOT NULL,
	item_id INTEGER NOT NULL,
	quantity INTEGER NOT NULL CHECK (quantity > 0),
	price_cents INTEGER NOT NULL,
	refunded INTEGER NOT NULL DEFAULT 0,
	FOREIGN KEY (bill_id) REFERENCES bills(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_bill_items_bill ON bill_items(bill_id)
`

// Dialect serializes units of work through a single connection, so there are
// no row locks and nothing to replay beyond a busy database.
func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:              "sqlite",
		Schema:            schema,
		ContainsFunc:      "instr",
		UnixMillis:        true,
		IsUniqueViolation: isUniqueViolation,
		IsRetryable:       isBusy,
	}
}

// New creates the parent directory of dbPath if needed, opens the database
// with foreign keys enabled and runs migrations.
func New(ctx context.Context, dbPath string, maxRetries int) (*sqlstore.Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := sqlstore.New(db, Dialect(), maxRetries)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func sqliteCode(err error) int {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()
	}
	return 0
}

func isUniqueViolation(err error) bool {
	switch sqliteCode(err) {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

func isBusy(err error) bool {
	code := sqliteCode(err)
	return code&0xff == sqlite3.SQLITE_BUSY
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"hardwarepos/backend/internal/store/sqlstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS categories (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS items (
	id BIGSERIAL PRIMARY KEY,
	custom_id TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	category_id BIGINT NOT NULL REFERENCES categories(id),
	stock_quantity INTEGER NOT NULL CHECK (stock_quantity >= 0),
	price_cents BIGINT NOT NULL CHECK (price_cents >= 0)
);

CREATE TABLE IF NOT EXISTS bills (
	id BIGSERIAL PRIMARY KEY,
	bill_date TIMESTAMPTZ NOT NULL,
	cashier_id BIGINT NOT NULL REFERENCES users(id),
	customer TEXT,
	refunded BOOLEAN NOT NULL DEFAULT false,
	refunded_date TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_bills_cashier ON bills (cashier_id);
CREATE INDEX IF NOT EXISTS idx_bills_date ON bills (bill_date);

CREATE TABLE IF NOT EXISTS bill_items (
	id BIGSERIAL PRIMARY KEY,
	bill_id BIGINT NOT NULL REFERENCES bills(id) ON DELETE CASCADE,
	item_id BIGINT NOT NULL,
	quantity INTEGER NOT NULL CHECK (quantity > 0),
	price_cents BIGINT NOT NULL,
	refunded BOOLEAN NOT NULL DEFAULT false
);

CREATE INDEX IF NOT EXISTS idx_bill_items_bill ON bill_items (bill_id)
`

// Dialect runs units of work at SERIALIZABLE and replays them on
// serialization failures and deadlocks.
func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:              "postgres",
		Schema:            schema,
		Numbered:          true,
		RowLocks:          true,
		ContainsFunc:      "strpos",
		TxOptions:         &sql.TxOptions{Isolation: sql.LevelSerializable},
		IsUniqueViolation: isUniqueViolation,
		IsRetryable:       isRetryable,
	}
}

// New opens a pooled connection, checks it and migrates the schema.
func New(ctx context.Context, databaseURL string, maxRetries int) (*sqlstore.Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := sqlstore.New(db, Dialect(), maxRetries)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == "23505"
}

func isRetryable(err error) bool {
	switch pgCode(err) {
	case "40001", "40P01":
		return true
	}
	return false
}

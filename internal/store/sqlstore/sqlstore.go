// Package sqlstore implements store.Repository on database/sql. The postgres
// and sqlite packages open the connection and supply the Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"hardwarepos/backend/internal/domain"
	"hardwarepos/backend/internal/store"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db         *sql.DB
	dialect    Dialect
	maxRetries int
}

var _ store.Repository = (*Store)(nil)

func New(db *sql.DB, dialect Dialect, maxRetries int) *Store {
	if maxRetries < 1 {
		maxRetries = store.DefaultMaxRetries
	}
	return &Store{db: db, dialect: dialect, maxRetries: maxRetries}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.statements() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run %s migration: %w", s.dialect.Name, err)
		}
	}
	return nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !s.dialect.retryable(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w after %d attempts: %v", store.ErrConflict, s.maxRetries, lastErr)
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, s.dialect.TxOptions)
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(ctx, &txn{q: sqlTx, d: s.dialect}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

const itemColumns = `
	SELECT i.id, i.custom_id, i.name, i.category_id, c.name, i.stock_quantity, i.price_cents
	FROM items i
	JOIN categories c ON c.id = i.category_id
`

func scanItem(row interface{ Scan(dest ...any) error }) (domain.Item, error) {
	var item domain.Item
	err := row.Scan(&item.ID, &item.CustomID, &item.Name, &item.CategoryID, &item.Category, &item.StockQuantity, &item.PriceCents)
	return item, err
}

func getItem(ctx context.Context, q querier, d Dialect, where string, arg any, lock bool) (*domain.Item, error) {
	query := itemColumns + " WHERE " + where
	if lock {
		query += d.lock("i")
	}
	item, err := scanItem(q.QueryRowContext(ctx, d.rebind(query), arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetItem(ctx context.Context, id int64) (*domain.Item, error) {
	return getItem(ctx, s.db, s.dialect, "i.id = ?", id, false)
}

func (s *Store) ListItems(ctx context.Context, filter store.ItemFilter) ([]domain.Item, error) {
	conds := make([]string, 0, 4)
	args := make([]any, 0, 4)
	if filter.CategoryID != 0 {
		conds = append(conds, "i.category_id = ?")
		args = append(args, filter.CategoryID)
	}
	if filter.NameContains != "" {
		conds = append(conds, s.dialect.contains("i.name"))
		args = append(args, filter.NameContains)
	}
	if filter.MinStock != nil {
		conds = append(conds, "i.stock_quantity >= ?")
		args = append(args, *filter.MinStock)
	}
	if filter.MaxStock != nil {
		conds = append(conds, "i.stock_quantity <= ?")
		args = append(args, *filter.MaxStock)
	}

	query := itemColumns
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY i.id"

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Item, 0, 64)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM categories ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 16)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return categories, nil
}

const billColumns = `SELECT b.id, b.bill_date, b.cashier_id, b.customer, b.refunded, b.refunded_date FROM bills b`

func scanBill(row interface{ Scan(dest ...any) error }) (domain.Bill, error) {
	var bill domain.Bill
	var customer sql.NullString
	var refundedAt time.Time
	refunded := timeColumn{dest: &refundedAt}
	if err := row.Scan(&bill.ID, &timeColumn{dest: &bill.Date}, &bill.CashierID, &customer, &bill.Refunded, &refunded); err != nil {
		return domain.Bill{}, err
	}
	if refunded.valid {
		bill.RefundedDate = &refundedAt
	}
	if customer.Valid && customer.String != "" {
		var c domain.Customer
		if err := json.Unmarshal([]byte(customer.String), &c); err != nil {
			return domain.Bill{}, fmt.Errorf("decode customer of bill %d: %w", bill.ID, err)
		}
		bill.Customer = &c
	}
	bill.Items = []domain.BillItem{}
	return bill, nil
}

func scanBillItem(row interface{ Scan(dest ...any) error }) (domain.BillItem, error) {
	var line domain.BillItem
	err := row.Scan(&line.ID, &line.BillID, &line.ItemID, &line.Quantity, &line.PriceCents, &line.Refunded)
	return line, err
}

func getBill(ctx context.Context, q querier, d Dialect, id int64, lock bool) (*domain.Bill, error) {
	query := billColumns + " WHERE b.id = ?"
	if lock {
		query += d.lock("b")
	}
	bill, err := scanBill(q.QueryRowContext(ctx, d.rebind(query), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	rows, err := q.QueryContext(ctx, d.rebind(`
		SELECT id, bill_id, item_id, quantity, price_cents, refunded
		FROM bill_items
		WHERE bill_id = ?
		ORDER BY id
	`), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		line, err := scanBillItem(rows)
		if err != nil {
			return nil, err
		}
		bill.Items = append(bill.Items, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &bill, nil
}

func (s *Store) GetBill(ctx context.Context, id int64) (*domain.Bill, error) {
	return getBill(ctx, s.db, s.dialect, id, false)
}

func (s *Store) ListBills(ctx context.Context, filter store.BillFilter) ([]domain.Bill, error) {
	conds := make([]string, 0, 3)
	args := make([]any, 0, 3)
	if filter.CashierID != 0 {
		conds = append(conds, "b.cashier_id = ?")
		args = append(args, filter.CashierID)
	}
	if !filter.From.IsZero() {
		conds = append(conds, "b.bill_date >= ?")
		args = append(args, s.dialect.timeArg(filter.From))
	}
	if !filter.To.IsZero() {
		conds = append(conds, "b.bill_date <= ?")
		args = append(args, s.dialect.timeArg(filter.To))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(billColumns+where+" ORDER BY b.id"), args...)
	if err != nil {
		return nil, err
	}
	bills := make([]domain.Bill, 0, 32)
	index := make(map[int64]int)
	for rows.Next() {
		bill, err := scanBill(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		index[bill.ID] = len(bills)
		bills = append(bills, bill)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()
	if len(bills) == 0 {
		return bills, nil
	}

	lineRows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT bi.id, bi.bill_id, bi.item_id, bi.quantity, bi.price_cents, bi.refunded
		FROM bill_items bi
		JOIN bills b ON b.id = bi.bill_id`+where+`
		ORDER BY bi.bill_id, bi.id
	`), args...)
	if err != nil {
		return nil, err
	}
	defer lineRows.Close()
	for lineRows.Next() {
		line, err := scanBillItem(lineRows)
		if err != nil {
			return nil, err
		}
		if idx, ok := index[line.BillID]; ok {
			bills[idx].Items = append(bills[idx].Items, line)
		}
	}
	if err := lineRows.Err(); err != nil {
		return nil, err
	}
	return bills, nil
}

const userColumns = `SELECT id, username, password_hash, role, active, created_at FROM users`

func scanUser(row interface{ Scan(dest ...any) error }) (domain.User, error) {
	var user domain.User
	err := row.Scan(&user.ID, &user.Username, &user.Password, &user.Role, &user.Active, &timeColumn{dest: &user.CreatedAt})
	return user, err
}

func getUser(ctx context.Context, q querier, d Dialect, id int64) (*domain.User, error) {
	user, err := scanUser(q.QueryRowContext(ctx, d.rebind(userColumns+" WHERE id = ?"), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	return getUser(ctx, s.db, s.dialect, id)
}

func (s *Store) CreateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true

	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`
		INSERT INTO users (username, password_hash, role, active, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`), user.Username, user.Password, user.Role, user.Active, s.dialect.timeArg(user.CreatedAt)).Scan(&user.ID)
	if err != nil {
		if s.dialect.uniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, userColumns+" ORDER BY username")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0, 8)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`UPDATE users SET password_hash = ? WHERE username = ?`), password, username)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

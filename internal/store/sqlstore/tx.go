package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"hardwarepos/backend/internal/domain"
	"hardwarepos/backend/internal/store"
)

// txn is the store.Tx of one database transaction.
type txn struct {
	q querier
	d Dialect
}

var _ store.Tx = (*txn)(nil)

func (t *txn) Item(ctx context.Context, id int64) (*domain.Item, error) {
	return getItem(ctx, t.q, t.d, "i.id = ?", id, true)
}

func (t *txn) ItemByCustomID(ctx context.Context, customID string) (*domain.Item, error) {
	return getItem(ctx, t.q, t.d, "i.custom_id = ?", customID, true)
}

func validItem(item domain.Item) bool {
	return item.CustomID != "" && item.Name != "" && item.StockQuantity >= 0 && item.PriceCents >= 0
}

func (t *txn) categoryName(ctx context.Context, id int64) (string, error) {
	var name string
	err := t.q.QueryRowContext(ctx, t.d.rebind(`SELECT name FROM categories WHERE id = ?`), id).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrInvalidTransaction
	}
	return name, err
}

func (t *txn) InsertItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	if !validItem(item) {
		return nil, store.ErrInvalidTransaction
	}
	category, err := t.categoryName(ctx, item.CategoryID)
	if err != nil {
		return nil, err
	}
	err = t.q.QueryRowContext(ctx, t.d.rebind(`
		INSERT INTO items (custom_id, name, category_id, stock_quantity, price_cents)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`), item.CustomID, item.Name, item.CategoryID, item.StockQuantity, item.PriceCents).Scan(&item.ID)
	if err != nil {
		if t.d.uniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	item.Category = category
	return &item, nil
}

func (t *txn) UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	if !validItem(item) {
		return nil, store.ErrInvalidTransaction
	}
	category, err := t.categoryName(ctx, item.CategoryID)
	if err != nil {
		return nil, err
	}
	res, err := t.q.ExecContext(ctx, t.d.rebind(`
		UPDATE items
		SET custom_id = ?, name = ?, category_id = ?, stock_quantity = ?, price_cents = ?
		WHERE id = ?
	`), item.CustomID, item.Name, item.CategoryID, item.StockQuantity, item.PriceCents, item.ID)
	if err != nil {
		if t.d.uniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	if err := expectAffected(res); err != nil {
		return nil, err
	}
	item.Category = category
	return &item, nil
}

func (t *txn) DeleteItem(ctx context.Context, id int64) error {
	res, err := t.q.ExecContext(ctx, t.d.rebind(`DELETE FROM items WHERE id = ?`), id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (t *txn) SetStock(ctx context.Context, itemID int64, qty int) error {
	if qty < 0 {
		return store.ErrInsufficientStock
	}
	res, err := t.q.ExecContext(ctx, t.d.rebind(`UPDATE items SET stock_quantity = ? WHERE id = ?`), qty, itemID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (t *txn) CategoryByName(ctx context.Context, name string) (*domain.Category, error) {
	var category domain.Category
	err := t.q.QueryRowContext(ctx, t.d.rebind(`SELECT id, name FROM categories WHERE name = ?`), name).Scan(&category.ID, &category.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &category, nil
}

func (t *txn) InsertCategory(ctx context.Context, name string) (*domain.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, store.ErrInvalidTransaction
	}
	category := domain.Category{Name: name}
	err := t.q.QueryRowContext(ctx, t.d.rebind(`INSERT INTO categories (name) VALUES (?) RETURNING id`), name).Scan(&category.ID)
	if err != nil {
		if t.d.uniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	return &category, nil
}

func (t *txn) User(ctx context.Context, id int64) (*domain.User, error) {
	return getUser(ctx, t.q, t.d, id)
}

func (t *txn) Bill(ctx context.Context, id int64) (*domain.Bill, error) {
	return getBill(ctx, t.q, t.d, id, true)
}

func (t *txn) InsertBill(ctx context.Context, bill domain.Bill) (*domain.Bill, error) {
	if len(bill.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	bill = bill.Clone()

	var customer sql.NullString
	if bill.Customer != nil {
		raw, err := json.Marshal(bill.Customer)
		if err != nil {
			return nil, err
		}
		customer = sql.NullString{String: string(raw), Valid: true}
	}

	err := t.q.QueryRowContext(ctx, t.d.rebind(`
		INSERT INTO bills (bill_date, cashier_id, customer, refunded, refunded_date)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`), t.d.timeArg(bill.Date), bill.CashierID, customer, bill.Refunded, t.d.nullTimeArg(bill.RefundedDate)).Scan(&bill.ID)
	if err != nil {
		return nil, err
	}

	for i := range bill.Items {
		line := &bill.Items[i]
		line.BillID = bill.ID
		err := t.q.QueryRowContext(ctx, t.d.rebind(`
			INSERT INTO bill_items (bill_id, item_id, quantity, price_cents, refunded)
			VALUES (?, ?, ?, ?, ?)
			RETURNING id
		`), bill.ID, line.ItemID, line.Quantity, line.PriceCents, line.Refunded).Scan(&line.ID)
		if err != nil {
			return nil, err
		}
	}
	return &bill, nil
}

func (t *txn) SaveBillRefunds(ctx context.Context, bill domain.Bill) error {
	for _, line := range bill.Items {
		res, err := t.q.ExecContext(ctx, t.d.rebind(`UPDATE bill_items SET refunded = ? WHERE id = ? AND bill_id = ?`), line.Refunded, line.ID, bill.ID)
		if err != nil {
			return err
		}
		if err := expectAffected(res); err != nil {
			return err
		}
	}
	res, err := t.q.ExecContext(ctx, t.d.rebind(`UPDATE bills SET refunded = ?, refunded_date = ? WHERE id = ?`),
		bill.Refunded, t.d.nullTimeArg(bill.RefundedDate), bill.ID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

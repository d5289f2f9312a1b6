package badgerkv

import (
	"context"
	"errors"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"hardwarepos/backend/internal/domain"
	"hardwarepos/backend/internal/store"
)

// kvTx reads through the badger transaction, so every key it touches takes
// part in conflict detection at commit.
type kvTx struct {
	s   *Store
	txn *badger.Txn
}

var _ store.Tx = (*kvTx)(nil)

func (t *kvTx) Item(_ context.Context, id int64) (*domain.Item, error) {
	var item domain.Item
	if err := getJSON(t.txn, recordKey(prefixItem, id), &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (t *kvTx) ItemByCustomID(ctx context.Context, customID string) (*domain.Item, error) {
	id, err := getIndex(t.txn, indexKey(prefixItemCustomID, customID))
	if err != nil {
		return nil, err
	}
	return t.Item(ctx, id)
}

func (t *kvTx) category(id int64) (domain.Category, error) {
	var category domain.Category
	err := getJSON(t.txn, recordKey(prefixCategory, id), &category)
	if errors.Is(err, store.ErrNotFound) {
		return category, store.ErrInvalidTransaction
	}
	return category, err
}

func (t *kvTx) customIDTaken(customID string, exceptID int64) (bool, error) {
	id, err := getIndex(t.txn, indexKey(prefixItemCustomID, customID))
	switch {
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return id != exceptID, nil
}

func validItem(item domain.Item) bool {
	return item.CustomID != "" && item.Name != "" && item.StockQuantity >= 0 && item.PriceCents >= 0
}

func (t *kvTx) InsertItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	if !validItem(item) {
		return nil, store.ErrInvalidTransaction
	}
	category, err := t.category(item.CategoryID)
	if err != nil {
		return nil, err
	}
	taken, err := t.customIDTaken(item.CustomID, 0)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, store.ErrDuplicate
	}

	item.ID, err = t.s.nextID("item")
	if err != nil {
		return nil, err
	}
	item.Category = category.Name
	if err := setJSON(t.txn, recordKey(prefixItem, item.ID), item); err != nil {
		return nil, err
	}
	if err := setIndex(t.txn, indexKey(prefixItemCustomID, item.CustomID), item.ID); err != nil {
		return nil, err
	}
	return &item, nil
}

func (t *kvTx) UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	if !validItem(item) {
		return nil, store.ErrInvalidTransaction
	}
	current, err := t.Item(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	category, err := t.category(item.CategoryID)
	if err != nil {
		return nil, err
	}
	if item.CustomID != current.CustomID {
		taken, err := t.customIDTaken(item.CustomID, item.ID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, store.ErrDuplicate
		}
		if err := t.txn.Delete(indexKey(prefixItemCustomID, current.CustomID)); err != nil {
			return nil, err
		}
		if err := setIndex(t.txn, indexKey(prefixItemCustomID, item.CustomID), item.ID); err != nil {
			return nil, err
		}
	}
	item.Category = category.Name
	if err := setJSON(t.txn, recordKey(prefixItem, item.ID), item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (t *kvTx) DeleteItem(ctx context.Context, id int64) error {
	current, err := t.Item(ctx, id)
	if err != nil {
		return err
	}
	if err := t.txn.Delete(indexKey(prefixItemCustomID, current.CustomID)); err != nil {
		return err
	}
	return t.txn.Delete(recordKey(prefixItem, id))
}

func (t *kvTx) SetStock(ctx context.Context, itemID int64, qty int) error {
	if qty < 0 {
		return store.ErrInsufficientStock
	}
	item, err := t.Item(ctx, itemID)
	if err != nil {
		return err
	}
	item.StockQuantity = qty
	return setJSON(t.txn, recordKey(prefixItem, itemID), item)
}

func (t *kvTx) CategoryByName(_ context.Context, name string) (*domain.Category, error) {
	id, err := getIndex(t.txn, indexKey(prefixCategoryName, name))
	if err != nil {
		return nil, err
	}
	var category domain.Category
	if err := getJSON(t.txn, recordKey(prefixCategory, id), &category); err != nil {
		return nil, err
	}
	return &category, nil
}

func (t *kvTx) InsertCategory(ctx context.Context, name string) (*domain.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, store.ErrInvalidTransaction
	}
	if _, err := t.CategoryByName(ctx, name); err == nil {
		return nil, store.ErrDuplicate
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	id, err := t.s.nextID("category")
	if err != nil {
		return nil, err
	}
	category := domain.Category{ID: id, Name: name}
	if err := setJSON(t.txn, recordKey(prefixCategory, id), category); err != nil {
		return nil, err
	}
	if err := setIndex(t.txn, indexKey(prefixCategoryName, name), id); err != nil {
		return nil, err
	}
	return &category, nil
}

func (t *kvTx) User(_ context.Context, id int64) (*domain.User, error) {
	var record userRecord
	if err := getJSON(t.txn, recordKey(prefixUser, id), &record); err != nil {
		return nil, err
	}
	user := record.user()
	return &user, nil
}

func (t *kvTx) Bill(_ context.Context, id int64) (*domain.Bill, error) {
	var bill domain.Bill
	if err := getJSON(t.txn, recordKey(prefixBill, id), &bill); err != nil {
		return nil, err
	}
	return &bill, nil
}

func (t *kvTx) InsertBill(_ context.Context, bill domain.Bill) (*domain.Bill, error) {
	if len(bill.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	bill = bill.Clone()

	var err error
	bill.ID, err = t.s.nextID("bill")
	if err != nil {
		return nil, err
	}
	for i := range bill.Items {
		bill.Items[i].ID, err = t.s.nextID("line")
		if err != nil {
			return nil, err
		}
		bill.Items[i].BillID = bill.ID
	}
	if err := setJSON(t.txn, recordKey(prefixBill, bill.ID), bill); err != nil {
		return nil, err
	}
	return &bill, nil
}

func (t *kvTx) SaveBillRefunds(ctx context.Context, bill domain.Bill) error {
	current, err := t.Bill(ctx, bill.ID)
	if err != nil {
		return err
	}
	for _, line := range bill.Items {
		idx, ok := current.LineIndex(line.ID)
		if !ok {
			return store.ErrNotFound
		}
		current.Items[idx].Refunded = line.Refunded
	}
	current.Refunded = bill.Refunded
	current.RefundedDate = bill.RefundedDate
	return setJSON(t.txn, recordKey(prefixBill, current.ID), current)
}

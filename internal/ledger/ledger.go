// Package ledger applies stock debits and credits to a single item row inside
// a unit of work. It never caches stock: every call reads the row through the
// transaction it is given.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"

	"hardwarepos/backend/internal/domain"
	"hardwarepos/backend/internal/store"
)

var (
	ErrItemNotFound    = fmt.Errorf("item %w", store.ErrNotFound)
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrStockOverflow   = fmt.Errorf("%w: credit would overflow stock", ErrInvalidQuantity)
)

// InsufficientStockError carries the stock seen when a debit was refused.
type InsufficientStockError struct {
	ItemID    int64
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %d: available %d, requested %d", e.ItemID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return store.ErrInsufficientStock
}

// Debit removes quantity units from the item. The row is left untouched when
// the current stock cannot cover the request.
func Debit(ctx context.Context, tx store.Tx, itemID int64, quantity int) (*domain.Item, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	item, err := load(ctx, tx, itemID)
	if err != nil {
		return nil, err
	}
	if item.StockQuantity < quantity {
		return nil, &InsufficientStockError{ItemID: itemID, Available: item.StockQuantity, Requested: quantity}
	}
	item.StockQuantity -= quantity
	if err := tx.SetStock(ctx, item.ID, item.StockQuantity); err != nil {
		return nil, fmt.Errorf("debit item %d: %w", itemID, err)
	}
	return item, nil
}

// Credit returns quantity units to the item. There is no upper bound.
func Credit(ctx context.Context, tx store.Tx, itemID int64, quantity int) (*domain.Item, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	item, err := load(ctx, tx, itemID)
	if err != nil {
		return nil, err
	}
	if quantity > math.MaxInt-item.StockQuantity {
		return nil, fmt.Errorf("%w: item %d holds %d, credit %d", ErrStockOverflow, itemID, item.StockQuantity, quantity)
	}
	item.StockQuantity += quantity
	if err := tx.SetStock(ctx, item.ID, item.StockQuantity); err != nil {
		return nil, fmt.Errorf("credit item %d: %w", itemID, err)
	}
	return item, nil
}

func load(ctx context.Context, tx store.Tx, itemID int64) (*domain.Item, error) {
	item, err := tx.Item(ctx, itemID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrItemNotFound, itemID)
	}
	if err != nil {
		return nil, fmt.Errorf("load item %d: %w", itemID, err)
	}
	return item, nil
}

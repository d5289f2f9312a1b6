package service

import (
	"errors"
	"fmt"

	"hardwarepos/backend/internal/ledger"
	"hardwarepos/backend/internal/store"
)

// Not-found kinds wrap store.ErrNotFound so callers can match either.
var (
	ErrCashierNotFound  = fmt.Errorf("cashier %w", store.ErrNotFound)
	ErrItemNotFound     = ledger.ErrItemNotFound
	ErrBillNotFound     = fmt.Errorf("bill %w", store.ErrNotFound)
	ErrBillItemNotFound = fmt.Errorf("bill item %w", store.ErrNotFound)
	ErrCategoryNotFound = fmt.Errorf("category %w", store.ErrNotFound)

	ErrAlreadyRefunded      = errors.New("bill item already refunded")
	ErrAlreadyFullyRefunded = errors.New("bill already fully refunded")
	ErrNoItemsSpecified     = errors.New("no items specified")
	ErrInvalidQuantity      = ledger.ErrInvalidQuantity
	ErrDuplicateCustomID    = fmt.Errorf("custom id %w", store.ErrDuplicate)
)

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", store.ErrInvalidTransaction, msg)
}

// notFound maps a store miss to the given kind and keeps other errors as they are.
func notFound(err error, kind error, id int64) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %d", kind, id)
	}
	return err
}

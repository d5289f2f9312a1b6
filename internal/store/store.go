package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"hardwarepos/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrDuplicate          = errors.New("already exists")
	// ErrConflict is returned when a unit of work keeps losing to concurrent writers.
	ErrConflict = errors.New("transaction conflict")
)

const DefaultMaxRetries = 5

type ItemFilter struct {
	CategoryID   int64
	NameContains string
	MinStock     *int
	MaxStock     *int
}

func (f ItemFilter) Match(item domain.Item) bool {
	if f.CategoryID != 0 && item.CategoryID != f.CategoryID {
		return false
	}
	if f.NameContains != "" && !strings.Contains(item.Name, f.NameContains) {
		return false
	}
	if f.MinStock != nil && item.StockQuantity < *f.MinStock {
		return false
	}
	if f.MaxStock != nil && item.StockQuantity > *f.MaxStock {
		return false
	}
	return true
}

// BillFilter bounds are inclusive. Zero values disable a bound.
type BillFilter struct {
	CashierID int64
	From      time.Time
	To        time.Time
}

func (f BillFilter) Match(bill domain.Bill) bool {
	if f.CashierID != 0 && bill.CashierID != f.CashierID {
		return false
	}
	if !f.From.IsZero() && bill.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && bill.Date.After(f.To) {
		return false
	}
	return true
}

// Tx is one unit of work. Reads through a Tx see its own writes and, where the
// backend supports it, lock or track the rows they return until commit.
type Tx interface {
	Item(ctx context.Context, id int64) (*domain.Item, error)
	ItemByCustomID(ctx context.Context, customID string) (*domain.Item, error)
	InsertItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	DeleteItem(ctx context.Context, id int64) error
	SetStock(ctx context.Context, itemID int64, qty int) error

	CategoryByName(ctx context.Context, name string) (*domain.Category, error)
	InsertCategory(ctx context.Context, name string) (*domain.Category, error)

	User(ctx context.Context, id int64) (*domain.User, error)

	Bill(ctx context.Context, id int64) (*domain.Bill, error)
	InsertBill(ctx context.Context, bill domain.Bill) (*domain.Bill, error)
	SaveBillRefunds(ctx context.Context, bill domain.Bill) error
}

type Repository interface {
	// WithinTx commits only when fn returns nil and rolls back on every other path.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetItem(ctx context.Context, id int64) (*domain.Item, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]domain.Item, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
	GetBill(ctx context.Context, id int64) (*domain.Bill, error)
	ListBills(ctx context.Context, filter BillFilter) ([]domain.Bill, error)
	GetUser(ctx context.Context, id int64) (*domain.User, error)

	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error

	Close() error
}

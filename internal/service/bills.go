package service

import (
	"context"
	"strings"
	"time"

	"hardwarepos/backend/internal/domain"
	"hardwarepos/backend/internal/ledger"
	"hardwarepos/backend/internal/store"
)

const (
	sourceDirect = "direct"
	sourceCart   = "cart"
)

// CreateBill rings up lines at each item's current price. Every line debits
// stock in order; the first failure rolls back the whole bill.
func (s *Service) CreateBill(ctx context.Context, req domain.CreateBillRequest) (domain.Bill, error) {
	if len(req.Lines) == 0 {
		return domain.Bill{}, ErrNoItemsSpecified
	}

	var created *domain.Bill
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := requireCashier(ctx, tx, req.CashierID); err != nil {
			return err
		}

		bill := domain.Bill{
			Date:      s.now(),
			CashierID: req.CashierID,
			Items:     make([]domain.BillItem, 0, len(req.Lines)),
		}
		for _, line := range req.Lines {
			item, err := ledger.Debit(ctx, tx, line.ItemID, line.Quantity)
			if err != nil {
				return err
			}
			bill.Items = append(bill.Items, domain.BillItem{
				ItemID:     item.ID,
				Quantity:   line.Quantity,
				PriceCents: item.PriceCents,
			})
		}

		var err error
		created, err = tx.InsertBill(ctx, bill)
		return err
	})
	if err != nil {
		s.txFailed(ctx, "create_bill", err)
		return domain.Bill{}, err
	}

	s.billCommitted(ctx, sourceDirect, *created)
	return *created, nil
}

// CreateBillFromCart rings up a cart. Unlike CreateBill the line price is the
// one the cart carries, not the item's current price.
func (s *Service) CreateBillFromCart(ctx context.Context, req domain.CartRequest) (domain.Bill, error) {
	if len(req.Items) == 0 {
		return domain.Bill{}, ErrNoItemsSpecified
	}
	for _, line := range req.Items {
		if line.PriceCents < 0 {
			return domain.Bill{}, invalid("cart price must not be negative")
		}
	}

	var created *domain.Bill
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := requireCashier(ctx, tx, req.CashierID); err != nil {
			return err
		}

		bill := domain.Bill{
			Date:      s.now(),
			CashierID: req.CashierID,
			Customer:  normalizeCustomer(req.Customer),
			Items:     make([]domain.BillItem, 0, len(req.Items)),
		}
		for _, line := range req.Items {
			item, err := ledger.Debit(ctx, tx, line.ID, line.Quantity)
			if err != nil {
				return err
			}
			bill.Items = append(bill.Items, domain.BillItem{
				ItemID:     item.ID,
				Quantity:   line.Quantity,
				PriceCents: line.PriceCents,
			})
		}

		var err error
		created, err = tx.InsertBill(ctx, bill)
		return err
	})
	if err != nil {
		s.txFailed(ctx, "create_bill_from_cart", err)
		return domain.Bill{}, err
	}

	s.billCommitted(ctx, sourceCart, *created)
	return *created, nil
}

func (s *Service) billCommitted(ctx context.Context, source string, bill domain.Bill) {
	s.itemsChanged(ctx)
	s.metrics.BillCreated(source, len(bill.Items))
	s.logger.Info("bill created",
		"bill_id", bill.ID,
		"source", source,
		"cashier_id", bill.CashierID,
		"lines", len(bill.Items),
		"total_cents", bill.TotalAmountCents(),
		"actor", actorName(ctx),
	)
}

func requireCashier(ctx context.Context, tx store.Tx, cashierID int64) error {
	if cashierID <= 0 {
		return notFound(store.ErrNotFound, ErrCashierNotFound, cashierID)
	}
	_, err := tx.User(ctx, cashierID)
	return notFound(err, ErrCashierNotFound, cashierID)
}

func normalizeCustomer(customer *domain.Customer) *domain.Customer {
	if customer == nil {
		return nil
	}
	out := domain.Customer{
		Name:    strings.TrimSpace(customer.Name),
		Phone:   strings.TrimSpace(customer.Phone),
		Email:   strings.TrimSpace(customer.Email),
		Address: strings.TrimSpace(customer.Address),
	}
	if out == (domain.Customer{}) {
		return nil
	}
	return &out
}

func (s *Service) GetBill(ctx context.Context, id int64) (domain.Bill, error) {
	bill, err := s.repo.GetBill(ctx, id)
	if err != nil {
		return domain.Bill{}, notFound(err, ErrBillNotFound, id)
	}
	return *bill, nil
}

func (s *Service) ListBills(ctx context.Context) ([]domain.Bill, error) {
	return s.repo.ListBills(ctx, store.BillFilter{})
}

func (s *Service) BillsByCashier(ctx context.Context, cashierID int64) ([]domain.Bill, error) {
	if cashierID <= 0 {
		return nil, invalid("cashier id required")
	}
	return s.repo.ListBills(ctx, store.BillFilter{CashierID: cashierID})
}

// BillsByDateRange returns bills dated from the start of start through the end
// of end, both interpreted as UTC calendar days.
func (s *Service) BillsByDateRange(ctx context.Context, start time.Time, end time.Time) ([]domain.Bill, error) {
	from := truncateDay(start)
	to := truncateDay(end).Add(24*time.Hour - time.Nanosecond)
	if to.Before(from) {
		return nil, invalid("end date is before start date")
	}
	return s.repo.ListBills(ctx, store.BillFilter{From: from, To: to})
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

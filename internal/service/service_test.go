package service

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"hardwarepos/backend/internal/cache"
	"hardwarepos/backend/internal/domain"
	"hardwarepos/backend/internal/metrics"
	"hardwarepos/backend/internal/store"
	"hardwarepos/backend/internal/store/badgerkv"
	"hardwarepos/backend/internal/store/memory"
	"hardwarepos/backend/internal/store/sqlite"
)

type fixture struct {
	svc       *Service
	repo      store.Repository
	cashierID int64
	hammer    domain.Item
	wrench    domain.Item
}

func newTestService(t *testing.T) *fixture {
	t.Helper()
	return newTestServiceWithCache(t, nil)
}

func newTestServiceWithCache(t *testing.T, queryCache cache.ItemQueryCache) *fixture {
	t.Helper()
	return newFixture(t, memory.New(), queryCache)
}

// backends opens every store that really writes and then rolls back rows,
// next to the in-process one.
func backends(t *testing.T) map[string]func(t *testing.T) store.Repository {
	t.Helper()
	return map[string]func(t *testing.T) store.Repository{
		"memory": func(t *testing.T) store.Repository { return memory.New() },
		"sqlite": func(t *testing.T) store.Repository {
			repo, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "pos.db"), 0)
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			t.Cleanup(func() { _ = repo.Close() })
			return repo
		},
		"badger": func(t *testing.T) store.Repository {
			repo, err := badgerkv.New("", 0, slog.New(slog.DiscardHandler))
			if err != nil {
				t.Fatalf("open badger: %v", err)
			}
			t.Cleanup(func() { _ = repo.Close() })
			return repo
		},
	}
}

func newFixture(t *testing.T, repo store.Repository, queryCache cache.ItemQueryCache) *fixture {
	t.Helper()
	ctx := context.Background()

	cashier, err := repo.CreateUser(ctx, domain.User{Username: "kasir", Password: "$2a$10$placeholder", Role: domain.RoleCashier, Active: true})
	if err != nil {
		t.Fatalf("create cashier: %v", err)
	}

	svc := New(repo, queryCache, metrics.New(), Options{Logger: slog.New(slog.DiscardHandler)})
	hammer, _, err := svc.CreateItem(ctx, domain.ItemCreateRequest{CustomID: "HW-HAM", Name: "Hammer", Category: "Hardware", StockQuantity: 10, PriceCents: 500})
	if err != nil {
		t.Fatalf("create hammer: %v", err)
	}
	wrench, _, err := svc.CreateItem(ctx, domain.ItemCreateRequest{CustomID: "PL-WRN", Name: "Pipe Wrench", Category: "Plumbing", StockQuantity: 2, PriceCents: 2500})
	if err != nil {
		t.Fatalf("create wrench: %v", err)
	}

	return &fixture{svc: svc, repo: repo, cashierID: cashier.ID, hammer: hammer, wrench: wrench}
}

func (f *fixture) stock(t *testing.T, itemID int64) int {
	t.Helper()
	item, err := f.svc.GetItem(context.Background(), itemID)
	if err != nil {
		t.Fatalf("get item %d: %v", itemID, err)
	}
	return item.StockQuantity
}

func (f *fixture) billCount(t *testing.T) int {
	t.Helper()
	bills, err := f.svc.ListBills(context.Background())
	if err != nil {
		t.Fatalf("list bills: %v", err)
	}
	return len(bills)
}

func TestCartBillAndLineRefundRestoreStock(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()

	bill, err := f.svc.CreateBillFromCart(ctx, domain.CartRequest{
		CashierID: f.cashierID,
		Items:     []domain.CartLine{{ID: f.hammer.ID, Quantity: 3, PriceCents: 500}},
	})
	if err != nil {
		t.Fatalf("create bill from cart: %v", err)
	}
	if len(bill.Items) != 1 || bill.Items[0].PriceCents != 500 || bill.Items[0].Quantity != 3 {
		t.Fatalf("unexpected bill lines: %+v", bill.Items)
	}
	if bill.Refunded || bill.RefundedDate != nil || bill.Items[0].Refunded {
		t.Fatalf("new bill must not be refunded: %+v", bill)
	}
	if got := f.stock(t, f.hammer.ID); got != 7 {
		t.Fatalf("expected stock 7 after sale, got %d", got)
	}

	refunded, err := f.svc.RefundBillItems(ctx, bill.ID, []int64{bill.Items[0].ID})
	if err != nil {
		t.Fatalf("refund items: %v", err)
	}
	if got := f.stock(t, f.hammer.ID); got != 10 {
		t.Fatalf("expected stock 10 after refund, got %d", got)
	}
	if !refunded.Refunded || refunded.RefundedDate == nil {
		t.Fatalf("expected bill fully refunded with date, got %+v", refunded)
	}

	stored, err := f.svc.GetBill(ctx, bill.ID)
	if err != nil {
		t.Fatalf("get bill: %v", err)
	}
	if !stored.Refunded || !stored.Items[0].Refunded || stored.RefundedDate == nil {
		t.Fatalf("refund state not persisted: %+v", stored)
	}
}

func TestCartBillInsufficientStockChangesNothing(t *testing.T) {
	f := newTestService(t)

	_, err := f.svc.CreateBillFromCart(context.Background(), domain.CartRequest{
		CashierID: f.cashierID,
		Items:     []domain.CartLine{{ID: f.hammer.ID, Quantity: 100, PriceCents: 500}},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if got := f.stock(t, f.hammer.ID); got != 10 {
		t.Fatalf("expected stock to stay 10, got %d", got)
	}
	if n := f.billCount(t); n != 0 {
		t.Fatalf("expected no bills, got %d", n)
	}
}

func TestMultiLineBillRollsBackEarlierDebits(t *testing.T) {
	for backend, open := range backends(t) {
		t.Run(backend, func(t *testing.T) {
			f := newFixture(t, open(t), nil)

			_, err := f.svc.CreateBill(context.Background(), domain.CreateBillRequest{
				CashierID: f.cashierID,
				Lines: []domain.BillLine{
					{ItemID: f.hammer.ID, Quantity: 4},
					{ItemID: f.wrench.ID, Quantity: 5},
				},
			})
			if !errors.Is(err, store.ErrInsufficientStock) {
				t.Fatalf("expected insufficient stock on second line, got %v", err)
			}
			if got := f.stock(t, f.hammer.ID); got != 10 {
				t.Fatalf("first line debit must roll back, stock %d", got)
			}
			if got := f.stock(t, f.wrench.ID); got != 2 {
				t.Fatalf("expected wrench stock 2, got %d", got)
			}
			if n := f.billCount(t); n != 0 {
				t.Fatalf("expected no bills, got %d", n)
			}
		})
	}
}

func TestCreateBillUsesCurrentItemPrice(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()

	bill, err := f.svc.CreateBill(ctx, domain.CreateBillRequest{
		CashierID: f.cashierID,
		Lines:     []domain.BillLine{{ItemID: f.hammer.ID, Quantity: 2}, {ItemID: f.wrench.ID, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create bill: %v", err)
	}
	if bill.Items[0].PriceCents != 500 || bill.Items[1].PriceCents != 2500 {
		t.Fatalf("expected prices from items, got %+v", bill.Items)
	}
	if bill.OriginalTotalCents() != 3500 {
		t.Fatalf("expected total 3500, got %d", bill.OriginalTotalCents())
	}
	if bill.Date.IsZero() || time.Since(bill.Date) > time.Minute {
		t.Fatalf("expected server-side date, got %v", bill.Date)
	}
	if got := f.stock(t, f.hammer.ID); got != 8 {
		t.Fatalf("expected hammer stock 8, got %d", got)
	}

	newPrice := int64(900)
	if _, err := f.svc.UpdateItem(ctx, f.hammer.ID, domain.ItemUpdateRequest{PriceCents: &newPrice}); err != nil {
		t.Fatalf("update price: %v", err)
	}
	stored, err := f.svc.GetBill(ctx, bill.ID)
	if err != nil {
		t.Fatalf("get bill: %v", err)
	}
	if stored.Items[0].PriceCents != 500 {
		t.Fatalf("line price must be a snapshot, got %d", stored.Items[0].PriceCents)
	}
}

func TestCartBillTrustsCartPrice(t *testing.T) {
	f := newTestService(t)

	bill, err := f.svc.CreateBillFromCart(context.Background(), domain.CartRequest{
		CashierID: f.cashierID,
		Items:     []domain.CartLine{{ID: f.hammer.ID, Quantity: 1, PriceCents: 450}},
		Customer:  &domain.Customer{Name: " Budi ", Phone: "0812"},
	})
	if err != nil {
		t.Fatalf("create bill from cart: %v", err)
	}
	if bill.Items[0].PriceCents != 450 {
		t.Fatalf("expected cart price 450, got %d", bill.Items[0].PriceCents)
	}
	if bill.Customer == nil || bill.Customer.Name != "Budi" {
		t.Fatalf("expected trimmed customer snapshot, got %+v", bill.Customer)
	}
}

func TestBillRequestValidation(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()

	_, err := f.svc.CreateBillFromCart(ctx, domain.CartRequest{CashierID: 999, Items: []domain.CartLine{{ID: f.hammer.ID, Quantity: 1}}})
	if !errors.Is(err, ErrCashierNotFound) {
		t.Fatalf("expected cashier not found, got %v", err)
	}
	_, err = f.svc.CreateBill(ctx, domain.CreateBillRequest{CashierID: 999, Lines: []domain.BillLine{{ItemID: f.hammer.ID, Quantity: 1}}})
	if !errors.Is(err, ErrCashierNotFound) {
		t.Fatalf("expected cashier not found for direct bill, got %v", err)
	}
	_, err = f.svc.CreateBillFromCart(ctx, domain.CartRequest{CashierID: f.cashierID, Items: []domain.CartLine{{ID: 404, Quantity: 1}}})
	if !errors.Is(err, ErrItemNotFound) || !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected item not found, got %v", err)
	}
	_, err = f.svc.CreateBillFromCart(ctx, domain.CartRequest{CashierID: f.cashierID})
	if !errors.Is(err, ErrNoItemsSpecified) {
		t.Fatalf("expected no items specified for empty cart, got %v", err)
	}
	_, err = f.svc.CreateBill(ctx, domain.CreateBillRequest{CashierID: f.cashierID, Lines: []domain.BillLine{{ItemID: f.hammer.ID, Quantity: 0}}})
	if !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected invalid quantity, got %v", err)
	}
	_, err = f.svc.CreateBillFromCart(ctx, domain.CartRequest{CashierID: f.cashierID, Items: []domain.CartLine{{ID: f.hammer.ID, Quantity: 1, PriceCents: -1}}})
	if !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected invalid transaction for negative price, got %v", err)
	}
	if got := f.stock(t, f.hammer.ID); got != 10 {
		t.Fatalf("rejected requests must not touch stock, got %d", got)
	}
}

func TestRefundBillTwiceIsRejected(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()

	bill, err := f.svc.CreateBill(ctx, domain.CreateBillRequest{
		CashierID: f.cashierID,
		Lines:     []domain.BillLine{{ItemID: f.hammer.ID, Quantity: 3}, {ItemID: f.wrench.ID, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create bill: %v", err)
	}

	refunded, err := f.svc.RefundBill(ctx, bill.ID)
	if err != nil {
		t.Fatalf("refund bill: %v", err)
	}
	if !refunded.Refunded || refunded.RefundedDate == nil || !refunded.IsFullyRefunded() {
		t.Fatalf("expected bill fully refunded, got %+v", refunded)
	}

	_, err = f.svc.RefundBill(ctx, bill.ID)
	if !errors.Is(err, ErrAlreadyFullyRefunded) {
		t.Fatalf("expected already fully refunded, got %v", err)
	}
	if got := f.stock(t, f.hammer.ID); got != 10 {
		t.Fatalf("stock must be credited once, got %d", got)
	}
	if got := f.stock(t, f.wrench.ID); got != 2 {
		t.Fatalf("stock must be credited once, got %d", got)
	}
}

func TestRefundBillSkipsLinesAlreadyRefunded(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()

	bill, err := f.svc.CreateBill(ctx, domain.CreateBillRequest{
		CashierID: f.cashierID,
		Lines:     []domain.BillLine{{ItemID: f.hammer.ID, Quantity: 3}, {ItemID: f.hammer.ID, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("create bill: %v", err)
	}
	if _, err := f.svc.RefundBillItems(ctx, bill.ID, []int64{bill.Items[0].ID}); err != nil {
		t.Fatalf("refund first line: %v", err)
	}
	if got := f.stock(t, f.hammer.ID); got != 8 {
		t.Fatalf("expected stock 8 after partial refund, got %d", got)
	}

	if _, err := f.svc.RefundBill(ctx, bill.ID); err != nil {
		t.Fatalf("refund rest: %v", err)
	}
	if got := f.stock(t, f.hammer.ID); got != 10 {
		t.Fatalf("expected stock 10, got %d", got)
	}
}

func TestRefundBillItemsFlipsBillOnLastLine(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()

	bill, err := f.svc.CreateBill(ctx, domain.CreateBillRequest{
		CashierID: f.cashierID,
		Lines:     []domain.BillLine{{ItemID: f.hammer.ID, Quantity: 1}, {ItemID: f.wrench.ID, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create bill: %v", err)
	}

	partial, err := f.svc.RefundBillItems(ctx, bill.ID, []int64{bill.Items[0].ID})
	if err != nil {
		t.Fatalf("refund first line: %v", err)
	}
	if partial.Refunded || partial.RefundedDate != nil {
		t.Fatalf("bill with an active line must stay open: %+v", partial)
	}
	if partial.RefundedLineCount() != 1 || partial.TotalAmountCents() != 2500 {
		t.Fatalf("unexpected partial state: %+v", partial.Summary())
	}

	full, err := f.svc.RefundBillItems(ctx, bill.ID, []int64{bill.Items[1].ID})
	if err != nil {
		t.Fatalf("refund last line: %v", err)
	}
	if !full.Refunded || full.RefundedDate == nil {
		t.Fatalf("expected bill refunded after last line: %+v", full)
	}

	_, err = f.svc.RefundBill(ctx, bill.ID)
	if !errors.Is(err, ErrAlreadyFullyRefunded) {
		t.Fatalf("expected already fully refunded, got %v", err)
	}
}

func TestRefundBillItemsIsAllOrNothing(t *testing.T) {
	for backend, open := range backends(t) {
		t.Run(backend, func(t *testing.T) {
			f := newFixture(t, open(t), nil)
			ctx := context.Background()

			bill, err := f.svc.CreateBill(ctx, domain.CreateBillRequest{
				CashierID: f.cashierID,
				Lines:     []domain.BillLine{{ItemID: f.hammer.ID, Quantity: 2}, {ItemID: f.wrench.ID, Quantity: 1}},
			})
			if err != nil {
				t.Fatalf("create bill: %v", err)
			}
			first, second := bill.Items[0].ID, bill.Items[1].ID

			cases := []struct {
				name string
				ids  []int64
				want error
			}{
				{"empty", []int64{}, ErrNoItemsSpecified},
				{"nil", nil, ErrNoItemsSpecified},
				{"unknown line", []int64{first, 9999}, ErrBillItemNotFound},
				{"duplicate line", []int64{second, second}, ErrAlreadyRefunded},
			}
			for _, tc := range cases {
				t.Run(tc.name, func(t *testing.T) {
					_, err := f.svc.RefundBillItems(ctx, bill.ID, tc.ids)
					if !errors.Is(err, tc.want) {
						t.Fatalf("expected %v, got %v", tc.want, err)
					}
					if got := f.stock(t, f.hammer.ID); got != 8 {
						t.Fatalf("expected hammer stock 8, got %d", got)
					}
					if got := f.stock(t, f.wrench.ID); got != 1 {
						t.Fatalf("expected wrench stock 1, got %d", got)
					}
					stored, err := f.svc.GetBill(ctx, bill.ID)
					if err != nil {
						t.Fatalf("get bill: %v", err)
					}
					if stored.RefundedLineCount() != 0 {
						t.Fatalf("expected no refunded lines, got %d", stored.RefundedLineCount())
					}
				})
			}

			if _, err := f.svc.RefundBillItems(ctx, bill.ID, []int64{first}); err != nil {
				t.Fatalf("refund first: %v", err)
			}
			_, err = f.svc.RefundBillItems(ctx, bill.ID, []int64{second, first})
			if !errors.Is(err, ErrAlreadyRefunded) {
				t.Fatalf("expected already refunded, got %v", err)
			}
			if got := f.stock(t, f.wrench.ID); got != 1 {
				t.Fatalf("second line credit must roll back, got %d", got)
			}
		})
	}
}

func TestRefundLineOfOtherBillIsNotFound(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()

	a, err := f.svc.CreateBill(ctx, domain.CreateBillRequest{CashierID: f.cashierID, Lines: []domain.BillLine{{ItemID: f.hammer.ID, Quantity: 1}}})
	if err != nil {
		t.Fatalf("create bill a: %v", err)
	}
	b, err := f.svc.CreateBill(ctx, domain.CreateBillRequest{CashierID: f.cashierID, Lines: []domain.BillLine{{ItemID: f.hammer.ID, Quantity: 1}}})
	if err != nil {
		t.Fatalf("create bill b: %v", err)
	}

	_, err = f.svc.RefundBillItems(ctx, a.ID, []int64{b.Items[0].ID})
	if !errors.Is(err, ErrBillItemNotFound) {
		t.Fatalf("expected bill item not found, got %v", err)
	}
}

func TestRefundMissingBill(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()

	if _, err := f.svc.RefundBill(ctx, 42); !errors.Is(err, ErrBillNotFound) {
		t.Fatalf("expected bill not found, got %v", err)
	}
	if _, err := f.svc.RefundBillItems(ctx, 42, []int64{1}); !errors.Is(err, ErrBillNotFound) {
		t.Fatalf("expected bill not found, got %v", err)
	}
	if _, err := f.svc.RefundBillItems(ctx, 42, nil); !errors.Is(err, ErrBillNotFound) {
		t.Fatalf("missing bill must be reported before empty ids, got %v", err)
	}
}

func TestRefundOfDeletedItemAborts(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()

	bill, err := f.svc.CreateBill(ctx, domain.CreateBillRequest{CashierID: f.cashierID, Lines: []domain.BillLine{{ItemID: f.wrench.ID, Quantity: 1}}})
	if err != nil {
		t.Fatalf("create bill: %v", err)
	}
	if err := f.svc.DeleteItem(ctx, f.wrench.ID); err != nil {
		t.Fatalf("delete referenced item: %v", err)
	}

	_, err = f.svc.RefundBill(ctx, bill.ID)
	if !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("expected item not found, got %v", err)
	}
	stored, err := f.svc.GetBill(ctx, bill.ID)
	if err != nil {
		t.Fatalf("get bill: %v", err)
	}
	if stored.Refunded {
		t.Fatalf("aborted refund must not mark the bill")
	}
}

func TestConcurrentCartsNeverOversell(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	sold, rejected := 0, 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateBillFromCart(ctx, domain.CartRequest{
				CashierID: f.cashierID,
				Items:     []domain.CartLine{{ID: f.hammer.ID, Quantity: 1, PriceCents: 500}},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				sold++
			case errors.Is(err, store.ErrInsufficientStock):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if sold != 10 || rejected != 15 {
		t.Fatalf("expected 10 sold and 15 rejected, got %d and %d", sold, rejected)
	}
	if got := f.stock(t, f.hammer.ID); got != 0 {
		t.Fatalf("expected stock 0, got %d", got)
	}
}

func TestBillQueries(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()

	other, err := f.repo.CreateUser(ctx, domain.User{Username: "kasir2", Password: "$2a$10$placeholder"})
	if err != nil {
		t.Fatalf("create second cashier: %v", err)
	}
	for _, cashierID := range []int64{f.cashierID, other.ID, f.cashierID} {
		if _, err := f.svc.CreateBill(ctx, domain.CreateBillRequest{CashierID: cashierID, Lines: []domain.BillLine{{ItemID: f.hammer.ID, Quantity: 1}}}); err != nil {
			t.Fatalf("create bill: %v", err)
		}
	}

	mine, err := f.svc.BillsByCashier(ctx, f.cashierID)
	if err != nil {
		t.Fatalf("bills by cashier: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("expected 2 bills for cashier, got %d", len(mine))
	}

	today := time.Now().UTC()
	inRange, err := f.svc.BillsByDateRange(ctx, today, today)
	if err != nil {
		t.Fatalf("bills by date: %v", err)
	}
	if len(inRange) != 3 {
		t.Fatalf("expected 3 bills today, got %d", len(inRange))
	}
	past, err := f.svc.BillsByDateRange(ctx, today.AddDate(0, 0, -3), today.AddDate(0, 0, -1))
	if err != nil {
		t.Fatalf("bills by past date: %v", err)
	}
	if len(past) != 0 {
		t.Fatalf("expected no bills in the past, got %d", len(past))
	}
	if _, err := f.svc.BillsByDateRange(ctx, today, today.AddDate(0, 0, -1)); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected invalid range, got %v", err)
	}
	if _, err := f.svc.GetBill(ctx, 999); !errors.Is(err, ErrBillNotFound) {
		t.Fatalf("expected bill not found, got %v", err)
	}
}

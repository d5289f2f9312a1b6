// Package storetest holds the behaviour every store.Repository must share.
// Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hardwarepos/backend/internal/domain"
	"hardwarepos/backend/internal/store"
)

// Factory returns an empty repository. It is called once per subtest.
type Factory func(t *testing.T) store.Repository

var errAbort = errors.New("abort")

func Run(t *testing.T, newRepo Factory) {
	t.Run("Users", func(t *testing.T) { testUsers(t, newRepo(t)) })
	t.Run("Items", func(t *testing.T) { testItems(t, newRepo(t)) })
	t.Run("ItemFilters", func(t *testing.T) { testItemFilters(t, newRepo(t)) })
	t.Run("Bills", func(t *testing.T) { testBills(t, newRepo(t)) })
	t.Run("BillFilters", func(t *testing.T) { testBillFilters(t, newRepo(t)) })
	t.Run("Rollback", func(t *testing.T) { testRollback(t, newRepo(t)) })
}

func testUsers(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	created, err := repo.CreateUser(ctx, domain.User{Username: " Kasir ", Password: "hash-1"})
	require.NoError(t, err)
	require.NotZero(t, created.ID)
	require.Equal(t, "kasir", created.Username)
	require.Equal(t, domain.RoleCashier, created.Role)
	require.True(t, created.Active)

	_, err = repo.CreateUser(ctx, domain.User{Username: "kasir", Password: "hash-2"})
	require.ErrorIs(t, err, store.ErrDuplicate)
	_, err = repo.CreateUser(ctx, domain.User{Username: "", Password: "hash"})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	_, err = repo.CreateUser(ctx, domain.User{Username: "admin", Password: "hash-a", Role: domain.RoleAdmin})
	require.NoError(t, err)

	users, err := repo.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	require.Equal(t, "admin", users[0].Username)
	require.Equal(t, "kasir", users[1].Username)

	require.NoError(t, repo.UpdateUserPassword(ctx, "KASIR", "hash-3"))
	got, err := repo.GetUser(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "hash-3", got.Password)
	require.ErrorIs(t, repo.UpdateUserPassword(ctx, "nobody", "x"), store.ErrNotFound)

	_, err = repo.GetUser(ctx, created.ID+100)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func seedCategory(t *testing.T, repo store.Repository, name string) domain.Category {
	t.Helper()
	var category *domain.Category
	err := repo.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		category, err = tx.InsertCategory(ctx, name)
		return err
	})
	require.NoError(t, err)
	return *category
}

func seedItem(t *testing.T, repo store.Repository, item domain.Item) domain.Item {
	t.Helper()
	var created *domain.Item
	err := repo.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		created, err = tx.InsertItem(ctx, item)
		return err
	})
	require.NoError(t, err)
	return *created
}

func seedCashier(t *testing.T, repo store.Repository) domain.User {
	t.Helper()
	user, err := repo.CreateUser(context.Background(), domain.User{Username: "cashier", Password: "hash"})
	require.NoError(t, err)
	return *user
}

func testItems(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	hardware := seedCategory(t, repo, "Hardware")
	plumbing := seedCategory(t, repo, "Plumbing")

	err := repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.InsertCategory(ctx, "Hardware")
		return err
	})
	require.ErrorIs(t, err, store.ErrDuplicate)

	hammer := seedItem(t, repo, domain.Item{CustomID: "HW-HAM", Name: "Hammer", CategoryID: hardware.ID, StockQuantity: 10, PriceCents: 500})
	require.NotZero(t, hammer.ID)
	require.Equal(t, "Hardware", hammer.Category)

	got, err := repo.GetItem(ctx, hammer.ID)
	require.NoError(t, err)
	require.Equal(t, hammer, *got)

	err = repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.InsertItem(ctx, domain.Item{CustomID: "HW-HAM", Name: "Other", CategoryID: hardware.ID})
		return err
	})
	require.ErrorIs(t, err, store.ErrDuplicate)

	err = repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.InsertItem(ctx, domain.Item{CustomID: "X-1", Name: "Orphan", CategoryID: plumbing.ID + 100})
		return err
	})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	err = repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		byCustomID, err := tx.ItemByCustomID(ctx, "HW-HAM")
		if err != nil {
			return err
		}
		byCustomID.Name = "Claw Hammer"
		byCustomID.CategoryID = plumbing.ID
		updated, err := tx.UpdateItem(ctx, *byCustomID)
		if err != nil {
			return err
		}
		require.Equal(t, "Plumbing", updated.Category)
		return tx.SetStock(ctx, hammer.ID, 4)
	})
	require.NoError(t, err)

	got, err = repo.GetItem(ctx, hammer.ID)
	require.NoError(t, err)
	require.Equal(t, "Claw Hammer", got.Name)
	require.Equal(t, plumbing.ID, got.CategoryID)
	require.Equal(t, 4, got.StockQuantity)

	err = repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SetStock(ctx, hammer.ID, -1)
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	err = repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SetStock(ctx, hammer.ID+100, 1)
	})
	require.ErrorIs(t, err, store.ErrNotFound)

	err = repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.DeleteItem(ctx, hammer.ID)
	})
	require.NoError(t, err)
	_, err = repo.GetItem(ctx, hammer.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	err = repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.DeleteItem(ctx, hammer.ID)
	})
	require.ErrorIs(t, err, store.ErrNotFound)

	categories, err := repo.ListCategories(ctx)
	require.NoError(t, err)
	require.Equal(t, []domain.Category{hardware, plumbing}, categories)
}

func testItemFilters(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	hardware := seedCategory(t, repo, "Hardware")
	plumbing := seedCategory(t, repo, "Plumbing")

	hammer := seedItem(t, repo, domain.Item{CustomID: "HW-HAM", Name: "Claw Hammer", CategoryID: hardware.ID, StockQuantity: 5, PriceCents: 500})
	mallet := seedItem(t, repo, domain.Item{CustomID: "HW-MAL", Name: "Rubber Hammer", CategoryID: hardware.ID, StockQuantity: 0, PriceCents: 700})
	pipe := seedItem(t, repo, domain.Item{CustomID: "PL-PIPE", Name: "PVC Pipe", CategoryID: plumbing.ID, StockQuantity: 40, PriceCents: 900})

	ids := func(items []domain.Item) []int64 {
		out := make([]int64, 0, len(items))
		for _, item := range items {
			out = append(out, item.ID)
		}
		return out
	}

	all, err := repo.ListItems(ctx, store.ItemFilter{})
	require.NoError(t, err)
	require.Equal(t, []int64{hammer.ID, mallet.ID, pipe.ID}, ids(all))

	byCategory, err := repo.ListItems(ctx, store.ItemFilter{CategoryID: hardware.ID})
	require.NoError(t, err)
	require.Equal(t, []int64{hammer.ID, mallet.ID}, ids(byCategory))

	byName, err := repo.ListItems(ctx, store.ItemFilter{NameContains: "Hammer"})
	require.NoError(t, err)
	require.Equal(t, []int64{hammer.ID, mallet.ID}, ids(byName))

	caseSensitive, err := repo.ListItems(ctx, store.ItemFilter{NameContains: "hammer"})
	require.NoError(t, err)
	require.Empty(t, caseSensitive)

	minStock, maxStock := 1, 20
	low, err := repo.ListItems(ctx, store.ItemFilter{MinStock: &minStock, MaxStock: &maxStock})
	require.NoError(t, err)
	require.Equal(t, []int64{hammer.ID}, ids(low))
}

func testBills(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	cashier := seedCashier(t, repo)
	hardware := seedCategory(t, repo, "Hardware")
	hammer := seedItem(t, repo, domain.Item{CustomID: "HW-HAM", Name: "Hammer", CategoryID: hardware.ID, StockQuantity: 10, PriceCents: 500})

	date := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	var created *domain.Bill
	err := repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		user, err := tx.User(ctx, cashier.ID)
		if err != nil {
			return err
		}
		require.Equal(t, "cashier", user.Username)

		created, err = tx.InsertBill(ctx, domain.Bill{
			Date:      date,
			CashierID: cashier.ID,
			Customer:  &domain.Customer{Name: "Budi", Phone: "0812"},
			Items: []domain.BillItem{
				{ItemID: hammer.ID, Quantity: 2, PriceCents: 500},
				{ItemID: hammer.ID, Quantity: 1, PriceCents: 450},
			},
		})
		return err
	})
	require.NoError(t, err)
	require.NotZero(t, created.ID)
	require.Len(t, created.Items, 2)
	for _, line := range created.Items {
		require.NotZero(t, line.ID)
		require.Equal(t, created.ID, line.BillID)
	}

	got, err := repo.GetBill(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, got.Date.Equal(date))
	require.Equal(t, cashier.ID, got.CashierID)
	require.NotNil(t, got.Customer)
	require.Equal(t, "Budi", got.Customer.Name)
	require.Equal(t, int64(1450), got.TotalAmountCents())
	require.False(t, got.Refunded)
	require.Nil(t, got.RefundedDate)

	err = repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.InsertBill(ctx, domain.Bill{Date: date, CashierID: cashier.ID})
		return err
	})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	refundedAt := date.Add(2 * time.Hour)
	err = repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		bill, err := tx.Bill(ctx, created.ID)
		if err != nil {
			return err
		}
		for i := range bill.Items {
			bill.Items[i].Refunded = true
		}
		bill.Refunded = true
		bill.RefundedDate = &refundedAt
		return tx.SaveBillRefunds(ctx, *bill)
	})
	require.NoError(t, err)

	got, err = repo.GetBill(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, got.Refunded)
	require.NotNil(t, got.RefundedDate)
	require.True(t, got.RefundedDate.Equal(refundedAt))
	require.True(t, got.IsFullyRefunded())
	require.Zero(t, got.TotalAmountCents())

	_, err = repo.GetBill(ctx, created.ID+100)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testBillFilters(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	cashier := seedCashier(t, repo)
	other, err := repo.CreateUser(ctx, domain.User{Username: "other", Password: "hash"})
	require.NoError(t, err)
	hardware := seedCategory(t, repo, "Hardware")
	hammer := seedItem(t, repo, domain.Item{CustomID: "HW-HAM", Name: "Hammer", CategoryID: hardware.ID, StockQuantity: 10, PriceCents: 500})

	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	insert := func(cashierID int64, at time.Time) int64 {
		var bill *domain.Bill
		err := repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			var err error
			bill, err = tx.InsertBill(ctx, domain.Bill{
				Date:      at,
				CashierID: cashierID,
				Items:     []domain.BillItem{{ItemID: hammer.ID, Quantity: 1, PriceCents: 500}},
			})
			return err
		})
		require.NoError(t, err)
		return bill.ID
	}
	first := insert(cashier.ID, day.Add(9*time.Hour))
	second := insert(other.ID, day.Add(24*time.Hour+time.Hour))
	third := insert(cashier.ID, day.Add(48*time.Hour))

	ids := func(bills []domain.Bill) []int64 {
		out := make([]int64, 0, len(bills))
		for _, bill := range bills {
			require.Len(t, bill.Items, 1)
			out = append(out, bill.ID)
		}
		return out
	}

	all, err := repo.ListBills(ctx, store.BillFilter{})
	require.NoError(t, err)
	require.Equal(t, []int64{first, second, third}, ids(all))

	mine, err := repo.ListBills(ctx, store.BillFilter{CashierID: cashier.ID})
	require.NoError(t, err)
	require.Equal(t, []int64{first, third}, ids(mine))

	inclusive, err := repo.ListBills(ctx, store.BillFilter{From: day.Add(9 * time.Hour), To: day.Add(48 * time.Hour)})
	require.NoError(t, err)
	require.Equal(t, []int64{first, second, third}, ids(inclusive))

	window, err := repo.ListBills(ctx, store.BillFilter{From: day.Add(10 * time.Hour), To: day.Add(47 * time.Hour)})
	require.NoError(t, err)
	require.Equal(t, []int64{second}, ids(window))

	none, err := repo.ListBills(ctx, store.BillFilter{CashierID: other.ID, From: day.Add(72 * time.Hour)})
	require.NoError(t, err)
	require.Empty(t, none)
}

func testRollback(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	hardware := seedCategory(t, repo, "Hardware")
	hammer := seedItem(t, repo, domain.Item{CustomID: "HW-HAM", Name: "Hammer", CategoryID: hardware.ID, StockQuantity: 10, PriceCents: 500})

	err := repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.SetStock(ctx, hammer.ID, 3); err != nil {
			return err
		}
		seen, err := tx.Item(ctx, hammer.ID)
		if err != nil {
			return err
		}
		require.Equal(t, 3, seen.StockQuantity)

		category, err := tx.InsertCategory(ctx, "Tools")
		if err != nil {
			return err
		}
		found, err := tx.CategoryByName(ctx, "Tools")
		if err != nil {
			return err
		}
		require.Equal(t, category.ID, found.ID)
		if _, err := tx.InsertItem(ctx, domain.Item{CustomID: "TL-SAW", Name: "Saw", CategoryID: category.ID, StockQuantity: 1, PriceCents: 100}); err != nil {
			return err
		}
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	got, err := repo.GetItem(ctx, hammer.ID)
	require.NoError(t, err)
	require.Equal(t, 10, got.StockQuantity)

	items, err := repo.ListItems(ctx, store.ItemFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)

	categories, err := repo.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, categories, 1)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	err = repo.WithinTx(canceled, func(ctx context.Context, tx store.Tx) error {
		return tx.SetStock(ctx, hammer.ID, 1)
	})
	require.Error(t, err)
	got, err = repo.GetItem(ctx, hammer.ID)
	require.NoError(t, err)
	require.Equal(t, 10, got.StockQuantity)
}

package memory

import (
	"cmp"
	"context"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"hardwarepos/backend/internal/domain"
	"hardwarepos/backend/internal/store"
)

// Store keeps everything in process. A unit of work holds the write lock for
// its whole lifetime, so transactions are fully serialized.
type Store struct {
	mu               sync.RWMutex
	items            map[int64]domain.Item
	itemsByCustomID  map[string]int64
	categories       map[int64]domain.Category
	categoriesByName map[string]int64
	bills            map[int64]domain.Bill
	users            map[int64]domain.User
	usersByUsername  map[string]int64
	seq              sequences
}

type sequences struct {
	item     int64
	category int64
	bill     int64
	line     int64
	user     int64
}

var _ store.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		items:            make(map[int64]domain.Item),
		itemsByCustomID:  make(map[string]int64),
		categories:       make(map[int64]domain.Category),
		categoriesByName: make(map[string]int64),
		bills:            make(map[int64]domain.Bill),
		users:            make(map[int64]domain.User),
		usersByUsername:  make(map[string]int64),
	}
}

// seedUsers builds the initial accounts for dev/demo mode. Credentials come
// from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; dev defaults are used
// with a warning when unset. The cashier is seeded first so it gets id 1.
func seedUsers() []domain.User {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		slog.Warn("memory store using default dev credentials, set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := make([]domain.User, 0, 2)
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"cashier", cashierPwd, domain.RoleCashier},
		{"admin", adminPwd, domain.RoleAdmin},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			slog.Error("failed to hash seed password", "username", u.username, "error", err)
			os.Exit(1)
		}
		users = append(users, domain.User{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		})
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with demo categories, items and users.
func NewSeeded() *Store {
	s := New()

	seed := []struct {
		customID string
		name     string
		category string
		stock    int
		price    int64
	}{
		{"HW-HAM-16", "Claw Hammer 16oz", "Hardware", 40, 12500},
		{"HW-SCR-PH2", "Phillips Screwdriver #2", "Hardware", 65, 4500},
		{"HW-NAIL-2IN", "Common Nails 2in (1lb)", "Hardware", 120, 3900},
		{"HW-TAPE-25", "Tape Measure 25ft", "Hardware", 12, 9900},
		{"PL-PVC-12", "PVC Pipe 1/2in x 10ft", "Plumbing", 80, 6400},
		{"PL-TEF-TAPE", "Teflon Tape", "Plumbing", 8, 1500},
		{"PL-WRN-14", "Pipe Wrench 14in", "Plumbing", 0, 28900},
		{"EL-WIRE-14", "Electrical Wire 14AWG (50ft)", "Electrical", 30, 21900},
		{"EL-OUT-STD", "Standard Outlet", "Electrical", 18, 2500},
		{"EL-BULB-LED", "LED Bulb 9W", "Electrical", 150, 3500},
	}
	for _, entry := range seed {
		categoryID, ok := s.categoriesByName[entry.category]
		if !ok {
			s.seq.category++
			categoryID = s.seq.category
			s.categories[categoryID] = domain.Category{ID: categoryID, Name: entry.category}
			s.categoriesByName[entry.category] = categoryID
		}
		s.seq.item++
		item := domain.Item{
			ID:            s.seq.item,
			CustomID:      entry.customID,
			Name:          entry.name,
			CategoryID:    categoryID,
			Category:      entry.category,
			StockQuantity: entry.stock,
			PriceCents:    entry.price,
		}
		s.items[item.ID] = item
		s.itemsByCustomID[item.CustomID] = item.ID
	}

	for _, user := range seedUsers() {
		s.seq.user++
		user.ID = s.seq.user
		s.users[user.ID] = user
		s.usersByUsername[user.Username] = user.ID
	}

	return s
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		s:          s,
		items:      make(map[int64]*domain.Item),
		categories: make(map[int64]domain.Category),
		bills:      make(map[int64]domain.Bill),
		seq:        s.seq,
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *Store) GetItem(_ context.Context, id int64) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (s *Store) ListItems(_ context.Context, filter store.ItemFilter) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Item, 0, len(s.items))
	for _, item := range s.items {
		if filter.Match(item) {
			items = append(items, item)
		}
	}
	slices.SortFunc(items, func(a, b domain.Item) int { return cmp.Compare(a.ID, b.ID) })
	return items, nil
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	categories := make([]domain.Category, 0, len(s.categories))
	for _, category := range s.categories {
		categories = append(categories, category)
	}
	slices.SortFunc(categories, func(a, b domain.Category) int { return cmp.Compare(a.ID, b.ID) })
	return categories, nil
}

func (s *Store) GetBill(_ context.Context, id int64) (*domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bill, ok := s.bills[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := bill.Clone()
	return &clone, nil
}

func (s *Store) ListBills(_ context.Context, filter store.BillFilter) ([]domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bills := make([]domain.Bill, 0, len(s.bills))
	for _, bill := range s.bills {
		if filter.Match(bill) {
			bills = append(bills, bill.Clone())
		}
	}
	slices.SortFunc(bills, func(a, b domain.Bill) int { return cmp.Compare(a.ID, b.ID) })
	return bills, nil
}

func (s *Store) GetUser(_ context.Context, id int64) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return nil, store.ErrDuplicate
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.seq.user++
	user.ID = s.seq.user
	s.users[user.ID] = user
	s.usersByUsername[username] = user.ID
	return &user, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.User, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.User) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	id, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user := s.users[id]
	user.Password = password
	s.users[id] = user
	return nil
}

// memTx stages writes over the committed maps. A nil item marks a deletion.
type memTx struct {
	s          *Store
	items      map[int64]*domain.Item
	categories map[int64]domain.Category
	bills      map[int64]domain.Bill
	seq        sequences
}

func (t *memTx) lookupItem(id int64) (domain.Item, bool) {
	if staged, ok := t.items[id]; ok {
		if staged == nil {
			return domain.Item{}, false
		}
		return *staged, true
	}
	item, ok := t.s.items[id]
	return item, ok
}

func (t *memTx) lookupCategory(id int64) (domain.Category, bool) {
	if category, ok := t.categories[id]; ok {
		return category, true
	}
	category, ok := t.s.categories[id]
	return category, ok
}

func (t *memTx) Item(_ context.Context, id int64) (*domain.Item, error) {
	item, ok := t.lookupItem(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (t *memTx) ItemByCustomID(_ context.Context, customID string) (*domain.Item, error) {
	for _, staged := range t.items {
		if staged != nil && staged.CustomID == customID {
			item := *staged
			return &item, nil
		}
	}
	id, ok := t.s.itemsByCustomID[customID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if _, overridden := t.items[id]; overridden {
		// deleted or renamed inside this unit of work
		return nil, store.ErrNotFound
	}
	item := t.s.items[id]
	return &item, nil
}

func (t *memTx) customIDTaken(customID string, exceptID int64) bool {
	existing, err := t.ItemByCustomID(context.Background(), customID)
	return err == nil && existing.ID != exceptID
}

func (t *memTx) InsertItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	if item.CustomID == "" || item.Name == "" || item.StockQuantity < 0 || item.PriceCents < 0 {
		return nil, store.ErrInvalidTransaction
	}
	category, ok := t.lookupCategory(item.CategoryID)
	if !ok {
		return nil, store.ErrInvalidTransaction
	}
	if t.customIDTaken(item.CustomID, 0) {
		return nil, store.ErrDuplicate
	}
	t.seq.item++
	item.ID = t.seq.item
	item.Category = category.Name
	staged := item
	t.items[item.ID] = &staged
	return &item, nil
}

func (t *memTx) UpdateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	if item.CustomID == "" || item.Name == "" || item.StockQuantity < 0 || item.PriceCents < 0 {
		return nil, store.ErrInvalidTransaction
	}
	if _, ok := t.lookupItem(item.ID); !ok {
		return nil, store.ErrNotFound
	}
	category, ok := t.lookupCategory(item.CategoryID)
	if !ok {
		return nil, store.ErrInvalidTransaction
	}
	if t.customIDTaken(item.CustomID, item.ID) {
		return nil, store.ErrDuplicate
	}
	item.Category = category.Name
	staged := item
	t.items[item.ID] = &staged
	return &item, nil
}

func (t *memTx) DeleteItem(_ context.Context, id int64) error {
	if _, ok := t.lookupItem(id); !ok {
		return store.ErrNotFound
	}
	t.items[id] = nil
	return nil
}

func (t *memTx) SetStock(_ context.Context, itemID int64, qty int) error {
	if qty < 0 {
		return store.ErrInsufficientStock
	}
	item, ok := t.lookupItem(itemID)
	if !ok {
		return store.ErrNotFound
	}
	item.StockQuantity = qty
	t.items[itemID] = &item
	return nil
}

func (t *memTx) CategoryByName(_ context.Context, name string) (*domain.Category, error) {
	for _, category := range t.categories {
		if category.Name == name {
			found := category
			return &found, nil
		}
	}
	id, ok := t.s.categoriesByName[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	category := t.s.categories[id]
	return &category, nil
}

func (t *memTx) InsertCategory(ctx context.Context, name string) (*domain.Category, error) {
	if name == "" {
		return nil, store.ErrInvalidTransaction
	}
	if _, err := t.CategoryByName(ctx, name); err == nil {
		return nil, store.ErrDuplicate
	}
	t.seq.category++
	category := domain.Category{ID: t.seq.category, Name: name}
	t.categories[category.ID] = category
	return &category, nil
}

func (t *memTx) User(_ context.Context, id int64) (*domain.User, error) {
	user, ok := t.s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (t *memTx) Bill(_ context.Context, id int64) (*domain.Bill, error) {
	if staged, ok := t.bills[id]; ok {
		clone := staged.Clone()
		return &clone, nil
	}
	bill, ok := t.s.bills[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := bill.Clone()
	return &clone, nil
}

func (t *memTx) InsertBill(_ context.Context, bill domain.Bill) (*domain.Bill, error) {
	if len(bill.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	bill = bill.Clone()
	t.seq.bill++
	bill.ID = t.seq.bill
	for i := range bill.Items {
		t.seq.line++
		bill.Items[i].ID = t.seq.line
		bill.Items[i].BillID = bill.ID
	}
	t.bills[bill.ID] = bill
	out := bill.Clone()
	return &out, nil
}

func (t *memTx) SaveBillRefunds(ctx context.Context, bill domain.Bill) error {
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
	current.RefundedDate = nil
	if bill.RefundedDate != nil {
		at := *bill.RefundedDate
		current.RefundedDate = &at
	}
	t.bills[current.ID] = *current
	return nil
}

func (t *memTx) commit() {
	s := t.s
	for id, staged := range t.categories {
		s.categories[id] = staged
		s.categoriesByName[staged.Name] = id
	}
	for id, staged := range t.items {
		if previous, ok := s.items[id]; ok {
			delete(s.itemsByCustomID, previous.CustomID)
		}
		if staged == nil {
			delete(s.items, id)
			continue
		}
		s.items[id] = *staged
		s.itemsByCustomID[staged.CustomID] = id
	}
	for id, staged := range t.bills {
		s.bills[id] = staged
	}
	s.seq = t.seq
}

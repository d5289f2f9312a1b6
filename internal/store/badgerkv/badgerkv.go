// Package badgerkv stores the point of sale in an embedded Badger database.
// Records are JSON values; secondary lookups are separate index keys that
// hold the primary id.
package badgerkv

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"hardwarepos/backend/internal/domain"
	"hardwarepos/backend/internal/store"
)

const (
	prefixItem         = "item/"
	prefixItemCustomID = "itemcid/"
	prefixCategory     = "cat/"
	prefixCategoryName = "catname/"
	prefixBill         = "bill/"
	prefixUser         = "user/"
	prefixUsername     = "username/"
)

func recordKey(prefix string, id int64) []byte {
	return fmt.Appendf(nil, "%s%020d", prefix, id)
}

func indexKey(prefix string, value string) []byte {
	return []byte(prefix + value)
}

// userRecord keeps the password hash, which domain.User hides from JSON.
type userRecord struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	Role         string    `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

func (r userRecord) user() domain.User {
	return domain.User{
		ID:        r.ID,
		Username:  r.Username,
		Password:  r.PasswordHash,
		Role:      r.Role,
		Active:    r.Active,
		CreatedAt: r.CreatedAt,
	}
}

func toRecord(u domain.User) userRecord {
	return userRecord{
		ID:           u.ID,
		Username:     u.Username,
		PasswordHash: u.Password,
		Role:         u.Role,
		Active:       u.Active,
		CreatedAt:    u.CreatedAt,
	}
}

type Store struct {
	db         *badger.DB
	seqs       map[string]*badger.Sequence
	maxRetries int
}

var _ store.Repository = (*Store)(nil)

var sequenceNames = []string{"item", "category", "bill", "line", "user"}

// New opens the database in dir. An empty dir keeps everything in memory.
func New(dir string, maxRetries int, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRetries < 1 {
		maxRetries = store.DefaultMaxRetries
	}

	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{logger: logger.With("component", "badger")})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	s := &Store{db: db, seqs: make(map[string]*badger.Sequence, len(sequenceNames)), maxRetries: maxRetries}
	for _, name := range sequenceNames {
		seq, err := db.GetSequence([]byte("seq/"+name), 64)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to open %s sequence: %w", name, err)
		}
		s.seqs[name] = seq
	}
	return s, nil
}

func (s *Store) Close() error {
	var errs []error
	for _, seq := range s.seqs {
		errs = append(errs, seq.Release())
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}

func (s *Store) nextID(name string) (int64, error) {
	n, err := s.seqs[name].Next()
	if err != nil {
		return 0, err
	}
	// sequences start at zero
	return int64(n) + 1, nil
}

// update runs fn in a read-write transaction and replays it when Badger
// reports a conflict with a concurrent commit.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w after %d attempts: %v", store.ErrConflict, s.maxRetries, lastErr)
}

func (s *Store) attempt(ctx context.Context, fn func(txn *badger.Txn) error) error {
	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return txn.Commit()
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return fn(ctx, &kvTx{s: s, txn: txn})
	})
}

func getJSON(txn *badger.Txn, key []byte, dest any) error {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return store.ErrNotFound
		}
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, dest)
	})
}

func setJSON(txn *badger.Txn, key []byte, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return txn.Set(key, raw)
}

func getIndex(txn *badger.Txn, key []byte) (int64, error) {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}
	var id int64
	err = item.Value(func(val []byte) error {
		id, err = strconv.ParseInt(string(val), 10, 64)
		return err
	})
	return id, err
}

func setIndex(txn *badger.Txn, key []byte, id int64) error {
	return txn.Set(key, []byte(strconv.FormatInt(id, 10)))
}

// scan decodes every record under prefix in key order.
func scan[T any](txn *badger.Txn, prefix string, keep func(T) bool) ([]T, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	out := make([]T, 0, 32)
	for it.Rewind(); it.Valid(); it.Next() {
		var record T
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		}); err != nil {
			return nil, err
		}
		if keep == nil || keep(record) {
			out = append(out, record)
		}
	}
	return out, nil
}

func (s *Store) GetItem(_ context.Context, id int64) (*domain.Item, error) {
	var item domain.Item
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, recordKey(prefixItem, id), &item)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListItems(_ context.Context, filter store.ItemFilter) ([]domain.Item, error) {
	var items []domain.Item
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		items, err = scan(txn, prefixItem, filter.Match)
		return err
	})
	return items, err
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	var categories []domain.Category
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		categories, err = scan[domain.Category](txn, prefixCategory, nil)
		return err
	})
	return categories, err
}

func (s *Store) GetBill(_ context.Context, id int64) (*domain.Bill, error) {
	var bill domain.Bill
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, recordKey(prefixBill, id), &bill)
	})
	if err != nil {
		return nil, err
	}
	return &bill, nil
}

func (s *Store) ListBills(_ context.Context, filter store.BillFilter) ([]domain.Bill, error) {
	var bills []domain.Bill
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		bills, err = scan(txn, prefixBill, filter.Match)
		return err
	})
	return bills, err
}

func (s *Store) GetUser(_ context.Context, id int64) (*domain.User, error) {
	var record userRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, recordKey(prefixUser, id), &record)
	})
	if err != nil {
		return nil, err
	}
	user := record.user()
	return &user, nil
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

	err := s.update(ctx, func(txn *badger.Txn) error {
		if _, err := getIndex(txn, indexKey(prefixUsername, user.Username)); err == nil {
			return store.ErrDuplicate
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		id, err := s.nextID("user")
		if err != nil {
			return err
		}
		user.ID = id
		if err := setJSON(txn, recordKey(prefixUser, id), toRecord(user)); err != nil {
			return err
		}
		return setIndex(txn, indexKey(prefixUsername, user.Username), id)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.User, error) {
	var records []userRecord
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		records, err = scan[userRecord](txn, prefixUser, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(records))
	for _, record := range records {
		users = append(users, record.user())
	}
	slices.SortFunc(users, func(a, b domain.User) int { return cmp.Compare(a.Username, b.Username) })
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		id, err := getIndex(txn, indexKey(prefixUsername, username))
		if err != nil {
			return err
		}
		var record userRecord
		if err := getJSON(txn, recordKey(prefixUser, id), &record); err != nil {
			return err
		}
		record.PasswordHash = password
		return setJSON(txn, recordKey(prefixUser, id), record)
	})
}

// badgerLogger forwards badger's printf-style logs to slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

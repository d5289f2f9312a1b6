package cache

import (
	"context"
	"time"

	"hardwarepos/backend/internal/domain"
)

// Lookup is the outcome of a cache read. Generation identifies the cache
// state the read observed; a miss must be filled with SetItems under that same
// generation so rows loaded before an invalidation are never served after it.
type Lookup struct {
	Items      []domain.Item
	Found      bool
	Generation int64
}

// ItemQueryCache holds results of inventory read queries. Invalidate drops
// every cached result and is called after each committed write to items.
type ItemQueryCache interface {
	GetItems(ctx context.Context, key string) (Lookup, error)
	SetItems(ctx context.Context, generation int64, key string, items []domain.Item, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopItemQueryCache struct{}

func (NoopItemQueryCache) GetItems(_ context.Context, _ string) (Lookup, error) {
	return Lookup{}, nil
}

func (NoopItemQueryCache) SetItems(_ context.Context, _ int64, _ string, _ []domain.Item, _ time.Duration) error {
	return nil
}

func (NoopItemQueryCache) Invalidate(_ context.Context) error {
	return nil
}

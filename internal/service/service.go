package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"hardwarepos/backend/internal/cache"
	"hardwarepos/backend/internal/domain"
	"hardwarepos/backend/internal/ledger"
	"hardwarepos/backend/internal/metrics"
	"hardwarepos/backend/internal/store"
)

const (
	DefaultLowStockThreshold = 20
	defaultQueryCacheTTL     = 20 * time.Second
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	LowStockThreshold int
	QueryCacheTTL     time.Duration
	Logger            *slog.Logger
}

type Service struct {
	repo              store.Repository
	queryCache        cache.ItemQueryCache
	metrics           *metrics.Collector
	logger            *slog.Logger
	lowStockThreshold int
	queryCacheTTL     time.Duration
	now               func() time.Time
}

func New(repo store.Repository, queryCache cache.ItemQueryCache, collector *metrics.Collector, opts Options) *Service {
	if queryCache == nil {
		queryCache = cache.NoopItemQueryCache{}
	}
	if opts.LowStockThreshold < 1 {
		opts.LowStockThreshold = DefaultLowStockThreshold
	}
	if opts.QueryCacheTTL <= 0 {
		opts.QueryCacheTTL = defaultQueryCacheTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Service{
		repo:              repo,
		queryCache:        queryCache,
		metrics:           collector,
		logger:            opts.Logger.With("component", "service"),
		lowStockThreshold: opts.LowStockThreshold,
		queryCacheTTL:     opts.QueryCacheTTL,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// itemsChanged runs after a commit that touched item rows.
func (s *Service) itemsChanged(ctx context.Context) {
	if err := s.queryCache.Invalidate(ctx); err != nil {
		s.logger.Warn("failed to invalidate item query cache", "error", err)
	}
}

func (s *Service) txFailed(ctx context.Context, operation string, err error) {
	reason := failureReason(err)
	if reason == "insufficient_stock" {
		s.metrics.StockRejected()
	}
	s.metrics.TxFailed(operation, reason)

	level := slog.LevelInfo
	if reason == "internal" {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, "transaction aborted", "operation", operation, "reason", reason, "actor", actorName(ctx), "error", err)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, store.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyRefunded), errors.Is(err, ErrAlreadyFullyRefunded):
		return "already_refunded"
	case errors.Is(err, ErrNoItemsSpecified), errors.Is(err, ledger.ErrInvalidQuantity), errors.Is(err, store.ErrInvalidTransaction):
		return "invalid_request"
	case errors.Is(err, store.ErrDuplicate):
		return "duplicate"
	case errors.Is(err, store.ErrConflict):
		return "conflict"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}

func actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok {
		return actor.Username
	}
	return "system"
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"hardwarepos/backend/internal/domain"
	"hardwarepos/backend/internal/ledger"
	"hardwarepos/backend/internal/store"
)

// CreateItem upserts by custom id. An existing item only gains the requested
// stock through the ledger; its other fields are left alone. The returned flag
// reports whether a new item was created.
func (s *Service) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (domain.Item, bool, error) {
	req.CustomID = strings.TrimSpace(req.CustomID)
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.CustomID == "" {
		return domain.Item{}, false, invalid("custom id required")
	}
	if req.StockQuantity < 0 {
		return domain.Item{}, false, invalid("stock quantity must not be negative")
	}

	var result *domain.Item
	created := false
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		existing, err := tx.ItemByCustomID(ctx, req.CustomID)
		switch {
		case err == nil:
			created = false
			result = existing
			if req.StockQuantity == 0 {
				return nil
			}
			result, err = ledger.Credit(ctx, tx, existing.ID, req.StockQuantity)
			return err
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		if req.Name == "" {
			return invalid("name required")
		}
		if req.Category == "" {
			return invalid("category required")
		}
		if req.PriceCents < 0 {
			return invalid("price must not be negative")
		}
		category, err := categoryByName(ctx, tx, req.Category)
		if err != nil {
			return err
		}
		result, err = tx.InsertItem(ctx, domain.Item{
			CustomID:      req.CustomID,
			Name:          req.Name,
			CategoryID:    category.ID,
			StockQuantity: req.StockQuantity,
			PriceCents:    req.PriceCents,
		})
		created = true
		return err
	})
	if err != nil {
		s.txFailed(ctx, "create_item", err)
		return domain.Item{}, false, err
	}

	s.itemsChanged(ctx)
	s.logger.Info("item saved", "item_id", result.ID, "custom_id", result.CustomID, "created", created, "stock", result.StockQuantity, "actor", actorName(ctx))
	return *result, created, nil
}

// UpdateItem applies a partial edit. Stock set here is a direct correction and
// bypasses the ledger, but it can never be negative.
func (s *Service) UpdateItem(ctx context.Context, id int64, req domain.ItemUpdateRequest) (domain.Item, error) {
	var result *domain.Item
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		current, err := tx.Item(ctx, id)
		if err != nil {
			return notFound(err, ErrItemNotFound, id)
		}

		updated := *current
		if req.CustomID != nil {
			customID := strings.TrimSpace(*req.CustomID)
			if customID == "" {
				return invalid("custom id required")
			}
			if customID != current.CustomID {
				other, err := tx.ItemByCustomID(ctx, customID)
				if err == nil && other.ID != id {
					return fmt.Errorf("%w: %s", ErrDuplicateCustomID, customID)
				}
				if err != nil && !errors.Is(err, store.ErrNotFound) {
					return err
				}
			}
			updated.CustomID = customID
		}
		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return invalid("name required")
			}
			updated.Name = name
		}
		if req.PriceCents != nil {
			if *req.PriceCents < 0 {
				return invalid("price must not be negative")
			}
			updated.PriceCents = *req.PriceCents
		}
		if req.StockQuantity != nil {
			if *req.StockQuantity < 0 {
				return invalid("stock quantity must not be negative")
			}
			updated.StockQuantity = *req.StockQuantity
		}
		if req.Category != nil {
			name := strings.TrimSpace(*req.Category)
			if name == "" {
				return invalid("category required")
			}
			category, err := categoryByName(ctx, tx, name)
			if err != nil {
				return err
			}
			updated.CategoryID = category.ID
			updated.Category = category.Name
		}

		result, err = tx.UpdateItem(ctx, updated)
		return err
	})
	if err != nil {
		s.txFailed(ctx, "update_item", err)
		return domain.Item{}, err
	}

	s.itemsChanged(ctx)
	return *result, nil
}

// DeleteItem removes the item even when bill lines still reference it. Those
// lines keep the id; refunding them later fails with ErrItemNotFound.
func (s *Service) DeleteItem(ctx context.Context, id int64) error {
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return notFound(tx.DeleteItem(ctx, id), ErrItemNotFound, id)
	})
	if err != nil {
		s.txFailed(ctx, "delete_item", err)
		return err
	}

	s.itemsChanged(ctx)
	s.logger.Info("item deleted", "item_id", id, "actor", actorName(ctx))
	return nil
}

// AdjustStock routes a positive delta to a ledger credit and a negative one to
// a debit, so stock cannot be driven below zero.
func (s *Service) AdjustStock(ctx context.Context, id int64, delta int) (domain.Item, error) {
	if delta == 0 {
		return domain.Item{}, ErrInvalidQuantity
	}

	var result *domain.Item
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		if delta > 0 {
			result, err = ledger.Credit(ctx, tx, id, delta)
		} else {
			result, err = ledger.Debit(ctx, tx, id, -delta)
		}
		return err
	})
	if err != nil {
		s.txFailed(ctx, "adjust_stock", err)
		return domain.Item{}, err
	}

	s.itemsChanged(ctx)
	s.logger.Info("stock adjusted", "item_id", id, "delta", delta, "stock", result.StockQuantity, "actor", actorName(ctx))
	return *result, nil
}

func categoryByName(ctx context.Context, tx store.Tx, name string) (*domain.Category, error) {
	category, err := tx.CategoryByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return tx.InsertCategory(ctx, name)
	}
	return category, err
}

func (s *Service) GetItem(ctx context.Context, id int64) (domain.Item, error) {
	item, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return domain.Item{}, notFound(err, ErrItemNotFound, id)
	}
	return *item, nil
}

func (s *Service) ListItems(ctx context.Context) ([]domain.Item, error) {
	return s.cachedItems(ctx, "all", store.ItemFilter{})
}

// LowStockItems lists items that are running out but not yet out of stock.
func (s *Service) LowStockItems(ctx context.Context) ([]domain.Item, error) {
	minStock, maxStock := 1, s.lowStockThreshold
	key := fmt.Sprintf("low-stock:%d", maxStock)
	return s.cachedItems(ctx, key, store.ItemFilter{MinStock: &minStock, MaxStock: &maxStock})
}

func (s *Service) ItemsByCategory(ctx context.Context, categoryID int64) ([]domain.Item, error) {
	if categoryID <= 0 {
		return nil, notFound(store.ErrNotFound, ErrCategoryNotFound, categoryID)
	}
	return s.cachedItems(ctx, fmt.Sprintf("category:%d", categoryID), store.ItemFilter{CategoryID: categoryID})
}

// SearchItems matches a case-sensitive substring of the item name.
func (s *Service) SearchItems(ctx context.Context, name string) ([]domain.Item, error) {
	return s.cachedItems(ctx, "search:"+name, store.ItemFilter{NameContains: name})
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.repo.ListCategories(ctx)
}

func (s *Service) cachedItems(ctx context.Context, key string, filter store.ItemFilter) ([]domain.Item, error) {
	// The generation is taken before the repository read. A sale committing
	// between the read and the fill invalidates it and the fill is dropped.
	lookup, cacheErr := s.queryCache.GetItems(ctx, key)
	if cacheErr != nil {
		s.logger.Warn("item query cache read failed", "key", key, "error", cacheErr)
	} else if lookup.Found {
		return lookup.Items, nil
	}

	items, err := s.repo.ListItems(ctx, filter)
	if err != nil {
		return nil, err
	}
	if cacheErr != nil {
		return items, nil
	}
	if err := s.queryCache.SetItems(ctx, lookup.Generation, key, items, s.queryCacheTTL); err != nil {
		s.logger.Warn("item query cache write failed", "key", key, "error", err)
	}
	return items, nil
}

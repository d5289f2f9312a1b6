package service

import (
	"context"
	"fmt"

	"hardwarepos/backend/internal/domain"
	"hardwarepos/backend/internal/ledger"
	"hardwarepos/backend/internal/store"
)

// RefundBill returns every line that is still active to stock and marks the
// bill fully refunded.
func (s *Service) RefundBill(ctx context.Context, billID int64) (domain.Bill, error) {
	var refunded domain.Bill
	var lines int
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		bill, err := tx.Bill(ctx, billID)
		if err != nil {
			return notFound(err, ErrBillNotFound, billID)
		}
		if bill.Refunded {
			return fmt.Errorf("%w: %d", ErrAlreadyFullyRefunded, billID)
		}

		lines = 0
		for i := range bill.Items {
			line := &bill.Items[i]
			if line.Refunded {
				continue
			}
			if _, err := ledger.Credit(ctx, tx, line.ItemID, line.Quantity); err != nil {
				return err
			}
			line.Refunded = true
			lines++
		}

		at := s.now()
		bill.Refunded = true
		bill.RefundedDate = &at
		if err := tx.SaveBillRefunds(ctx, *bill); err != nil {
			return err
		}
		refunded = *bill
		return nil
	})
	if err != nil {
		s.txFailed(ctx, "refund_bill", err)
		return domain.Bill{}, err
	}

	s.refundCommitted(ctx, "bill", refunded, lines)
	return refunded, nil
}

// RefundBillItems refunds the listed lines in order. Any unknown or already
// refunded line aborts the request with no stock returned. The bill flips to
// fully refunded once its last active line is refunded.
func (s *Service) RefundBillItems(ctx context.Context, billID int64, lineIDs []int64) (domain.Bill, error) {
	var refunded domain.Bill
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		bill, err := tx.Bill(ctx, billID)
		if err != nil {
			return notFound(err, ErrBillNotFound, billID)
		}
		if len(lineIDs) == 0 {
			return ErrNoItemsSpecified
		}

		for _, lineID := range lineIDs {
			idx, ok := bill.LineIndex(lineID)
			if !ok {
				return fmt.Errorf("%w: %d on bill %d", ErrBillItemNotFound, lineID, billID)
			}
			line := &bill.Items[idx]
			if line.Refunded {
				return fmt.Errorf("%w: %d", ErrAlreadyRefunded, lineID)
			}
			if _, err := ledger.Credit(ctx, tx, line.ItemID, line.Quantity); err != nil {
				return err
			}
			line.Refunded = true
		}

		if !bill.Refunded && bill.IsFullyRefunded() {
			at := s.now()
			bill.Refunded = true
			bill.RefundedDate = &at
		}
		if err := tx.SaveBillRefunds(ctx, *bill); err != nil {
			return err
		}
		refunded = *bill
		return nil
	})
	if err != nil {
		s.txFailed(ctx, "refund_bill_items", err)
		return domain.Bill{}, err
	}

	s.refundCommitted(ctx, "items", refunded, len(lineIDs))
	return refunded, nil
}

func (s *Service) refundCommitted(ctx context.Context, kind string, bill domain.Bill, lines int) {
	s.itemsChanged(ctx)
	s.metrics.Refunded(kind, lines)
	s.logger.Info("refund applied",
		"bill_id", bill.ID,
		"kind", kind,
		"lines", lines,
		"fully_refunded", bill.Refunded,
		"remaining_cents", bill.TotalAmountCents(),
		"actor", actorName(ctx),
	)
}

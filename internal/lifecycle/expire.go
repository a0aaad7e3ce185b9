package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-ledger/internal/orders"
)

type ExpiredOrder struct {
	Order    orders.Order `json:"order"`
	Refunded int64        `json:"refunded"`
}

// ExpireOrdersAndRefund expires every AWAITING_PAYMENT order whose deadline
// is at or before now, refunding held wallet funds. Each order runs in its
// own transaction and is re-checked under lock, so an order already moved on
// by a customer or staff action is skipped without error. A failure on one
// order does not stop the others; failures are joined into the returned error.
func (s *Service) ExpireOrdersAndRefund(ctx context.Context, now time.Time) ([]ExpiredOrder, error) {
	now = now.UTC().Truncate(time.Second)
	var candidates []orders.Order
	err := s.Store.InTx(ctx, func(tx orders.Tx) error {
		var err error
		candidates, err = tx.ListExpiredOrders(ctx, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}

	var (
		expired []ExpiredOrder
		errs    []error
	)
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		var (
			res     TransitionResult
			skipped bool
		)
		err := s.Store.InTx(ctx, func(tx orders.Tx) error {
			o, err := loadOrder(ctx, tx, c.ID, true)
			if err != nil {
				return err
			}
			if o.Status != orders.StatusAwaitingPayment || o.AwaitDeadline == nil || o.AwaitDeadline.After(now) {
				skipped = true
				return nil
			}
			res, err = s.transitionTx(ctx, tx, &o, orders.StatusExpired, now)
			return err
		})
		if err != nil {
			s.Log.Error().Err(err).Int64("order_id", c.ID).Msg("expire order failed")
			errs = append(errs, fmt.Errorf("order %d: %w", c.ID, err))
			continue
		}
		if skipped || !res.Changed {
			continue
		}
		s.Metrics.Transition(string(orders.StatusExpired))
		s.Log.Info().Int64("order_id", c.ID).Int64("refunded", res.RefundedWallet).Msg("order expired")
		expired = append(expired, ExpiredOrder{Order: res.Order, Refunded: res.RefundedWallet})
	}
	return expired, errors.Join(errs...)
}

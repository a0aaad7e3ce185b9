package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-ledger/internal/orders"
	"github.com/ariefcatur/go-storefront-ledger/internal/wallet"
)

// CashbackNote tags cashback credits in the wallet log.
func CashbackNote(orderID int64) string { return fmt.Sprintf("CASHBACK:ORDER:%d", orderID) }

// applyCashbackTx credits floor(amount_total * percent / 100) minus what was
// already credited for the order. The caller persists o.
func applyCashbackTx(ctx context.Context, tx orders.Tx, o *orders.Order, now time.Time) (int64, error) {
	if o.CashbackPercent <= 0 || o.AmountTotal <= 0 {
		return 0, nil
	}
	total := o.AmountTotal * o.CashbackPercent / 100
	delta := total - o.CashbackAppliedAmount
	if delta <= 0 {
		return 0, nil
	}
	id := o.ID
	if _, _, err := wallet.Apply(ctx, tx, wallet.Entry{
		UserID: o.UserID, Delta: delta, Type: orders.TxCredit, Note: CashbackNote(id), OrderID: &id,
	}, now); err != nil {
		return 0, fmt.Errorf("cashback: %w", err)
	}
	o.CashbackAppliedAmount = total
	return delta, nil
}

// ApplyCashback credits any cashback still owed for the order. Calling it
// again credits nothing.
func (s *Service) ApplyCashback(ctx context.Context, orderID int64) (int64, error) {
	var credited int64
	now := s.now()
	err := s.Store.InTx(ctx, func(tx orders.Tx) error {
		o, err := loadOrder(ctx, tx, orderID, true)
		if err != nil {
			return err
		}
		credited, err = applyCashbackTx(ctx, tx, &o, now)
		if err != nil || credited == 0 {
			return err
		}
		o.UpdatedAt = now
		return tx.UpdateOrder(ctx, o)
	})
	if err != nil {
		return 0, err
	}
	if credited > 0 {
		s.Log.Info().Int64("order_id", orderID).Int64("cashback", credited).Msg("cashback credited")
	}
	return credited, nil
}

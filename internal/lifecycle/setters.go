package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/ariefcatur/go-storefront-ledger/internal/orders"
)

type Receipt struct {
	FileID string `json:"file_id"`
	Text   string `json:"text"`
	Kind   string `json:"kind"` // photo | document | text
}

func (r Receipt) empty() bool {
	return strings.TrimSpace(r.FileID) == "" && strings.TrimSpace(r.Text) == ""
}

// update locks the order, applies fn and stamps updated_at.
func (s *Service) update(ctx context.Context, orderID int64, fn func(o *orders.Order) error) (orders.Order, error) {
	var o orders.Order
	now := s.now()
	err := s.Store.InTx(ctx, func(tx orders.Tx) error {
		var err error
		o, err = loadOrder(ctx, tx, orderID, true)
		if err != nil {
			return err
		}
		if err := fn(&o); err != nil {
			return err
		}
		o.UpdatedAt = now
		return tx.UpdateOrder(ctx, o)
	})
	return o, err
}

func (s *Service) SetPaymentType(ctx context.Context, orderID int64, pt orders.PaymentType) (orders.Order, error) {
	return s.update(ctx, orderID, func(o *orders.Order) error {
		o.PaymentType = pt
		return nil
	})
}

func (s *Service) SetReceipt(ctx context.Context, orderID int64, r Receipt) (orders.Order, error) {
	if r.empty() {
		return orders.Order{}, ErrReceiptRequired
	}
	return s.update(ctx, orderID, func(o *orders.Order) error {
		o.ReceiptFileID, o.ReceiptText, o.ReceiptKind = r.FileID, r.Text, r.Kind
		return nil
	})
}

// SetWalletReserved overwrites the held amount without moving money; the
// wallet protocols in payment.go are the normal path.
func (s *Service) SetWalletReserved(ctx context.Context, orderID, amount int64) (orders.Order, error) {
	return s.update(ctx, orderID, func(o *orders.Order) error {
		if amount < 0 || amount+o.WalletUsedAmount > o.AmountTotal {
			return fmt.Errorf("%w: reserved %d used %d total %d", ErrInvariant, amount, o.WalletUsedAmount, o.AmountTotal)
		}
		o.WalletReservedAmount = amount
		return nil
	})
}

func (s *Service) SetWalletUsed(ctx context.Context, orderID, amount int64) (orders.Order, error) {
	return s.update(ctx, orderID, func(o *orders.Order) error {
		if amount < 0 || amount+o.WalletReservedAmount > o.AmountTotal {
			return fmt.Errorf("%w: reserved %d used %d total %d", ErrInvariant, o.WalletReservedAmount, amount, o.AmountTotal)
		}
		o.WalletUsedAmount = amount
		return nil
	})
}

func (s *Service) SetCustomerMessage(ctx context.Context, orderID int64, msg string) (orders.Order, error) {
	return s.update(ctx, orderID, func(o *orders.Order) error {
		o.CustomerMessage = msg
		return nil
	})
}

func (s *Service) SetManagerNote(ctx context.Context, orderID int64, note string) (orders.Order, error) {
	return s.update(ctx, orderID, func(o *orders.Order) error {
		o.ManagerNote = note
		return nil
	})
}

func (s *Service) SetNotes(ctx context.Context, orderID int64, notes string) (orders.Order, error) {
	return s.update(ctx, orderID, func(o *orders.Order) error {
		o.Notes = notes
		return nil
	})
}

func (s *Service) SetCustomerSecret(ctx context.Context, orderID int64, secret string) (orders.Order, error) {
	return s.update(ctx, orderID, func(o *orders.Order) error {
		o.CustomerSecret = secret
		return nil
	})
}

func (s *Service) SetFinancials(ctx context.Context, orderID, costAmount int64) (orders.Order, error) {
	if costAmount < 0 {
		return orders.Order{}, fmt.Errorf("%w: cost %d", ErrInvalidAmount, costAmount)
	}
	return s.update(ctx, orderID, func(o *orders.Order) error {
		o.CostAmount = costAmount
		return nil
	})
}

// RefreshDeadline restarts the payment window of an unpaid order.
func (s *Service) RefreshDeadline(ctx context.Context, orderID int64) (orders.Order, error) {
	deadline := s.now().Add(s.timeout())
	return s.update(ctx, orderID, func(o *orders.Order) error {
		if o.Status != orders.StatusAwaitingPayment {
			return fmt.Errorf("%w: order %d is %s", ErrInvalidTransition, o.ID, o.Status)
		}
		o.AwaitDeadline = &deadline
		return nil
	})
}

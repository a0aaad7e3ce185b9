package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-storefront-ledger/internal/orders"
	"github.com/ariefcatur/go-storefront-ledger/internal/wallet"
)

// firstPlanCategory is always eligible for the first purchase plan.
const firstPlanCategory = "AI"

// runOwned is run for customer-initiated protocols: the order must belong
// to userID and still be AWAITING_PAYMENT.
func (s *Service) runOwned(ctx context.Context, orderID, userID int64, fn func(tx orders.Tx, o *orders.Order, now time.Time) (TransitionResult, error)) (TransitionResult, error) {
	return s.run(ctx, orderID, func(tx orders.Tx, o *orders.Order, now time.Time) (TransitionResult, error) {
		if o.UserID != userID {
			return TransitionResult{}, ErrNotOwner
		}
		if o.Status != orders.StatusAwaitingPayment {
			return TransitionResult{}, fmt.Errorf("%w: order %d is %s", ErrInvalidTransition, o.ID, o.Status)
		}
		return fn(tx, o, now)
	})
}

func setComment(o *orders.Order, comment string) {
	if c := strings.TrimSpace(comment); c != "" {
		o.CustomerMessage = c
	}
}

// SubmitCardReceipt attaches a payment receipt and moves the order to
// PENDING_CONFIRM for staff review. A MIXED order keeps its payment type.
func (s *Service) SubmitCardReceipt(ctx context.Context, orderID, userID int64, r Receipt, comment string) (TransitionResult, error) {
	if r.empty() {
		return TransitionResult{}, ErrReceiptRequired
	}
	return s.runOwned(ctx, orderID, userID, func(tx orders.Tx, o *orders.Order, now time.Time) (TransitionResult, error) {
		if o.PaymentType != orders.PaymentMixed {
			o.PaymentType = orders.PaymentCard
		}
		o.ReceiptFileID, o.ReceiptText, o.ReceiptKind = r.FileID, r.Text, r.Kind
		setComment(o, comment)
		return s.transitionTx(ctx, tx, o, orders.StatusPendingConfirm, now)
	})
}

// ApproveReceipt is the staff approval of a PENDING_CONFIRM order.
func (s *Service) ApproveReceipt(ctx context.Context, orderID int64) (TransitionResult, error) {
	return s.run(ctx, orderID, func(tx orders.Tx, o *orders.Order, now time.Time) (TransitionResult, error) {
		if o.Status != orders.StatusPendingConfirm {
			return TransitionResult{}, fmt.Errorf("%w: order %d is %s", ErrInvalidTransition, o.ID, o.Status)
		}
		return s.transitionTx(ctx, tx, o, orders.StatusInProgress, now)
	})
}

// PayWithWallet debits the whole payable amount and starts the order.
func (s *Service) PayWithWallet(ctx context.Context, orderID, userID int64, comment string) (TransitionResult, error) {
	return s.runOwned(ctx, orderID, userID, func(tx orders.Tx, o *orders.Order, now time.Time) (TransitionResult, error) {
		if o.Held() > 0 {
			return TransitionResult{}, ErrAlreadyReserved
		}
		payable := o.Payable()
		if payable <= 0 {
			return TransitionResult{}, fmt.Errorf("%w: nothing to pay on order %d", ErrInvalidAmount, o.ID)
		}
		id := o.ID
		if _, _, err := wallet.Apply(ctx, tx, wallet.Entry{
			UserID: userID, Delta: -payable, Type: orders.TxDebit,
			Note: fmt.Sprintf("ORDER:%d:WALLET", id), OrderID: &id,
		}, now); err != nil {
			return TransitionResult{}, err
		}
		o.WalletUsedAmount = payable
		o.PaymentType = orders.PaymentWallet
		setComment(o, comment)
		return s.transitionTx(ctx, tx, o, orders.StatusInProgress, now)
	})
}

// ReserveForMixed holds part of the payable amount in the wallet; the rest
// is paid by card receipt. The order stays AWAITING_PAYMENT.
func (s *Service) ReserveForMixed(ctx context.Context, orderID, userID, amount int64) (orders.Order, error) {
	if amount <= 0 {
		return orders.Order{}, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	res, err := s.runOwned(ctx, orderID, userID, func(tx orders.Tx, o *orders.Order, now time.Time) (TransitionResult, error) {
		if o.WalletReservedAmount > 0 {
			return TransitionResult{}, ErrAlreadyReserved
		}
		if amount > o.Payable()-o.Held() {
			return TransitionResult{}, fmt.Errorf("%w: %d > %d", ErrReservationTooLarge, amount, o.Payable()-o.Held())
		}
		id := o.ID
		if _, _, err := wallet.Apply(ctx, tx, wallet.Entry{
			UserID: userID, Delta: -amount, Type: orders.TxReserve,
			Note: fmt.Sprintf("ORDER:%d:RESERVE", id), OrderID: &id,
		}, now); err != nil {
			return TransitionResult{}, err
		}
		o.WalletReservedAmount = amount
		o.PaymentType = orders.PaymentMixed
		o.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, *o); err != nil {
			return TransitionResult{}, err
		}
		return TransitionResult{Order: *o, From: o.Status}, nil
	})
	if err != nil {
		return orders.Order{}, err
	}
	s.Log.Info().Int64("order_id", orderID).Int64("reserved", amount).Msg("wallet reserved")
	return res.Order, nil
}

// RequestFirstPlan asks for the deferred "buy now, pay later" plan. Only
// flagged orders (or the AI category) qualify, and only for users without a
// delivered order.
func (s *Service) RequestFirstPlan(ctx context.Context, orderID, userID int64, comment string) (TransitionResult, error) {
	return s.runOwned(ctx, orderID, userID, func(tx orders.Tx, o *orders.Order, now time.Time) (TransitionResult, error) {
		if !o.AllowFirstPlan && !strings.EqualFold(o.ServiceCategory, firstPlanCategory) {
			return TransitionResult{}, fmt.Errorf("%w: order %d not eligible", ErrFirstPlanNotAllowed, o.ID)
		}
		history, err := tx.ListUserOrders(ctx, userID)
		if err != nil {
			return TransitionResult{}, err
		}
		for _, prev := range history {
			if prev.Status == orders.StatusDelivered || prev.Status == orders.StatusCompleted {
				return TransitionResult{}, fmt.Errorf("%w: user already has delivered order %d", ErrFirstPlanNotAllowed, prev.ID)
			}
		}
		o.PaymentType = orders.PaymentFirstPlan
		setComment(o, comment)
		return s.transitionTx(ctx, tx, o, orders.StatusPendingPlan, now)
	})
}

// SubmitRequest starts a zero-price request-only order.
func (s *Service) SubmitRequest(ctx context.Context, orderID, userID int64, comment string) (TransitionResult, error) {
	return s.runOwned(ctx, orderID, userID, func(tx orders.Tx, o *orders.Order, now time.Time) (TransitionResult, error) {
		if o.Payable() > 0 {
			return TransitionResult{}, fmt.Errorf("%w: %d", ErrNotFree, o.Payable())
		}
		o.PaymentType = orders.PaymentRequest
		setComment(o, comment)
		return s.transitionTx(ctx, tx, o, orders.StatusInProgress, now)
	})
}

// CancelOrder lets the customer drop an unpaid or under-review order; held
// wallet funds are refunded.
func (s *Service) CancelOrder(ctx context.Context, orderID, userID int64) (TransitionResult, error) {
	return s.run(ctx, orderID, func(tx orders.Tx, o *orders.Order, now time.Time) (TransitionResult, error) {
		if o.UserID != userID {
			return TransitionResult{}, ErrNotOwner
		}
		if o.Status != orders.StatusAwaitingPayment && o.Status != orders.StatusPendingConfirm {
			if o.Status.IsTerminal() {
				return TransitionResult{}, fmt.Errorf("%w: order %d is %s", ErrTerminalStatus, o.ID, o.Status)
			}
			return TransitionResult{}, fmt.Errorf("%w: order %d is %s", ErrInvalidTransition, o.ID, o.Status)
		}
		return s.transitionTx(ctx, tx, o, orders.StatusCanceled, now)
	})
}

// IsCustomerError reports whether err is a validation or invariant failure
// the caller can act on, as opposed to a storage failure.
func IsCustomerError(err error) bool {
	for _, target := range []error{
		ErrInvalidAmount, ErrOrderNotFound, ErrNotOwner, ErrTerminalStatus, ErrInvalidTransition,
		ErrInvariant, ErrAlreadyReserved, ErrReservationTooLarge, ErrReceiptRequired,
		ErrFirstPlanNotAllowed, ErrNotFree,
		wallet.ErrInsufficientFunds, wallet.ErrUserNotFound, wallet.ErrInvalidAmount,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

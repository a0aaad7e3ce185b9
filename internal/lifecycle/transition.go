package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-ledger/internal/notify"
	"github.com/ariefcatur/go-storefront-ledger/internal/orders"
)

// TransitionResult reports what one transition did. Changed is false for a
// same-status no-op.
type TransitionResult struct {
	Order          orders.Order  `json:"order"`
	From           orders.Status `json:"from"`
	Changed        bool          `json:"changed"`
	RefundedWallet int64         `json:"refunded_wallet"`
	RefundedCard   int64         `json:"refunded_card"`
	Cashback       int64         `json:"cashback"`
}

// Transition moves the order to target and runs the money side effects of
// entering it: settlement and cashback for paid states, the refund protocol
// for REJECTED/CANCELED/EXPIRED.
func (s *Service) Transition(ctx context.Context, orderID int64, target orders.Status) (TransitionResult, error) {
	return s.run(ctx, orderID, func(tx orders.Tx, o *orders.Order, now time.Time) (TransitionResult, error) {
		return s.transitionTx(ctx, tx, o, target, now)
	})
}

// SetStatus accepts a raw status string, including the APPROVED and
// PLAN_CONFIRMED aliases.
func (s *Service) SetStatus(ctx context.Context, orderID int64, raw string) (TransitionResult, error) {
	target, needPlan, err := orders.ParseStatus(raw)
	if err != nil {
		return TransitionResult{}, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	return s.run(ctx, orderID, func(tx orders.Tx, o *orders.Order, now time.Time) (TransitionResult, error) {
		if needPlan && o.Status != orders.StatusPendingPlan {
			return TransitionResult{}, fmt.Errorf("%w: %s only from %s", ErrInvalidTransition, raw, orders.StatusPendingPlan)
		}
		return s.transitionTx(ctx, tx, o, target, now)
	})
}

// run locks the order, calls fn and, after commit, notifies a changed status.
func (s *Service) run(ctx context.Context, orderID int64, fn func(tx orders.Tx, o *orders.Order, now time.Time) (TransitionResult, error)) (TransitionResult, error) {
	var res TransitionResult
	now := s.now()
	err := s.Store.InTx(ctx, func(tx orders.Tx) error {
		o, err := loadOrder(ctx, tx, orderID, true)
		if err != nil {
			return err
		}
		res, err = fn(tx, &o, now)
		return err
	})
	if err != nil {
		return TransitionResult{}, err
	}
	s.afterTransition(ctx, res)
	return res, nil
}

func (s *Service) afterTransition(ctx context.Context, res TransitionResult) {
	if !res.Changed {
		return
	}
	s.Metrics.Transition(string(res.Order.Status))
	s.Log.Info().
		Int64("order_id", res.Order.ID).
		Str("from", string(res.From)).
		Str("to", string(res.Order.Status)).
		Int64("refunded_wallet", res.RefundedWallet).
		Int64("refunded_card", res.RefundedCard).
		Int64("cashback", res.Cashback).
		Msg("order transition")
	s.Notify.Send(ctx, notify.StatusChanged(res.Order, notify.StatusChange{
		From:           res.From,
		RefundedWallet: res.RefundedWallet,
		RefundedCard:   res.RefundedCard,
		Cashback:       res.Cashback,
	}))
}

// transitionTx applies the state machine to a locked order and persists it.
func (s *Service) transitionTx(ctx context.Context, tx orders.Tx, o *orders.Order, target orders.Status, now time.Time) (TransitionResult, error) {
	from := o.Status
	res := TransitionResult{From: from}
	if from.IsTerminal() {
		return res, fmt.Errorf("%w: order %d is %s", ErrTerminalStatus, o.ID, from)
	}
	if from == target {
		res.Order = *o
		return res, nil
	}
	if !orders.CanTransition(from, target) {
		return res, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, target)
	}

	o.Status = target
	switch {
	case target.IsPaid():
		o.WalletUsedAmount += o.WalletReservedAmount
		o.WalletReservedAmount = 0
		credited, err := applyCashbackTx(ctx, tx, o, now)
		if err != nil {
			return res, err
		}
		res.Cashback = credited
	case target.IsRefunding():
		w, card, err := refundTx(ctx, tx, o, target == orders.StatusRejected, now)
		if err != nil {
			return res, err
		}
		res.RefundedWallet, res.RefundedCard = w, card
	}
	o.UpdatedAt = now
	if err := tx.UpdateOrder(ctx, *o); err != nil {
		return res, fmt.Errorf("update order %d: %w", o.ID, err)
	}
	res.Order = *o
	res.Changed = true
	return res, nil
}

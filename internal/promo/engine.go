package promo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-ledger/internal/metrics"
	"github.com/ariefcatur/go-storefront-ledger/internal/notify"
	"github.com/ariefcatur/go-storefront-ledger/internal/orders"
	"github.com/ariefcatur/go-storefront-ledger/internal/wallet"
	"github.com/rs/zerolog"
)

// CouponNote tags the wallet credit so history can show which code paid it.
const CouponNote = "COUPON:%s"

// Engine redeems coupons and applies discounts. Each redemption runs its
// checks and writes in one transaction holding row locks on the user or
// order and on the code row.
type Engine struct {
	Store   orders.Store
	Notify  *notify.Dispatcher
	Metrics *metrics.Metrics
	Log     zerolog.Logger
	Now     func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC().Truncate(time.Second)
	}
	return time.Now().UTC().Truncate(time.Second)
}

type CouponResult struct {
	Code    string `json:"code"`
	Amount  int64  `json:"amount"`
	Balance int64  `json:"balance"`
}

type DiscountResult struct {
	Code     string `json:"code"`
	Discount int64  `json:"discount"`
	Payable  int64  `json:"payable"`
}

func perUserLimit(p orders.Promotion) int64 {
	if p.UsageLimitPerUser <= 0 {
		return 1
	}
	return p.UsageLimitPerUser
}

// checkPromotion runs the checks shared by coupons and discounts, in order:
// inactive, amount, global limit, expiry.
func checkPromotion(p orders.Promotion, now time.Time) error {
	switch {
	case !p.IsActive:
		return reject(ReasonInactive, p.Code)
	case p.Amount <= 0:
		return reject(ReasonAmountInvalid, p.Code)
	case p.UsageLimit > 0 && p.UsedCount >= p.UsageLimit:
		return reject(ReasonLimitReached, p.Code)
	case p.ExpiresAt != nil && now.After(*p.ExpiresAt):
		return reject(ReasonExpired, p.Code)
	}
	return nil
}

// loadRedemption returns the user's redemption row, or a zero row with
// PromotionID and UserID set when none exists yet.
func loadRedemption(ctx context.Context, tx orders.Tx, kind orders.PromoKind, promoID, userID int64) (orders.Redemption, error) {
	r, err := tx.GetRedemption(ctx, kind, promoID, userID, true)
	if errors.Is(err, orders.ErrNotFound) {
		return orders.Redemption{PromotionID: promoID, UserID: userID}, nil
	}
	if err != nil {
		return r, fmt.Errorf("load redemption: %w", err)
	}
	return r, nil
}

func bumpRedemption(ctx context.Context, tx orders.Tx, kind orders.PromoKind, r orders.Redemption, amount int64, orderID *int64, now time.Time) error {
	if r.ID == 0 {
		r.Amount = amount
	}
	r.TimesUsed++
	r.RedeemedAt = now
	if orderID != nil {
		r.OrderID = orderID
	}
	if err := tx.SaveRedemption(ctx, kind, r); err != nil {
		return fmt.Errorf("save redemption: %w", err)
	}
	if err := tx.IncrementUsedCount(ctx, kind, r.PromotionID, now); err != nil {
		return fmt.Errorf("increment used count: %w", err)
	}
	return nil
}

// RedeemCoupon credits the coupon amount to the user's wallet. A rejected
// code returns *Rejection and leaves balance and counters untouched.
func (e *Engine) RedeemCoupon(ctx context.Context, userID int64, code string) (CouponResult, error) {
	code = orders.NormalizeCode(code)
	now := e.now()
	var (
		res CouponResult
		row orders.WalletTx
	)
	err := func() error {
		if code == "" {
			return reject(ReasonCodeInvalid, "")
		}
		return e.Store.InTx(ctx, func(tx orders.Tx) error {
			if err := ensureUser(ctx, tx, userID, now); err != nil {
				return err
			}
			c, err := tx.GetCouponByCode(ctx, code, true)
			if errors.Is(err, orders.ErrNotFound) {
				return reject(ReasonNotFound, code)
			}
			if err != nil {
				return fmt.Errorf("load coupon: %w", err)
			}
			if err := checkPromotion(c.Promotion, now); err != nil {
				return err
			}
			red, err := loadRedemption(ctx, tx, orders.KindCoupon, c.ID, userID)
			if err != nil {
				return err
			}
			if red.TimesUsed >= perUserLimit(c.Promotion) {
				return reject(ReasonPerUserLimit, c.Code)
			}

			var balance int64
			row, balance, err = wallet.Apply(ctx, tx, wallet.Entry{
				UserID: userID,
				Delta:  c.Amount,
				Type:   orders.TxCredit,
				Note:   fmt.Sprintf(CouponNote, c.Code),
			}, now)
			if err != nil {
				return err
			}
			if err := bumpRedemption(ctx, tx, orders.KindCoupon, red, c.Amount, nil, now); err != nil {
				return err
			}
			res = CouponResult{Code: c.Code, Amount: c.Amount, Balance: balance}
			return nil
		})
	}()
	e.record(orders.KindCoupon, err)
	if err != nil {
		return CouponResult{}, err
	}

	e.Log.Info().Int64("user_id", userID).Str("code", res.Code).Int64("amount", res.Amount).
		Int64("balance", res.Balance).Msg("coupon redeemed")
	e.Notify.Send(ctx,
		notify.PromoRedeemed(orders.KindCoupon, res.Code, userID, nil, res.Amount),
		notify.WalletChanged(row, res.Balance),
	)
	return res, nil
}

// ensureUser locks the user row, creating it with a zero balance if the
// user has never been seen.
func ensureUser(ctx context.Context, tx orders.Tx, userID int64, now time.Time) error {
	_, err := tx.GetUser(ctx, userID, true)
	if err == nil {
		return nil
	}
	if !errors.Is(err, orders.ErrNotFound) {
		return fmt.Errorf("load user: %w", err)
	}
	if err := tx.UpsertUser(ctx, orders.User{ID: userID, UpdatedAt: now}); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// ApplyDiscountToOrder attaches a discount to an AWAITING_PAYMENT order owned
// by userID. The discount value is capped at the order total; the order's
// payable amount drops by that value.
func (e *Engine) ApplyDiscountToOrder(ctx context.Context, orderID, userID int64, code string) (DiscountResult, error) {
	code = orders.NormalizeCode(code)
	now := e.now()
	var res DiscountResult
	err := e.Store.InTx(ctx, func(tx orders.Tx) error {
		o, err := tx.GetOrder(ctx, orderID, true)
		if errors.Is(err, orders.ErrNotFound) {
			return reject(ReasonOrderInvalid, code)
		}
		if err != nil {
			return fmt.Errorf("load order: %w", err)
		}
		if o.UserID != userID {
			return reject(ReasonOrderInvalid, code)
		}
		if o.Status != orders.StatusAwaitingPayment && !orders.IsLegacyAwaiting(string(o.Status)) {
			return reject(ReasonOrderStatus, code)
		}
		if o.HasDiscount() {
			return reject(ReasonAlreadyApplied, code)
		}
		if code == "" {
			return reject(ReasonCodeInvalid, "")
		}

		d, err := tx.GetDiscountByCode(ctx, code, true)
		if errors.Is(err, orders.ErrNotFound) {
			return reject(ReasonNotFound, code)
		}
		if err != nil {
			return fmt.Errorf("load discount: %w", err)
		}
		if err := checkPromotion(d.Promotion, now); err != nil {
			return err
		}
		productID, ok := o.ProductID()
		if !ok {
			return reject(ReasonProductOnly, d.Code)
		}
		if !d.Covers(productID) {
			return reject(ReasonProductMismatch, d.Code)
		}
		red, err := loadRedemption(ctx, tx, orders.KindDiscount, d.ID, userID)
		if err != nil {
			return err
		}
		if red.TimesUsed >= perUserLimit(d.Promotion) {
			return reject(ReasonPerUserLimit, d.Code)
		}

		// wallet funds already held on the order stay within payable
		room := max(o.AmountTotal-o.Held(), 0)
		if o.Held() > 0 && room == 0 {
			return reject(ReasonWalletHeld, d.Code)
		}
		value := min(d.Amount, room)
		discountID := d.ID
		o.Status = orders.StatusAwaitingPayment
		o.DiscountID = &discountID
		o.DiscountCode = d.Code
		o.DiscountAmount = value
		o.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		oid := o.ID
		if err := bumpRedemption(ctx, tx, orders.KindDiscount, red, value, &oid, now); err != nil {
			return err
		}
		res = DiscountResult{Code: d.Code, Discount: value, Payable: o.Payable()}
		return nil
	})
	e.record(orders.KindDiscount, err)
	if err != nil {
		return DiscountResult{}, err
	}

	e.Log.Info().Int64("order_id", orderID).Int64("user_id", userID).Str("code", res.Code).
		Int64("discount", res.Discount).Int64("payable", res.Payable).Msg("discount applied")
	e.Notify.Send(ctx, notify.PromoRedeemed(orders.KindDiscount, res.Code, userID, &orderID, res.Discount))
	return res, nil
}

func (e *Engine) record(kind orders.PromoKind, err error) {
	switch {
	case err == nil:
		e.Metrics.PromoRedemption(string(kind), "ok")
	case ReasonOf(err) != "":
		e.Metrics.PromoRedemption(string(kind), string(ReasonOf(err)))
	default:
		e.Metrics.PromoRedemption(string(kind), "error")
		e.Log.Error().Err(err).Str("kind", string(kind)).Msg("promo redemption failed")
	}
}

package promo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-ledger/internal/orders"
)

// PromotionInput is the staff-editable part of a coupon or discount.
// A nil Active means active.
type PromotionInput struct {
	Code              string     `json:"code"`
	Amount            int64      `json:"amount"`
	UsageLimit        int64      `json:"usage_limit"`
	UsageLimitPerUser int64      `json:"usage_limit_per_user"`
	Active            *bool      `json:"is_active,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
}

type DiscountInput struct {
	PromotionInput
	AppliesAll bool    `json:"applies_all"`
	ProductIDs []int64 `json:"product_ids"`
}

func (in PromotionInput) build(now time.Time) (orders.Promotion, error) {
	code := orders.NormalizeCode(in.Code)
	if code == "" {
		return orders.Promotion{}, ErrInvalidCode
	}
	if in.Amount <= 0 {
		return orders.Promotion{}, fmt.Errorf("%w: %d", ErrInvalidAmount, in.Amount)
	}
	if in.UsageLimit < 0 || in.UsageLimitPerUser < 0 {
		return orders.Promotion{}, ErrInvalidLimit
	}
	perUser := in.UsageLimitPerUser
	if perUser == 0 {
		perUser = 1
	}
	active := true
	if in.Active != nil {
		active = *in.Active
	}
	p := orders.Promotion{
		Code:              code,
		Amount:            in.Amount,
		UsageLimit:        in.UsageLimit,
		UsageLimitPerUser: perUser,
		IsActive:          active,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if in.ExpiresAt != nil {
		exp := in.ExpiresAt.UTC().Truncate(time.Second)
		p.ExpiresAt = &exp
	}
	return p, nil
}

// cleanProductIDs drops non-positive ids and duplicates, keeping order.
func cleanProductIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func adminErr(err error) error {
	switch {
	case errors.Is(err, orders.ErrDuplicate):
		return ErrDuplicateCode
	case errors.Is(err, orders.ErrNotFound):
		return ErrPromoNotFound
	}
	return err
}

func (e *Engine) inTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	return adminErr(e.Store.InTx(ctx, fn))
}

func (e *Engine) CreateCoupon(ctx context.Context, in PromotionInput) (orders.Coupon, error) {
	p, err := in.build(e.now())
	if err != nil {
		return orders.Coupon{}, err
	}
	c := orders.Coupon{Promotion: p}
	err = e.inTx(ctx, func(tx orders.Tx) error {
		var err error
		c.ID, err = tx.InsertCoupon(ctx, c)
		return err
	})
	if err != nil {
		return orders.Coupon{}, err
	}
	e.Log.Info().Int64("coupon_id", c.ID).Str("code", c.Code).Int64("amount", c.Amount).Msg("coupon created")
	return c, nil
}

// UpdateCoupon replaces the editable fields. used_count is kept.
func (e *Engine) UpdateCoupon(ctx context.Context, id int64, in PromotionInput) (orders.Coupon, error) {
	p, err := in.build(e.now())
	if err != nil {
		return orders.Coupon{}, err
	}
	var c orders.Coupon
	err = e.inTx(ctx, func(tx orders.Tx) error {
		if _, err := tx.GetCoupon(ctx, id); err != nil {
			return err
		}
		p.ID = id
		if err := tx.UpdateCoupon(ctx, orders.Coupon{Promotion: p}); err != nil {
			return err
		}
		var err error
		c, err = tx.GetCoupon(ctx, id)
		return err
	})
	return c, err
}

func (e *Engine) SetCouponActive(ctx context.Context, id int64, active bool) error {
	return e.inTx(ctx, func(tx orders.Tx) error {
		c, err := tx.GetCoupon(ctx, id)
		if err != nil {
			return err
		}
		c.IsActive = active
		c.UpdatedAt = e.now()
		return tx.UpdateCoupon(ctx, c)
	})
}

// DeleteCoupon removes the coupon and its redemption rows. Wallet credits
// already made stay in the log.
func (e *Engine) DeleteCoupon(ctx context.Context, id int64) error {
	return e.inTx(ctx, func(tx orders.Tx) error {
		return tx.DeleteCoupon(ctx, id)
	})
}

func (e *Engine) GetCoupon(ctx context.Context, id int64) (orders.Coupon, error) {
	var c orders.Coupon
	err := e.inTx(ctx, func(tx orders.Tx) error {
		var err error
		c, err = tx.GetCoupon(ctx, id)
		return err
	})
	return c, err
}

// ListCoupons pages newest first; limit <= 0 means all.
func (e *Engine) ListCoupons(ctx context.Context, limit, offset int) ([]orders.Coupon, error) {
	var out []orders.Coupon
	err := e.inTx(ctx, func(tx orders.Tx) error {
		var err error
		out, err = tx.ListCoupons(ctx, limit, max(offset, 0))
		return err
	})
	return out, err
}

func (e *Engine) CreateDiscount(ctx context.Context, in DiscountInput) (orders.Discount, error) {
	p, err := in.build(e.now())
	if err != nil {
		return orders.Discount{}, err
	}
	d := orders.Discount{Promotion: p, AppliesAll: in.AppliesAll, ProductIDs: cleanProductIDs(in.ProductIDs)}
	err = e.inTx(ctx, func(tx orders.Tx) error {
		var err error
		d.ID, err = tx.InsertDiscount(ctx, d)
		return err
	})
	if err != nil {
		return orders.Discount{}, err
	}
	e.Log.Info().Int64("discount_id", d.ID).Str("code", d.Code).Int64("amount", d.Amount).
		Bool("applies_all", d.AppliesAll).Ints64("product_ids", d.ProductIDs).Msg("discount created")
	return d, nil
}

func (e *Engine) UpdateDiscount(ctx context.Context, id int64, in DiscountInput) (orders.Discount, error) {
	p, err := in.build(e.now())
	if err != nil {
		return orders.Discount{}, err
	}
	var d orders.Discount
	err = e.inTx(ctx, func(tx orders.Tx) error {
		if _, err := tx.GetDiscount(ctx, id); err != nil {
			return err
		}
		p.ID = id
		next := orders.Discount{Promotion: p, AppliesAll: in.AppliesAll, ProductIDs: cleanProductIDs(in.ProductIDs)}
		if err := tx.UpdateDiscount(ctx, next); err != nil {
			return err
		}
		var err error
		d, err = tx.GetDiscount(ctx, id)
		return err
	})
	return d, err
}

func (e *Engine) SetDiscountActive(ctx context.Context, id int64, active bool) error {
	return e.inTx(ctx, func(tx orders.Tx) error {
		d, err := tx.GetDiscount(ctx, id)
		if err != nil {
			return err
		}
		d.IsActive = active
		d.UpdatedAt = e.now()
		return tx.UpdateDiscount(ctx, d)
	})
}

// DeleteDiscount removes the discount and its redemption rows. Orders that
// already carry the discount keep their recorded amount.
func (e *Engine) DeleteDiscount(ctx context.Context, id int64) error {
	return e.inTx(ctx, func(tx orders.Tx) error {
		return tx.DeleteDiscount(ctx, id)
	})
}

func (e *Engine) GetDiscount(ctx context.Context, id int64) (orders.Discount, error) {
	var d orders.Discount
	err := e.inTx(ctx, func(tx orders.Tx) error {
		var err error
		d, err = tx.GetDiscount(ctx, id)
		return err
	})
	return d, err
}

func (e *Engine) ListDiscounts(ctx context.Context, limit, offset int) ([]orders.Discount, error) {
	var out []orders.Discount
	err := e.inTx(ctx, func(tx orders.Tx) error {
		var err error
		out, err = tx.ListDiscounts(ctx, limit, max(offset, 0))
		return err
	})
	return out, err
}

// ListRedemptions returns who used a promotion, most recent first.
func (e *Engine) ListRedemptions(ctx context.Context, kind orders.PromoKind, promoID int64) ([]orders.Redemption, error) {
	if kind != orders.KindCoupon && kind != orders.KindDiscount {
		return nil, fmt.Errorf("promo: unknown kind %q", kind)
	}
	var out []orders.Redemption
	err := e.inTx(ctx, func(tx orders.Tx) error {
		var err error
		out, err = tx.ListRedemptions(ctx, kind, promoID)
		return err
	})
	return out, err
}

package orders

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// Store runs units of work against the ledger tables. Every read-check-write
// sequence that guards a money or usage invariant must happen inside one
// InTx call; fn's error rolls the whole unit back.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of ledger table operations available inside a transaction.
// A lock argument of true takes a row lock held until the transaction ends.
type Tx interface {
	UpsertUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id int64, lock bool) (User, error)
	SetUserBalance(ctx context.Context, id, balance int64, at time.Time) error

	InsertWalletTx(ctx context.Context, w WalletTx) (int64, error)
	ListWalletTx(ctx context.Context, userID int64, limit int) ([]WalletTx, error)
	ListOrderWalletTx(ctx context.Context, orderID int64) ([]WalletTx, error)
	SumWalletTx(ctx context.Context, userID int64) (int64, error)

	InsertOrder(ctx context.Context, o Order, minID int64) (int64, error)
	GetOrder(ctx context.Context, id int64, lock bool) (Order, error)
	UpdateOrder(ctx context.Context, o Order) error
	ListUserOrders(ctx context.Context, userID int64) ([]Order, error)
	ListExpiredOrders(ctx context.Context, now time.Time) ([]Order, error)
	InsertManagerMessage(ctx context.Context, m ManagerMessage) (int64, error)
	ListManagerMessages(ctx context.Context, orderID int64, limit int) ([]ManagerMessage, error)

	InsertCoupon(ctx context.Context, c Coupon) (int64, error)
	UpdateCoupon(ctx context.Context, c Coupon) error
	DeleteCoupon(ctx context.Context, id int64) error
	GetCoupon(ctx context.Context, id int64) (Coupon, error)
	GetCouponByCode(ctx context.Context, code string, lock bool) (Coupon, error)
	ListCoupons(ctx context.Context, limit, offset int) ([]Coupon, error)

	InsertDiscount(ctx context.Context, d Discount) (int64, error)
	UpdateDiscount(ctx context.Context, d Discount) error
	DeleteDiscount(ctx context.Context, id int64) error
	GetDiscount(ctx context.Context, id int64) (Discount, error)
	GetDiscountByCode(ctx context.Context, code string, lock bool) (Discount, error)
	ListDiscounts(ctx context.Context, limit, offset int) ([]Discount, error)

	GetRedemption(ctx context.Context, kind PromoKind, promoID, userID int64, lock bool) (Redemption, error)
	SaveRedemption(ctx context.Context, kind PromoKind, r Redemption) error
	ListRedemptions(ctx context.Context, kind PromoKind, promoID int64) ([]Redemption, error)
	IncrementUsedCount(ctx context.Context, kind PromoKind, promoID int64, at time.Time) error
}

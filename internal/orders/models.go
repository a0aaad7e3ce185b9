package orders

import (
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the persisted timestamp format: ISO-8601, second precision, UTC.
const TimeLayout = "2006-01-02T15:04:05"

func FormatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(TimeLayout)
}

func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(TimeLayout, s, time.UTC); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

type User struct {
	ID            int64     `json:"id"`
	Username      string    `json:"username"`
	FirstName     string    `json:"first_name"`
	WalletBalance int64     `json:"wallet_balance"` // cached projection of the wallet log
	RefBy         *int64    `json:"ref_by,omitempty"`
	RefCount      int64     `json:"ref_count"`
	EarningsTotal int64     `json:"earnings_total"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Order struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	Title     string `json:"title"`

	AmountTotal     int64  `json:"amount_total"`
	Currency        string `json:"currency"`
	ServiceCategory string `json:"service_category"`
	ServiceCode     string `json:"service_code"`

	AccountMode      string `json:"account_mode"`
	CustomerEmail    string `json:"customer_email"`
	Notes            string `json:"notes"`
	CustomerSecret   string `json:"customer_secret"`
	RequireUsername  bool   `json:"require_username"`
	RequirePassword  bool   `json:"require_password"`
	CustomerUsername string `json:"customer_username"`
	CustomerPassword string `json:"customer_password"`
	AllowFirstPlan   bool   `json:"allow_first_plan"`

	CashbackPercent       int64 `json:"cashback_percent"`
	CashbackAppliedAmount int64 `json:"cashback_applied_amount"`

	DiscountID     *int64 `json:"discount_id,omitempty"`
	DiscountCode   string `json:"discount_code"`
	DiscountAmount int64  `json:"discount_amount"`

	Status               Status      `json:"status"`
	PaymentType          PaymentType `json:"payment_type"`
	WalletReservedAmount int64       `json:"wallet_reserved_amount"`
	WalletUsedAmount     int64       `json:"wallet_used_amount"`
	AwaitDeadline        *time.Time  `json:"await_deadline,omitempty"`

	ReceiptFileID   string `json:"receipt_file_id"`
	ReceiptText     string `json:"receipt_text"`
	ReceiptKind     string `json:"receipt_kind"`
	CustomerMessage string `json:"customer_message"`
	ManagerNote     string `json:"manager_note"`
	CostAmount      int64  `json:"cost_amount"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Payable is the amount owed after any flat discount, never below zero.
func (o Order) Payable() int64 {
	discount := o.DiscountAmount
	if discount < 0 {
		discount = 0
	}
	if p := o.AmountTotal - discount; p > 0 {
		return p
	}
	return 0
}

// Held is the wallet money currently tied to the order.
func (o Order) Held() int64 {
	return o.WalletReservedAmount + o.WalletUsedAmount
}

func (o Order) HasReceipt() bool {
	return strings.TrimSpace(o.ReceiptFileID) != "" || strings.TrimSpace(o.ReceiptText) != ""
}

func (o Order) HasDiscount() bool {
	return strings.TrimSpace(o.DiscountCode) != ""
}

// ProductID extracts the catalog product id from a "product:<id>" service code.
func (o Order) ProductID() (int64, bool) {
	rest, ok := strings.CutPrefix(o.ServiceCode, "product:")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

type TxType string

const (
	TxCredit  TxType = "CREDIT"
	TxDebit   TxType = "DEBIT"
	TxReserve TxType = "RESERVE"
	TxRefund  TxType = "REFUND"
)

func (t TxType) Valid() bool {
	switch t {
	case TxCredit, TxDebit, TxReserve, TxRefund:
		return true
	}
	return false
}

// Sign is +1 for entries that add to the balance and -1 for those that take from it.
func (t TxType) Sign() int64 {
	if t == TxDebit || t == TxReserve {
		return -1
	}
	return 1
}

type WalletTx struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	OrderID   *int64    `json:"order_id,omitempty"`
	Amount    int64     `json:"amount"` // always >= 0, direction comes from Type
	Type      TxType    `json:"type"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

// Effect is the signed balance change recorded by the entry.
func (w WalletTx) Effect() int64 {
	return w.Type.Sign() * w.Amount
}

type PromoKind string

const (
	KindCoupon   PromoKind = "coupon"
	KindDiscount PromoKind = "discount"
)

// Promotion holds the fields shared by coupons and discounts.
type Promotion struct {
	ID                int64      `json:"id"`
	Code              string     `json:"code"`
	Amount            int64      `json:"amount"`
	UsageLimit        int64      `json:"usage_limit"`          // 0 = unlimited
	UsageLimitPerUser int64      `json:"usage_limit_per_user"` // 0 is treated as 1
	UsedCount         int64      `json:"used_count"`
	IsActive          bool       `json:"is_active"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Coupon credits its amount to the wallet on redemption.
type Coupon struct {
	Promotion
}

// Discount reduces an order's payable amount.
type Discount struct {
	Promotion
	AppliesAll bool    `json:"applies_all"`
	ProductIDs []int64 `json:"product_ids"`
}

// Covers reports whether the discount may be used on productID.
func (d Discount) Covers(productID int64) bool {
	if d.AppliesAll || len(d.ProductIDs) == 0 {
		return true
	}
	for _, id := range d.ProductIDs {
		if id == productID {
			return true
		}
	}
	return false
}

type Redemption struct {
	ID          int64     `json:"id"`
	PromotionID int64     `json:"promotion_id"`
	UserID      int64     `json:"user_id"`
	OrderID     *int64    `json:"order_id,omitempty"`
	Amount      int64     `json:"amount"`
	TimesUsed   int64     `json:"times_used"`
	RedeemedAt  time.Time `json:"redeemed_at"`
}

type ManagerMessage struct {
	ID        int64     `json:"id"`
	OrderID   int64     `json:"order_id"`
	UserID    *int64    `json:"user_id,omitempty"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

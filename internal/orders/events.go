package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventOrderExpired       = "OrderExpired"
	EventWalletChanged      = "WalletChanged"
	EventCouponRedeemed     = "CouponRedeemed"
	EventDiscountApplied    = "DiscountApplied"
	EventManagerMessage     = "ManagerMessage"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // one of the consts above
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g. "storefront-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // biasanya order_id
	Payload       json.RawMessage `json:"payload"`
}

type OrderCreatedPayload struct {
	OrderID       int64  `json:"order_id"`
	UserID        int64  `json:"user_id"`
	Title         string `json:"title"`
	AmountTotal   int64  `json:"amount_total"`
	Currency      string `json:"currency"`
	AwaitDeadline string `json:"await_deadline,omitempty"`
}

type OrderStatusChangedPayload struct {
	OrderID        int64  `json:"order_id"`
	UserID         int64  `json:"user_id"`
	From           string `json:"from"`
	To             string `json:"to"`
	PaymentType    string `json:"payment_type,omitempty"`
	RefundedWallet int64  `json:"refunded_wallet,omitempty"`
	RefundedCard   int64  `json:"refunded_card,omitempty"`
	Cashback       int64  `json:"cashback,omitempty"`
}

type OrderExpiredPayload struct {
	OrderID  int64  `json:"order_id"`
	UserID   int64  `json:"user_id"`
	Title    string `json:"title"`
	Refunded int64  `json:"refunded"`
}

type WalletChangedPayload struct {
	UserID  int64  `json:"user_id"`
	OrderID *int64 `json:"order_id,omitempty"`
	Type    string `json:"type"`
	Amount  int64  `json:"amount"`
	Balance int64  `json:"balance"`
	Note    string `json:"note,omitempty"`
}

type PromoRedeemedPayload struct {
	Kind    string `json:"kind"` // coupon | discount
	Code    string `json:"code"`
	UserID  int64  `json:"user_id"`
	OrderID *int64 `json:"order_id,omitempty"`
	Amount  int64  `json:"amount"`
}

type ManagerMessagePayload struct {
	OrderID int64  `json:"order_id"`
	UserID  int64  `json:"user_id"`
	Text    string `json:"text"`
}

package promo

import (
	"errors"
	"fmt"
)

// Reason is the machine-readable cause of a rejected redemption.
type Reason string

const (
	ReasonCodeInvalid     Reason = "code_invalid"
	ReasonNotFound        Reason = "not_found"
	ReasonInactive        Reason = "inactive"
	ReasonAmountInvalid   Reason = "amount_invalid"
	ReasonLimitReached    Reason = "limit_reached"
	ReasonExpired         Reason = "expired"
	ReasonPerUserLimit    Reason = "per_user_limit"
	ReasonOrderInvalid    Reason = "order_invalid"
	ReasonOrderStatus     Reason = "order_status"
	ReasonAlreadyApplied  Reason = "already_applied"
	ReasonProductOnly     Reason = "product_only"
	ReasonProductMismatch Reason = "product_mismatch"
	ReasonWalletHeld      Reason = "wallet_held"
)

var messages = map[Reason]string{
	ReasonCodeInvalid:     "invalid code",
	ReasonNotFound:        "no such code",
	ReasonInactive:        "code is inactive",
	ReasonAmountInvalid:   "code amount is not valid",
	ReasonLimitReached:    "code usage limit reached",
	ReasonExpired:         "code has expired",
	ReasonPerUserLimit:    "your usage limit for this code is reached",
	ReasonOrderInvalid:    "invalid order",
	ReasonOrderStatus:     "order status does not allow a discount",
	ReasonAlreadyApplied:  "a discount is already applied to this order",
	ReasonProductOnly:     "discount codes apply to product orders only",
	ReasonProductMismatch: "code does not apply to this product",
	ReasonWalletHeld:      "wallet funds already cover this order",
}

// Rejection is returned when a code cannot be redeemed. Nothing was written.
type Rejection struct {
	Reason Reason
	Code   string
}

func reject(reason Reason, code string) *Rejection {
	return &Rejection{Reason: reason, Code: code}
}

func (r *Rejection) Error() string {
	if r.Code == "" {
		return fmt.Sprintf("promo rejected: %s", r.Reason)
	}
	return fmt.Sprintf("promo %s rejected: %s", r.Code, r.Reason)
}

// Message is the customer-facing text for the rejection.
func (r *Rejection) Message() string {
	if m, ok := messages[r.Reason]; ok {
		return m
	}
	return string(r.Reason)
}

// ReasonOf extracts the rejection reason from err, or "" if err is not a rejection.
func ReasonOf(err error) Reason {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Reason
	}
	return ""
}

var (
	// ErrDuplicateCode indicates another promotion of the same kind already uses the code.
	ErrDuplicateCode = errors.New("promo: code already exists")
	// ErrPromoNotFound indicates no promotion exists for the given id.
	ErrPromoNotFound = errors.New("promo: promotion not found")
	// ErrInvalidCode signals an empty code on create or update.
	ErrInvalidCode = errors.New("promo: code is required")
	// ErrInvalidAmount signals a non-positive amount on create or update.
	ErrInvalidAmount = errors.New("promo: amount must be positive")
	// ErrInvalidLimit signals a negative usage limit.
	ErrInvalidLimit = errors.New("promo: usage limits must not be negative")
)

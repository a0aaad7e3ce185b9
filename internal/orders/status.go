package orders

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusAwaitingPayment Status = "AWAITING_PAYMENT"
	StatusPendingConfirm  Status = "PENDING_CONFIRM"
	StatusPendingPlan     Status = "PENDING_PLAN"
	StatusInProgress      Status = "IN_PROGRESS"
	StatusReadyToDeliver  Status = "READY_TO_DELIVER"
	StatusDelivered       Status = "DELIVERED"
	StatusCompleted       Status = "COMPLETED"
	StatusExpired         Status = "EXPIRED"
	StatusRejected        Status = "REJECTED"
	StatusCanceled        Status = "CANCELED"
)

// Staff-facing aliases accepted by ParseStatus. Both resolve to IN_PROGRESS.
const (
	aliasApproved      = "APPROVED"
	aliasPlanConfirmed = "PLAN_CONFIRMED"
)

// legacyAwaitingLabels are status values written by older deployments that
// mean "awaiting payment" (blank, or the localized label).
var legacyAwaitingLabels = map[string]bool{
	"":                 true,
	"در انتظار پرداخت": true,
}

var validNext = map[Status]map[Status]bool{
	StatusAwaitingPayment: {
		StatusPendingConfirm: true,
		StatusInProgress:     true,
		StatusPendingPlan:    true,
		StatusExpired:        true,
		StatusCanceled:       true,
	},
	StatusPendingConfirm: {StatusInProgress: true, StatusRejected: true, StatusCanceled: true},
	StatusPendingPlan:    {StatusInProgress: true, StatusRejected: true},
	StatusInProgress: {
		StatusReadyToDeliver: true,
		StatusDelivered:      true,
		StatusCompleted:      true,
		StatusRejected:       true,
	},
	StatusReadyToDeliver: {StatusDelivered: true},
	StatusDelivered:      {StatusCompleted: true},
	StatusCompleted:      {},
	StatusExpired:        {},
	StatusRejected:       {},
	StatusCanceled:       {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// IsTerminal reports whether no transition out of s is accepted.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusExpired, StatusRejected, StatusCanceled:
		return true
	}
	return false
}

// IsPaid reports whether entering s settles reservations and earns cashback.
func (s Status) IsPaid() bool {
	switch s {
	case StatusInProgress, StatusReadyToDeliver, StatusDelivered, StatusCompleted:
		return true
	}
	return false
}

// IsRefunding reports whether entering s returns held wallet funds.
func (s Status) IsRefunding() bool {
	switch s {
	case StatusRejected, StatusCanceled, StatusExpired:
		return true
	}
	return false
}

func (s Status) Known() bool {
	_, ok := validNext[s]
	return ok
}

// IsLegacyAwaiting reports whether a stored status should be read as
// AWAITING_PAYMENT.
func IsLegacyAwaiting(raw string) bool {
	return legacyAwaitingLabels[strings.TrimSpace(raw)]
}

// ParseStatus resolves a caller supplied status, including staff aliases.
// It returns the target status and whether the alias requires the order to
// currently be PENDING_PLAN.
func ParseStatus(raw string) (Status, bool, error) {
	v := strings.ToUpper(strings.TrimSpace(raw))
	switch v {
	case aliasApproved:
		return StatusInProgress, false, nil
	case aliasPlanConfirmed:
		return StatusInProgress, true, nil
	}
	s := Status(v)
	if !s.Known() {
		return "", false, fmt.Errorf("unknown order status %q", raw)
	}
	return s, false, nil
}

type PaymentType string

const (
	PaymentNone      PaymentType = ""
	PaymentCard      PaymentType = "CARD"
	PaymentWallet    PaymentType = "WALLET"
	PaymentMixed     PaymentType = "MIXED"
	PaymentFirstPlan PaymentType = "FIRST_PLAN"
	PaymentRequest   PaymentType = "REQUEST"
)

func ParsePaymentType(raw string) (PaymentType, error) {
	p := PaymentType(strings.ToUpper(strings.TrimSpace(raw)))
	switch p {
	case PaymentNone, PaymentCard, PaymentWallet, PaymentMixed, PaymentFirstPlan, PaymentRequest:
		return p, nil
	}
	return "", fmt.Errorf("unknown payment type %q", raw)
}

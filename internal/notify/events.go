package notify

import (
	"strconv"

	"github.com/ariefcatur/go-storefront-ledger/internal/orders"
)

func orderKey(id int64) string { return strconv.FormatInt(id, 10) }

func OrderCreated(o orders.Order) Event {
	p := orders.OrderCreatedPayload{
		OrderID:     o.ID,
		UserID:      o.UserID,
		Title:       o.Title,
		AmountTotal: o.AmountTotal,
		Currency:    o.Currency,
	}
	if o.AwaitDeadline != nil {
		p.AwaitDeadline = orders.FormatTime(*o.AwaitDeadline)
	}
	return Event{
		Type:          orders.EventOrderCreated,
		Topic:         orders.TopicOrderCreated,
		Key:           orders.PartitionKey(o.ID),
		CorrelationID: orderKey(o.ID),
		Payload:       p,
	}
}

// StatusChange carries the money side effects of one transition.
type StatusChange struct {
	From           orders.Status
	RefundedWallet int64
	RefundedCard   int64
	Cashback       int64
}

func StatusChanged(o orders.Order, ch StatusChange) Event {
	return Event{
		Type:          orders.EventOrderStatusChanged,
		Topic:         orders.TopicOrderStatus,
		Key:           orders.PartitionKey(o.ID),
		CorrelationID: orderKey(o.ID),
		Payload: orders.OrderStatusChangedPayload{
			OrderID:        o.ID,
			UserID:         o.UserID,
			From:           string(ch.From),
			To:             string(o.Status),
			PaymentType:    string(o.PaymentType),
			RefundedWallet: ch.RefundedWallet,
			RefundedCard:   ch.RefundedCard,
			Cashback:       ch.Cashback,
		},
	}
}

func OrderExpired(o orders.Order, refunded int64) Event {
	return Event{
		Type:          orders.EventOrderExpired,
		Topic:         orders.TopicOrderExpired,
		Key:           orders.PartitionKey(o.ID),
		CorrelationID: orderKey(o.ID),
		Payload: orders.OrderExpiredPayload{
			OrderID:  o.ID,
			UserID:   o.UserID,
			Title:    o.Title,
			Refunded: refunded,
		},
	}
}

func WalletChanged(w orders.WalletTx, balance int64) Event {
	ev := Event{
		Type:  orders.EventWalletChanged,
		Topic: orders.TopicWalletChanged,
		Key:   orders.UserPartitionKey(w.UserID),
		Payload: orders.WalletChangedPayload{
			UserID:  w.UserID,
			OrderID: w.OrderID,
			Type:    string(w.Type),
			Amount:  w.Amount,
			Balance: balance,
			Note:    w.Note,
		},
	}
	if w.OrderID != nil {
		ev.Key = orders.PartitionKey(*w.OrderID)
		ev.CorrelationID = orderKey(*w.OrderID)
	}
	return ev
}

func PromoRedeemed(kind orders.PromoKind, code string, userID int64, orderID *int64, amount int64) Event {
	ev := Event{
		Type:  orders.EventCouponRedeemed,
		Topic: orders.TopicPromoRedeemed,
		Key:   orders.UserPartitionKey(userID),
		Payload: orders.PromoRedeemedPayload{
			Kind:    string(kind),
			Code:    code,
			UserID:  userID,
			OrderID: orderID,
			Amount:  amount,
		},
	}
	if kind == orders.KindDiscount {
		ev.Type = orders.EventDiscountApplied
	}
	if orderID != nil {
		ev.Key = orders.PartitionKey(*orderID)
		ev.CorrelationID = orderKey(*orderID)
	}
	return ev
}

func ManagerMessage(m orders.ManagerMessage, customerID int64) Event {
	return Event{
		Type:          orders.EventManagerMessage,
		Topic:         orders.TopicManagerMsg,
		Key:           orders.PartitionKey(m.OrderID),
		CorrelationID: orderKey(m.OrderID),
		Payload: orders.ManagerMessagePayload{
			OrderID: m.OrderID,
			UserID:  customerID,
			Text:    m.Text,
		},
	}
}

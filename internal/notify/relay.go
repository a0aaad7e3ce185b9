package notify

import (
	"context"
	"encoding/json"
	"fmt"

	kafkax "github.com/ariefcatur/go-storefront-ledger/internal/kafka"
	"github.com/ariefcatur/go-storefront-ledger/internal/orders"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
)

type Deduper interface {
	FirstSeen(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

// Sink delivers a rendered message to the chat transport.
type Sink interface {
	Deliver(ctx context.Context, userID int64, text string) error
}

// Relay is the consumer side: it decodes envelopes, drops duplicates and
// hands the rendered text to the sink.
type Relay struct {
	Dedup Deduper // optional
	Sink  Sink
	Log   zerolog.Logger
}

// Handle dipasang sebagai handler consumer.
func (r *Relay) Handle(ctx context.Context, m kafkago.Message) error {
	// 1) decode envelope
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		r.Log.Warn().Err(err).Str("topic", m.Topic).Int64("offset", m.Offset).Msg("drop malformed envelope")
		return nil
	}

	// 2) dedup via Redis (pakai event_id)
	if r.Dedup != nil && env.EventID != "" {
		first, err := r.Dedup.FirstSeen(ctx, env.EventID)
		if err != nil {
			r.Log.Warn().Err(err).Str("event_id", env.EventID).Msg("dedup unavailable, delivering anyway")
		} else if !first {
			return nil
		}
	}

	// 3) render payload
	userID, text, err := Render(env)
	if err != nil {
		r.Log.Warn().Err(err).Str("event", env.EventType).Msg("drop unrenderable event")
		return nil
	}
	if text == "" {
		return nil
	}

	// 4) deliver; on failure forget the event so redelivery is not deduped away
	if err := r.Sink.Deliver(ctx, userID, text); err != nil {
		if r.Dedup != nil && env.EventID != "" {
			_ = r.Dedup.Forget(ctx, env.EventID)
		}
		return fmt.Errorf("deliver %s: %w", env.EventType, err)
	}
	return nil
}

// Render turns an envelope into the customer's user id and message text.
// Unknown event types render to an empty text.
func Render(env orders.Envelope) (int64, string, error) {
	switch env.EventType {
	case orders.EventOrderCreated:
		p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
		if err != nil {
			return 0, "", err
		}
		return p.UserID, fmt.Sprintf("Order #%d (%s) created: %d %s due before %s.",
			p.OrderID, p.Title, p.AmountTotal, p.Currency, p.AwaitDeadline), nil
	case orders.EventOrderStatusChanged:
		p, err := kafkax.UnwrapPayload[orders.OrderStatusChangedPayload](env.Payload)
		if err != nil {
			return 0, "", err
		}
		text := fmt.Sprintf("Order #%d is now %s.", p.OrderID, p.To)
		if refunded := p.RefundedWallet + p.RefundedCard; refunded > 0 {
			text += fmt.Sprintf(" %d returned to your wallet.", refunded)
		}
		if p.Cashback > 0 {
			text += fmt.Sprintf(" Cashback: %d.", p.Cashback)
		}
		return p.UserID, text, nil
	case orders.EventOrderExpired:
		p, err := kafkax.UnwrapPayload[orders.OrderExpiredPayload](env.Payload)
		if err != nil {
			return 0, "", err
		}
		text := fmt.Sprintf("Payment window for order #%d (%s) has closed.", p.OrderID, p.Title)
		if p.Refunded > 0 {
			text += fmt.Sprintf(" %d reserved from your wallet was refunded.", p.Refunded)
		}
		return p.UserID, text, nil
	case orders.EventWalletChanged:
		p, err := kafkax.UnwrapPayload[orders.WalletChangedPayload](env.Payload)
		if err != nil {
			return 0, "", err
		}
		return p.UserID, fmt.Sprintf("Wallet %s %d. Balance: %d.", p.Type, p.Amount, p.Balance), nil
	case orders.EventCouponRedeemed, orders.EventDiscountApplied:
		p, err := kafkax.UnwrapPayload[orders.PromoRedeemedPayload](env.Payload)
		if err != nil {
			return 0, "", err
		}
		return p.UserID, fmt.Sprintf("Code %s applied: %d.", p.Code, p.Amount), nil
	case orders.EventManagerMessage:
		p, err := kafkax.UnwrapPayload[orders.ManagerMessagePayload](env.Payload)
		if err != nil {
			return 0, "", err
		}
		return p.UserID, fmt.Sprintf("Message about order #%d: %s", p.OrderID, p.Text), nil
	}
	return 0, "", nil
}

// LogSink stands in for the chat transport.
type LogSink struct{ Log zerolog.Logger }

func (s LogSink) Deliver(_ context.Context, userID int64, text string) error {
	s.Log.Info().Int64("user_id", userID).Str("text", text).Msg("deliver")
	return nil
}

package notify

import (
	"context"
	"time"

	kafkax "github.com/ariefcatur/go-storefront-ledger/internal/kafka"
	"github.com/ariefcatur/go-storefront-ledger/internal/orders"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header) error
}

// KafkaNotifier wraps events in an orders.Envelope and hands them to the
// async producer.
type KafkaNotifier struct {
	P        Publisher
	Producer string
	Now      func() time.Time
}

func (k *KafkaNotifier) Notify(_ context.Context, ev Event) error {
	now := time.Now
	if k.Now != nil {
		now = k.Now
	}
	env := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     ev.Type,
		EventVersion:  1,
		OccurredAt:    now().UTC(),
		Producer:      k.Producer,
		CorrelationID: ev.CorrelationID,
		Payload:       kafkax.MustMarshal(ev.Payload),
	}
	return k.P.Publish(ev.Topic, ev.Key, kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(ev.Type)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

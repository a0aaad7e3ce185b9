package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-ledger/internal/metrics"
	"github.com/rs/zerolog"
)

// Event is one outbound customer/staff notification.
type Event struct {
	Type          string // orders.Event*
	Topic         string
	Key           []byte
	CorrelationID string
	Payload       any
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Result is the outcome of one best-effort send. Callers log it; it never
// turns into a failure of the state change that produced the event.
type Result struct {
	EventType     string
	CorrelationID string
	Err           error
}

func (r Result) OK() bool { return r.Err == nil }

// Dispatcher sends events after commit. A nil Dispatcher drops everything.
type Dispatcher struct {
	N       Notifier
	Log     zerolog.Logger
	Metrics *metrics.Metrics
	Timeout time.Duration
}

func (d *Dispatcher) Send(ctx context.Context, evs ...Event) []Result {
	if d == nil || d.N == nil {
		return nil
	}
	out := make([]Result, 0, len(evs))
	for _, ev := range evs {
		res := Result{EventType: ev.Type, CorrelationID: ev.CorrelationID, Err: d.sendOne(ctx, ev)}
		d.Metrics.Notification(res.Err)
		if res.Err != nil {
			d.Log.Warn().Err(res.Err).
				Str("event", ev.Type).
				Str("correlation_id", ev.CorrelationID).
				Msg("notification failed")
		}
		out = append(out, res)
	}
	return out
}

func (d *Dispatcher) sendOne(ctx context.Context, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	return d.N.Notify(ctx, ev)
}

// LogNotifier writes events to the log. Used when Kafka is not configured.
type LogNotifier struct{ Log zerolog.Logger }

func (l LogNotifier) Notify(_ context.Context, ev Event) error {
	l.Log.Info().
		Str("event", ev.Type).
		Str("topic", ev.Topic).
		Str("correlation_id", ev.CorrelationID).
		Interface("payload", ev.Payload).
		Msg("notification")
	return nil
}

// Multi fans out to every notifier and returns the first error.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

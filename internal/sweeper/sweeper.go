package sweeper

import (
	"context"
	"time"

	"github.com/ariefcatur/go-storefront-ledger/internal/lifecycle"
	"github.com/ariefcatur/go-storefront-ledger/internal/metrics"
	"github.com/ariefcatur/go-storefront-ledger/internal/notify"
	"github.com/rs/zerolog"
)

const DefaultInterval = 30 * time.Second

// Expirer is the slice of the order lifecycle the sweeper drives.
type Expirer interface {
	ExpireOrdersAndRefund(ctx context.Context, now time.Time) ([]lifecycle.ExpiredOrder, error)
}

// Lease keeps one sweeper active across replicas.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Cache holds polled order status; expired orders are dropped from it.
type Cache interface {
	Delete(ctx context.Context, orderID int64) error
}

// Sweeper expires unpaid orders on a fixed interval. With a nil Lease every
// replica sweeps; the per-order re-check under lock keeps that safe.
type Sweeper struct {
	Orders   Expirer
	Lease    Lease
	Cache    Cache
	Notify   *notify.Dispatcher
	Metrics  *metrics.Metrics
	Log      zerolog.Logger
	Interval time.Duration
	Now      func() time.Time
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Run sweeps once immediately, then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer s.release()

	s.Log.Info().Dur("interval", interval).Bool("leased", s.Lease != nil).Msg("sweeper started")
	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.Log.Info().Msg("sweeper stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	if s.Lease != nil {
		ok, err := s.Lease.Acquire(ctx)
		if err != nil {
			s.Log.Warn().Err(err).Msg("sweeper lease")
			return
		}
		if !ok {
			s.Log.Debug().Msg("sweeper lease held elsewhere")
			return
		}
	}
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.Log.Error().Err(err).Msg("sweep failed")
	}
}

// RunOnce expires what is due now and notifies each customer. A partial
// failure still notifies the orders that did expire.
func (s *Sweeper) RunOnce(ctx context.Context) ([]lifecycle.ExpiredOrder, error) {
	start := time.Now()
	expired, err := s.Orders.ExpireOrdersAndRefund(ctx, s.now())
	s.Metrics.Sweep(time.Since(start), len(expired), err)

	evs := make([]notify.Event, 0, len(expired))
	for _, e := range expired {
		s.forget(ctx, e.Order.ID)
		evs = append(evs, notify.OrderExpired(e.Order, e.Refunded))
	}
	if len(evs) > 0 {
		s.Log.Info().Int("expired", len(evs)).Msg("orders expired")
		s.Notify.Send(ctx, evs...)
	}
	return expired, err
}

func (s *Sweeper) forget(ctx context.Context, orderID int64) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Delete(ctx, orderID); err != nil {
		s.Log.Warn().Err(err).Int64("order_id", orderID).Msg("status cache delete")
	}
}

func (s *Sweeper) release() {
	if s.Lease == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Lease.Release(ctx); err != nil {
		s.Log.Warn().Err(err).Msg("sweeper lease release")
	}
}

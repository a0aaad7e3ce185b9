package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports ledger engine counters. A nil *Metrics is valid and
// records nothing, so services can run without a registry.
type Metrics struct {
	ordersCreated    prometheus.Counter
	transitions      *prometheus.CounterVec
	walletChanges    *prometheus.CounterVec
	promoRedemptions *prometheus.CounterVec
	ordersExpired    prometheus.Counter
	sweepDuration    prometheus.Histogram
	sweepErrors      prometheus.Counter
	notifications    *prometheus.CounterVec
}

func New(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	if namespace == "" {
		namespace = "storefront"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		ordersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Orders created.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Applied order status transitions.",
		}, []string{"to"}),
		walletChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_changes_total",
			Help:      "Wallet mutations by type and outcome.",
		}, []string{"type", "result"}),
		promoRedemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promo_redemptions_total",
			Help:      "Coupon and discount redemption attempts by outcome reason.",
		}, []string{"kind", "result"}),
		ordersExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_expired_total",
			Help:      "Orders moved to EXPIRED by the sweeper.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of one expiry sweep cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		sweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_errors_total",
			Help:      "Sweep cycles that returned an error.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Best-effort notifications by outcome.",
		}, []string{"result"}),
	}
	collectors := []prometheus.Collector{
		m.ordersCreated, m.transitions, m.walletChanges, m.promoRedemptions,
		m.ordersExpired, m.sweepDuration, m.sweepErrors, m.notifications,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) OrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

func (m *Metrics) Transition(to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
}

func (m *Metrics) WalletChange(txType string, err error) {
	if m == nil {
		return
	}
	m.walletChanges.WithLabelValues(txType, result(err)).Inc()
}

// PromoRedemption records an attempt; reason is "ok" on success.
func (m *Metrics) PromoRedemption(kind, reason string) {
	if m == nil {
		return
	}
	m.promoRedemptions.WithLabelValues(kind, reason).Inc()
}

func (m *Metrics) Sweep(d time.Duration, expired int, err error) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(d.Seconds())
	m.ordersExpired.Add(float64(expired))
	if err != nil {
		m.sweepErrors.Inc()
	}
}

func (m *Metrics) Notification(err error) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

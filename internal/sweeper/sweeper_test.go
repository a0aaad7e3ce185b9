package sweeper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ariefcatur/go-storefront-ledger/internal/lifecycle"
	"github.com/ariefcatur/go-storefront-ledger/internal/notify"
	"github.com/ariefcatur/go-storefront-ledger/internal/orders"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExpirer struct {
	calls atomic.Int32
	out   []lifecycle.ExpiredOrder
	err   error
}

func (f *fakeExpirer) ExpireOrdersAndRefund(context.Context, time.Time) ([]lifecycle.ExpiredOrder, error) {
	f.calls.Add(1)
	return f.out, f.err
}

type fakeLease struct {
	held     bool
	err      error
	released atomic.Bool
}

func (l *fakeLease) Acquire(context.Context) (bool, error) { return l.held, l.err }

func (l *fakeLease) Release(context.Context) error {
	l.released.Store(true)
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
	fail   bool
}

func (r *recorder) Notify(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if r.fail {
		return errors.New("chat down")
	}
	return nil
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type fakeCache struct {
	deleted []int64
	err     error
}

func (c *fakeCache) Delete(_ context.Context, orderID int64) error {
	c.deleted = append(c.deleted, orderID)
	return c.err
}

func expired(ids ...int64) []lifecycle.ExpiredOrder {
	out := make([]lifecycle.ExpiredOrder, 0, len(ids))
	for _, id := range ids {
		out = append(out, lifecycle.ExpiredOrder{Order: orders.Order{ID: id, UserID: 9, Status: orders.StatusExpired}, Refunded: 100})
	}
	return out
}

func TestRunOnceNotifiesEachExpiredOrder(t *testing.T) {
	exp := &fakeExpirer{out: expired(1, 2)}
	sent := &recorder{}
	s := &Sweeper{Orders: exp, Notify: &notify.Dispatcher{N: sent, Log: zerolog.Nop()}, Log: zerolog.Nop()}

	got, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2)
	require.Equal(t, 2, sent.len())
	assert.Equal(t, orders.EventOrderExpired, sent.events[0].Type)
	assert.Equal(t, "1", sent.events[0].CorrelationID)
}

func TestRunOnceDropsCachedStatus(t *testing.T) {
	exp := &fakeExpirer{out: expired(4, 6)}
	cache := &fakeCache{}
	s := &Sweeper{Orders: exp, Cache: cache, Log: zerolog.Nop()}

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 6}, cache.deleted)

	cache.err = errors.New("redis down")
	got, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRunOnceNotifyFailureIsNotAnError(t *testing.T) {
	exp := &fakeExpirer{out: expired(5)}
	sent := &recorder{fail: true}
	s := &Sweeper{Orders: exp, Notify: &notify.Dispatcher{N: sent, Log: zerolog.Nop()}, Log: zerolog.Nop()}

	got, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRunOncePartialFailureStillNotifies(t *testing.T) {
	boom := errors.New("order 7: deadlock")
	exp := &fakeExpirer{out: expired(3), err: boom}
	sent := &recorder{}
	s := &Sweeper{Orders: exp, Notify: &notify.Dispatcher{N: sent, Log: zerolog.Nop()}, Log: zerolog.Nop()}

	_, err := s.RunOnce(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, sent.len())
}

func TestRunSkipsWithoutLease(t *testing.T) {
	exp := &fakeExpirer{}
	lease := &fakeLease{held: false}
	s := &Sweeper{Orders: exp, Lease: lease, Log: zerolog.Nop(), Interval: 5 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))
	assert.Zero(t, exp.calls.Load())
	assert.True(t, lease.released.Load())
}

func TestRunSweepsUntilCanceled(t *testing.T) {
	exp := &fakeExpirer{}
	s := &Sweeper{Orders: exp, Lease: &fakeLease{held: true}, Log: zerolog.Nop(), Interval: 5 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return exp.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestRunLeaseErrorSkipsTick(t *testing.T) {
	exp := &fakeExpirer{}
	s := &Sweeper{Orders: exp, Lease: &fakeLease{err: errors.New("redis down")}, Log: zerolog.Nop(), Interval: 5 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))
	assert.Zero(t, exp.calls.Load())
}

func TestSweepExpiresStoreOrders(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	svc := &lifecycle.Service{
		Store:          orders.NewMemStore(),
		Log:            zerolog.Nop(),
		Now:            clock,
		PaymentTimeout: time.Minute,
	}
	due, err := svc.CreateOrder(ctx, lifecycle.NewOrder{UserID: 1, Title: "VPN", AmountTotal: 1000})
	require.NoError(t, err)

	sent := &recorder{}
	s := &Sweeper{Orders: svc, Notify: &notify.Dispatcher{N: sent, Log: zerolog.Nop()}, Log: zerolog.Nop(),
		Now: func() time.Time { return now.Add(2 * time.Minute) }}

	got, err := s.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, due.ID, got[0].Order.ID)

	o, err := svc.Get(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusExpired, o.Status)
	assert.Equal(t, 1, sent.len())

	again, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)
}

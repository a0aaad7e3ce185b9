package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-storefront-ledger/internal/notify"
	"github.com/ariefcatur/go-storefront-ledger/internal/orders"
	"github.com/ariefcatur/go-storefront-ledger/internal/wallet"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Notify(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	svc   *Service
	store *orders.MemStore
	clock *clock
	sent  *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := &clock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	store := orders.NewMemStore()
	sent := &recorder{}
	svc := &Service{
		Store:          store,
		Notify:         &notify.Dispatcher{N: sent, Log: zerolog.Nop()},
		Log:            zerolog.Nop(),
		Now:            c.Now,
		PaymentTimeout: 15 * time.Minute,
		Currency:       "IRR",
	}
	return &fixture{svc: svc, store: store, clock: c, sent: sent}
}

func (f *fixture) order(t *testing.T, n NewOrder) orders.Order {
	t.Helper()
	if n.UserID == 0 {
		n.UserID = 1
	}
	o, err := f.svc.CreateOrder(context.Background(), n)
	require.NoError(t, err)
	return o
}

func (f *fixture) fund(t *testing.T, userID, amount int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.InTx(ctx, func(tx orders.Tx) error {
		if _, err := tx.GetUser(ctx, userID, false); err != nil {
			if err := tx.UpsertUser(ctx, orders.User{ID: userID, UpdatedAt: f.clock.Now()}); err != nil {
				return err
			}
		}
		_, _, err := wallet.Apply(ctx, tx, wallet.Entry{UserID: userID, Delta: amount, Type: orders.TxCredit, Note: "topup"}, f.clock.Now())
		return err
	}))
}

func (f *fixture) balance(t *testing.T, userID int64) int64 {
	t.Helper()
	var bal, sum int64
	ctx := context.Background()
	require.NoError(t, f.store.InTx(ctx, func(tx orders.Tx) error {
		u, err := tx.GetUser(ctx, userID, false)
		if err != nil {
			return err
		}
		bal = u.WalletBalance
		sum, err = tx.SumWalletTx(ctx, userID)
		return err
	}))
	require.Equal(t, sum, bal, "wallet projection diverged from log")
	return bal
}

func (f *fixture) get(t *testing.T, id int64) orders.Order {
	t.Helper()
	o, err := f.svc.Get(context.Background(), id)
	require.NoError(t, err)
	return o
}

func TestCreateOrderRejectsZeroAmountWithoutWriting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateOrder(ctx, NewOrder{UserID: 1, Title: "VPN", AmountTotal: 0})
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = f.svc.CreateOrder(ctx, NewOrder{UserID: 1, AmountTotal: -5, AllowFree: true})
	require.ErrorIs(t, err, ErrInvalidAmount)

	require.NoError(t, f.store.InTx(ctx, func(tx orders.Tx) error {
		_, err := tx.GetUser(ctx, 1, false)
		assert.ErrorIs(t, err, orders.ErrNotFound)
		list, err := tx.ListUserOrders(ctx, 1)
		assert.Empty(t, list)
		return err
	}))
	assert.Empty(t, f.sent.types())
}

func TestCreateOrderDefaults(t *testing.T) {
	f := newFixture(t)
	f.svc.OrderIDMinValue = 5000

	o := f.order(t, NewOrder{UserID: 3, Username: "sara", Title: "Plan", AmountTotal: 1000, Category: "VPN", Code: "product:7", CashbackPercent: -4})

	assert.Equal(t, int64(5000), o.ID)
	assert.Equal(t, orders.StatusAwaitingPayment, o.Status)
	assert.Equal(t, "IRR", o.Currency)
	assert.Zero(t, o.CashbackPercent)
	require.NotNil(t, o.AwaitDeadline)
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), *o.AwaitDeadline)
	assert.Equal(t, []string{orders.EventOrderCreated}, f.sent.types())

	free := f.order(t, NewOrder{UserID: 3, Title: "Ask", AllowFree: true})
	assert.Equal(t, int64(5001), free.ID)
}

func TestMixedPaymentExample(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, NewOrder{UserID: 1, Title: "Bundle", AmountTotal: 1_000_000})
	f.fund(t, 1, 300_000)

	o, err := f.svc.ReserveForMixed(ctx, o.ID, 1, 300_000)
	require.NoError(t, err)
	assert.Equal(t, int64(300_000), o.WalletReservedAmount)
	assert.Equal(t, orders.PaymentMixed, o.PaymentType)
	assert.Zero(t, f.balance(t, 1))

	res, err := f.svc.SubmitCardReceipt(ctx, o.ID, 1, Receipt{FileID: "file-1", Kind: "photo"}, "paid rest")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPendingConfirm, res.Order.Status)
	assert.Equal(t, orders.PaymentMixed, res.Order.PaymentType)

	res, err = f.svc.ApproveReceipt(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusInProgress, res.Order.Status)
	assert.Equal(t, int64(300_000), res.Order.WalletUsedAmount)
	assert.Zero(t, res.Order.WalletReservedAmount)
	assert.Zero(t, f.balance(t, 1))
}

func TestReserveForMixedGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, NewOrder{UserID: 1, AmountTotal: 1000})
	f.fund(t, 1, 5000)

	_, err := f.svc.ReserveForMixed(ctx, o.ID, 1, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = f.svc.ReserveForMixed(ctx, o.ID, 1, 1001)
	assert.ErrorIs(t, err, ErrReservationTooLarge)
	_, err = f.svc.ReserveForMixed(ctx, o.ID, 2, 100)
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = f.svc.ReserveForMixed(ctx, o.ID, 1, 400)
	require.NoError(t, err)
	_, err = f.svc.ReserveForMixed(ctx, o.ID, 1, 100)
	assert.ErrorIs(t, err, ErrAlreadyReserved)
	assert.Equal(t, int64(4600), f.balance(t, 1))

	poor := f.order(t, NewOrder{UserID: 9, AmountTotal: 1000})
	f.fund(t, 9, 50)
	_, err = f.svc.ReserveForMixed(ctx, poor.ID, 9, 60)
	assert.ErrorIs(t, err, wallet.ErrInsufficientFunds)
	assert.Zero(t, f.get(t, poor.ID).WalletReservedAmount)
	assert.Equal(t, int64(50), f.balance(t, 9))
}

func TestPayWithWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, NewOrder{UserID: 1, AmountTotal: 800})

	f.fund(t, 1, 500)
	_, err := f.svc.PayWithWallet(ctx, o.ID, 1, "")
	require.ErrorIs(t, err, wallet.ErrInsufficientFunds)
	assert.Equal(t, orders.StatusAwaitingPayment, f.get(t, o.ID).Status)
	assert.Equal(t, int64(500), f.balance(t, 1))

	f.fund(t, 1, 500)
	res, err := f.svc.PayWithWallet(ctx, o.ID, 1, "thanks")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusInProgress, res.Order.Status)
	assert.Equal(t, orders.PaymentWallet, res.Order.PaymentType)
	assert.Equal(t, int64(800), res.Order.WalletUsedAmount)
	assert.Equal(t, "thanks", res.Order.CustomerMessage)
	assert.Equal(t, int64(200), f.balance(t, 1))
}

func TestTransitionRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, NewOrder{UserID: 1, AmountTotal: 100})

	_, err := f.svc.Transition(ctx, o.ID, orders.StatusDelivered)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	res, err := f.svc.Transition(ctx, o.ID, orders.StatusAwaitingPayment)
	require.NoError(t, err)
	assert.False(t, res.Changed)

	_, err = f.svc.Transition(ctx, o.ID, orders.StatusCanceled)
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, o.ID, orders.StatusInProgress)
	assert.ErrorIs(t, err, ErrTerminalStatus)
	_, err = f.svc.Transition(ctx, o.ID, orders.StatusCanceled)
	assert.ErrorIs(t, err, ErrTerminalStatus)

	_, err = f.svc.Transition(ctx, 999, orders.StatusCanceled)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestSetStatusAliases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, NewOrder{UserID: 1, AmountTotal: 100, AllowFirstPlan: true})

	_, err := f.svc.SetStatus(ctx, o.ID, "PLAN_CONFIRMED")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.svc.SetStatus(ctx, o.ID, "SHIPPED")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.RequestFirstPlan(ctx, o.ID, 1, "")
	require.NoError(t, err)
	res, err := f.svc.SetStatus(ctx, o.ID, "plan_confirmed")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusInProgress, res.Order.Status)

	res, err = f.svc.SetStatus(ctx, o.ID, "READY_TO_DELIVER")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusReadyToDeliver, res.Order.Status)
}

func TestCashbackIsCreditedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, NewOrder{UserID: 1, AmountTotal: 999, CashbackPercent: 10})
	f.fund(t, 1, 999)

	res, err := f.svc.PayWithWallet(ctx, o.ID, 1, "")
	require.NoError(t, err)
	assert.Equal(t, int64(99), res.Cashback)
	assert.Equal(t, int64(99), res.Order.CashbackAppliedAmount)

	for _, s := range []orders.Status{orders.StatusDelivered, orders.StatusCompleted} {
		res, err = f.svc.Transition(ctx, o.ID, s)
		require.NoError(t, err)
		assert.Zero(t, res.Cashback)
	}

	credited, err := f.svc.ApplyCashback(ctx, o.ID)
	require.NoError(t, err)
	assert.Zero(t, credited)
	assert.Equal(t, int64(99), f.balance(t, 1))
}

func TestApplyCashbackDirect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, NewOrder{UserID: 1, AmountTotal: 1000, CashbackPercent: 5})

	first, err := f.svc.ApplyCashback(ctx, o.ID)
	require.NoError(t, err)
	second, err := f.svc.ApplyCashback(ctx, o.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(50), first)
	assert.Zero(t, second)
	assert.Equal(t, int64(50), f.balance(t, 1))

	hist, err := (&wallet.Ledger{Store: f.store, Log: zerolog.Nop()}).History(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, CashbackNote(o.ID), hist[0].Note)
}

func TestRejectRefundsWalletAndCardPart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, NewOrder{UserID: 1, AmountTotal: 1000})
	f.fund(t, 1, 300)

	_, err := f.svc.ReserveForMixed(ctx, o.ID, 1, 300)
	require.NoError(t, err)
	_, err = f.svc.SubmitCardReceipt(ctx, o.ID, 1, Receipt{Text: "ref 123", Kind: "text"}, "")
	require.NoError(t, err)

	res, err := f.svc.Transition(ctx, o.ID, orders.StatusRejected)
	require.NoError(t, err)
	assert.Equal(t, int64(300), res.RefundedWallet)
	assert.Equal(t, int64(700), res.RefundedCard)
	assert.Zero(t, res.Order.WalletReservedAmount)
	assert.Zero(t, res.Order.WalletUsedAmount)
	assert.Equal(t, int64(1000), f.balance(t, 1))
	assert.Contains(t, f.sent.types(), orders.EventOrderStatusChanged)
}

func TestRejectAfterWalletPaymentRefundsUsed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, NewOrder{UserID: 1, AmountTotal: 400})
	f.fund(t, 1, 400)

	_, err := f.svc.PayWithWallet(ctx, o.ID, 1, "")
	require.NoError(t, err)
	res, err := f.svc.Transition(ctx, o.ID, orders.StatusRejected)
	require.NoError(t, err)

	assert.Equal(t, int64(400), res.RefundedWallet)
	assert.Zero(t, res.RefundedCard)
	assert.Equal(t, int64(400), f.balance(t, 1))
}

func TestCancelRefundsReservationOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, NewOrder{UserID: 1, AmountTotal: 1000})
	f.fund(t, 1, 200)

	_, err := f.svc.ReserveForMixed(ctx, o.ID, 1, 200)
	require.NoError(t, err)
	_, err = f.svc.SubmitCardReceipt(ctx, o.ID, 1, Receipt{FileID: "f"}, "")
	require.NoError(t, err)

	_, err = f.svc.CancelOrder(ctx, o.ID, 2)
	assert.ErrorIs(t, err, ErrNotOwner)

	res, err := f.svc.CancelOrder(ctx, o.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCanceled, res.Order.Status)
	assert.Zero(t, res.RefundedCard)
	assert.Equal(t, int64(200), f.balance(t, 1))

	_, err = f.svc.CancelOrder(ctx, o.ID, 1)
	assert.ErrorIs(t, err, ErrTerminalStatus)
}

func TestRequestFirstPlanEligibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	plain := f.order(t, NewOrder{UserID: 1, AmountTotal: 100})
	_, err := f.svc.RequestFirstPlan(ctx, plain.ID, 1, "")
	assert.ErrorIs(t, err, ErrFirstPlanNotAllowed)

	ai := f.order(t, NewOrder{UserID: 1, AmountTotal: 100, Category: "ai"})
	res, err := f.svc.RequestFirstPlan(ctx, ai.ID, 1, "please")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPendingPlan, res.Order.Status)
	assert.Equal(t, orders.PaymentFirstPlan, res.Order.PaymentType)

	// deliver it, then a second plan request must fail
	_, err = f.svc.Transition(ctx, ai.ID, orders.StatusInProgress)
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, ai.ID, orders.StatusDelivered)
	require.NoError(t, err)

	again := f.order(t, NewOrder{UserID: 1, AmountTotal: 100, AllowFirstPlan: true})
	_, err = f.svc.RequestFirstPlan(ctx, again.ID, 1, "")
	assert.ErrorIs(t, err, ErrFirstPlanNotAllowed)
}

func TestSubmitRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	paid := f.order(t, NewOrder{UserID: 1, AmountTotal: 100})
	_, err := f.svc.SubmitRequest(ctx, paid.ID, 1, "")
	assert.ErrorIs(t, err, ErrNotFree)

	free := f.order(t, NewOrder{UserID: 1, AllowFree: true})
	res, err := f.svc.SubmitRequest(ctx, free.ID, 1, "need help")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusInProgress, res.Order.Status)
	assert.Equal(t, orders.PaymentRequest, res.Order.PaymentType)
}

func TestListCartNormalizesLegacyOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()
	past := now.Add(-time.Minute)
	soon := now.Add(5 * time.Minute)

	require.NoError(t, f.store.InTx(ctx, func(tx orders.Tx) error {
		if err := tx.UpsertUser(ctx, orders.User{ID: 1, UpdatedAt: now}); err != nil {
			return err
		}
		for _, o := range []orders.Order{
			{UserID: 1, Status: "", Title: "blank"},
			{UserID: 1, Status: "در انتظار پرداخت", Title: "legacy", AwaitDeadline: &soon},
			{UserID: 1, Status: orders.StatusAwaitingPayment, Title: "stale", AwaitDeadline: &past},
			{UserID: 1, Status: orders.StatusInProgress, Title: "paid"},
		} {
			if _, err := tx.InsertOrder(ctx, o, 0); err != nil {
				return err
			}
		}
		return nil
	}))

	cart, err := f.svc.ListCart(ctx, 1)
	require.NoError(t, err)
	require.Len(t, cart, 2)
	assert.Equal(t, "legacy", cart[0].Title)
	assert.Equal(t, "blank", cart[1].Title)
	assert.Equal(t, now.Add(15*time.Minute), *cart[1].AwaitDeadline)

	stored := f.get(t, cart[1].ID)
	assert.Equal(t, orders.StatusAwaitingPayment, stored.Status)
	require.NotNil(t, stored.AwaitDeadline)
}

func TestSetters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, NewOrder{UserID: 1, AmountTotal: 100})

	_, err := f.svc.SetWalletReserved(ctx, o.ID, 60)
	require.NoError(t, err)
	_, err = f.svc.SetWalletUsed(ctx, o.ID, 50)
	assert.ErrorIs(t, err, ErrInvariant)
	_, err = f.svc.SetWalletUsed(ctx, o.ID, 40)
	require.NoError(t, err)

	_, err = f.svc.SetReceipt(ctx, o.ID, Receipt{})
	assert.ErrorIs(t, err, ErrReceiptRequired)
	_, err = f.svc.SetPaymentType(ctx, o.ID, orders.PaymentCard)
	require.NoError(t, err)
	_, err = f.svc.SetManagerNote(ctx, o.ID, "check id")
	require.NoError(t, err)
	_, err = f.svc.SetFinancials(ctx, o.ID, 30)
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	got, err := f.svc.RefreshDeadline(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), *got.AwaitDeadline)
	assert.Equal(t, f.clock.Now(), got.UpdatedAt)
	assert.Equal(t, "check id", got.ManagerNote)
	assert.Equal(t, int64(30), got.CostAmount)
	assert.Equal(t, int64(100), got.WalletReservedAmount+got.WalletUsedAmount)
}

func TestStatsAndManagerMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.order(t, NewOrder{UserID: 1, AmountTotal: 100})
	f.order(t, NewOrder{UserID: 1, AmountTotal: 100})
	f.fund(t, 1, 150)
	_, err := f.svc.PayWithWallet(ctx, a.ID, 1, "")
	require.NoError(t, err)

	st, err := f.svc.Stats(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, UserStats{TotalOrders: 2, InProgressOrders: 1, WalletBalance: 50}, st)

	staff := int64(77)
	_, err = f.svc.AddManagerMessage(ctx, a.ID, &staff, "  on it ")
	require.NoError(t, err)
	msgs, err := f.svc.ListManagerMessages(ctx, a.ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "on it", msgs[0].Text)
	assert.Contains(t, f.sent.types(), orders.EventManagerMessage)
}

func TestPayableAmount(t *testing.T) {
	assert.Equal(t, int64(700), PayableAmount(orders.Order{AmountTotal: 1000, DiscountAmount: 300}))
	assert.Zero(t, PayableAmount(orders.Order{AmountTotal: 100, DiscountAmount: 300}))
}

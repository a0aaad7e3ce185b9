package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-storefront-ledger/internal/lifecycle"
	"github.com/ariefcatur/go-storefront-ledger/internal/metrics"
	"github.com/ariefcatur/go-storefront-ledger/internal/orders"
	"github.com/ariefcatur/go-storefront-ledger/internal/promo"
	"github.com/ariefcatur/go-storefront-ledger/internal/redisx"
	"github.com/ariefcatur/go-storefront-ledger/internal/sweeper"
	"github.com/ariefcatur/go-storefront-ledger/internal/wallet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	customer = int64(100)
	stranger = int64(200)
	staff    = int64(1)
)

type testServer struct {
	srv   *httptest.Server
	cache *memCache
	mu    sync.Mutex
	now   time.Time
}

// memCache stands in for the Redis status cache.
type memCache struct {
	mu      sync.Mutex
	entries map[int64]redisx.StatusEntry
}

func (c *memCache) Get(_ context.Context, orderID int64) (redisx.StatusEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[orderID]
	return e, ok, nil
}

func (c *memCache) Set(_ context.Context, orderID int64, e redisx.StatusEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[orderID] = e
	return nil
}

func (c *memCache) Delete(_ context.Context, orderID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, orderID)
	return nil
}

func (c *memCache) entry(orderID int64) (redisx.StatusEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[orderID]
	return e, ok
}

func (ts *testServer) clock() time.Time {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.now
}

func (ts *testServer) advance(d time.Duration) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.now = ts.now.Add(d)
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		now:   time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		cache: &memCache{entries: map[int64]redisx.StatusEntry{}},
	}
	clock := ts.clock

	reg := prometheus.NewRegistry()
	m, err := metrics.New("storefront", reg)
	require.NoError(t, err)

	store := orders.NewMemStore()
	svc := &lifecycle.Service{Store: store, Metrics: m, Log: zerolog.Nop(), Now: clock, PaymentTimeout: 15 * time.Minute, Currency: "IRR"}
	h := &Handler{
		Orders:  svc,
		Wallet:  &wallet.Ledger{Store: store, Metrics: m, Log: zerolog.Nop(), Now: clock},
		Promo:   &promo.Engine{Store: store, Metrics: m, Log: zerolog.Nop(), Now: clock},
		Sweeper: &sweeper.Sweeper{Orders: svc, Cache: ts.cache, Metrics: m, Log: zerolog.Nop(), Now: clock},
		Cache:   ts.cache,
		IsAdmin: func(id int64) bool { return id == staff },
		Log:     zerolog.Nop(),
	}
	r := NewRouter(zerolog.Nop(), reg)
	h.Register(r)
	ts.srv = httptest.NewServer(r)
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, user int64, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	require.NoError(t, err)
	if user != 0 {
		req.Header.Set(HeaderUserID, strconv.FormatInt(user, 10))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (ts *testServer) createOrder(t *testing.T, amount int64, code string) orders.Order {
	t.Helper()
	var o orders.Order
	code201 := ts.do(t, http.MethodPost, "/orders", customer, CreateOrderReq{Title: "VPN 1M", AmountTotal: amount, Code: code}, &o)
	require.Equal(t, http.StatusCreated, code201)
	return o
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ts.createOrder(t, 100, "")
	resp, err = http.Get(ts.srv.URL + "/metrics")
	require.NoError(t, err)
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	resp.Body.Close()
	assert.Contains(t, buf.String(), "storefront_orders_created_total")
}

func TestCallerHeaderRequired(t *testing.T) {
	ts := newTestServer(t)
	var body errorBody
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/orders", 0, nil, &body))
	assert.Contains(t, body.Error, HeaderUserID)
}

func TestOrderOwnership(t *testing.T) {
	ts := newTestServer(t)
	o := ts.createOrder(t, 1000, "")
	assert.Equal(t, orders.StatusAwaitingPayment, o.Status)

	var got orders.Order
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/orders/"+strconv.FormatInt(o.ID, 10), customer, nil, &got))
	assert.Equal(t, o.ID, got.ID)

	var body errorBody
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodGet, "/orders/"+strconv.FormatInt(o.ID, 10), stranger, nil, &body))
	assert.Equal(t, "not_owner", body.Reason)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/orders/999", customer, nil, &body))
	assert.Equal(t, "order_not_found", body.Reason)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/orders/abc", customer, nil, nil))
}

func TestCreateOrderRejectsZeroAmount(t *testing.T) {
	ts := newTestServer(t)
	var body errorBody
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/orders", customer, CreateOrderReq{Title: "x"}, &body))
	assert.Equal(t, "amount_invalid", body.Reason)

	var list []orders.Order
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/orders", customer, nil, &list))
	assert.Empty(t, list)
}

func TestWalletPaymentFlow(t *testing.T) {
	ts := newTestServer(t)
	o := ts.createOrder(t, 800, "")
	path := "/orders/" + strconv.FormatInt(o.ID, 10)

	var body errorBody
	assert.Equal(t, http.StatusUnprocessableEntity, ts.do(t, http.MethodPost, path+"/pay/wallet", customer, nil, &body))
	assert.Equal(t, "insufficient_funds", body.Reason)

	var bal balanceResp
	adjust := adjustReq{Amount: 1000, Type: orders.TxCredit}
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodPost, "/admin/users/100/wallet/adjust", customer, adjust, nil))
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/admin/users/100/wallet/adjust", staff, adjust, &bal))
	assert.EqualValues(t, 1000, bal.Balance)

	var res lifecycle.TransitionResult
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, path+"/pay/wallet", customer, commentReq{Comment: "hi"}, &res))
	assert.Equal(t, orders.StatusInProgress, res.Order.Status)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/wallet", customer, nil, &bal))
	assert.EqualValues(t, 200, bal.Balance)

	var hist []orders.WalletTx
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/wallet/history?limit=10", customer, nil, &hist))
	assert.Len(t, hist, 2)

	var rec map[string]any
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/admin/users/100/wallet/reconcile", staff, nil, &rec))
	assert.Equal(t, true, rec["consistent"])
}

func TestAdminStatusAndTerminalGuard(t *testing.T) {
	ts := newTestServer(t)
	o := ts.createOrder(t, 500, "")
	path := "/admin/orders/" + strconv.FormatInt(o.ID, 10) + "/status"

	var res lifecycle.TransitionResult
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, path, staff, statusReq{Status: "CANCELED"}, &res))
	assert.Equal(t, orders.StatusCanceled, res.Order.Status)

	var body errorBody
	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPut, path, staff, statusReq{Status: "IN_PROGRESS"}, &body))
	assert.Equal(t, "terminal_status", body.Reason)
}

func TestPatchOrder(t *testing.T) {
	ts := newTestServer(t)
	o := ts.createOrder(t, 500, "")
	path := "/admin/orders/" + strconv.FormatInt(o.ID, 10)

	note, msg := "vip", "your account is ready"
	var got orders.Order
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPatch, path, staff, orderPatch{ManagerNote: &note, CustomerMessage: &msg}, &got))
	assert.Equal(t, "vip", got.ManagerNote)
	assert.Equal(t, msg, got.CustomerMessage)

	tooMuch := int64(600)
	var body errorBody
	assert.Equal(t, http.StatusUnprocessableEntity, ts.do(t, http.MethodPatch, path, staff, orderPatch{WalletReservedAmount: &tooMuch}, &body))
	assert.Equal(t, "wallet_exceeds_total", body.Reason)

	bad := "BITCOIN"
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPatch, path, staff, orderPatch{PaymentType: &bad}, nil))
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPatch, path, staff, orderPatch{}, nil))
}

func TestCouponAndDiscountEndpoints(t *testing.T) {
	ts := newTestServer(t)

	var c orders.Coupon
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/admin/coupons", staff, promo.PromotionInput{Code: "gift", Amount: 300}, &c))
	assert.Equal(t, "GIFT", c.Code)
	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/admin/coupons", staff, promo.PromotionInput{Code: "GIFT", Amount: 1}, nil))

	var cres promo.CouponResult
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/coupons/redeem", customer, codeReq{Code: "gift"}, &cres))
	assert.EqualValues(t, 300, cres.Balance)

	var body errorBody
	assert.Equal(t, http.StatusUnprocessableEntity, ts.do(t, http.MethodPost, "/coupons/redeem", customer, codeReq{Code: "gift"}, &body))
	assert.Equal(t, "per_user_limit", body.Reason)

	var reds []orders.Redemption
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/admin/coupons/"+strconv.FormatInt(c.ID, 10)+"/redemptions", staff, nil, &reds))
	assert.Len(t, reds, 1)

	var d orders.Discount
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/admin/discounts", staff,
		promo.DiscountInput{PromotionInput: promo.PromotionInput{Code: "TENOFF", Amount: 100}, ProductIDs: []int64{5}}, &d))

	o := ts.createOrder(t, 1000, "product:5")
	var dres promo.DiscountResult
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/orders/"+strconv.FormatInt(o.ID, 10)+"/discount", customer, codeReq{Code: "tenoff"}, &dres))
	assert.EqualValues(t, 900, dres.Payable)

	var status map[string]any
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/orders/"+strconv.FormatInt(o.ID, 10)+"/status", customer, nil, &status))
	assert.EqualValues(t, 900, status["payable"])

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/admin/discounts/"+strconv.FormatInt(d.ID, 10)+"/active", staff, activeReq{Active: false}, &d))
	assert.False(t, d.IsActive)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodDelete, "/admin/discounts/"+strconv.FormatInt(d.ID, 10), staff, nil, nil))
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/admin/discounts/"+strconv.FormatInt(d.ID, 10), staff, nil, &body))
	assert.Equal(t, "promo_not_found", body.Reason)
}

func TestExpireNow(t *testing.T) {
	ts := newTestServer(t)
	o := ts.createOrder(t, 400, "")
	ts.advance(20 * time.Minute)

	var resp expireResp
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/admin/expire", staff, nil, &resp))
	require.Len(t, resp.Expired, 1)
	assert.Equal(t, o.ID, resp.Expired[0].Order.ID)
	assert.Empty(t, resp.Error)

	var cart []orders.Order
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/cart", customer, nil, &cart))
	assert.Empty(t, cart)
}

func TestStatusPollSeesDiscount(t *testing.T) {
	ts := newTestServer(t)
	var d orders.Discount
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/admin/discounts", staff,
		promo.DiscountInput{PromotionInput: promo.PromotionInput{Code: "HALF", Amount: 500}, AppliesAll: true}, &d))
	o := ts.createOrder(t, 1000, "product:8")
	path := "/orders/" + strconv.FormatInt(o.ID, 10)

	var st redisx.StatusEntry
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, path+"/status", customer, nil, &st))
	assert.EqualValues(t, 1000, st.Payable)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, path+"/discount", customer, codeReq{Code: "half"}, nil))

	e, ok := ts.cache.entry(o.ID)
	require.True(t, ok)
	assert.EqualValues(t, 500, e.Payable)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, path+"/status", customer, nil, &st))
	assert.EqualValues(t, 500, st.Payable)
}

func TestStatusPollSeesExpiry(t *testing.T) {
	ts := newTestServer(t)
	o := ts.createOrder(t, 400, "")
	path := "/orders/" + strconv.FormatInt(o.ID, 10) + "/status"

	var st redisx.StatusEntry
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, path, customer, nil, &st))
	assert.Equal(t, string(orders.StatusAwaitingPayment), st.Status)

	ts.advance(20 * time.Minute)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/admin/expire", staff, nil, nil))
	_, cached := ts.cache.entry(o.ID)
	assert.False(t, cached)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, path, customer, nil, &st))
	assert.Equal(t, string(orders.StatusExpired), st.Status)
}

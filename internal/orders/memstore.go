package orders

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-process Store. InTx holds one mutex for the whole unit.
// The first write of a unit snapshots the state and a failed fn restores it,
// giving the same all-or-nothing and serialization guarantees as the
// Postgres repo. Read-only units copy nothing. Used by tests and by the api
// binary when POSTGRES_DSN is empty.
type MemStore struct {
	mu sync.Mutex
	st memState
}

type memState struct {
	users     map[int64]User
	wallet    []WalletTx
	orders    map[int64]Order
	messages  []ManagerMessage
	coupons   map[int64]Coupon
	discounts map[int64]Discount
	redeems   map[PromoKind]map[int64]Redemption
	seq       map[string]int64
}

func NewMemStore() *MemStore {
	return &MemStore{st: memState{
		users:     map[int64]User{},
		orders:    map[int64]Order{},
		coupons:   map[int64]Coupon{},
		discounts: map[int64]Discount{},
		redeems: map[PromoKind]map[int64]Redemption{
			KindCoupon:   {},
			KindDiscount: {},
		},
		seq: map[string]int64{},
	}}
}

func (s memState) clone() memState {
	c := memState{
		users:     make(map[int64]User, len(s.users)),
		wallet:    slices.Clone(s.wallet),
		orders:    make(map[int64]Order, len(s.orders)),
		messages:  slices.Clone(s.messages),
		coupons:   make(map[int64]Coupon, len(s.coupons)),
		discounts: make(map[int64]Discount, len(s.discounts)),
		redeems:   map[PromoKind]map[int64]Redemption{},
		seq:       make(map[string]int64, len(s.seq)),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.coupons {
		c.coupons[k] = v
	}
	for k, v := range s.discounts {
		v.ProductIDs = slices.Clone(v.ProductIDs)
		c.discounts[k] = v
	}
	for kind, m := range s.redeems {
		cm := make(map[int64]Redemption, len(m))
		for k, v := range m {
			cm[k] = v
		}
		c.redeems[kind] = cm
	}
	for k, v := range s.seq {
		c.seq[k] = v
	}
	return c
}

func (m *MemStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{st: &m.st}
	if err := fn(tx); err != nil {
		if tx.snap != nil {
			m.st = *tx.snap
		}
		return err
	}
	return nil
}

type memTx struct {
	st   *memState
	snap *memState
}

// write snapshots the state before the unit's first change.
func (t *memTx) write() {
	if t.snap == nil {
		c := t.st.clone()
		t.snap = &c
	}
}

func (t *memTx) next(name string) int64 {
	t.write()
	t.st.seq[name]++
	return t.st.seq[name]
}

func (t *memTx) UpsertUser(_ context.Context, u User) error {
	t.write()
	cur, ok := t.st.users[u.ID]
	if !ok {
		u.WalletBalance = 0
		u.CreatedAt = u.UpdatedAt
		t.st.users[u.ID] = u
		return nil
	}
	cur.Username = u.Username
	cur.FirstName = u.FirstName
	cur.UpdatedAt = u.UpdatedAt
	t.st.users[u.ID] = cur
	return nil
}

func (t *memTx) GetUser(_ context.Context, id int64, _ bool) (User, error) {
	u, ok := t.st.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (t *memTx) SetUserBalance(_ context.Context, id, balance int64, at time.Time) error {
	t.write()
	u, ok := t.st.users[id]
	if !ok {
		return ErrNotFound
	}
	u.WalletBalance = balance
	u.UpdatedAt = at
	t.st.users[id] = u
	return nil
}

func (t *memTx) InsertWalletTx(_ context.Context, w WalletTx) (int64, error) {
	t.write()
	if _, ok := t.st.users[w.UserID]; !ok {
		return 0, fmt.Errorf("wallet_tx user %d: %w", w.UserID, ErrNotFound)
	}
	w.ID = t.next("wallet_tx")
	w.CreatedAt = w.CreatedAt.UTC().Truncate(time.Second)
	t.st.wallet = append(t.st.wallet, w)
	return w.ID, nil
}

func limitSlice[T any](in []T, limit int) []T {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}

func (t *memTx) ListWalletTx(_ context.Context, userID int64, limit int) ([]WalletTx, error) {
	var out []WalletTx
	for i := len(t.st.wallet) - 1; i >= 0; i-- {
		if t.st.wallet[i].UserID == userID {
			out = append(out, t.st.wallet[i])
		}
	}
	return limitSlice(out, limit), nil
}

func (t *memTx) ListOrderWalletTx(_ context.Context, orderID int64) ([]WalletTx, error) {
	var out []WalletTx
	for _, w := range t.st.wallet {
		if w.OrderID != nil && *w.OrderID == orderID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (t *memTx) SumWalletTx(_ context.Context, userID int64) (int64, error) {
	var sum int64
	for _, w := range t.st.wallet {
		if w.UserID == userID {
			sum += w.Effect()
		}
	}
	return sum, nil
}

func (t *memTx) InsertOrder(_ context.Context, o Order, minID int64) (int64, error) {
	t.write()
	if t.st.seq["orders"] < minID-1 {
		t.st.seq["orders"] = minID - 1
	}
	o.ID = t.next("orders")
	t.st.orders[o.ID] = o
	return o.ID, nil
}

func (t *memTx) GetOrder(_ context.Context, id int64, _ bool) (Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return o, nil
}

func (t *memTx) UpdateOrder(_ context.Context, o Order) error {
	t.write()
	if _, ok := t.st.orders[o.ID]; !ok {
		return ErrNotFound
	}
	t.st.orders[o.ID] = o
	return nil
}

func sortedOrders(m map[int64]Order, keep func(Order) bool) []Order {
	var out []Order
	for _, o := range m {
		if keep(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *memTx) ListUserOrders(_ context.Context, userID int64) ([]Order, error) {
	return sortedOrders(t.st.orders, func(o Order) bool { return o.UserID == userID }), nil
}

func (t *memTx) ListExpiredOrders(_ context.Context, now time.Time) ([]Order, error) {
	cutoff := now.UTC().Truncate(time.Second)
	return sortedOrders(t.st.orders, func(o Order) bool {
		return o.Status == StatusAwaitingPayment && o.AwaitDeadline != nil && !o.AwaitDeadline.After(cutoff)
	}), nil
}

func (t *memTx) InsertManagerMessage(_ context.Context, m ManagerMessage) (int64, error) {
	t.write()
	if _, ok := t.st.orders[m.OrderID]; !ok {
		return 0, ErrNotFound
	}
	m.ID = t.next("messages")
	t.st.messages = append(t.st.messages, m)
	return m.ID, nil
}

func (t *memTx) ListManagerMessages(_ context.Context, orderID int64, limit int) ([]ManagerMessage, error) {
	var out []ManagerMessage
	for i := len(t.st.messages) - 1; i >= 0; i-- {
		if t.st.messages[i].OrderID == orderID {
			out = append(out, t.st.messages[i])
		}
	}
	return limitSlice(out, limit), nil
}

func (t *memTx) codeTaken(kind PromoKind, code string, exceptID int64) bool {
	code = NormalizeCode(code)
	if kind == KindDiscount {
		for id, d := range t.st.discounts {
			if id != exceptID && NormalizeCode(d.Code) == code {
				return true
			}
		}
		return false
	}
	for id, c := range t.st.coupons {
		if id != exceptID && NormalizeCode(c.Code) == code {
			return true
		}
	}
	return false
}

func (t *memTx) InsertCoupon(_ context.Context, c Coupon) (int64, error) {
	t.write()
	if t.codeTaken(KindCoupon, c.Code, 0) {
		return 0, ErrDuplicate
	}
	c.ID = t.next("coupons")
	t.st.coupons[c.ID] = c
	return c.ID, nil
}

func (t *memTx) UpdateCoupon(_ context.Context, c Coupon) error {
	t.write()
	cur, ok := t.st.coupons[c.ID]
	if !ok {
		return ErrNotFound
	}
	if t.codeTaken(KindCoupon, c.Code, c.ID) {
		return ErrDuplicate
	}
	c.UsedCount = cur.UsedCount
	c.CreatedAt = cur.CreatedAt
	t.st.coupons[c.ID] = c
	return nil
}

func (t *memTx) DeleteCoupon(_ context.Context, id int64) error {
	t.write()
	if _, ok := t.st.coupons[id]; !ok {
		return ErrNotFound
	}
	delete(t.st.coupons, id)
	t.dropRedemptions(KindCoupon, id)
	return nil
}

func (t *memTx) dropRedemptions(kind PromoKind, promoID int64) {
	t.write()
	for id, r := range t.st.redeems[kind] {
		if r.PromotionID == promoID {
			delete(t.st.redeems[kind], id)
		}
	}
}

func (t *memTx) GetCoupon(_ context.Context, id int64) (Coupon, error) {
	c, ok := t.st.coupons[id]
	if !ok {
		return Coupon{}, ErrNotFound
	}
	return c, nil
}

func (t *memTx) GetCouponByCode(_ context.Context, code string, _ bool) (Coupon, error) {
	code = NormalizeCode(code)
	for _, c := range t.st.coupons {
		if NormalizeCode(c.Code) == code {
			return c, nil
		}
	}
	return Coupon{}, ErrNotFound
}

func pagePromos[T any](items []T, created func(T) (time.Time, int64), limit, offset int) []T {
	sort.Slice(items, func(i, j int) bool {
		ti, ii := created(items[i])
		tj, ij := created(items[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return ii > ij
	})
	if offset >= len(items) {
		return nil
	}
	return limitSlice(items[offset:], limit)
}

func (t *memTx) ListCoupons(_ context.Context, limit, offset int) ([]Coupon, error) {
	items := make([]Coupon, 0, len(t.st.coupons))
	for _, c := range t.st.coupons {
		items = append(items, c)
	}
	return pagePromos(items, func(c Coupon) (time.Time, int64) { return c.CreatedAt, c.ID }, limit, offset), nil
}

func (t *memTx) InsertDiscount(_ context.Context, d Discount) (int64, error) {
	t.write()
	if t.codeTaken(KindDiscount, d.Code, 0) {
		return 0, ErrDuplicate
	}
	d.ID = t.next("discounts")
	d.ProductIDs = slices.Clone(d.ProductIDs)
	t.st.discounts[d.ID] = d
	return d.ID, nil
}

func (t *memTx) UpdateDiscount(_ context.Context, d Discount) error {
	t.write()
	cur, ok := t.st.discounts[d.ID]
	if !ok {
		return ErrNotFound
	}
	if t.codeTaken(KindDiscount, d.Code, d.ID) {
		return ErrDuplicate
	}
	d.UsedCount = cur.UsedCount
	d.CreatedAt = cur.CreatedAt
	d.ProductIDs = slices.Clone(d.ProductIDs)
	t.st.discounts[d.ID] = d
	return nil
}

func (t *memTx) DeleteDiscount(_ context.Context, id int64) error {
	t.write()
	if _, ok := t.st.discounts[id]; !ok {
		return ErrNotFound
	}
	delete(t.st.discounts, id)
	t.dropRedemptions(KindDiscount, id)
	return nil
}

func (t *memTx) GetDiscount(_ context.Context, id int64) (Discount, error) {
	d, ok := t.st.discounts[id]
	if !ok {
		return Discount{}, ErrNotFound
	}
	return d, nil
}

func (t *memTx) GetDiscountByCode(_ context.Context, code string, _ bool) (Discount, error) {
	code = NormalizeCode(code)
	for _, d := range t.st.discounts {
		if NormalizeCode(d.Code) == code {
			return d, nil
		}
	}
	return Discount{}, ErrNotFound
}

func (t *memTx) ListDiscounts(_ context.Context, limit, offset int) ([]Discount, error) {
	items := make([]Discount, 0, len(t.st.discounts))
	for _, d := range t.st.discounts {
		items = append(items, d)
	}
	return pagePromos(items, func(d Discount) (time.Time, int64) { return d.CreatedAt, d.ID }, limit, offset), nil
}

func (t *memTx) GetRedemption(_ context.Context, kind PromoKind, promoID, userID int64, _ bool) (Redemption, error) {
	for _, r := range t.st.redeems[kind] {
		if r.PromotionID == promoID && r.UserID == userID {
			return r, nil
		}
	}
	return Redemption{}, ErrNotFound
}

func (t *memTx) SaveRedemption(ctx context.Context, kind PromoKind, r Redemption) error {
	t.write()
	if r.ID == 0 {
		if _, err := t.GetRedemption(ctx, kind, r.PromotionID, r.UserID, false); err == nil {
			return ErrDuplicate
		}
		r.ID = t.next(string(kind) + "_redemptions")
		t.st.redeems[kind][r.ID] = r
		return nil
	}
	cur, ok := t.st.redeems[kind][r.ID]
	if !ok {
		return ErrNotFound
	}
	cur.TimesUsed = r.TimesUsed
	cur.OrderID = r.OrderID
	cur.RedeemedAt = r.RedeemedAt
	t.st.redeems[kind][r.ID] = cur
	return nil
}

func (t *memTx) ListRedemptions(_ context.Context, kind PromoKind, promoID int64) ([]Redemption, error) {
	var out []Redemption
	for _, r := range t.st.redeems[kind] {
		if r.PromotionID == promoID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RedeemedAt.Equal(out[j].RedeemedAt) {
			return out[i].RedeemedAt.After(out[j].RedeemedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (t *memTx) IncrementUsedCount(_ context.Context, kind PromoKind, promoID int64, at time.Time) error {
	t.write()
	if kind == KindDiscount {
		d, ok := t.st.discounts[promoID]
		if !ok {
			return ErrNotFound
		}
		d.UsedCount++
		d.UpdatedAt = at
		t.st.discounts[promoID] = d
		return nil
	}
	c, ok := t.st.coupons[promoID]
	if !ok {
		return ErrNotFound
	}
	c.UsedCount++
	c.UpdatedAt = at
	t.st.coupons[promoID] = c
	return nil
}

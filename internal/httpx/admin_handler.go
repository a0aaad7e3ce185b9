package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/ariefcatur/go-storefront-ledger/internal/lifecycle"
	"github.com/ariefcatur/go-storefront-ledger/internal/orders"
	"github.com/ariefcatur/go-storefront-ledger/internal/promo"
	"github.com/go-chi/chi/v5"
)

func (h *Handler) registerAdmin(r chi.Router) {
	r.Put("/orders/{id}/status", h.setStatus)
	r.Post("/orders/{id}/approve", h.approveReceipt)
	r.Patch("/orders/{id}", h.patchOrder)
	r.Post("/orders/{id}/cashback", h.applyCashback)
	r.Get("/orders/{id}", h.adminGetOrder)
	r.Get("/orders/{id}/wallet", h.orderWallet)
	r.Get("/orders/{id}/messages", h.listMessages)
	r.Post("/orders/{id}/messages", h.addMessage)
	r.Post("/expire", h.expireNow)

	r.Get("/users/{userID}/orders", h.userOrders)
	r.Get("/users/{userID}/stats", h.userStats)
	r.Get("/users/{userID}/wallet", h.userWalletHistory)
	r.Post("/users/{userID}/wallet/adjust", h.adjustWallet)
	r.Get("/users/{userID}/wallet/reconcile", h.reconcileWallet)

	r.Get("/coupons", h.listCoupons)
	r.Post("/coupons", h.createCoupon)
	r.Get("/coupons/{id}", h.getCoupon)
	r.Put("/coupons/{id}", h.updateCoupon)
	r.Delete("/coupons/{id}", h.deleteCoupon)
	r.Post("/coupons/{id}/active", h.setCouponActive)
	r.Get("/coupons/{id}/redemptions", h.listRedemptions(orders.KindCoupon))

	r.Get("/discounts", h.listDiscounts)
	r.Post("/discounts", h.createDiscount)
	r.Get("/discounts/{id}", h.getDiscount)
	r.Put("/discounts/{id}", h.updateDiscount)
	r.Delete("/discounts/{id}", h.deleteDiscount)
	r.Post("/discounts/{id}/active", h.setDiscountActive)
	r.Get("/discounts/{id}/redemptions", h.listRedemptions(orders.KindDiscount))
}

// withID runs fn with the {id} param and a request-scoped timeout, writing
// fn's value as 200 JSON or its error.
func (h *Handler) withID(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id int64) (any, error)) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	ctx, cancel := timeout(r, 5*time.Second)
	defer cancel()
	v, err := fn(ctx, id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if o, isOrder := v.(orders.Order); isOrder {
		h.cache(ctx, o)
	}
	if res, isRes := v.(lifecycle.TransitionResult); isRes {
		h.cache(ctx, res.Order)
	}
	writeJSON(w, http.StatusOK, v)
}

type statusReq struct {
	Status string `json:"status"`
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	var req statusReq
	if !decode(w, r, &req) {
		return
	}
	h.withID(w, r, func(ctx context.Context, id int64) (any, error) {
		res, err := h.Orders.SetStatus(ctx, id, req.Status)
		if err == nil {
			h.Log.Info().Int64("staff_id", callerID(r)).Int64("order_id", id).
				Str("from", string(res.From)).Str("to", string(res.Order.Status)).Msg("status set by staff")
		}
		return res, err
	})
}

func (h *Handler) approveReceipt(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, func(ctx context.Context, id int64) (any, error) {
		return h.Orders.ApproveReceipt(ctx, id)
	})
}

func (h *Handler) adminGetOrder(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, func(ctx context.Context, id int64) (any, error) {
		return h.Orders.Get(ctx, id)
	})
}

// orderPatch sets individual order fields. Each present field is applied in
// its own transaction, in declaration order; the first failure stops the rest.
type orderPatch struct {
	PaymentType          *string            `json:"payment_type"`
	Receipt              *lifecycle.Receipt `json:"receipt"`
	WalletReservedAmount *int64             `json:"wallet_reserved_amount"`
	WalletUsedAmount     *int64             `json:"wallet_used_amount"`
	CustomerMessage      *string            `json:"customer_message"`
	ManagerNote          *string            `json:"manager_note"`
	Notes                *string            `json:"notes"`
	CustomerSecret       *string            `json:"customer_secret"`
	CostAmount           *int64             `json:"cost_amount"`
	RefreshDeadline      bool               `json:"refresh_deadline"`
}

func (p orderPatch) steps(s *lifecycle.Service, id int64) ([]func(context.Context) (orders.Order, error), error) {
	var steps []func(context.Context) (orders.Order, error)
	if p.PaymentType != nil {
		pt, err := orders.ParsePaymentType(*p.PaymentType)
		if err != nil {
			return nil, err
		}
		steps = append(steps, func(ctx context.Context) (orders.Order, error) { return s.SetPaymentType(ctx, id, pt) })
	}
	if p.Receipt != nil {
		rc := *p.Receipt
		steps = append(steps, func(ctx context.Context) (orders.Order, error) { return s.SetReceipt(ctx, id, rc) })
	}
	if p.WalletReservedAmount != nil {
		v := *p.WalletReservedAmount
		steps = append(steps, func(ctx context.Context) (orders.Order, error) { return s.SetWalletReserved(ctx, id, v) })
	}
	if p.WalletUsedAmount != nil {
		v := *p.WalletUsedAmount
		steps = append(steps, func(ctx context.Context) (orders.Order, error) { return s.SetWalletUsed(ctx, id, v) })
	}
	if p.CustomerMessage != nil {
		v := *p.CustomerMessage
		steps = append(steps, func(ctx context.Context) (orders.Order, error) { return s.SetCustomerMessage(ctx, id, v) })
	}
	if p.ManagerNote != nil {
		v := *p.ManagerNote
		steps = append(steps, func(ctx context.Context) (orders.Order, error) { return s.SetManagerNote(ctx, id, v) })
	}
	if p.Notes != nil {
		v := *p.Notes
		steps = append(steps, func(ctx context.Context) (orders.Order, error) { return s.SetNotes(ctx, id, v) })
	}
	if p.CustomerSecret != nil {
		v := *p.CustomerSecret
		steps = append(steps, func(ctx context.Context) (orders.Order, error) { return s.SetCustomerSecret(ctx, id, v) })
	}
	if p.CostAmount != nil {
		v := *p.CostAmount
		steps = append(steps, func(ctx context.Context) (orders.Order, error) { return s.SetFinancials(ctx, id, v) })
	}
	if p.RefreshDeadline {
		steps = append(steps, func(ctx context.Context) (orders.Order, error) { return s.RefreshDeadline(ctx, id) })
	}
	return steps, nil
}

func (h *Handler) patchOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var p orderPatch
	if !decode(w, r, &p) {
		return
	}
	steps, err := p.steps(h.Orders, id)
	if err != nil {
		writeMsg(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(steps) == 0 {
		writeMsg(w, http.StatusBadRequest, "no fields to update")
		return
	}
	ctx, cancel := timeout(r, 5*time.Second)
	defer cancel()
	var o orders.Order
	for _, step := range steps {
		if o, err = step(ctx); err != nil {
			writeError(w, h.Log, err)
			return
		}
	}
	h.cache(ctx, o)
	writeJSON(w, http.StatusOK, o)
}

type cashbackResp struct {
	OrderID  int64 `json:"order_id"`
	Credited int64 `json:"credited"`
}

func (h *Handler) applyCashback(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, func(ctx context.Context, id int64) (any, error) {
		n, err := h.Orders.ApplyCashback(ctx, id)
		return cashbackResp{OrderID: id, Credited: n}, err
	})
}

func (h *Handler) orderWallet(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, func(ctx context.Context, id int64) (any, error) {
		list, err := h.Wallet.OrderHistory(ctx, id)
		return nonNil(list), err
	})
}

type messageReq struct {
	Text string `json:"text"`
}

func (h *Handler) addMessage(w http.ResponseWriter, r *http.Request) {
	var req messageReq
	if !decode(w, r, &req) {
		return
	}
	staff := callerID(r)
	h.withID(w, r, func(ctx context.Context, id int64) (any, error) {
		return h.Orders.AddManagerMessage(ctx, id, &staff, req.Text)
	})
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 20)
	h.withID(w, r, func(ctx context.Context, id int64) (any, error) {
		list, err := h.Orders.ListManagerMessages(ctx, id, limit)
		return nonNil(list), err
	})
}

type expireResp struct {
	Expired []lifecycle.ExpiredOrder `json:"expired"`
	Error   string                   `json:"error,omitempty"`
}

// expireNow runs one sweep cycle on demand. Partial failures still report
// the orders that did expire.
func (h *Handler) expireNow(w http.ResponseWriter, r *http.Request) {
	if h.Sweeper == nil {
		writeMsg(w, http.StatusServiceUnavailable, "sweeper not configured")
		return
	}
	ctx, cancel := timeout(r, 10*time.Second)
	defer cancel()
	expired, err := h.Sweeper.RunOnce(ctx)
	resp := expireResp{Expired: nonNil(expired)}
	if err != nil {
		h.Log.Error().Err(err).Msg("manual sweep")
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) userOrders(w http.ResponseWriter, r *http.Request) {
	uid, ok := idParam(w, r, "userID")
	if !ok {
		return
	}
	ctx, cancel := timeout(r, 3*time.Second)
	defer cancel()
	list, err := h.Orders.ListUserOrders(ctx, uid)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (h *Handler) userStats(w http.ResponseWriter, r *http.Request) {
	uid, ok := idParam(w, r, "userID")
	if !ok {
		return
	}
	ctx, cancel := timeout(r, 3*time.Second)
	defer cancel()
	st, err := h.Orders.Stats(ctx, uid)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type activeReq struct {
	Active bool `json:"active"`
}

func (h *Handler) listCoupons(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := timeout(r, 3*time.Second)
	defer cancel()
	list, err := h.Promo.ListCoupons(ctx, intQuery(r, "limit", 50), intQuery(r, "offset", 0))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (h *Handler) createCoupon(w http.ResponseWriter, r *http.Request) {
	var in promo.PromotionInput
	if !decode(w, r, &in) {
		return
	}
	ctx, cancel := timeout(r, 5*time.Second)
	defer cancel()
	c, err := h.Promo.CreateCoupon(ctx, in)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) getCoupon(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, func(ctx context.Context, id int64) (any, error) {
		return h.Promo.GetCoupon(ctx, id)
	})
}

func (h *Handler) updateCoupon(w http.ResponseWriter, r *http.Request) {
	var in promo.PromotionInput
	if !decode(w, r, &in) {
		return
	}
	h.withID(w, r, func(ctx context.Context, id int64) (any, error) {
		return h.Promo.UpdateCoupon(ctx, id, in)
	})
}

func (h *Handler) deleteCoupon(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, func(ctx context.Context, id int64) (any, error) {
		return map[string]int64{"deleted": id}, h.Promo.DeleteCoupon(ctx, id)
	})
}

func (h *Handler) setCouponActive(w http.ResponseWriter, r *http.Request) {
	var req activeReq
	if !decode(w, r, &req) {
		return
	}
	h.withID(w, r, func(ctx context.Context, id int64) (any, error) {
		if err := h.Promo.SetCouponActive(ctx, id, req.Active); err != nil {
			return nil, err
		}
		return h.Promo.GetCoupon(ctx, id)
	})
}

func (h *Handler) listDiscounts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := timeout(r, 3*time.Second)
	defer cancel()
	list, err := h.Promo.ListDiscounts(ctx, intQuery(r, "limit", 50), intQuery(r, "offset", 0))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (h *Handler) createDiscount(w http.ResponseWriter, r *http.Request) {
	var in promo.DiscountInput
	if !decode(w, r, &in) {
		return
	}
	ctx, cancel := timeout(r, 5*time.Second)
	defer cancel()
	d, err := h.Promo.CreateDiscount(ctx, in)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (h *Handler) getDiscount(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, func(ctx context.Context, id int64) (any, error) {
		return h.Promo.GetDiscount(ctx, id)
	})
}

func (h *Handler) updateDiscount(w http.ResponseWriter, r *http.Request) {
	var in promo.DiscountInput
	if !decode(w, r, &in) {
		return
	}
	h.withID(w, r, func(ctx context.Context, id int64) (any, error) {
		return h.Promo.UpdateDiscount(ctx, id, in)
	})
}

func (h *Handler) deleteDiscount(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, func(ctx context.Context, id int64) (any, error) {
		return map[string]int64{"deleted": id}, h.Promo.DeleteDiscount(ctx, id)
	})
}

func (h *Handler) setDiscountActive(w http.ResponseWriter, r *http.Request) {
	var req activeReq
	if !decode(w, r, &req) {
		return
	}
	h.withID(w, r, func(ctx context.Context, id int64) (any, error) {
		if err := h.Promo.SetDiscountActive(ctx, id, req.Active); err != nil {
			return nil, err
		}
		return h.Promo.GetDiscount(ctx, id)
	})
}

func (h *Handler) listRedemptions(kind orders.PromoKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.withID(w, r, func(ctx context.Context, id int64) (any, error) {
			list, err := h.Promo.ListRedemptions(ctx, kind, id)
			return nonNil(list), err
		})
	}
}

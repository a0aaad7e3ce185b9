package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/ariefcatur/go-storefront-ledger/internal/lifecycle"
	"github.com/ariefcatur/go-storefront-ledger/internal/orders"
	"github.com/ariefcatur/go-storefront-ledger/internal/promo"
	"github.com/ariefcatur/go-storefront-ledger/internal/redisx"
	"github.com/ariefcatur/go-storefront-ledger/internal/sweeper"
	"github.com/ariefcatur/go-storefront-ledger/internal/wallet"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// StatusCache is the polling cache in front of the order store.
type StatusCache interface {
	Get(ctx context.Context, orderID int64) (redisx.StatusEntry, bool, error)
	Set(ctx context.Context, orderID int64, e redisx.StatusEntry) error
	Delete(ctx context.Context, orderID int64) error
}

// Handler exposes the order, wallet and promo services over JSON.
// Cache and Sweeper are optional.
type Handler struct {
	Orders  *lifecycle.Service
	Wallet  *wallet.Ledger
	Promo   *promo.Engine
	Sweeper *sweeper.Sweeper
	Cache   StatusCache
	IsAdmin func(userID int64) bool
	Log     zerolog.Logger
}

func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(Caller)

		r.Post("/orders", h.createOrder)
		r.Get("/orders", h.listOrders)
		r.Get("/cart", h.listCart)
		r.Get("/orders/{id}", h.getOrder)
		r.Get("/orders/{id}/status", h.getOrderStatus)
		r.Post("/orders/{id}/receipt", h.submitReceipt)
		r.Post("/orders/{id}/pay/wallet", h.payWithWallet)
		r.Post("/orders/{id}/pay/mixed", h.reserveForMixed)
		r.Post("/orders/{id}/first-plan", h.requestFirstPlan)
		r.Post("/orders/{id}/request", h.submitRequest)
		r.Post("/orders/{id}/cancel", h.cancelOrder)
		r.Post("/orders/{id}/discount", h.applyDiscount)

		r.Get("/me/stats", h.myStats)
		r.Get("/wallet", h.walletBalance)
		r.Get("/wallet/history", h.walletHistory)
		r.Post("/coupons/redeem", h.redeemCoupon)

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin(h.IsAdmin))
			h.registerAdmin(r)
		})
	})
}

type CreateOrderReq struct {
	Username         string `json:"username"`
	FirstName        string `json:"first_name"`
	Title            string `json:"title"`
	AmountTotal      int64  `json:"amount_total"`
	Currency         string `json:"currency"`
	Category         string `json:"service_category"`
	Code             string `json:"service_code"`
	AllowFree        bool   `json:"allow_free"`
	AccountMode      string `json:"account_mode"`
	CustomerEmail    string `json:"customer_email"`
	Notes            string `json:"notes"`
	CustomerSecret   string `json:"customer_secret"`
	RequireUsername  bool   `json:"require_username"`
	RequirePassword  bool   `json:"require_password"`
	CustomerUsername string `json:"customer_username"`
	CustomerPassword string `json:"customer_password"`
	AllowFirstPlan   bool   `json:"allow_first_plan"`
	CashbackPercent  int64  `json:"cashback_percent"`
	CostAmount       int64  `json:"cost_amount"`
}

type commentReq struct {
	Comment string `json:"comment"`
}

type receiptReq struct {
	lifecycle.Receipt
	Comment string `json:"comment"`
}

type amountReq struct {
	Amount int64 `json:"amount"`
}

type codeReq struct {
	Code string `json:"code"`
}

func timeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}

// cache stores the latest status for polling; failures only cost a DB read later.
func (h *Handler) cache(ctx context.Context, o orders.Order) {
	if h.Cache == nil || o.ID == 0 {
		return
	}
	e := redisx.StatusEntry{
		OrderID:   o.ID,
		UserID:    o.UserID,
		Status:    string(o.Status),
		Payable:   o.Payable(),
		UpdatedAt: orders.FormatTime(o.UpdatedAt),
	}
	if err := h.Cache.Set(ctx, o.ID, e); err != nil {
		h.Log.Debug().Err(err).Int64("order_id", o.ID).Msg("status cache set")
	}
}

// refresh re-reads the order after a change that returns no order.
func (h *Handler) refresh(ctx context.Context, orderID int64) {
	if h.Cache == nil {
		return
	}
	o, err := h.Orders.Get(ctx, orderID)
	if err == nil {
		h.cache(ctx, o)
		return
	}
	if err := h.Cache.Delete(ctx, orderID); err != nil {
		h.Log.Debug().Err(err).Int64("order_id", orderID).Msg("status cache delete")
	}
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := timeout(r, 5*time.Second)
	defer cancel()

	o, err := h.Orders.CreateOrder(ctx, lifecycle.NewOrder{
		UserID:           callerID(r),
		Username:         req.Username,
		FirstName:        req.FirstName,
		Title:            req.Title,
		AmountTotal:      req.AmountTotal,
		Currency:         req.Currency,
		Category:         req.Category,
		Code:             req.Code,
		AllowFree:        req.AllowFree,
		AccountMode:      req.AccountMode,
		CustomerEmail:    req.CustomerEmail,
		Notes:            req.Notes,
		CustomerSecret:   req.CustomerSecret,
		RequireUsername:  req.RequireUsername,
		RequirePassword:  req.RequirePassword,
		CustomerUsername: req.CustomerUsername,
		CustomerPassword: req.CustomerPassword,
		AllowFirstPlan:   req.AllowFirstPlan,
		CashbackPercent:  req.CashbackPercent,
		CostAmount:       req.CostAmount,
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.cache(ctx, o)
	writeJSON(w, http.StatusCreated, o)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := timeout(r, 3*time.Second)
	defer cancel()
	list, err := h.Orders.ListUserOrders(ctx, callerID(r))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (h *Handler) listCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := timeout(r, 3*time.Second)
	defer cancel()
	list, err := h.Orders.ListCart(ctx, callerID(r))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	ctx, cancel := timeout(r, 3*time.Second)
	defer cancel()
	o, err := h.Orders.Get(ctx, id)
	if err == nil && o.UserID != callerID(r) {
		err = lifecycle.ErrNotOwner
	}
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	ctx, cancel := timeout(r, 3*time.Second)
	defer cancel()

	// 1) coba cache
	if h.Cache != nil {
		if e, hit, err := h.Cache.Get(ctx, id); err == nil && hit {
			if e.UserID != callerID(r) {
				writeError(w, h.Log, lifecycle.ErrNotOwner)
				return
			}
			writeJSON(w, http.StatusOK, e)
			return
		}
	}

	// 2) fallback DB
	o, err := h.Orders.Get(ctx, id)
	if err == nil && o.UserID != callerID(r) {
		err = lifecycle.ErrNotOwner
	}
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.cache(ctx, o)
	writeJSON(w, http.StatusOK, redisx.StatusEntry{
		OrderID:   o.ID,
		UserID:    o.UserID,
		Status:    string(o.Status),
		Payable:   o.Payable(),
		UpdatedAt: orders.FormatTime(o.UpdatedAt),
	})
}

// transitionFunc is a customer action that returns the transition it made.
type transitionFunc func(ctx context.Context, orderID, userID int64) (lifecycle.TransitionResult, error)

func (h *Handler) runTransition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	ctx, cancel := timeout(r, 5*time.Second)
	defer cancel()
	res, err := fn(ctx, id, callerID(r))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.cache(ctx, res.Order)
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) submitReceipt(w http.ResponseWriter, r *http.Request) {
	var req receiptReq
	if !decode(w, r, &req) {
		return
	}
	h.runTransition(w, r, func(ctx context.Context, orderID, userID int64) (lifecycle.TransitionResult, error) {
		return h.Orders.SubmitCardReceipt(ctx, orderID, userID, req.Receipt, req.Comment)
	})
}

func (h *Handler) payWithWallet(w http.ResponseWriter, r *http.Request) {
	var req commentReq
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	h.runTransition(w, r, func(ctx context.Context, orderID, userID int64) (lifecycle.TransitionResult, error) {
		return h.Orders.PayWithWallet(ctx, orderID, userID, req.Comment)
	})
}

func (h *Handler) requestFirstPlan(w http.ResponseWriter, r *http.Request) {
	var req commentReq
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	h.runTransition(w, r, func(ctx context.Context, orderID, userID int64) (lifecycle.TransitionResult, error) {
		return h.Orders.RequestFirstPlan(ctx, orderID, userID, req.Comment)
	})
}

func (h *Handler) submitRequest(w http.ResponseWriter, r *http.Request) {
	var req commentReq
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	h.runTransition(w, r, func(ctx context.Context, orderID, userID int64) (lifecycle.TransitionResult, error) {
		return h.Orders.SubmitRequest(ctx, orderID, userID, req.Comment)
	})
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, h.Orders.CancelOrder)
}

func (h *Handler) reserveForMixed(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req amountReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := timeout(r, 5*time.Second)
	defer cancel()
	o, err := h.Orders.ReserveForMixed(ctx, id, callerID(r), req.Amount)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.cache(ctx, o)
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) applyDiscount(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req codeReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := timeout(r, 5*time.Second)
	defer cancel()
	res, err := h.Promo.ApplyDiscountToOrder(ctx, id, callerID(r), req.Code)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.refresh(ctx, id)
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) myStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := timeout(r, 3*time.Second)
	defer cancel()
	st, err := h.Orders.Stats(ctx, callerID(r))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

package httpx

import (
	"net/http"
	"time"

	"github.com/ariefcatur/go-storefront-ledger/internal/orders"
)

type balanceResp struct {
	UserID  int64 `json:"user_id"`
	Balance int64 `json:"balance"`
}

func (h *Handler) walletBalance(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := timeout(r, 3*time.Second)
	defer cancel()
	uid := callerID(r)
	bal, err := h.Wallet.Balance(ctx, uid)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResp{UserID: uid, Balance: bal})
}

func (h *Handler) walletHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := timeout(r, 3*time.Second)
	defer cancel()
	list, err := h.Wallet.History(ctx, callerID(r), intQuery(r, "limit", 50))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (h *Handler) redeemCoupon(w http.ResponseWriter, r *http.Request) {
	var req codeReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := timeout(r, 5*time.Second)
	defer cancel()
	res, err := h.Promo.RedeemCoupon(ctx, callerID(r), req.Code)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type adjustReq struct {
	Amount int64         `json:"amount"`
	Type   orders.TxType `json:"type"`
	Note   string        `json:"note"`
}

func (h *Handler) adjustWallet(w http.ResponseWriter, r *http.Request) {
	uid, ok := idParam(w, r, "userID")
	if !ok {
		return
	}
	var req adjustReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := timeout(r, 5*time.Second)
	defer cancel()
	bal, err := h.Wallet.Adjust(ctx, uid, req.Amount, req.Type, req.Note)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.Log.Info().Int64("staff_id", callerID(r)).Int64("user_id", uid).Str("type", string(req.Type)).
		Int64("amount", req.Amount).Msg("wallet adjusted by staff")
	writeJSON(w, http.StatusOK, balanceResp{UserID: uid, Balance: bal})
}

func (h *Handler) reconcileWallet(w http.ResponseWriter, r *http.Request) {
	uid, ok := idParam(w, r, "userID")
	if !ok {
		return
	}
	ctx, cancel := timeout(r, 5*time.Second)
	defer cancel()
	rec, err := h.Wallet.Reconcile(ctx, uid)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":    rec.UserID,
		"stored":     rec.Stored,
		"from_log":   rec.FromLog,
		"drift":      rec.Drift(),
		"consistent": rec.Consistent(),
	})
}

func (h *Handler) userWalletHistory(w http.ResponseWriter, r *http.Request) {
	uid, ok := idParam(w, r, "userID")
	if !ok {
		return
	}
	ctx, cancel := timeout(r, 3*time.Second)
	defer cancel()
	list, err := h.Wallet.History(ctx, uid, intQuery(r, "limit", 50))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

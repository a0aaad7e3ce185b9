package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ariefcatur/go-storefront-ledger/internal/lifecycle"
	"github.com/ariefcatur/go-storefront-ledger/internal/promo"
	"github.com/ariefcatur/go-storefront-ledger/internal/wallet"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// HeaderUserID carries the chat user id of the caller. The bot and dashboard
// processes set it after authenticating the user on their side.
const HeaderUserID = "X-User-ID"

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMsg(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg})
}

type errMapping struct {
	target error
	status int
	reason string
}

var errTable = []errMapping{
	{lifecycle.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
	{promo.ErrPromoNotFound, http.StatusNotFound, "promo_not_found"},
	{wallet.ErrUserNotFound, http.StatusNotFound, "user_not_found"},
	{lifecycle.ErrNotOwner, http.StatusForbidden, "not_owner"},
	{lifecycle.ErrTerminalStatus, http.StatusConflict, "terminal_status"},
	{lifecycle.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{lifecycle.ErrAlreadyReserved, http.StatusConflict, "already_reserved"},
	{promo.ErrDuplicateCode, http.StatusConflict, "duplicate_code"},
	{wallet.ErrInsufficientFunds, http.StatusUnprocessableEntity, "insufficient_funds"},
	{lifecycle.ErrInvariant, http.StatusUnprocessableEntity, "wallet_exceeds_total"},
	{lifecycle.ErrReservationTooLarge, http.StatusUnprocessableEntity, "reservation_too_large"},
	{lifecycle.ErrFirstPlanNotAllowed, http.StatusUnprocessableEntity, "first_plan_not_allowed"},
	{lifecycle.ErrNotFree, http.StatusUnprocessableEntity, "not_free"},
	{lifecycle.ErrReceiptRequired, http.StatusBadRequest, "receipt_required"},
	{lifecycle.ErrInvalidAmount, http.StatusBadRequest, "amount_invalid"},
	{wallet.ErrInvalidAmount, http.StatusBadRequest, "amount_invalid"},
	{wallet.ErrInvalidType, http.StatusBadRequest, "type_invalid"},
	{promo.ErrInvalidCode, http.StatusBadRequest, "code_invalid"},
	{promo.ErrInvalidAmount, http.StatusBadRequest, "amount_invalid"},
	{promo.ErrInvalidLimit, http.StatusBadRequest, "limit_invalid"},
}

// writeError maps domain errors to 4xx; anything unknown is logged and
// reported as 500 without detail.
func writeError(w http.ResponseWriter, log zerolog.Logger, err error) {
	var rej *promo.Rejection
	if errors.As(err, &rej) {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: rej.Message(), Reason: string(rej.Reason)})
		return
	}
	for _, m := range errTable {
		if errors.Is(err, m.target) {
			writeJSON(w, m.status, errorBody{Error: err.Error(), Reason: m.reason})
			return
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		writeMsg(w, http.StatusGatewayTimeout, "timeout")
		return
	}
	log.Error().Err(err).Msg("request failed")
	writeMsg(w, http.StatusInternalServerError, "internal error")
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeMsg(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeMsg(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func intQuery(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return def
	}
	return v
}

type callerKey struct{}

// Caller requires a numeric X-User-ID header and stores it in the context.
func Caller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.Header.Get(HeaderUserID), 10, 64)
		if err != nil || id <= 0 {
			writeMsg(w, http.StatusUnauthorized, "missing or invalid "+HeaderUserID)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, id)))
	})
}

func callerID(r *http.Request) int64 {
	id, _ := r.Context().Value(callerKey{}).(int64)
	return id
}

// RequireAdmin lets only staff ids through. It must run after Caller.
func RequireAdmin(isAdmin func(int64) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isAdmin == nil || !isAdmin(callerID(r)) {
				writeMsg(w, http.StatusForbidden, "staff only")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

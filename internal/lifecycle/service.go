package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ariefcatur/go-storefront-ledger/internal/metrics"
	"github.com/ariefcatur/go-storefront-ledger/internal/notify"
	"github.com/ariefcatur/go-storefront-ledger/internal/orders"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrOrderNotFound       = errors.New("order not found")
	ErrNotOwner            = errors.New("order belongs to another user")
	ErrTerminalStatus      = errors.New("order is in a terminal status")
	ErrInvalidTransition   = errors.New("transition not allowed")
	ErrInvariant           = errors.New("wallet amounts exceed order total")
	ErrAlreadyReserved     = errors.New("wallet funds already held for this order")
	ErrReservationTooLarge = errors.New("reservation exceeds payable amount")
	ErrReceiptRequired     = errors.New("receipt file or text required")
	ErrFirstPlanNotAllowed = errors.New("first purchase plan not available")
	ErrNotFree             = errors.New("order has a payable amount")
)

const DefaultPaymentTimeout = 15 * time.Minute

type Service struct {
	Store   orders.Store
	Notify  *notify.Dispatcher
	Metrics *metrics.Metrics
	Log     zerolog.Logger
	Now     func() time.Time

	PaymentTimeout  time.Duration
	OrderIDMinValue int64
	Currency        string
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC().Truncate(time.Second)
	}
	return time.Now().UTC().Truncate(time.Second)
}

func (s *Service) timeout() time.Duration {
	if s.PaymentTimeout > 0 {
		return s.PaymentTimeout
	}
	return DefaultPaymentTimeout
}

// PayableAmount is amount_total minus any applied discount, never negative.
func PayableAmount(o orders.Order) int64 { return o.Payable() }

// NewOrder describes an order to create. Zero values mean "not set".
type NewOrder struct {
	UserID    int64
	Username  string
	FirstName string

	Title       string
	AmountTotal int64
	Currency    string
	Category    string
	Code        string
	AllowFree   bool // request-only / zero-price items

	AccountMode      string
	CustomerEmail    string
	Notes            string
	CustomerSecret   string
	RequireUsername  bool
	RequirePassword  bool
	CustomerUsername string
	CustomerPassword string
	AllowFirstPlan   bool
	CashbackPercent  int64
	CostAmount       int64
}

// CreateOrder upserts the user and inserts an AWAITING_PAYMENT order with a
// payment deadline. Nothing is written when the amount is rejected.
func (s *Service) CreateOrder(ctx context.Context, n NewOrder) (orders.Order, error) {
	if n.AmountTotal < 0 || (n.AmountTotal == 0 && !n.AllowFree) {
		return orders.Order{}, fmt.Errorf("%w: %d", ErrInvalidAmount, n.AmountTotal)
	}
	now := s.now()
	deadline := now.Add(s.timeout())
	currency := n.Currency
	if currency == "" {
		currency = s.Currency
	}
	o := orders.Order{
		UserID:           n.UserID,
		Username:         n.Username,
		FirstName:        n.FirstName,
		Title:            n.Title,
		AmountTotal:      n.AmountTotal,
		Currency:         currency,
		ServiceCategory:  n.Category,
		ServiceCode:      n.Code,
		AccountMode:      n.AccountMode,
		CustomerEmail:    n.CustomerEmail,
		Notes:            n.Notes,
		CustomerSecret:   n.CustomerSecret,
		RequireUsername:  n.RequireUsername,
		RequirePassword:  n.RequirePassword,
		CustomerUsername: n.CustomerUsername,
		CustomerPassword: n.CustomerPassword,
		AllowFirstPlan:   n.AllowFirstPlan,
		CashbackPercent:  max(n.CashbackPercent, 0),
		CostAmount:       n.CostAmount,
		Status:           orders.StatusAwaitingPayment,
		AwaitDeadline:    &deadline,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err := s.Store.InTx(ctx, func(tx orders.Tx) error {
		if err := tx.UpsertUser(ctx, orders.User{ID: n.UserID, Username: n.Username, FirstName: n.FirstName, UpdatedAt: now}); err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		id, err := tx.InsertOrder(ctx, o, s.OrderIDMinValue)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		o.ID = id
		return nil
	})
	if err != nil {
		return orders.Order{}, err
	}
	s.Metrics.OrderCreated()
	s.Log.Info().Int64("order_id", o.ID).Int64("user_id", o.UserID).Int64("amount", o.AmountTotal).Msg("order created")
	s.Notify.Send(ctx, notify.OrderCreated(o))
	return o, nil
}

func (s *Service) Get(ctx context.Context, orderID int64) (orders.Order, error) {
	var o orders.Order
	err := s.Store.InTx(ctx, func(tx orders.Tx) error {
		var err error
		o, err = loadOrder(ctx, tx, orderID, false)
		return err
	})
	return o, err
}

func loadOrder(ctx context.Context, tx orders.Tx, id int64, lock bool) (orders.Order, error) {
	o, err := tx.GetOrder(ctx, id, lock)
	if errors.Is(err, orders.ErrNotFound) {
		return o, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	if err != nil {
		return o, fmt.Errorf("load order %d: %w", id, err)
	}
	if orders.IsLegacyAwaiting(string(o.Status)) {
		o.Status = orders.StatusAwaitingPayment
	}
	return o, nil
}

func loadOwned(ctx context.Context, tx orders.Tx, id, userID int64) (orders.Order, error) {
	o, err := loadOrder(ctx, tx, id, true)
	if err != nil {
		return o, err
	}
	if o.UserID != userID {
		return o, ErrNotOwner
	}
	return o, nil
}

// ListCart returns the user's open AWAITING_PAYMENT orders, earliest
// deadline first. Orders stored with a blank or legacy status are rewritten
// to AWAITING_PAYMENT and a missing deadline is backfilled.
func (s *Service) ListCart(ctx context.Context, userID int64) ([]orders.Order, error) {
	now := s.now()
	var cart []orders.Order
	err := s.Store.InTx(ctx, func(tx orders.Tx) error {
		all, err := tx.ListUserOrders(ctx, userID)
		if err != nil {
			return err
		}
		for _, o := range all {
			dirty := false
			if orders.IsLegacyAwaiting(string(o.Status)) {
				o.Status = orders.StatusAwaitingPayment
				dirty = true
			}
			if o.Status != orders.StatusAwaitingPayment {
				continue
			}
			if o.AwaitDeadline == nil {
				d := now.Add(s.timeout())
				o.AwaitDeadline = &d
				dirty = true
			}
			if dirty {
				o.UpdatedAt = now
				if err := tx.UpdateOrder(ctx, o); err != nil {
					return fmt.Errorf("normalize order %d: %w", o.ID, err)
				}
			}
			if o.AwaitDeadline.After(now) {
				cart = append(cart, o)
			}
		}
		return nil
	})
	sort.SliceStable(cart, func(i, j int) bool { return cart[i].AwaitDeadline.Before(*cart[j].AwaitDeadline) })
	return cart, err
}

func (s *Service) ListUserOrders(ctx context.Context, userID int64) ([]orders.Order, error) {
	var out []orders.Order
	err := s.Store.InTx(ctx, func(tx orders.Tx) error {
		var err error
		out, err = tx.ListUserOrders(ctx, userID)
		return err
	})
	return out, err
}

type UserStats struct {
	TotalOrders      int   `json:"total_orders"`
	InProgressOrders int   `json:"in_progress_orders"`
	DoneOrders       int   `json:"done_orders"`
	WalletBalance    int64 `json:"wallet_balance"`
}

func (s *Service) Stats(ctx context.Context, userID int64) (UserStats, error) {
	var st UserStats
	err := s.Store.InTx(ctx, func(tx orders.Tx) error {
		u, err := tx.GetUser(ctx, userID, false)
		if err != nil && !errors.Is(err, orders.ErrNotFound) {
			return err
		}
		st.WalletBalance = u.WalletBalance
		all, err := tx.ListUserOrders(ctx, userID)
		if err != nil {
			return err
		}
		st.TotalOrders = len(all)
		for _, o := range all {
			switch o.Status {
			case orders.StatusPendingConfirm, orders.StatusPendingPlan, orders.StatusInProgress, orders.StatusReadyToDeliver:
				st.InProgressOrders++
			case orders.StatusDelivered, orders.StatusCompleted:
				st.DoneOrders++
			}
		}
		return nil
	})
	return st, err
}

// AddManagerMessage records a staff message on the order and notifies the customer.
func (s *Service) AddManagerMessage(ctx context.Context, orderID int64, staffID *int64, text string) (orders.ManagerMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return orders.ManagerMessage{}, errors.New("message text required")
	}
	m := orders.ManagerMessage{OrderID: orderID, UserID: staffID, Text: text, CreatedAt: s.now()}
	var customer int64
	err := s.Store.InTx(ctx, func(tx orders.Tx) error {
		o, err := loadOrder(ctx, tx, orderID, false)
		if err != nil {
			return err
		}
		customer = o.UserID
		m.ID, err = tx.InsertManagerMessage(ctx, m)
		return err
	})
	if err != nil {
		return orders.ManagerMessage{}, err
	}
	s.Notify.Send(ctx, notify.ManagerMessage(m, customer))
	return m, nil
}

func (s *Service) ListManagerMessages(ctx context.Context, orderID int64, limit int) ([]orders.ManagerMessage, error) {
	var out []orders.ManagerMessage
	err := s.Store.InTx(ctx, func(tx orders.Tx) error {
		var err error
		out, err = tx.ListManagerMessages(ctx, orderID, limit)
		return err
	})
	return out, err
}

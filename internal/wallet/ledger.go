package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-ledger/internal/metrics"
	"github.com/ariefcatur/go-storefront-ledger/internal/notify"
	"github.com/ariefcatur/go-storefront-ledger/internal/orders"
	"github.com/rs/zerolog"
)

var (
	ErrInsufficientFunds = errors.New("insufficient wallet balance")
	ErrUserNotFound      = errors.New("user not found")
	ErrInvalidAmount     = errors.New("invalid wallet amount")
	ErrInvalidType       = errors.New("invalid wallet transaction type")
)

// Entry is one requested balance change. Delta is signed and must agree
// with Type: CREDIT/REFUND positive, DEBIT/RESERVE negative.
type Entry struct {
	UserID  int64
	Delta   int64
	Type    orders.TxType
	Note    string
	OrderID *int64
}

// Apply changes the user's balance and appends the log row inside tx.
// The user row is locked first; a change that would take the balance below
// zero fails with ErrInsufficientFunds and writes nothing.
func Apply(ctx context.Context, tx orders.Tx, e Entry, now time.Time) (orders.WalletTx, int64, error) {
	if !e.Type.Valid() {
		return orders.WalletTx{}, 0, fmt.Errorf("%w: %q", ErrInvalidType, e.Type)
	}
	if e.Delta == 0 || (e.Delta > 0) != (e.Type.Sign() > 0) {
		return orders.WalletTx{}, 0, fmt.Errorf("%w: %d for %s", ErrInvalidAmount, e.Delta, e.Type)
	}

	u, err := tx.GetUser(ctx, e.UserID, true)
	if errors.Is(err, orders.ErrNotFound) {
		return orders.WalletTx{}, 0, fmt.Errorf("%w: %d", ErrUserNotFound, e.UserID)
	}
	if err != nil {
		return orders.WalletTx{}, 0, fmt.Errorf("load user: %w", err)
	}

	balance := u.WalletBalance + e.Delta
	if balance < 0 {
		return orders.WalletTx{}, 0, fmt.Errorf("%w: balance %d, change %d", ErrInsufficientFunds, u.WalletBalance, e.Delta)
	}
	if err := tx.SetUserBalance(ctx, e.UserID, balance, now); err != nil {
		return orders.WalletTx{}, 0, fmt.Errorf("set balance: %w", err)
	}

	amount := e.Delta
	if amount < 0 {
		amount = -amount
	}
	row := orders.WalletTx{
		UserID:    e.UserID,
		OrderID:   e.OrderID,
		Amount:    amount,
		Type:      e.Type,
		Note:      e.Note,
		CreatedAt: now,
	}
	id, err := tx.InsertWalletTx(ctx, row)
	if err != nil {
		return orders.WalletTx{}, 0, fmt.Errorf("append wallet tx: %w", err)
	}
	row.ID = id
	return row, balance, nil
}

// Ledger is the standalone wallet service. Order and promo flows call Apply
// inside their own transactions instead.
type Ledger struct {
	Store   orders.Store
	Notify  *notify.Dispatcher
	Metrics *metrics.Metrics
	Log     zerolog.Logger
	Now     func() time.Time
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Change applies one entry in its own transaction and returns the new balance.
func (l *Ledger) Change(ctx context.Context, userID, delta int64, typ orders.TxType, note string, orderID *int64) (int64, error) {
	var (
		row     orders.WalletTx
		balance int64
	)
	err := l.Store.InTx(ctx, func(tx orders.Tx) error {
		var err error
		row, balance, err = Apply(ctx, tx, Entry{UserID: userID, Delta: delta, Type: typ, Note: note, OrderID: orderID}, l.now())
		return err
	})
	l.Metrics.WalletChange(string(typ), err)
	if err != nil {
		return 0, err
	}
	l.Log.Info().Int64("user_id", userID).Str("type", string(typ)).Int64("amount", row.Amount).
		Int64("balance", balance).Msg("wallet changed")
	l.Notify.Send(ctx, notify.WalletChanged(row, balance))
	return balance, nil
}

// ChangeWallet reports only success, for callers that branch on a bool.
func (l *Ledger) ChangeWallet(ctx context.Context, userID, delta int64, typ orders.TxType, note string, orderID *int64) bool {
	_, err := l.Change(ctx, userID, delta, typ, note, orderID)
	if err != nil && !errors.Is(err, ErrInsufficientFunds) {
		l.Log.Warn().Err(err).Int64("user_id", userID).Msg("wallet change failed")
	}
	return err == nil
}

// Adjust is the staff entry point: amount must be positive, direction comes
// from typ.
func (l *Ledger) Adjust(ctx context.Context, userID, amount int64, typ orders.TxType, note string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	if !typ.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidType, typ)
	}
	if note == "" {
		note = "ADMIN:" + string(typ)
	}
	return l.Change(ctx, userID, typ.Sign()*amount, typ, note, nil)
}

func (l *Ledger) Balance(ctx context.Context, userID int64) (int64, error) {
	var balance int64
	err := l.Store.InTx(ctx, func(tx orders.Tx) error {
		u, err := tx.GetUser(ctx, userID, false)
		if errors.Is(err, orders.ErrNotFound) {
			return ErrUserNotFound
		}
		balance = u.WalletBalance
		return err
	})
	return balance, err
}

// History lists the user's entries, newest first. limit <= 0 means all.
func (l *Ledger) History(ctx context.Context, userID int64, limit int) ([]orders.WalletTx, error) {
	var out []orders.WalletTx
	err := l.Store.InTx(ctx, func(tx orders.Tx) error {
		var err error
		out, err = tx.ListWalletTx(ctx, userID, limit)
		return err
	})
	return out, err
}

// OrderHistory lists the entries tied to one order, oldest first.
func (l *Ledger) OrderHistory(ctx context.Context, orderID int64) ([]orders.WalletTx, error) {
	var out []orders.WalletTx
	err := l.Store.InTx(ctx, func(tx orders.Tx) error {
		var err error
		out, err = tx.ListOrderWalletTx(ctx, orderID)
		return err
	})
	return out, err
}

type Reconciliation struct {
	UserID  int64 `json:"user_id"`
	Stored  int64 `json:"stored"`
	FromLog int64 `json:"from_log"`
}

func (r Reconciliation) Drift() int64 { return r.Stored - r.FromLog }

func (r Reconciliation) Consistent() bool { return r.Drift() == 0 }

// Reconcile recomputes the balance from the log and compares it with the
// stored projection.
func (l *Ledger) Reconcile(ctx context.Context, userID int64) (Reconciliation, error) {
	rec := Reconciliation{UserID: userID}
	err := l.Store.InTx(ctx, func(tx orders.Tx) error {
		u, err := tx.GetUser(ctx, userID, true)
		if errors.Is(err, orders.ErrNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}
		rec.Stored = u.WalletBalance
		rec.FromLog, err = tx.SumWalletTx(ctx, userID)
		return err
	})
	if err == nil && !rec.Consistent() {
		l.Log.Error().Int64("user_id", userID).Int64("stored", rec.Stored).Int64("from_log", rec.FromLog).
			Msg("wallet projection drift")
	}
	return rec, err
}

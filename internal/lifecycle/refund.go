package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-ledger/internal/orders"
	"github.com/ariefcatur/go-storefront-ledger/internal/wallet"
)

// refundTx returns every wallet amount held by the order and zeroes it.
// When withCard is set and a receipt is on file, the payable part the wallet
// did not cover is credited too, since card money cannot be reversed.
func refundTx(ctx context.Context, tx orders.Tx, o *orders.Order, withCard bool, now time.Time) (walletPart, cardPart int64, err error) {
	reserved, used := o.WalletReservedAmount, o.WalletUsedAmount
	id := o.ID

	if reserved > 0 {
		if _, _, err := wallet.Apply(ctx, tx, wallet.Entry{
			UserID: o.UserID, Delta: reserved, Type: orders.TxRefund,
			Note: fmt.Sprintf("REFUND:ORDER:%d:RESERVED", id), OrderID: &id,
		}, now); err != nil {
			return 0, 0, fmt.Errorf("refund reserved: %w", err)
		}
		o.WalletReservedAmount = 0
	}
	if used > 0 {
		if _, _, err := wallet.Apply(ctx, tx, wallet.Entry{
			UserID: o.UserID, Delta: used, Type: orders.TxRefund,
			Note: fmt.Sprintf("REFUND:ORDER:%d:USED", id), OrderID: &id,
		}, now); err != nil {
			return 0, 0, fmt.Errorf("refund used: %w", err)
		}
		o.WalletUsedAmount = 0
	}

	if withCard && o.HasReceipt() {
		if card := o.Payable() - reserved - used; card > 0 {
			if _, _, err := wallet.Apply(ctx, tx, wallet.Entry{
				UserID: o.UserID, Delta: card, Type: orders.TxCredit,
				Note: fmt.Sprintf("REFUND:ORDER:%d:CARD", id), OrderID: &id,
			}, now); err != nil {
				return 0, 0, fmt.Errorf("credit card part: %w", err)
			}
			cardPart = card
		}
	}
	return reserved + used, cardPart, nil
}

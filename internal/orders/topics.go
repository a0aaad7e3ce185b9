package orders

import "strconv"

const (
	TopicOrderCreated  = "storefront.order.created"
	TopicOrderStatus   = "storefront.order.status"
	TopicOrderExpired  = "storefront.order.expired"
	TopicWalletChanged = "storefront.wallet.changed"
	TopicPromoRedeemed = "storefront.promo.redeemed"
	TopicManagerMsg    = "storefront.order.message"
)

// AllTopics is what the notifier subscribes to.
var AllTopics = []string{
	TopicOrderCreated, TopicOrderStatus, TopicOrderExpired,
	TopicWalletChanged, TopicPromoRedeemed, TopicManagerMsg,
}

// Partition key = order_id, supaya semua event 1 order maintain urutan.
// Wallet-only events fall back to the user id.
func PartitionKey(orderID int64) []byte { return []byte(strconv.FormatInt(orderID, 10)) }

func UserPartitionKey(userID int64) []byte { return []byte("user:" + strconv.FormatInt(userID, 10)) }

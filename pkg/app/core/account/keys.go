package account

import (
	"fmt"

	"github.com/uhyunpark/hypermarket/pkg/app/core/orderbook"
)

// Pebble key schema
//
//	acc:{accountID}                       → account State (JSON)
//	trade:{location}:{item}:{seq}         → ledger.Transaction (JSON)
//	order:{location}:{item}:{id}          → live orderbook.Order (JSON)
//	meta:trade_seq, meta:order_seq        → uint64 high-water marks
//
// seq and id are zero-padded (20 digits) so a prefix scan returns trades in
// execution order and orders in placement order.
const (
	prefixAccount = "acc:"
	prefixTrade   = "trade:"
	prefixOrder   = "order:"
	keyTradeSeq   = "meta:trade_seq"
	keyOrderSeq   = "meta:order_seq"
)

// accountKey returns the key for an account
// Format: "acc:{accountID}"
func accountKey(id orderbook.AccountID) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixAccount, id))
}

// tradeKey returns the key for a trade
// Format: "trade:{location}:{item}:{seq}"
func tradeKey(key orderbook.Key, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%020d", prefixTrade, key.Location, key.Item, seq))
}

// tradePrefix returns the prefix for all trades of one book
// Format: "trade:{location}:{item}:"
func tradePrefix(key orderbook.Key) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:", prefixTrade, key.Location, key.Item))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

// orderKey returns the key for a live order
// Format: "order:{location}:{item}:{id}"
func orderKey(o orderbook.Order) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%020d", prefixOrder, o.Location, o.Item, o.ID))
}

func lastTradeSeqKey() []byte { return []byte(keyTradeSeq) }

func lastOrderIDKey() []byte { return []byte(keyOrderSeq) }

package market

import (
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/hypermarket/pkg/app/core/orderbook"
)

type (
	OrderID    = orderbook.OrderID
	AccountID  = orderbook.AccountID
	LocationID = orderbook.LocationID
	ItemID     = orderbook.ItemID
	Side       = orderbook.Side
)

const (
	Buy  = orderbook.Buy
	Sell = orderbook.Sell
)

// Wallet is the ISK side of an account.
type Wallet interface {
	Balance() decimal.Decimal
	// Withdraw debits amount, or returns false and changes nothing.
	Withdraw(amount decimal.Decimal) bool
	Deposit(amount decimal.Decimal)
}

// Inventory is the item side of an account.
type Inventory interface {
	QuantityOf(item ItemID) int64
	// Remove takes qty units, or returns false and changes nothing.
	Remove(item ItemID, qty int64) bool
	Add(item ItemID, qty int64)
}

// Account is any participant that can pay and hold items.
type Account interface {
	ID() AccountID
	Wallet
	Inventory
}

// Directory resolves the owners of resting orders at call time. The market
// never keeps account references between calls.
type Directory interface {
	Lookup(id AccountID) (Account, bool)
}

// DirectoryFunc adapts a lookup function to Directory.
type DirectoryFunc func(id AccountID) (Account, bool)

func (f DirectoryFunc) Lookup(id AccountID) (Account, bool) { return f(id) }

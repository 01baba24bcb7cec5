package orderbook

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type (
	OrderID    uint64
	AccountID  string
	LocationID string
	ItemID     string
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the side an aggressor on s trades against.
func (s Side) Opposite() Side { return -s }

func (s Side) Valid() bool { return s == Buy || s == Sell }

// Status is the lifecycle state of an order. Transitions only move forward:
// Open -> PartiallyFilled -> Filled, and any live state -> Cancelled | Expired.
type Status int8

const (
	Open Status = iota
	PartiallyFilled
	Filled
	Cancelled
	Expired
)

func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Live reports whether an order in this state still rests on a book.
func (s Status) Live() bool { return s == Open || s == PartiallyFilled }

// Key identifies one book.
type Key struct {
	Location LocationID
	Item     ItemID
}

func (k Key) String() string { return fmt.Sprintf("%s/%s", k.Location, k.Item) }

type Order struct {
	ID       OrderID
	Location LocationID
	Item     ItemID
	Side     Side
	Owner    AccountID

	Price     decimal.Decimal
	Quantity  int64 // original size
	Remaining int64 // unfilled size, only ever decreases

	IssuedAt time.Time
	Duration time.Duration

	Status Status
}

func (o *Order) Key() Key { return Key{Location: o.Location, Item: o.Item} }

func (o *Order) ExpiresAt() time.Time { return o.IssuedAt.Add(o.Duration) }

// ExpiredAt reports whether the TTL has elapsed at now (inclusive).
func (o *Order) ExpiredAt(now time.Time) bool { return !now.Before(o.ExpiresAt()) }

// Filled returns how much of the order has traded.
func (o *Order) Filled() int64 { return o.Quantity - o.Remaining }

// fill takes qty off the order. Callers guarantee 0 < qty <= Remaining.
func (o *Order) fill(qty int64) {
	if qty <= 0 || qty > o.Remaining {
		panic(fmt.Sprintf("orderbook: fill %d on order %d with %d remaining", qty, o.ID, o.Remaining))
	}
	o.Remaining -= qty
	if o.Remaining == 0 {
		o.Status = Filled
	} else {
		o.Status = PartiallyFilled
	}
}

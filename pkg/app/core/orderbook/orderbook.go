package orderbook

import (
	"iter"
	"time"

	"github.com/google/btree"
	"github.com/shopspring/decimal"
)

const btreeDegree = 16

// bookSide keeps price levels ordered best-first: Min() is always the level
// an aggressor trades against next.
type bookSide struct {
	levels *btree.BTreeG[*PriceLevel]
	better btree.LessFunc[*PriceLevel]
	best   *PriceLevel
}

func newBookSide(s Side) *bookSide {
	var less btree.LessFunc[*PriceLevel] = func(a, b *PriceLevel) bool { return a.price.LessThan(b.price) }
	if s == Buy {
		less = func(a, b *PriceLevel) bool { return a.price.GreaterThan(b.price) }
	}
	return &bookSide{levels: btree.NewG(btreeDegree, less), better: less}
}

func (bs *bookSide) level(price decimal.Decimal) (*PriceLevel, bool) {
	return bs.levels.Get(&PriceLevel{price: price})
}

func (bs *bookSide) upsert(price decimal.Decimal) *PriceLevel {
	if lvl, ok := bs.level(price); ok {
		return lvl
	}
	lvl := &PriceLevel{price: price}
	bs.levels.ReplaceOrInsert(lvl)
	if bs.best == nil || bs.better(lvl, bs.best) {
		bs.best = lvl
	}
	return lvl
}

func (bs *bookSide) drop(lvl *PriceLevel) {
	bs.levels.Delete(lvl)
	if lvl == bs.best {
		bs.best, _ = bs.levels.Min()
	}
}

type expiryEntry struct {
	at time.Time
	id OrderID
}

func expiryLess(a, b expiryEntry) bool {
	if !a.at.Equal(b.at) {
		return a.at.Before(b.at)
	}
	return a.id < b.id
}

// Book holds the live orders of one (location, item) pair. It is not safe for
// concurrent use; the market service serialises access per location.
type Book struct {
	key    Key
	buys   *bookSide
	sells  *bookSide
	orders map[OrderID]*Order
	expiry *btree.BTreeG[expiryEntry]
	filled []*Order // orders driven to zero since the last purge
}

func NewBook(key Key) *Book {
	return &Book{
		key:    key,
		buys:   newBookSide(Buy),
		sells:  newBookSide(Sell),
		orders: make(map[OrderID]*Order),
		expiry: btree.NewG(btreeDegree, expiryLess),
	}
}

func (b *Book) Key() Key { return b.key }

func (b *Book) side(s Side) *bookSide {
	if s == Buy {
		return b.buys
	}
	return b.sells
}

// Insert places o behind every order at the same or a better price.
func (b *Book) Insert(o *Order) {
	b.side(o.Side).upsert(o.Price).push(o)
	b.orders[o.ID] = o
	b.expiry.ReplaceOrInsert(expiryEntry{at: o.ExpiresAt(), id: o.ID})
}

// BestSell returns the lowest-priced, earliest sell order.
func (b *Book) BestSell() (*Order, bool) { return b.best(b.sells) }

// BestBuy returns the highest-priced, earliest buy order.
func (b *Book) BestBuy() (*Order, bool) { return b.best(b.buys) }

func (b *Book) best(bs *bookSide) (*Order, bool) {
	if bs.best == nil {
		return nil, false
	}
	return bs.best.orders[0], true
}

// Walk visits resting orders on side s in matching priority: best price
// first, FIFO within a price. It stops when fn returns false. fn must not
// mutate the book.
func (b *Book) Walk(s Side, fn func(o *Order) bool) {
	b.side(s).levels.Ascend(func(lvl *PriceLevel) bool {
		for _, o := range lvl.orders {
			if !fn(o) {
				return false
			}
		}
		return true
	})
}

// Orders returns side s in matching priority.
func (b *Book) Orders(s Side) []*Order {
	var out []*Order
	b.Walk(s, func(o *Order) bool {
		out = append(out, o)
		return true
	})
	return out
}

// Levels returns aggregated depth for side s, best price first.
func (b *Book) Levels(s Side) []LevelView {
	var out []LevelView
	b.side(s).levels.Ascend(func(lvl *PriceLevel) bool {
		out = append(out, lvl.view())
		return true
	})
	return out
}

func (b *Book) Get(id OrderID) (*Order, bool) {
	o, ok := b.orders[id]
	return o, ok
}

// Fill takes qty off a resting order. Orders that reach zero stay in place
// until PurgeFilled.
func (b *Book) Fill(o *Order, qty int64) {
	lvl, ok := b.side(o.Side).level(o.Price)
	if !ok {
		panic("orderbook: fill on order without a price level")
	}
	o.fill(qty)
	lvl.volume -= qty
	if o.Remaining == 0 {
		b.filled = append(b.filled, o)
	}
}

// PurgeFilled removes every order whose remaining size is zero and returns them.
func (b *Book) PurgeFilled() []*Order {
	if len(b.filled) == 0 {
		return nil
	}
	out := b.filled
	b.filled = nil
	for _, o := range out {
		b.unlink(o)
	}
	return out
}

// Remove takes the order off the book regardless of its remaining size.
func (b *Book) Remove(id OrderID) (*Order, bool) {
	o, ok := b.orders[id]
	if !ok {
		return nil, false
	}
	b.unlink(o)
	return o, true
}

func (b *Book) unlink(o *Order) {
	bs := b.side(o.Side)
	if lvl, ok := bs.level(o.Price); ok && lvl.remove(o) && lvl.empty() {
		bs.drop(lvl)
	}
	delete(b.orders, o.ID)
	b.expiry.Delete(expiryEntry{at: o.ExpiresAt(), id: o.ID})
}

// Expired yields orders whose IssuedAt+Duration is at or before now, soonest
// expiry first. The book must not be modified while iterating.
func (b *Book) Expired(now time.Time) iter.Seq[*Order] {
	return func(yield func(*Order) bool) {
		b.expiry.Ascend(func(e expiryEntry) bool {
			if e.at.After(now) {
				return false
			}
			return yield(b.orders[e.id])
		})
	}
}

// Len is the number of live orders on both sides.
func (b *Book) Len() int { return len(b.orders) }

func (b *Book) Empty() bool { return len(b.orders) == 0 }

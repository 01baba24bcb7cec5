package orderbook

import "github.com/shopspring/decimal"

// PriceLevel is the FIFO queue of orders resting at one price.
type PriceLevel struct {
	price  decimal.Decimal
	orders []*Order
	volume int64
}

func (l *PriceLevel) push(o *Order) {
	l.orders = append(l.orders, o)
	l.volume += o.Remaining
}

// remove drops o from the queue, keeping the others in arrival order.
func (l *PriceLevel) remove(o *Order) bool {
	for i, cur := range l.orders {
		if cur == o {
			l.orders = append(l.orders[:i], l.orders[i+1:]...)
			l.volume -= o.Remaining
			return true
		}
	}
	return false
}

func (l *PriceLevel) empty() bool { return len(l.orders) == 0 }

// LevelView is an aggregated, read-only view of one price level.
type LevelView struct {
	Price  decimal.Decimal
	Volume int64
	Orders int
}

func (l *PriceLevel) view() LevelView {
	return LevelView{Price: l.price, Volume: l.volume, Orders: len(l.orders)}
}

package market

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/hypermarket/pkg/app/core/orderbook"
)

var one = decimal.NewFromInt(1)

func notional(price decimal.Decimal, qty int64) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(qty))
}

// buyEscrow is what a buy order of qty at price holds: notional plus broker fee.
// It is linear in qty, so partial refunds add up to the original charge.
func (s *Service) buyEscrow(price decimal.Decimal, qty int64) decimal.Decimal {
	return notional(price, qty).Mul(one.Add(s.cfg.BrokerFeeRate))
}

// Escrow reports what an order with the given remaining size holds: ISK for
// buys, units for sells.
func (s *Service) Escrow(o orderbook.Order) (decimal.Decimal, int64) {
	if o.Side == Buy {
		return s.buyEscrow(o.Price, o.Remaining), 0
	}
	return decimal.Zero, o.Remaining
}

// takeEscrow moves the order's collateral out of the account. The check and
// the single debit happen before anything else in PlaceOrder mutates.
func (s *Service) takeEscrow(acct Account, req NewOrder) error {
	switch req.Side {
	case Sell:
		if have := acct.QuantityOf(req.Item); have < req.Quantity {
			return fmt.Errorf("%w: have %d %s, need %d", ErrInsufficientInventory, have, req.Item, req.Quantity)
		}
		if !acct.Remove(req.Item, req.Quantity) {
			return fmt.Errorf("%w: inventory refused removal of %d %s", ErrInsufficientInventory, req.Quantity, req.Item)
		}
	case Buy:
		amount := s.buyEscrow(req.Price, req.Quantity)
		if bal := acct.Balance(); bal.LessThan(amount) {
			return fmt.Errorf("%w: balance %s, escrow %s", ErrInsufficientFunds, bal, amount)
		}
		if !acct.Withdraw(amount) {
			return fmt.Errorf("%w: wallet refused withdrawal of %s", ErrInsufficientFunds, amount)
		}
	}
	return nil
}

// refund returns the escrow still held by o's unfilled remainder to its owner.
func (s *Service) refund(owner Account, o *orderbook.Order) {
	if o.Remaining == 0 {
		return
	}
	if o.Side == Buy {
		owner.Deposit(s.buyEscrow(o.Price, o.Remaining))
		return
	}
	owner.Add(o.Item, o.Remaining)
}

package market

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/hypermarket/pkg/app/core/ledger"
	"github.com/uhyunpark/hypermarket/pkg/app/core/orderbook"
)

// InstantOrder is an immediate trade against the resting orders of one book.
type InstantOrder struct {
	Location LocationID
	Item     ItemID
	Quantity int64
	// Limit caps the worst price accepted: a maximum for InstantBuy, a
	// minimum for InstantSell. Unset means any price.
	Limit decimal.NullDecimal
}

// Fill is one resting order's share of an instant trade.
type Fill struct {
	MakerOrder   OrderID
	Counterparty AccountID
	Price        decimal.Decimal
	Quantity     int64
	Seq          uint64 // ledger sequence of the recorded transaction
}

// Execution summarises a completed instant trade.
type Execution struct {
	Side     Side // side of the instant trader
	Fills    []Fill
	Quantity int64
	Gross    decimal.Decimal // Σ qty_i*price_i
	Tax      decimal.Decimal // sales tax on Gross
	Net      decimal.Decimal // paid by the buyer (Gross+Tax) or received by the seller (Gross-Tax)
}

// AveragePrice is the volume-weighted price before tax.
func (e *Execution) AveragePrice() decimal.Decimal {
	if e.Quantity == 0 {
		return decimal.Zero
	}
	return e.Gross.Div(decimal.NewFromInt(e.Quantity))
}

type tier struct {
	order        *orderbook.Order
	qty          int64
	counterparty Account
}

func (s *Service) validateInstant(acct Account, req InstantOrder) error {
	if acct == nil {
		return fmt.Errorf("%w: nil account", ErrValidation)
	}
	if req.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrValidation, req.Quantity)
	}
	if req.Limit.Valid && !req.Limit.Decimal.IsPositive() {
		return fmt.Errorf("%w: price limit must be positive, got %s", ErrValidation, req.Limit.Decimal)
	}
	return s.registry.Check(req.Location, req.Item)
}

// beyondLimit reports whether a resting order at price is worse than the
// aggressor's limit. against is the resting side being walked.
func beyondLimit(against Side, price decimal.Decimal, limit decimal.NullDecimal) bool {
	if !limit.Valid {
		return false
	}
	if against == Sell {
		return price.GreaterThan(limit.Decimal)
	}
	return price.LessThan(limit.Decimal)
}

// plan is the feasibility pass: it walks the resting side best-first within
// the limit and resolves every counterparty without touching any state. It
// fails unless the whole quantity can be matched.
func (s *Service) plan(book *orderbook.Book, against Side, req InstantOrder) ([]tier, decimal.Decimal, error) {
	var (
		tiers []tier
		gross decimal.Decimal
		need  = req.Quantity
	)
	if book != nil {
		book.Walk(against, func(o *orderbook.Order) bool {
			if beyondLimit(against, o.Price, req.Limit) {
				return false
			}
			take := min(need, o.Remaining)
			tiers = append(tiers, tier{order: o, qty: take})
			gross = gross.Add(notional(o.Price, take))
			need -= take
			return need > 0
		})
	}
	if need > 0 {
		return nil, decimal.Zero, fmt.Errorf("%w: %d of %d %s available at %s",
			ErrLiquidityUnavailable, req.Quantity-need, req.Quantity, req.Item, req.Location)
	}

	for i := range tiers {
		owner := tiers[i].order.Owner
		acct, ok := s.accounts.Lookup(owner)
		if !ok {
			return nil, decimal.Zero, fmt.Errorf("%w: owner %s of order %d", ErrCounterpartyUnavailable, owner, tiers[i].order.ID)
		}
		tiers[i].counterparty = acct
	}
	return tiers, gross, nil
}

// settleFilled purges orders the trade emptied and drops them from their
// owners' open orders.
func (s *Service) settleFilled(sh *shard, book *orderbook.Book) {
	for _, o := range book.PurgeFilled() {
		sh.untrack(o.Owner, o.ID)
		s.unindexOrder(o.ID)
	}
	if book.Empty() {
		delete(sh.books, book.Key().Item)
	}
}

// InstantBuy buys exactly req.Quantity from the cheapest sell orders, or
// nothing at all. The buyer pays Σ qty_i*price_i plus sales tax; each seller
// receives qty_i*price_i.
func (s *Service) InstantBuy(acct Account, req InstantOrder) (*Execution, error) {
	if err := s.validateInstant(acct, req); err != nil {
		return nil, err
	}

	sh := s.shard(req.Location, true)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	book := sh.book(req.Item, false)
	tiers, gross, err := s.plan(book, Sell, req)
	if err != nil {
		return nil, err
	}

	tax := gross.Mul(s.cfg.SalesTaxRate)
	total := gross.Add(tax)
	if bal := acct.Balance(); bal.LessThan(total) {
		return nil, fmt.Errorf("%w: balance %s, cost %s", ErrInsufficientFunds, bal, total)
	}
	// The debit is the only step that can fail; everything after it cannot.
	if !acct.Withdraw(total) {
		return nil, fmt.Errorf("%w: wallet refused withdrawal of %s", ErrInsufficientFunds, total)
	}

	exec := &Execution{Side: Buy, Quantity: req.Quantity, Gross: gross, Tax: tax, Net: total}
	now := s.clock.Now()
	for _, t := range tiers {
		book.Fill(t.order, t.qty)
		t.counterparty.Deposit(notional(t.order.Price, t.qty))
		tx := s.ledger.Record(ledger.Transaction{
			Location:   req.Location,
			Item:       req.Item,
			Quantity:   t.qty,
			UnitPrice:  t.order.Price,
			Buyer:      acct.ID(),
			Seller:     t.order.Owner,
			Timestamp:  now,
			MakerOrder: t.order.ID,
			Aggressor:  Buy,
		})
		exec.Fills = append(exec.Fills, Fill{
			MakerOrder:   t.order.ID,
			Counterparty: t.order.Owner,
			Price:        t.order.Price,
			Quantity:     t.qty,
			Seq:          tx.Seq,
		})
	}
	acct.Add(req.Item, req.Quantity)
	s.settleFilled(sh, book)

	s.log.Debugw("instant_buy", "account", acct.ID(), "location", req.Location, "item", req.Item,
		"qty", req.Quantity, "tiers", len(tiers), "gross", gross, "tax", tax)
	return exec, nil
}

// InstantSell sells exactly req.Quantity into the highest buy orders, or
// nothing at all. The buy orders' escrow pays for the units; the seller
// receives Σ qty_i*price_i less sales tax.
func (s *Service) InstantSell(acct Account, req InstantOrder) (*Execution, error) {
	if err := s.validateInstant(acct, req); err != nil {
		return nil, err
	}
	if have := acct.QuantityOf(req.Item); have < req.Quantity {
		return nil, fmt.Errorf("%w: have %d %s, selling %d", ErrInsufficientInventory, have, req.Item, req.Quantity)
	}

	sh := s.shard(req.Location, true)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	book := sh.book(req.Item, false)
	tiers, gross, err := s.plan(book, Buy, req)
	if err != nil {
		return nil, err
	}

	tax := gross.Mul(s.cfg.SalesTaxRate)
	net := gross.Sub(tax)
	// The removal is the only step that can fail; everything after it cannot.
	if !acct.Remove(req.Item, req.Quantity) {
		return nil, fmt.Errorf("%w: inventory refused removal of %d %s", ErrInsufficientInventory, req.Quantity, req.Item)
	}

	exec := &Execution{Side: Sell, Quantity: req.Quantity, Gross: gross, Tax: tax, Net: net}
	now := s.clock.Now()
	for _, t := range tiers {
		book.Fill(t.order, t.qty)
		t.counterparty.Add(req.Item, t.qty)
		tx := s.ledger.Record(ledger.Transaction{
			Location:   req.Location,
			Item:       req.Item,
			Quantity:   t.qty,
			UnitPrice:  t.order.Price,
			Buyer:      t.order.Owner,
			Seller:     acct.ID(),
			Timestamp:  now,
			MakerOrder: t.order.ID,
			Aggressor:  Sell,
		})
		exec.Fills = append(exec.Fills, Fill{
			MakerOrder:   t.order.ID,
			Counterparty: t.order.Owner,
			Price:        t.order.Price,
			Quantity:     t.qty,
			Seq:          tx.Seq,
		})
	}
	acct.Deposit(net)
	s.settleFilled(sh, book)

	s.log.Debugw("instant_sell", "account", acct.ID(), "location", req.Location, "item", req.Item,
		"qty", req.Quantity, "tiers", len(tiers), "gross", gross, "tax", tax)
	return exec, nil
}

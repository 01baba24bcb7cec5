package market

import (
	"fmt"
	"maps"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/hypermarket/pkg/app/core/orderbook"
)

var two = decimal.NewFromInt(2)

// Quote is the top of one book. Zero means no price is known for that side.
type Quote struct {
	Buy     decimal.Decimal // best bid
	Sell    decimal.Decimal // best ask
	Average decimal.Decimal
}

// GetMarketPrice quotes the best bid and ask of a book. A book with no live
// orders on either side falls back to the item's reference price r, quoted as
// buy 0.9r, sell 1.1r, average r; without one the quote is all zero.
func (s *Service) GetMarketPrice(item ItemID, loc LocationID) (Quote, error) {
	if err := s.registry.Check(loc, item); err != nil {
		return Quote{}, err
	}

	var (
		q               Quote
		hasBuy, hasSell bool
	)
	if sh := s.shard(loc, false); sh != nil {
		sh.mu.RLock()
		if book := sh.book(item, false); book != nil {
			if o, ok := book.BestBuy(); ok {
				q.Buy, hasBuy = o.Price, true
			}
			if o, ok := book.BestSell(); ok {
				q.Sell, hasSell = o.Price, true
			}
		}
		sh.mu.RUnlock()
	}

	switch {
	case hasBuy && hasSell:
		q.Average = q.Buy.Add(q.Sell).Div(two)
	case hasBuy:
		q.Average = q.Buy
	case hasSell:
		q.Average = q.Sell
	default:
		if ref, ok := s.ReferencePrice(item); ok {
			q.Buy = ref.Mul(s.cfg.ReferenceBuyFactor)
			q.Sell = ref.Mul(s.cfg.ReferenceSellFactor)
			q.Average = ref
		}
	}
	return q, nil
}

// InitializeReferencePrices seeds the reference table. Every entry is checked
// before any is applied; existing entries for other items are kept.
func (s *Service) InitializeReferencePrices(prices map[ItemID]decimal.Decimal) error {
	for _, item := range slices.Sorted(maps.Keys(prices)) {
		if !s.registry.HasItem(item) {
			return fmt.Errorf("%w: unknown item %q", ErrValidation, item)
		}
		if p := prices[item]; !p.IsPositive() {
			return fmt.Errorf("%w: reference price of %s must be positive, got %s", ErrValidation, item, p)
		}
	}

	s.refMu.Lock()
	for item, p := range prices {
		s.reference[item] = p
	}
	s.refMu.Unlock()

	s.log.Infow("reference_prices_loaded", "count", len(prices))
	return nil
}

func (s *Service) ReferencePrice(item ItemID) (decimal.Decimal, bool) {
	s.refMu.RLock()
	defer s.refMu.RUnlock()
	p, ok := s.reference[item]
	return p, ok
}

// Depth returns the aggregated price levels of a book, best first.
func (s *Service) Depth(loc LocationID, item ItemID) (buys, sells []orderbook.LevelView, err error) {
	if err := s.registry.Check(loc, item); err != nil {
		return nil, nil, err
	}
	sh := s.shard(loc, false)
	if sh == nil {
		return nil, nil, nil
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	book := sh.book(item, false)
	if book == nil {
		return nil, nil, nil
	}
	return book.Levels(Buy), book.Levels(Sell), nil
}

package sim

import (
	"fmt"
	"math/rand"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/hypermarket/pkg/app/core/market"
)

// Kind is what an NPC trader wants to do next.
type Kind int

const (
	PlaceLimit Kind = iota
	CancelOne
	BuyNow
	SellNow
)

func (k Kind) String() string {
	switch k {
	case PlaceLimit:
		return "place"
	case CancelOne:
		return "cancel"
	case BuyNow:
		return "instant_buy"
	case SellNow:
		return "instant_sell"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Intent is one randomly drawn NPC action. Prices are resolved against the
// live quote when the intent is applied.
type Intent struct {
	Kind     Kind
	Trader   market.AccountID
	Location market.LocationID
	Item     market.ItemID
	Side     market.Side
	Quantity int64
}

// Generator creates random trading intents for simulated traders
type Generator struct {
	traders   []market.AccountID
	locations []market.LocationID
	items     []market.ItemID
	rng       *rand.Rand
}

// NewGenerator creates a generator; equal seeds replay equal intents.
func NewGenerator(traders []market.AccountID, locations []market.LocationID, items []market.ItemID, seed int64) *Generator {
	return &Generator{
		traders:   traders,
		locations: locations,
		items:     items,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// TraderIDs returns npc_1..npc_n.
func TraderIDs(n int) []market.AccountID {
	ids := make([]market.AccountID, n)
	for i := range n {
		ids[i] = market.AccountID(fmt.Sprintf("npc_%d", i+1))
	}
	return ids
}

// Next draws an intent: 70% limit orders, 10% cancels, 20% instant trades.
func (g *Generator) Next() Intent {
	in := Intent{
		Trader:   g.traders[g.rng.Intn(len(g.traders))],
		Location: g.locations[g.rng.Intn(len(g.locations))],
		Item:     g.items[g.rng.Intn(len(g.items))],
		Side:     market.Buy,
		Quantity: int64(g.rng.Intn(100) + 1),
	}
	if g.rng.Intn(2) == 1 {
		in.Side = market.Sell
	}

	switch r := g.rng.Intn(100); {
	case r < 70:
		in.Kind = PlaceLimit
	case r < 80:
		in.Kind = CancelOne
	case in.Side == market.Buy:
		in.Kind = BuyNow
	default:
		in.Kind = SellNow
	}
	return in
}

// Batch draws count intents.
func (g *Generator) Batch(count int) []Intent {
	batch := make([]Intent, count)
	for i := range batch {
		batch[i] = g.Next()
	}
	return batch
}

// PriceAround picks a limit price on the passive side of mid: up to spread
// below it for buys, up to spread above it for sells. Prices are rounded to
// cents and never drop below one cent.
func (g *Generator) PriceAround(mid decimal.Decimal, side market.Side, spread decimal.Decimal) decimal.Decimal {
	// 0..100 steps of 1% of the spread
	off := spread.Mul(decimal.New(int64(g.rng.Intn(101)), -2))
	factor := decimal.NewFromInt(1).Add(off)
	if side == market.Buy {
		factor = decimal.NewFromInt(1).Sub(off)
	}
	price := mid.Mul(factor).Round(2)
	if floor := decimal.New(1, -2); price.LessThan(floor) {
		return floor
	}
	return price
}

// Pick returns a random index below n.
func (g *Generator) Pick(n int) int { return g.rng.Intn(n) }

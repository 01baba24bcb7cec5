// Package sim runs NPC traders that keep the market's books populated.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/hypermarket/pkg/app/core/account"
	"github.com/uhyunpark/hypermarket/pkg/app/core/market"
	"github.com/uhyunpark/hypermarket/pkg/util"
)

// Config controls how many NPCs trade and how fast.
type Config struct {
	Traders   int
	BatchSize int           // intents per tick
	Interval  time.Duration // tick period
	Spread    decimal.Decimal
	OrderTTL  time.Duration
	Locations []market.LocationID
	Items     []market.ItemID
	// Starting wallet and per-item hangar of every NPC.
	StartingBalance decimal.Decimal
	StartingUnits   int64
	Seed            int64
}

// DefaultConfig returns reasonable defaults for a devnet
func DefaultConfig() Config {
	return Config{
		Traders:         8,
		BatchSize:       5,
		Interval:        250 * time.Millisecond,
		Spread:          decimal.RequireFromString("0.05"),
		OrderTTL:        10 * time.Minute,
		StartingBalance: decimal.NewFromInt(50_000_000),
		StartingUnits:   100_000,
		Seed:            1,
	}
}

// Stats counts applied intents.
type Stats struct {
	Ticks     int64
	Placed    int64
	Cancelled int64
	Trades    int64
	Rejected  int64
}

// Feeder drives a Generator against a market.Service.
type Feeder struct {
	cfg      Config
	svc      *market.Service
	accounts *account.Manager
	gen      *Generator
	clock    util.Clock
	log      *zap.SugaredLogger

	ticks, placed, cancelled, trades, rejected atomic.Int64
}

// NewFeeder opens and stocks the NPC accounts.
func NewFeeder(cfg Config, svc *market.Service, accounts *account.Manager, clock util.Clock, log *zap.SugaredLogger) (*Feeder, error) {
	if cfg.Traders <= 0 || cfg.BatchSize <= 0 || cfg.Interval <= 0 {
		return nil, fmt.Errorf("sim: traders, batch size and interval must be positive")
	}
	if len(cfg.Locations) == 0 || len(cfg.Items) == 0 {
		return nil, fmt.Errorf("sim: no locations or items to trade")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	traders := TraderIDs(cfg.Traders)
	for _, id := range traders {
		acc, err := accounts.Open(id)
		if err != nil {
			return nil, err
		}
		// Stock only fresh accounts; persisted NPCs keep their state.
		if acc.Balance().IsZero() && len(acc.Items()) == 0 {
			acc.Deposit(cfg.StartingBalance)
			for _, item := range cfg.Items {
				acc.Add(item, cfg.StartingUnits)
			}
		}
	}

	return &Feeder{
		cfg:      cfg,
		svc:      svc,
		accounts: accounts,
		gen:      NewGenerator(traders, cfg.Locations, cfg.Items, cfg.Seed),
		clock:    clock,
		log:      log,
	}, nil
}

// Run applies a batch every Interval until ctx is cancelled.
func (f *Feeder) Run(ctx context.Context) error {
	f.log.Infow("npc_feeder_started", "traders", f.cfg.Traders, "batch", f.cfg.BatchSize, "interval", f.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			st := f.Stats()
			f.log.Infow("npc_feeder_stopped", "ticks", st.Ticks, "placed", st.Placed,
				"cancelled", st.Cancelled, "trades", st.Trades, "rejected", st.Rejected)
			return nil
		case <-f.clock.After(f.cfg.Interval):
			f.Step()
		}
	}
}

// Step applies one batch of intents.
func (f *Feeder) Step() {
	for _, in := range f.gen.Batch(f.cfg.BatchSize) {
		if err := f.apply(in); err != nil {
			f.rejected.Add(1)
			f.log.Debugw("npc_intent_rejected", "trader", in.Trader, "kind", in.Kind,
				"location", in.Location, "item", in.Item, "err", err)
		}
	}
	if n := f.ticks.Add(1); n%100 == 0 {
		st := f.Stats()
		f.log.Infow("npc_feeder_stats", "ticks", n, "placed", st.Placed, "trades", st.Trades, "rejected", st.Rejected)
	}
}

var errNoPrice = errors.New("no market or reference price")

func (f *Feeder) apply(in Intent) error {
	acc, ok := f.accounts.Get(in.Trader)
	if !ok {
		return fmt.Errorf("npc account %s missing", in.Trader)
	}

	if in.Kind == CancelOne {
		open := f.svc.OpenOrders(acc.ID())
		if len(open) == 0 {
			return nil
		}
		if err := f.svc.CancelOrder(acc, open[f.gen.Pick(len(open))]); err != nil {
			return err
		}
		f.cancelled.Add(1)
		return nil
	}

	q, err := f.svc.GetMarketPrice(in.Item, in.Location)
	if err != nil {
		return err
	}
	if q.Average.IsZero() {
		return errNoPrice
	}
	one := decimal.NewFromInt(1)

	switch in.Kind {
	case PlaceLimit:
		_, err := f.svc.PlaceOrder(acc, market.NewOrder{
			Location: in.Location,
			Item:     in.Item,
			Side:     in.Side,
			Price:    f.gen.PriceAround(q.Average, in.Side, f.cfg.Spread),
			Quantity: in.Quantity,
			Now:      f.clock.Now(),
			Duration: f.cfg.OrderTTL,
		})
		if err != nil {
			return err
		}
		f.placed.Add(1)
	case BuyNow:
		limit := decimal.NewNullDecimal(q.Average.Mul(one.Add(f.cfg.Spread)))
		if _, err := f.svc.InstantBuy(acc, market.InstantOrder{Location: in.Location, Item: in.Item, Quantity: in.Quantity, Limit: limit}); err != nil {
			return err
		}
		f.trades.Add(1)
	case SellNow:
		limit := decimal.NewNullDecimal(q.Average.Mul(one.Sub(f.cfg.Spread)))
		if _, err := f.svc.InstantSell(acc, market.InstantOrder{Location: in.Location, Item: in.Item, Quantity: in.Quantity, Limit: limit}); err != nil {
			return err
		}
		f.trades.Add(1)
	}
	return nil
}

func (f *Feeder) Stats() Stats {
	return Stats{
		Ticks:     f.ticks.Load(),
		Placed:    f.placed.Load(),
		Cancelled: f.cancelled.Load(),
		Trades:    f.trades.Load(),
		Rejected:  f.rejected.Load(),
	}
}

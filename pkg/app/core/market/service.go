// Package market is the station market: order lifecycle with escrow,
// all-or-nothing instant trades against standing orders, and price quotes.
//
// State is sharded by location. Every order, trade and escrow movement stays
// inside one location, so each operation locks exactly one shard and
// operations on different locations run in parallel.
package market

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/hypermarket/pkg/app/core/ledger"
	"github.com/uhyunpark/hypermarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/hypermarket/pkg/util"
)

// Config holds the economic parameters of the market.
type Config struct {
	// BrokerFeeRate is charged on top of a buy order's notional when it is
	// placed (escrowed with it, refunded pro rata on cancel/expiry).
	BrokerFeeRate decimal.Decimal
	// SalesTaxRate is charged on instant trades: added to the buyer's cost on
	// an instant buy, taken from the seller's revenue on an instant sell.
	SalesTaxRate decimal.Decimal
	// DefaultDuration is the TTL used when an order doesn't specify one.
	DefaultDuration time.Duration
	// Reference quotes for books without live orders.
	ReferenceBuyFactor  decimal.Decimal
	ReferenceSellFactor decimal.Decimal
}

func DefaultConfig() Config {
	return Config{
		BrokerFeeRate:       decimal.RequireFromString("0.03"),
		SalesTaxRate:        decimal.RequireFromString("0.02"),
		DefaultDuration:     24 * time.Hour,
		ReferenceBuyFactor:  decimal.RequireFromString("0.9"),
		ReferenceSellFactor: decimal.RequireFromString("1.1"),
	}
}

func (c Config) Validate() error {
	if c.BrokerFeeRate.IsNegative() {
		return fmt.Errorf("broker fee rate must not be negative: %s", c.BrokerFeeRate)
	}
	if c.SalesTaxRate.IsNegative() || c.SalesTaxRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("sales tax rate must be in [0, 1): %s", c.SalesTaxRate)
	}
	if c.DefaultDuration <= 0 {
		return fmt.Errorf("default order duration must be positive: %s", c.DefaultDuration)
	}
	if !c.ReferenceBuyFactor.IsPositive() || !c.ReferenceSellFactor.IsPositive() {
		return fmt.Errorf("reference quote factors must be positive")
	}
	return nil
}

// Deps are the collaborators a Service is built from.
type Deps struct {
	Registry *Registry
	Accounts Directory
	Ledger   *ledger.Ledger     // defaults to an in-memory ledger
	Clock    util.Clock         // timestamps ledger entries; defaults to RealClock
	Logger   *zap.SugaredLogger // defaults to a no-op logger
	// FirstOrderID seeds the order id sequence; ids start at FirstOrderID+1.
	FirstOrderID uint64
}

// shard is all market state of one location.
type shard struct {
	mu     sync.RWMutex
	loc    LocationID
	books  map[ItemID]*orderbook.Book
	active map[AccountID]map[OrderID]struct{}
}

func newShard(loc LocationID) *shard {
	return &shard{
		loc:    loc,
		books:  make(map[ItemID]*orderbook.Book),
		active: make(map[AccountID]map[OrderID]struct{}),
	}
}

func (sh *shard) book(item ItemID, create bool) *orderbook.Book {
	b, ok := sh.books[item]
	if !ok && create {
		b = orderbook.NewBook(orderbook.Key{Location: sh.loc, Item: item})
		sh.books[item] = b
	}
	return b
}

// sortedBooks returns the shard's books ordered by item so sweeps are deterministic.
func (sh *shard) sortedBooks() []*orderbook.Book {
	items := make([]ItemID, 0, len(sh.books))
	for item := range sh.books {
		items = append(items, item)
	}
	slices.Sort(items)
	out := make([]*orderbook.Book, len(items))
	for i, item := range items {
		out[i] = sh.books[item]
	}
	return out
}

func (sh *shard) track(owner AccountID, id OrderID) {
	set, ok := sh.active[owner]
	if !ok {
		set = make(map[OrderID]struct{})
		sh.active[owner] = set
	}
	set[id] = struct{}{}
}

func (sh *shard) untrack(owner AccountID, id OrderID) {
	set := sh.active[owner]
	delete(set, id)
	if len(set) == 0 {
		delete(sh.active, owner)
	}
}

// Service owns every book, the order id sequence and the reference price
// table. Construct one per process and share it.
type Service struct {
	cfg      Config
	registry *Registry
	accounts Directory
	ledger   *ledger.Ledger
	clock    util.Clock
	ids      *util.Sequencer
	log      *zap.SugaredLogger

	mu     sync.RWMutex
	shards map[LocationID]*shard

	// index and reference are leaf locks: never held while taking a shard lock.
	indexMu sync.RWMutex
	index   map[OrderID]orderbook.Key

	refMu     sync.RWMutex
	reference map[ItemID]decimal.Decimal
}

func NewService(cfg Config, deps Deps) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Registry == nil {
		return nil, errors.New("market: registry is required")
	}
	if deps.Accounts == nil {
		return nil, errors.New("market: account directory is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	if deps.Ledger == nil {
		deps.Ledger = ledger.New(deps.Logger, nil)
	}
	if deps.Clock == nil {
		deps.Clock = util.RealClock{}
	}

	return &Service{
		cfg:       cfg,
		registry:  deps.Registry,
		accounts:  deps.Accounts,
		ledger:    deps.Ledger,
		clock:     deps.Clock,
		ids:       util.NewSequencer(deps.FirstOrderID),
		log:       deps.Logger,
		shards:    make(map[LocationID]*shard),
		index:     make(map[OrderID]orderbook.Key),
		reference: make(map[ItemID]decimal.Decimal),
	}, nil
}

func (s *Service) Config() Config { return s.cfg }

func (s *Service) Ledger() *ledger.Ledger { return s.ledger }

func (s *Service) Registry() *Registry { return s.registry }

func (s *Service) shard(loc LocationID, create bool) *shard {
	s.mu.RLock()
	sh, ok := s.shards[loc]
	s.mu.RUnlock()
	if ok || !create {
		return sh
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sh, ok := s.shards[loc]; ok {
		return sh
	}
	sh = newShard(loc)
	s.shards[loc] = sh
	return sh
}

// shardList snapshots the shards in location order.
func (s *Service) shardList() []*shard {
	s.mu.RLock()
	out := make([]*shard, 0, len(s.shards))
	for _, sh := range s.shards {
		out = append(out, sh)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b *shard) int { return cmp.Compare(a.loc, b.loc) })
	return out
}

func (s *Service) indexOrder(id OrderID, key orderbook.Key) {
	s.indexMu.Lock()
	s.index[id] = key
	s.indexMu.Unlock()
}

func (s *Service) unindexOrder(id OrderID) {
	s.indexMu.Lock()
	delete(s.index, id)
	s.indexMu.Unlock()
}

func (s *Service) locate(id OrderID) (orderbook.Key, bool) {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()
	key, ok := s.index[id]
	return key, ok
}

// retire takes a live order off its book for good and drops it from the
// owner's open orders.
func (s *Service) retire(sh *shard, book *orderbook.Book, o *orderbook.Order, status orderbook.Status) {
	book.Remove(o.ID)
	o.Status = status
	sh.untrack(o.Owner, o.ID)
	s.unindexOrder(o.ID)
}

// Order returns a copy of a live order.
func (s *Service) Order(id OrderID) (orderbook.Order, bool) {
	key, ok := s.locate(id)
	if !ok {
		return orderbook.Order{}, false
	}
	sh := s.shard(key.Location, false)
	if sh == nil {
		return orderbook.Order{}, false
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	book := sh.book(key.Item, false)
	if book == nil {
		return orderbook.Order{}, false
	}
	o, ok := book.Get(id)
	if !ok {
		return orderbook.Order{}, false
	}
	return *o, true
}

// OpenOrders lists the ids of an account's live orders across all locations, ascending.
func (s *Service) OpenOrders(owner AccountID) []OrderID {
	var out []OrderID
	for _, sh := range s.shardList() {
		sh.mu.RLock()
		for id := range sh.active[owner] {
			out = append(out, id)
		}
		sh.mu.RUnlock()
	}
	slices.Sort(out)
	return out
}

package market

import (
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/hypermarket/pkg/app/core/account"
	"github.com/uhyunpark/hypermarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/hypermarket/pkg/util"
)

const (
	jita      LocationID = "jita-4-4"
	amarr     LocationID = "amarr-viii"
	tritanium ItemID     = "tritanium"
	pyerite   ItemID     = "pyerite"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// tb is the part of testing.TB that rapid.T also provides.
type tb interface {
	Helper()
	Fatalf(format string, args ...any)
}

func isk(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

type fixture struct {
	svc      *Service
	accounts *account.Manager
	hidden   map[AccountID]bool
}

func newFixture(t tb) *fixture {
	t.Helper()
	reg := NewRegistry()
	for _, loc := range []LocationID{jita, amarr} {
		if err := reg.RegisterLocation(loc); err != nil {
			t.Fatalf("register location: %v", err)
		}
	}
	for _, item := range []ItemID{tritanium, pyerite} {
		if err := reg.RegisterItem(item); err != nil {
			t.Fatalf("register item: %v", err)
		}
	}

	f := &fixture{
		accounts: account.NewManager(nil, nil),
		hidden:   make(map[AccountID]bool),
	}
	dir := DirectoryFunc(func(id AccountID) (Account, bool) {
		if f.hidden[id] {
			return nil, false
		}
		acc, ok := f.accounts.Get(id)
		if !ok {
			return nil, false
		}
		return acc, true
	})

	svc, err := NewService(DefaultConfig(), Deps{
		Registry: reg,
		Accounts: dir,
		Clock:    util.FixedClock{T: t0},
		Logger:   zap.NewNop().Sugar(),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	f.svc = svc
	return f
}

// trader opens an account holding balance ISK and the given items.
func (f *fixture) trader(t tb, id AccountID, balance int64, items map[ItemID]int64) *account.Account {
	t.Helper()
	acc, err := f.accounts.Open(id)
	if err != nil {
		t.Fatalf("open %s: %v", id, err)
	}
	if balance > 0 {
		acc.Deposit(isk(balance))
	}
	for item, qty := range items {
		acc.Add(item, qty)
	}
	return acc
}

func (f *fixture) place(t tb, acc Account, side Side, item ItemID, price, qty int64) OrderID {
	t.Helper()
	id, err := f.svc.PlaceOrder(acc, NewOrder{
		Location: jita,
		Item:     item,
		Side:     side,
		Price:    isk(price),
		Quantity: qty,
		Now:      t0,
	})
	if err != nil {
		t.Fatalf("place %s %d %s @%d: %v", side, qty, item, price, err)
	}
	return id
}

// dump renders every account, every book and the ledger length, so two dumps
// compare equal only if nothing observable changed.
func (f *fixture) dump() string {
	var out string
	for _, acc := range f.accounts.List() {
		out += fmt.Sprintf("%v\n", acc.Snapshot())
	}
	for _, loc := range f.svc.Registry().Locations() {
		for _, item := range f.svc.Registry().Items() {
			buys, sells, _ := f.svc.Depth(loc, item)
			out += fmt.Sprintf("%s/%s buys=%v sells=%v\n", loc, item, buys, sells)
		}
	}
	return out + fmt.Sprintf("ledger=%d", f.svc.Ledger().Len())
}

func wantBalance(t *testing.T, acc *account.Account, want decimal.Decimal) {
	t.Helper()
	if !acc.Balance().Equal(want) {
		t.Errorf("%s balance = %s, want %s", acc.ID(), acc.Balance(), want)
	}
}

func TestInstantBuyPartialFill(t *testing.T) {
	f := newFixture(t)
	seller := f.trader(t, "seller", 0, map[ItemID]int64{tritanium: 1000})
	buyer := f.trader(t, "buyer", 10_000_000, nil)

	id := f.place(t, seller, Sell, tritanium, 100, 1000)

	exec, err := f.svc.InstantBuy(buyer, InstantOrder{Location: jita, Item: tritanium, Quantity: 500})
	if err != nil {
		t.Fatalf("instant buy: %v", err)
	}

	if !exec.Net.Equal(isk(51_000)) {
		t.Errorf("buyer paid %s, want 51000", exec.Net)
	}
	wantBalance(t, buyer, isk(10_000_000-51_000))
	wantBalance(t, seller, isk(50_000))
	if got := buyer.QuantityOf(tritanium); got != 500 {
		t.Errorf("buyer holds %d, want 500", got)
	}

	o, ok := f.svc.Order(id)
	if !ok {
		t.Fatal("partially filled order left the book")
	}
	if o.Remaining != 500 || o.Status != orderbook.PartiallyFilled {
		t.Errorf("order remaining=%d status=%s, want 500 partially_filled", o.Remaining, o.Status)
	}
}

func TestPlaceBuyEscrowsWithBrokerFee(t *testing.T) {
	f := newFixture(t)
	buyer := f.trader(t, "buyer", 10_000_000, nil)

	id := f.place(t, buyer, Buy, tritanium, 100, 1000)
	wantBalance(t, buyer, isk(9_897_000))

	o, _ := f.svc.Order(id)
	escrow, units := f.svc.Escrow(o)
	if !escrow.Equal(isk(103_000)) || units != 0 {
		t.Errorf("escrow = %s ISK + %d units, want 103000 ISK", escrow, units)
	}

	if err := f.svc.CancelOrder(buyer, id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	wantBalance(t, buyer, isk(10_000_000))
	if open := f.svc.OpenOrders(buyer.ID()); len(open) != 0 {
		t.Errorf("open orders after cancel = %v", open)
	}
}

func TestPlaceSellEscrowsUnits(t *testing.T) {
	f := newFixture(t)
	seller := f.trader(t, "seller", 0, map[ItemID]int64{pyerite: 50})

	id := f.place(t, seller, Sell, pyerite, 12, 30)
	if got := seller.QuantityOf(pyerite); got != 20 {
		t.Errorf("inventory after place = %d, want 20", got)
	}
	if err := f.svc.CancelOrder(seller, id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := seller.QuantityOf(pyerite); got != 50 {
		t.Errorf("inventory after cancel = %d, want 50", got)
	}
}

func TestInstantBuyWalksLevels(t *testing.T) {
	f := newFixture(t)
	s1 := f.trader(t, "s1", 0, map[ItemID]int64{tritanium: 500})
	s2 := f.trader(t, "s2", 0, map[ItemID]int64{tritanium: 500})
	buyer := f.trader(t, "buyer", 10_000_000, nil)

	f.place(t, s2, Sell, tritanium, 100, 500)
	cheap := f.place(t, s1, Sell, tritanium, 90, 500)

	exec, err := f.svc.InstantBuy(buyer, InstantOrder{Location: jita, Item: tritanium, Quantity: 800})
	if err != nil {
		t.Fatalf("instant buy: %v", err)
	}
	if !exec.Net.Equal(isk(76_500)) {
		t.Errorf("cost = %s, want 76500", exec.Net)
	}
	if !exec.Gross.Equal(isk(75_000)) || !exec.Tax.Equal(isk(1_500)) {
		t.Errorf("gross=%s tax=%s", exec.Gross, exec.Tax)
	}
	if len(exec.Fills) != 2 || exec.Fills[0].MakerOrder != cheap || exec.Fills[0].Quantity != 500 || exec.Fills[1].Quantity != 300 {
		t.Errorf("fills = %+v", exec.Fills)
	}
	if !exec.AveragePrice().Equal(decimal.RequireFromString("93.75")) {
		t.Errorf("average = %s, want 93.75", exec.AveragePrice())
	}

	wantBalance(t, s1, isk(45_000))
	wantBalance(t, s2, isk(30_000))
	if _, ok := f.svc.Order(cheap); ok {
		t.Error("filled order still live")
	}
	if open := f.svc.OpenOrders(s1.ID()); len(open) != 0 {
		t.Errorf("s1 open orders = %v, want none", open)
	}

	txs := f.svc.Ledger().All()
	if len(txs) != 2 {
		t.Fatalf("ledger has %d entries, want 2", len(txs))
	}
	if !txs[0].UnitPrice.Equal(isk(90)) || txs[0].Seller != "s1" || txs[1].Seller != "s2" {
		t.Errorf("ledger order = %+v", txs)
	}
	if txs[0].Buyer != "buyer" || !txs[0].Timestamp.Equal(t0) || txs[0].Aggressor != Buy {
		t.Errorf("ledger entry = %+v", txs[0])
	}
	if txs[0].Seq != exec.Fills[0].Seq || txs[1].Seq != exec.Fills[1].Seq {
		t.Error("fills and ledger sequence disagree")
	}
}

func TestInstantSellIntoBids(t *testing.T) {
	f := newFixture(t)
	alice := f.trader(t, "alice", 10_000_000, nil)
	bob := f.trader(t, "bob", 10_000_000, nil)
	seller := f.trader(t, "seller", 0, map[ItemID]int64{tritanium: 1000})

	f.place(t, bob, Buy, tritanium, 90, 500)
	f.place(t, alice, Buy, tritanium, 100, 500)

	exec, err := f.svc.InstantSell(seller, InstantOrder{Location: jita, Item: tritanium, Quantity: 800})
	if err != nil {
		t.Fatalf("instant sell: %v", err)
	}

	// 500*100 + 300*90 = 77000, less 2% tax.
	if !exec.Gross.Equal(isk(77_000)) || !exec.Net.Equal(isk(75_460)) {
		t.Errorf("gross=%s net=%s", exec.Gross, exec.Net)
	}
	wantBalance(t, seller, isk(75_460))
	if got := seller.QuantityOf(tritanium); got != 200 {
		t.Errorf("seller holds %d, want 200", got)
	}
	if alice.QuantityOf(tritanium) != 500 || bob.QuantityOf(tritanium) != 300 {
		t.Errorf("alice=%d bob=%d", alice.QuantityOf(tritanium), bob.QuantityOf(tritanium))
	}

	// Bob's remaining 200 still carry their escrow; cancelling returns it.
	bobOrders := f.svc.OpenOrders(bob.ID())
	if len(bobOrders) != 1 {
		t.Fatalf("bob open orders = %v", bobOrders)
	}
	if err := f.svc.CancelOrder(bob, bobOrders[0]); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// Paid 300*90*1.03 for the filled part.
	wantBalance(t, bob, isk(10_000_000-27_810))
}

func TestInstantTradeLimits(t *testing.T) {
	f := newFixture(t)
	seller := f.trader(t, "seller", 0, map[ItemID]int64{tritanium: 1000})
	buyer := f.trader(t, "buyer", 10_000_000, map[ItemID]int64{tritanium: 1000})

	f.place(t, seller, Sell, tritanium, 90, 500)
	f.place(t, seller, Sell, tritanium, 100, 500)
	f.place(t, buyer, Buy, tritanium, 80, 500)
	f.place(t, buyer, Buy, tritanium, 70, 500)

	capped := func(v int64) decimal.NullDecimal { return decimal.NewNullDecimal(isk(v)) }
	tests := []struct {
		name    string
		sell    bool
		qty     int64
		limit   decimal.NullDecimal
		wantErr error
	}{
		{"buy above cap", false, 600, capped(95), ErrLiquidityUnavailable},
		{"sell below floor", true, 600, capped(75), ErrLiquidityUnavailable},
		{"buy within cap", false, 500, capped(90), nil},
		{"sell within floor", true, 500, capped(80), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := f.dump()
			req := InstantOrder{Location: jita, Item: tritanium, Quantity: tt.qty, Limit: tt.limit}
			var err error
			if tt.sell {
				_, err = f.svc.InstantSell(buyer, req)
			} else {
				_, err = f.svc.InstantBuy(buyer, req)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if err != nil && f.dump() != before {
				t.Error("failed trade changed state")
			}
		})
	}
}

func TestExactDepthAndOneOver(t *testing.T) {
	f := newFixture(t)
	seller := f.trader(t, "seller", 0, map[ItemID]int64{tritanium: 15})
	buyer := f.trader(t, "buyer", 10_000_000, nil)

	f.place(t, seller, Sell, tritanium, 100, 10)
	f.place(t, seller, Sell, tritanium, 101, 5)

	before := f.dump()
	_, err := f.svc.InstantBuy(buyer, InstantOrder{Location: jita, Item: tritanium, Quantity: 16})
	if !errors.Is(err, ErrLiquidityUnavailable) {
		t.Fatalf("one unit over: err = %v", err)
	}
	if f.dump() != before {
		t.Fatal("one unit over changed state")
	}

	if _, err := f.svc.InstantBuy(buyer, InstantOrder{Location: jita, Item: tritanium, Quantity: 15}); err != nil {
		t.Fatalf("exact depth: %v", err)
	}
	_, sells, _ := f.svc.Depth(jita, tritanium)
	if len(sells) != 0 {
		t.Errorf("sell side not empty: %v", sells)
	}
	if open := f.svc.OpenOrders(seller.ID()); len(open) != 0 {
		t.Errorf("seller open orders = %v", open)
	}
}

func TestTieBreakFirstPlacedFirst(t *testing.T) {
	f := newFixture(t)
	first := f.trader(t, "first", 0, map[ItemID]int64{tritanium: 10})
	second := f.trader(t, "second", 0, map[ItemID]int64{tritanium: 10})
	buyer := f.trader(t, "buyer", 10_000_000, nil)

	firstID := f.place(t, first, Sell, tritanium, 100, 10)
	secondID := f.place(t, second, Sell, tritanium, 100, 10)

	if _, err := f.svc.InstantBuy(buyer, InstantOrder{Location: jita, Item: tritanium, Quantity: 10}); err != nil {
		t.Fatalf("instant buy: %v", err)
	}
	if _, ok := f.svc.Order(firstID); ok {
		t.Error("first order should be filled")
	}
	if o, ok := f.svc.Order(secondID); !ok || o.Remaining != 10 {
		t.Errorf("second order = %+v, %v; want untouched", o, ok)
	}
	wantBalance(t, first, isk(1000))
	wantBalance(t, second, decimal.Zero)
}

func TestPlaceOrderValidation(t *testing.T) {
	f := newFixture(t)
	acc := f.trader(t, "acc", 1_000_000, map[ItemID]int64{tritanium: 10})

	valid := NewOrder{Location: jita, Item: tritanium, Side: Buy, Price: isk(10), Quantity: 1, Now: t0}
	tests := []struct {
		name    string
		acct    Account
		mutate  func(*NewOrder)
		wantErr error
	}{
		{"zero price", acc, func(o *NewOrder) { o.Price = decimal.Zero }, ErrValidation},
		{"negative price", acc, func(o *NewOrder) { o.Price = isk(-1) }, ErrValidation},
		{"zero quantity", acc, func(o *NewOrder) { o.Quantity = 0 }, ErrValidation},
		{"bad side", acc, func(o *NewOrder) { o.Side = 0 }, ErrValidation},
		{"negative duration", acc, func(o *NewOrder) { o.Duration = -time.Second }, ErrValidation},
		{"unknown location", acc, func(o *NewOrder) { o.Location = "nowhere" }, ErrValidation},
		{"unknown item", acc, func(o *NewOrder) { o.Item = "unobtainium" }, ErrValidation},
		{"nil account", nil, func(*NewOrder) {}, ErrValidation},
		{"buy beyond balance", acc, func(o *NewOrder) { o.Price = isk(1_000_000) }, ErrInsufficientFunds},
		{"sell beyond inventory", acc, func(o *NewOrder) { o.Side = Sell; o.Quantity = 11 }, ErrInsufficientInventory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			before := f.dump()
			if _, err := f.svc.PlaceOrder(tt.acct, req); !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if f.dump() != before {
				t.Error("rejected order changed state")
			}
		})
	}
}

func TestInstantTradeRejections(t *testing.T) {
	f := newFixture(t)
	seller := f.trader(t, "seller", 0, map[ItemID]int64{tritanium: 100})
	poor := f.trader(t, "poor", 100, map[ItemID]int64{tritanium: 1})
	f.place(t, seller, Sell, tritanium, 50, 100)

	tests := []struct {
		name    string
		sell    bool
		req     InstantOrder
		wantErr error
	}{
		{"zero quantity", false, InstantOrder{Location: jita, Item: tritanium}, ErrValidation},
		{"non-positive limit", false, InstantOrder{Location: jita, Item: tritanium, Quantity: 1, Limit: decimal.NewNullDecimal(decimal.Zero)}, ErrValidation},
		{"unknown item", false, InstantOrder{Location: jita, Item: "veldspar", Quantity: 1}, ErrValidation},
		{"cannot afford", false, InstantOrder{Location: jita, Item: tritanium, Quantity: 2}, ErrInsufficientFunds},
		{"empty book", false, InstantOrder{Location: amarr, Item: tritanium, Quantity: 1}, ErrLiquidityUnavailable},
		{"sell more than held", true, InstantOrder{Location: jita, Item: tritanium, Quantity: 2}, ErrInsufficientInventory},
		{"no bids", true, InstantOrder{Location: jita, Item: tritanium, Quantity: 1}, ErrLiquidityUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := f.dump()
			var err error
			if tt.sell {
				_, err = f.svc.InstantSell(poor, tt.req)
			} else {
				_, err = f.svc.InstantBuy(poor, tt.req)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if f.dump() != before {
				t.Error("rejected trade changed state")
			}
		})
	}
}

func TestCancelOrderNotFound(t *testing.T) {
	f := newFixture(t)
	owner := f.trader(t, "owner", 1_000_000, nil)
	other := f.trader(t, "other", 1_000_000, nil)
	id := f.place(t, owner, Buy, pyerite, 5, 100)

	if err := f.svc.CancelOrder(other, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("cancel by non-owner: err = %v", err)
	}
	if _, ok := f.svc.Order(id); !ok {
		t.Fatal("order vanished after foreign cancel")
	}
	if err := f.svc.CancelOrder(owner, id+100); !errors.Is(err, ErrNotFound) {
		t.Errorf("cancel unknown id: err = %v", err)
	}
	if err := f.svc.CancelOrder(owner, id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := f.svc.CancelOrder(owner, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second cancel: err = %v", err)
	}
}

func TestExpireOrdersRefunds(t *testing.T) {
	f := newFixture(t)
	buyer := f.trader(t, "buyer", 10_000_000, nil)
	seller := f.trader(t, "seller", 0, map[ItemID]int64{tritanium: 10})
	taker := f.trader(t, "taker", 1_000_000, nil)

	bid, err := f.svc.PlaceOrder(buyer, NewOrder{
		Location: jita, Item: pyerite, Side: Buy, Price: isk(100), Quantity: 1000, Now: t0, Duration: time.Hour,
	})
	if err != nil {
		t.Fatalf("place bid: %v", err)
	}
	ask, err := f.svc.PlaceOrder(seller, NewOrder{
		Location: amarr, Item: tritanium, Side: Sell, Price: isk(50), Quantity: 10, Now: t0, Duration: 2 * time.Hour,
	})
	if err != nil {
		t.Fatalf("place ask: %v", err)
	}
	if _, err := f.svc.InstantBuy(taker, InstantOrder{Location: amarr, Item: tritanium, Quantity: 4}); err != nil {
		t.Fatalf("instant buy: %v", err)
	}

	expired, err := f.svc.ExpireOrders(t0.Add(30 * time.Minute))
	if err != nil || len(expired) != 0 {
		t.Fatalf("early sweep expired %v, %v", expired, err)
	}

	expired, err = f.svc.ExpireOrders(t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !slices.Equal(expired, []OrderID{bid}) {
		t.Errorf("expired = %v, want [%d]", expired, bid)
	}
	wantBalance(t, buyer, isk(10_000_000))

	expired, _ = f.svc.ExpireOrders(t0.Add(3 * time.Hour))
	if !slices.Equal(expired, []OrderID{ask}) {
		t.Errorf("expired = %v, want [%d]", expired, ask)
	}
	if got := seller.QuantityOf(tritanium); got != 6 {
		t.Errorf("seller got %d units back, want 6", got)
	}
	if _, ok := f.svc.Order(ask); ok {
		t.Error("expired order still live")
	}
	if n := len(f.svc.OpenOrders(seller.ID())) + len(f.svc.OpenOrders(buyer.ID())); n != 0 {
		t.Errorf("%d open orders left after expiry", n)
	}
}

func TestCounterpartyUnavailable(t *testing.T) {
	f := newFixture(t)
	seller := f.trader(t, "seller", 0, map[ItemID]int64{tritanium: 10})
	buyer := f.trader(t, "buyer", 1_000_000, nil)
	id := f.place(t, seller, Sell, tritanium, 100, 10)

	f.hidden[seller.ID()] = true
	before := f.dump()
	if _, err := f.svc.InstantBuy(buyer, InstantOrder{Location: jita, Item: tritanium, Quantity: 5}); !errors.Is(err, ErrCounterpartyUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if f.dump() != before {
		t.Fatal("failed trade changed state")
	}

	// The sweep keeps the order and its escrow until the owner resolves again.
	late := t0.Add(48 * time.Hour)
	expired, err := f.svc.ExpireOrders(late)
	if !errors.Is(err, ErrCounterpartyUnavailable) || len(expired) != 0 {
		t.Fatalf("sweep = %v, %v", expired, err)
	}
	if _, ok := f.svc.Order(id); !ok {
		t.Fatal("order with unresolved owner was dropped")
	}

	delete(f.hidden, seller.ID())
	expired, err = f.svc.ExpireOrders(late)
	if err != nil || !slices.Equal(expired, []OrderID{id}) {
		t.Fatalf("retry sweep = %v, %v", expired, err)
	}
	if got := seller.QuantityOf(tritanium); got != 10 {
		t.Errorf("seller holds %d, want 10", got)
	}
}

func TestGetMarketPrice(t *testing.T) {
	f := newFixture(t)
	mm := f.trader(t, "mm", 10_000_000, map[ItemID]int64{tritanium: 100, pyerite: 100})

	if err := f.svc.InitializeReferencePrices(map[ItemID]decimal.Decimal{tritanium: isk(100)}); err != nil {
		t.Fatalf("seed references: %v", err)
	}

	q, err := f.svc.GetMarketPrice(tritanium, jita)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if !q.Buy.Equal(isk(90)) || !q.Sell.Equal(isk(110)) || !q.Average.Equal(isk(100)) {
		t.Errorf("reference quote = %+v, want 90/110/100", q)
	}

	q, _ = f.svc.GetMarketPrice(pyerite, jita)
	if !q.Buy.IsZero() || !q.Sell.IsZero() || !q.Average.IsZero() {
		t.Errorf("quote without reference = %+v, want zero", q)
	}

	f.place(t, mm, Buy, tritanium, 95, 10)
	q, _ = f.svc.GetMarketPrice(tritanium, jita)
	if !q.Buy.Equal(isk(95)) || !q.Sell.IsZero() || !q.Average.Equal(isk(95)) {
		t.Errorf("bid only quote = %+v", q)
	}

	f.place(t, mm, Sell, tritanium, 104, 10)
	f.place(t, mm, Sell, tritanium, 102, 10)
	q, _ = f.svc.GetMarketPrice(tritanium, jita)
	if !q.Buy.Equal(isk(95)) || !q.Sell.Equal(isk(102)) || !q.Average.Equal(decimal.RequireFromString("98.5")) {
		t.Errorf("two-sided quote = %+v", q)
	}

	// Other locations still fall back to the reference.
	q, _ = f.svc.GetMarketPrice(tritanium, amarr)
	if !q.Average.Equal(isk(100)) {
		t.Errorf("amarr quote = %+v", q)
	}

	if _, err := f.svc.GetMarketPrice("veldspar", jita); !errors.Is(err, ErrValidation) {
		t.Errorf("unknown item: err = %v", err)
	}
}

func TestInitializeReferencePricesAllOrNothing(t *testing.T) {
	f := newFixture(t)

	err := f.svc.InitializeReferencePrices(map[ItemID]decimal.Decimal{
		tritanium: isk(5),
		pyerite:   decimal.Zero,
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v", err)
	}
	if _, ok := f.svc.ReferencePrice(tritanium); ok {
		t.Error("partial reference table applied")
	}

	err = f.svc.InitializeReferencePrices(map[ItemID]decimal.Decimal{"veldspar": isk(1)})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("unknown item: err = %v", err)
	}
}

func TestOpenOrdersAcrossLocations(t *testing.T) {
	f := newFixture(t)
	acc := f.trader(t, "acc", 10_000_000, nil)

	a := f.place(t, acc, Buy, tritanium, 10, 1)
	b, err := f.svc.PlaceOrder(acc, NewOrder{Location: amarr, Item: pyerite, Side: Buy, Price: isk(3), Quantity: 2, Now: t0})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if got := f.svc.OpenOrders(acc.ID()); !slices.Equal(got, []OrderID{a, b}) {
		t.Errorf("open orders = %v, want [%d %d]", got, a, b)
	}
	if b <= a {
		t.Errorf("order ids not increasing: %d then %d", a, b)
	}

	o, _ := f.svc.Order(b)
	if o.Location != amarr || !o.ExpiresAt().Equal(t0.Add(24*time.Hour)) {
		t.Errorf("order = %+v", o)
	}
}

func TestNewServiceRequiresDeps(t *testing.T) {
	if _, err := NewService(DefaultConfig(), Deps{}); err == nil {
		t.Error("service without registry should fail")
	}
	cfg := DefaultConfig()
	cfg.SalesTaxRate = isk(1)
	if _, err := NewService(cfg, Deps{Registry: NewRegistry(), Accounts: DirectoryFunc(nil)}); err == nil {
		t.Error("sales tax of 100% should be rejected")
	}
}

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/hypermarket/params"
	"github.com/uhyunpark/hypermarket/pkg/app/core/account"
	"github.com/uhyunpark/hypermarket/pkg/app/core/ledger"
	"github.com/uhyunpark/hypermarket/pkg/app/core/market"
	"github.com/uhyunpark/hypermarket/pkg/app/sim"
	"github.com/uhyunpark/hypermarket/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("") // "" means load from .env in current directory
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	level, err := util.ParseLevel(cfg.Node.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	logFile := cfg.Node.LogFile
	if logFile == "" {
		logFile = filepath.Join(cfg.Node.DataDir, "marketd.log")
	}
	logger, err := util.NewLoggerWithFile(logFile, level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", logFile, "level", level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, sugar); err != nil {
		sugar.Fatalw("marketd_failed", "err", err)
	}
	sugar.Info("marketd_stopped")
}

func run(ctx context.Context, cfg params.Config, sugar *zap.SugaredLogger) error {
	// ---- Storage ----
	store, err := account.NewStore(filepath.Join(cfg.Node.DataDir, "market.db"))
	if err != nil {
		return err
	}
	defer store.Close()

	clock := util.RealClock{}
	n, err := openNode(cfg, store, clock, sugar)
	if err != nil {
		return err
	}

	sugar.Infow("market_starting",
		"locations", len(n.registry.Locations()),
		"items", len(n.registry.Items()),
		"broker_fee", n.svc.Config().BrokerFeeRate,
		"sales_tax", n.svc.Config().SalesTaxRate,
		"resumed_trade_seq", n.tradeSeq)

	g, gctx := errgroup.WithContext(ctx)

	sw := newSweeper(n, clock, cfg.Node.SweepInterval, sugar)
	g.Go(func() error { return sw.run(gctx) })

	// ---- NPC feeder (optional) ----
	// Enable with: ENABLE_NPC=true NPC_TRADERS=8 NPC_INTERVAL_MS=250
	if cfg.Sim.Enabled {
		scfg := sim.DefaultConfig()
		scfg.Traders = cfg.Sim.Traders
		scfg.Interval = cfg.Sim.Interval
		scfg.Spread = cfg.Sim.Spread
		scfg.Locations = n.registry.Locations()
		scfg.Items = n.registry.Items()
		feeder, err := sim.NewFeeder(scfg, n.svc, n.accounts, clock, sugar)
		if err != nil {
			return err
		}
		g.Go(func() error { return feeder.Run(gctx) })
	} else {
		sugar.Info("npc_disabled")
	}

	err = g.Wait()
	// Everything has stopped trading; the last checkpoint loses nothing.
	sw.flush()
	return err
}

// node is the market of one process, wired to its store.
type node struct {
	registry *market.Registry
	accounts *account.Manager
	ledger   *ledger.Ledger
	svc      *market.Service
	// tradeSeq is the last trade seq already in the store.
	tradeSeq uint64
}

// openNode builds the market over store and puts back the orders and trade
// sequence left by the previous run.
func openNode(cfg params.Config, store *account.Store, clock util.Clock, sugar *zap.SugaredLogger) (*node, error) {
	accounts := account.NewManager(store, sugar)

	// Trades reach the store with the next checkpoint, together with the
	// account changes they caused.
	trades := ledger.New(sugar, nil)
	lastSeq, err := store.LastTradeSeq()
	if err != nil {
		return nil, err
	}
	if err := trades.Resume(lastSeq); err != nil {
		return nil, err
	}

	registry, err := buildRegistry(cfg.Market)
	if err != nil {
		return nil, err
	}

	mcfg := market.DefaultConfig()
	mcfg.BrokerFeeRate = cfg.Market.BrokerFeeRate
	mcfg.SalesTaxRate = cfg.Market.SalesTaxRate
	mcfg.DefaultDuration = cfg.Market.OrderDuration

	lastOrderID, err := store.LastOrderID()
	if err != nil {
		return nil, err
	}
	svc, err := market.NewService(mcfg, market.Deps{
		Registry: registry,
		Accounts: market.DirectoryFunc(func(id market.AccountID) (market.Account, bool) {
			acc, ok := accounts.Get(id)
			if !ok {
				return nil, false
			}
			return acc, true
		}),
		Ledger:       trades,
		Clock:        clock,
		Logger:       sugar,
		FirstOrderID: lastOrderID,
	})
	if err != nil {
		return nil, err
	}

	refs := make(map[market.ItemID]decimal.Decimal, len(cfg.Market.ReferencePrices))
	for item, p := range cfg.Market.ReferencePrices {
		refs[market.ItemID(item)] = p
	}
	if err := svc.InitializeReferencePrices(refs); err != nil {
		return nil, err
	}

	orders, err := store.LoadOrders()
	if err != nil {
		return nil, err
	}
	if err := svc.Restore(orders); err != nil {
		return nil, err
	}

	return &node{registry: registry, accounts: accounts, ledger: trades, svc: svc, tradeSeq: lastSeq}, nil
}

func buildRegistry(cfg params.Market) (*market.Registry, error) {
	reg := market.NewRegistry()
	for _, loc := range cfg.Locations {
		if err := reg.RegisterLocation(market.LocationID(loc)); err != nil {
			return nil, fmt.Errorf("location %q: %w", loc, err)
		}
	}
	for _, item := range cfg.Items {
		if err := reg.RegisterItem(market.ItemID(item)); err != nil {
			return nil, fmt.Errorf("item %q: %w", item, err)
		}
	}
	return reg, nil
}

package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/hypermarket/pkg/app/core/account"
	"github.com/uhyunpark/hypermarket/pkg/app/core/ledger"
	"github.com/uhyunpark/hypermarket/pkg/app/core/market"
	"github.com/uhyunpark/hypermarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/hypermarket/pkg/util"
)

// sweeper expires due orders and checkpoints the market on every tick.
type sweeper struct {
	svc      *market.Service
	accounts *account.Manager
	ledger   *ledger.Ledger
	clock    util.Clock
	interval time.Duration
	log      *zap.SugaredLogger

	// persisted is the last trade seq written by a checkpoint. Only the
	// sweeper goroutine (or run, after it stops) touches it.
	persisted uint64
}

func newSweeper(n *node, clock util.Clock, interval time.Duration, log *zap.SugaredLogger) *sweeper {
	return &sweeper{
		svc:       n.svc,
		accounts:  n.accounts,
		ledger:    n.ledger,
		clock:     clock,
		interval:  interval,
		log:       log,
		persisted: n.tradeSeq,
	}
}

func (s *sweeper) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.clock.After(s.interval):
			s.tick()
		}
	}
}

func (s *sweeper) tick() []market.OrderID {
	// Partial failures are already logged by the service; the next tick retries.
	expired, _ := s.svc.ExpireOrders(s.clock.Now())
	if len(expired) > 0 {
		s.log.Debugw("orders_swept", "count", len(expired), "ids", expired)
	}
	s.flush()
	return expired
}

// flush writes dirty accounts, the live orders and new trades as one
// checkpoint while the market is held still.
func (s *sweeper) flush() {
	var accounts, trades int
	err := s.svc.Checkpoint(func(orders []orderbook.Order, lastID uint64) error {
		pending := s.ledger.Since(s.persisted)
		n, err := s.accounts.Checkpoint(account.Checkpoint{
			Orders:      orders,
			LastOrderID: lastID,
			Trades:      pending,
		})
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			s.persisted = pending[len(pending)-1].Seq
		}
		accounts, trades = n, len(pending)
		return nil
	})
	if err != nil {
		s.log.Errorw("checkpoint_failed", "err", err)
		return
	}
	if accounts > 0 || trades > 0 {
		s.log.Debugw("checkpoint_written", "accounts", accounts, "trades", trades)
	}
}

// Package ledger is the append-only history of executed trades.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/hypermarket/pkg/app/core/orderbook"
)

// Transaction is one executed tier of an instant trade. Records are never
// mutated once appended.
type Transaction struct {
	Seq       uint64 // 1-based position in the ledger
	ID        string
	Location  orderbook.LocationID
	Item      orderbook.ItemID
	Quantity  int64
	UnitPrice decimal.Decimal
	Buyer     orderbook.AccountID
	Seller    orderbook.AccountID
	Timestamp time.Time

	MakerOrder orderbook.OrderID // resting order that was hit
	Aggressor  orderbook.Side    // side of the instant trade
}

// Notional is Quantity*UnitPrice.
func (tx Transaction) Notional() decimal.Decimal {
	return tx.UnitPrice.Mul(decimal.NewFromInt(tx.Quantity))
}

// Sink receives each transaction after it has been appended, e.g. for durable storage.
type Sink interface {
	SaveTrade(tx Transaction) error
}

type Ledger struct {
	mu   sync.RWMutex
	base uint64 // Seq of the last transaction recorded before this process
	txs  []Transaction
	sink Sink
	log  *zap.SugaredLogger
}

// New creates an empty ledger. sink may be nil.
func New(log *zap.SugaredLogger, sink Sink) *Ledger {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Ledger{sink: sink, log: log}
}

// Record appends tx, stamping Seq and ID, and returns the stored copy.
// The sink sees transactions in Seq order. A failing sink is logged; the
// in-memory history is authoritative.
func (l *Ledger) Record(tx Transaction) Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx.Seq = l.base + uint64(len(l.txs)) + 1
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	l.txs = append(l.txs, tx)

	if l.sink != nil {
		if err := l.sink.SaveTrade(tx); err != nil {
			l.log.Errorw("trade_persist_failed", "seq", tx.Seq, "id", tx.ID, "err", err)
		}
	}
	return tx
}

// Resume continues numbering after seq, the last sequence a previous process
// persisted. It only applies to an empty ledger.
func (l *Ledger) Resume(seq uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.txs) > 0 {
		return fmt.Errorf("cannot resume a ledger holding %d transactions", len(l.txs))
	}
	l.base = seq
	return nil
}

// Len is the number of transactions recorded by this process.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.txs)
}

// All returns a copy of this process's history in execution order.
func (l *Ledger) All() []Transaction {
	return l.Since(0)
}

// Since returns transactions with Seq > seq.
func (l *Ledger) Since(seq uint64) []Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var idx uint64
	if seq > l.base {
		idx = seq - l.base
	}
	if idx >= uint64(len(l.txs)) {
		return nil
	}
	out := make([]Transaction, uint64(len(l.txs))-idx)
	copy(out, l.txs[idx:])
	return out
}

// ForBook returns the history of one (location, item) pair.
func (l *Ledger) ForBook(key orderbook.Key) []Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Transaction
	for _, tx := range l.txs {
		if tx.Location == key.Location && tx.Item == key.Item {
			out = append(out, tx)
		}
	}
	return out
}

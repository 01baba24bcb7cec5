package account

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/uhyunpark/hypermarket/pkg/app/core/ledger"
	"github.com/uhyunpark/hypermarket/pkg/app/core/orderbook"
)

// Store provides Pebble-based persistence for account state, live orders and
// the trade history. It also serves as the ledger's Sink.
type Store struct {
	db *pebble.DB
	// mu serialises read-compare-write of the meta high-water marks.
	mu sync.Mutex
}

var _ ledger.Sink = (*Store)(nil)

// NewStore opens a Pebble database at the given path
func NewStore(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                       pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize:                32 << 20,                  // 32MB memtable
		MaxConcurrentCompactions:    func() int { return 2 },
		L0CompactionThreshold:       2,
		L0StopWritesThreshold:       12,
		LBaseMaxBytes:               64 << 20,
		MaxOpenFiles:                1000,
		BytesPerSync:                512 << 10,
		DisableAutomaticCompactions: false,
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", dbPath, err)
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveAccount persists one account
func (s *Store) SaveAccount(st State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}
	if err := s.db.Set(accountKey(st.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// SaveAccounts writes all states in one atomic batch
func (s *Store) SaveAccounts(states []State) error {
	if len(states) == 0 {
		return nil
	}
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, st := range states {
		data, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("failed to marshal account %s: %w", st.ID, err)
		}
		if err := batch.Set(accountKey(st.ID), data, nil); err != nil {
			return fmt.Errorf("failed to stage account %s: %w", st.ID, err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit accounts: %w", err)
	}
	return nil
}

// LoadAccount loads an account state
// Returns nil if the account doesn't exist
func (s *Store) LoadAccount(id orderbook.AccountID) (*State, error) {
	data, closer, err := s.db.Get(accountKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	defer closer.Close()

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account: %w", err)
	}
	return &st, nil
}

// SaveTrade persists a trade. NoSync: the ledger is replayable from memory
// until the next synced write. The stored trade seq only moves forward.
func (s *Store) SaveTrade(tx ledger.Transaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to marshal trade: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(tradeKey(orderbook.Key{Location: tx.Location, Item: tx.Item}, tx.Seq), data, nil); err != nil {
		return fmt.Errorf("failed to stage trade: %w", err)
	}
	if err := s.stageHighWater(batch, lastTradeSeqKey(), tx.Seq); err != nil {
		return err
	}
	if err := batch.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	return nil
}

// Checkpoint is the market state written together with the dirty accounts:
// every live order, the highest order id issued, and the trades recorded
// since the previous checkpoint.
type Checkpoint struct {
	Orders      []orderbook.Order
	LastOrderID uint64
	Trades      []ledger.Transaction
}

// SaveCheckpoint writes accounts, orders and trades in one synced batch, so a
// restart never sees escrow that no order holds. The stored order set is
// replaced wholesale.
func (s *Store) SaveCheckpoint(states []State, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewBatch()
	defer batch.Close()

	for _, st := range states {
		data, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("failed to marshal account %s: %w", st.ID, err)
		}
		if err := batch.Set(accountKey(st.ID), data, nil); err != nil {
			return fmt.Errorf("failed to stage account %s: %w", st.ID, err)
		}
	}

	prefix := []byte(prefixOrder)
	if err := batch.DeleteRange(prefix, keyUpperBound(prefix), nil); err != nil {
		return fmt.Errorf("failed to stage order purge: %w", err)
	}
	for _, o := range cp.Orders {
		data, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("failed to marshal order %d: %w", o.ID, err)
		}
		if err := batch.Set(orderKey(o), data, nil); err != nil {
			return fmt.Errorf("failed to stage order %d: %w", o.ID, err)
		}
	}
	if err := s.stageHighWater(batch, lastOrderIDKey(), cp.LastOrderID); err != nil {
		return err
	}

	var lastSeq uint64
	for _, tx := range cp.Trades {
		data, err := json.Marshal(tx)
		if err != nil {
			return fmt.Errorf("failed to marshal trade %d: %w", tx.Seq, err)
		}
		if err := batch.Set(tradeKey(orderbook.Key{Location: tx.Location, Item: tx.Item}, tx.Seq), data, nil); err != nil {
			return fmt.Errorf("failed to stage trade %d: %w", tx.Seq, err)
		}
		lastSeq = max(lastSeq, tx.Seq)
	}
	if err := s.stageHighWater(batch, lastTradeSeqKey(), lastSeq); err != nil {
		return err
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return nil
}

// LoadOrders returns every stored live order, grouped by book and ordered by
// id within a book.
func (s *Store) LoadOrders() ([]orderbook.Order, error) {
	prefix := []byte(prefixOrder)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open order iterator: %w", err)
	}
	defer iter.Close()

	var orders []orderbook.Order
	for iter.First(); iter.Valid(); iter.Next() {
		var o orderbook.Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			// A dropped order would strand its escrow; refuse to start instead.
			return nil, fmt.Errorf("corrupt order at %s: %w", iter.Key(), err)
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// LastTradeSeq returns the highest ledger sequence persisted so far, 0 if none.
func (s *Store) LastTradeSeq() (uint64, error) {
	return s.readUint(lastTradeSeqKey())
}

// LastOrderID returns the highest order id ever checkpointed, 0 if none.
func (s *Store) LastOrderID() (uint64, error) {
	return s.readUint(lastOrderIDKey())
}

// stageHighWater adds key=v to the batch unless the stored value is already
// at least v. Callers hold s.mu.
func (s *Store) stageHighWater(batch *pebble.Batch, key []byte, v uint64) error {
	cur, err := s.readUint(key)
	if err != nil {
		return err
	}
	if v <= cur {
		return nil
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	if err := batch.Set(key, buf[:], nil); err != nil {
		return fmt.Errorf("failed to stage %s: %w", key, err)
	}
	return nil
}

func (s *Store) readUint(key []byte) (uint64, error) {
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer closer.Close()
	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt %s: %d bytes", key, len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// LoadRecentTrades loads the most recent N trades of a book, newest first
func (s *Store) LoadRecentTrades(key orderbook.Key, limit int) ([]ledger.Transaction, error) {
	prefix := tradePrefix(key)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open trade iterator: %w", err)
	}
	defer iter.Close()

	var trades []ledger.Transaction
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var tx ledger.Transaction
		if err := json.Unmarshal(iter.Value(), &tx); err != nil {
			continue // Skip invalid entries
		}
		trades = append(trades, tx)
	}
	return trades, nil
}

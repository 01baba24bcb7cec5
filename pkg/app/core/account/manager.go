package account

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/hypermarket/pkg/app/core/orderbook"
)

// Manager owns every account in a thread-safe manner.
// Uses an in-memory cache with optional Pebble persistence: mutations mark an
// account dirty and Flush writes dirty accounts in one batch.
type Manager struct {
	mu       sync.RWMutex
	accounts map[orderbook.AccountID]*Account
	store    *Store // nil means memory only
	log      *zap.SugaredLogger
}

// NewManager creates an account manager. store may be nil.
func NewManager(store *Store, log *zap.SugaredLogger) *Manager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{
		accounts: make(map[orderbook.AccountID]*Account),
		store:    store,
		log:      log,
	}
}

// Open returns the account, loading it from the store or creating an empty
// one if it doesn't exist yet.
func (m *Manager) Open(id orderbook.AccountID) (*Account, error) {
	if id == "" {
		return nil, fmt.Errorf("account id must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if acc, ok := m.accounts[id]; ok {
		return acc, nil
	}
	acc, err := m.loadLocked(id)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = NewAccount(id)
		acc.markDirty()
	}
	m.accounts[id] = acc
	return acc, nil
}

// Get returns an existing account without creating it.
// Falls back to the store on a cache miss.
func (m *Manager) Get(id orderbook.AccountID) (*Account, bool) {
	m.mu.RLock()
	acc, ok := m.accounts[id]
	m.mu.RUnlock()
	if ok {
		return acc, true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if acc, ok := m.accounts[id]; ok {
		return acc, true
	}
	acc, err := m.loadLocked(id)
	if err != nil {
		m.log.Warnw("account_load_failed", "account", id, "err", err)
		return nil, false
	}
	if acc == nil {
		return nil, false
	}
	m.accounts[id] = acc
	return acc, true
}

func (m *Manager) loadLocked(id orderbook.AccountID) (*Account, error) {
	if m.store == nil {
		return nil, nil
	}
	st, err := m.store.LoadAccount(id)
	if err != nil {
		return nil, fmt.Errorf("failed to load account %s: %w", id, err)
	}
	if st == nil {
		return nil, nil
	}
	return fromState(st), nil
}

// Fund credits ISK to an account from outside the market (bounties, admin grants).
func (m *Manager) Fund(id orderbook.AccountID, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("fund amount must be positive: %s", amount)
	}
	acc, err := m.Open(id)
	if err != nil {
		return err
	}
	acc.Deposit(amount)
	return nil
}

// Grant places items in an account's hangar from outside the market (mining, industry).
func (m *Manager) Grant(id orderbook.AccountID, item orderbook.ItemID, qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("grant quantity must be positive: %d", qty)
	}
	acc, err := m.Open(id)
	if err != nil {
		return err
	}
	acc.Add(item, qty)
	return nil
}

// Flush persists every account changed since the last flush and returns how
// many were written. Without a store it only clears the dirty flags.
func (m *Manager) Flush() (int, error) {
	return m.flush(func(states []State) error {
		if len(states) == 0 {
			return nil
		}
		return m.store.SaveAccounts(states)
	})
}

// Checkpoint is Flush plus the market state in cp, written in the same batch.
// The caller must keep the market still while it runs, otherwise the accounts
// and orders can disagree about where escrow sits.
func (m *Manager) Checkpoint(cp Checkpoint) (int, error) {
	return m.flush(func(states []State) error {
		return m.store.SaveCheckpoint(states, cp)
	})
}

func (m *Manager) flush(save func([]State) error) (int, error) {
	m.mu.RLock()
	states := make([]State, 0)
	for _, acc := range m.accounts {
		if st, ok := acc.takeDirty(); ok {
			states = append(states, st)
		}
	}
	m.mu.RUnlock()

	if m.store == nil {
		return len(states), nil
	}
	if err := save(states); err != nil {
		// Put the flags back so the next flush retries.
		m.mu.RLock()
		for _, st := range states {
			if acc, ok := m.accounts[st.ID]; ok {
				acc.markDirty()
			}
		}
		m.mu.RUnlock()
		return 0, err
	}
	return len(states), nil
}

// List returns all cached accounts ordered by id
func (m *Manager) List() []*Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Account, 0, len(m.accounts))
	for _, acc := range m.accounts {
		out = append(out, acc)
	}
	slices.SortFunc(out, func(a, b *Account) int { return cmp.Compare(a.id, b.id) })
	return out
}

// Count returns the number of cached accounts
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.accounts)
}

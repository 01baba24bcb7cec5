package account

import (
	"fmt"
	"maps"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/hypermarket/pkg/app/core/orderbook"
)

// Account is a trader's liquid ISK balance and item hangar. It satisfies the
// market's Wallet and Inventory contracts and is safe for concurrent use.
type Account struct {
	mu      sync.Mutex
	id      orderbook.AccountID
	balance decimal.Decimal
	items   map[orderbook.ItemID]int64
	dirty   bool // changed since the last flush
}

// State is the persisted form of an account.
type State struct {
	ID      orderbook.AccountID        `json:"id"`
	Balance decimal.Decimal            `json:"balance"`
	Items   map[orderbook.ItemID]int64 `json:"items,omitempty"`
}

func NewAccount(id orderbook.AccountID) *Account {
	return &Account{id: id, items: make(map[orderbook.ItemID]int64)}
}

func fromState(st *State) *Account {
	acc := NewAccount(st.ID)
	acc.balance = st.Balance
	for item, qty := range st.Items {
		if qty > 0 {
			acc.items[item] = qty
		}
	}
	return acc
}

func (a *Account) ID() orderbook.AccountID { return a.id }

func (a *Account) Balance() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance
}

// Withdraw debits amount. It refuses (and changes nothing) if the balance
// does not cover it.
func (a *Account) Withdraw(amount decimal.Decimal) bool {
	if amount.IsNegative() {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.balance.LessThan(amount) {
		return false
	}
	a.balance = a.balance.Sub(amount)
	a.dirty = true
	return true
}

func (a *Account) Deposit(amount decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balance = a.balance.Add(amount)
	a.dirty = true
}

func (a *Account) QuantityOf(item orderbook.ItemID) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.items[item]
}

// Remove takes qty units out of the hangar, all or nothing.
func (a *Account) Remove(item orderbook.ItemID, qty int64) bool {
	if qty < 0 {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	have := a.items[item]
	if have < qty {
		return false
	}
	if have == qty {
		delete(a.items, item)
	} else {
		a.items[item] = have - qty
	}
	a.dirty = true
	return true
}

func (a *Account) Add(item orderbook.ItemID, qty int64) {
	if qty == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items[item] += qty
	a.dirty = true
}

// Items returns a copy of the hangar contents.
func (a *Account) Items() map[orderbook.ItemID]int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return maps.Clone(a.items)
}

func (a *Account) Snapshot() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return State{ID: a.id, Balance: a.balance, Items: maps.Clone(a.items)}
}

// takeDirty returns a snapshot and clears the dirty flag if the account
// changed since the previous call.
func (a *Account) takeDirty() (State, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.dirty {
		return State{}, false
	}
	a.dirty = false
	return State{ID: a.id, Balance: a.balance, Items: maps.Clone(a.items)}, true
}

func (a *Account) markDirty() {
	a.mu.Lock()
	a.dirty = true
	a.mu.Unlock()
}

// Validate checks account invariants
func (a *Account) Validate() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.balance.IsNegative() {
		return fmt.Errorf("negative balance: %s", a.balance)
	}
	for item, qty := range a.items {
		if qty < 0 {
			return fmt.Errorf("negative quantity of %s: %d", item, qty)
		}
	}
	return nil
}

package market

import (
	"cmp"
	"fmt"
	"maps"
	"slices"

	"github.com/uhyunpark/hypermarket/pkg/app/core/orderbook"
)

// Checkpoint runs fn with the whole market frozen: no order can be placed,
// filled, cancelled or expired until fn returns. fn receives a copy of every
// live order and the highest order id issued so far, so it can persist them
// alongside the accounts whose escrow those orders hold.
func (s *Service) Checkpoint(fn func(orders []orderbook.Order, lastID uint64) error) error {
	// s.mu blocks shard creation; operations only take it before their shard lock.
	s.mu.Lock()
	defer s.mu.Unlock()

	shards := make([]*shard, 0, len(s.shards))
	for _, loc := range slices.Sorted(maps.Keys(s.shards)) {
		shards = append(shards, s.shards[loc])
	}
	for _, sh := range shards {
		sh.mu.Lock()
	}
	defer func() {
		for _, sh := range shards {
			sh.mu.Unlock()
		}
	}()

	var orders []orderbook.Order
	for _, sh := range shards {
		for _, book := range sh.sortedBooks() {
			for _, side := range []Side{Buy, Sell} {
				for _, o := range book.Orders(side) {
					orders = append(orders, *o)
				}
			}
		}
	}
	return fn(orders, s.ids.Current())
}

// Restore rests orders saved by a previous process on their books again.
// Their escrow is already out of the owners' accounts, so nothing is
// charged. Either every order is restored or none is; call it before the
// service takes traffic.
func (s *Service) Restore(orders []orderbook.Order) error {
	seen := make(map[OrderID]struct{}, len(orders))
	for i := range orders {
		o := &orders[i]
		if err := s.registry.Check(o.Location, o.Item); err != nil {
			return fmt.Errorf("restore order %d: %w", o.ID, err)
		}
		switch {
		case !o.Side.Valid(), !o.Status.Live(), !o.Price.IsPositive(),
			o.Remaining <= 0, o.Remaining > o.Quantity, o.Owner == "":
			return fmt.Errorf("%w: restore order %d: inconsistent state", ErrValidation, o.ID)
		case uint64(o.ID) == 0 || uint64(o.ID) > s.ids.Current():
			return fmt.Errorf("%w: restore order %d: outside issued ids (last %d)", ErrValidation, o.ID, s.ids.Current())
		}
		if _, dup := seen[o.ID]; dup {
			return fmt.Errorf("%w: restore order %d: duplicate id", ErrValidation, o.ID)
		}
		if _, live := s.locate(o.ID); live {
			return fmt.Errorf("%w: restore order %d: already on a book", ErrValidation, o.ID)
		}
		seen[o.ID] = struct{}{}
	}

	// Ids follow placement, so inserting in id order rebuilds each level's queue.
	orders = slices.Clone(orders)
	slices.SortFunc(orders, func(a, b orderbook.Order) int { return cmp.Compare(a.ID, b.ID) })
	for i := range orders {
		o := orders[i]
		sh := s.shard(o.Location, true)
		sh.mu.Lock()
		sh.book(o.Item, true).Insert(&o)
		sh.track(o.Owner, o.ID)
		sh.mu.Unlock()
		s.indexOrder(o.ID, o.Key())
	}

	if len(orders) > 0 {
		s.log.Infow("orders_restored", "count", len(orders), "last_id", s.ids.Current())
	}
	return nil
}

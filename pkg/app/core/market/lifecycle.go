package market

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/uhyunpark/hypermarket/pkg/app/core/orderbook"
)

// NewOrder describes a limit order to rest on a book.
type NewOrder struct {
	Location LocationID
	Item     ItemID
	Side     Side
	Price    decimal.Decimal
	Quantity int64
	Now      time.Time
	// Duration is the order's TTL; zero means Config.DefaultDuration.
	Duration time.Duration
}

func (s *Service) validateOrder(acct Account, req NewOrder) error {
	if acct == nil {
		return fmt.Errorf("%w: nil account", ErrValidation)
	}
	if !req.Side.Valid() {
		return fmt.Errorf("%w: invalid side %d", ErrValidation, req.Side)
	}
	if !req.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive, got %s", ErrValidation, req.Price)
	}
	if req.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrValidation, req.Quantity)
	}
	if req.Duration < 0 {
		return fmt.Errorf("%w: duration must not be negative, got %s", ErrValidation, req.Duration)
	}
	return s.registry.Check(req.Location, req.Item)
}

// PlaceOrder escrows the order's collateral from acct and rests the order on
// its book. Sell orders escrow the units, buy orders escrow
// quantity*price*(1+broker fee). On error nothing has changed.
func (s *Service) PlaceOrder(acct Account, req NewOrder) (OrderID, error) {
	if err := s.validateOrder(acct, req); err != nil {
		return 0, err
	}
	if req.Duration == 0 {
		req.Duration = s.cfg.DefaultDuration
	}

	sh := s.shard(req.Location, true)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if err := s.takeEscrow(acct, req); err != nil {
		s.log.Debugw("order_rejected", "account", acct.ID(), "location", req.Location, "item", req.Item,
			"side", req.Side, "err", err)
		return 0, err
	}

	o := &orderbook.Order{
		ID:        OrderID(s.ids.Next()),
		Location:  req.Location,
		Item:      req.Item,
		Side:      req.Side,
		Owner:     acct.ID(),
		Price:     req.Price,
		Quantity:  req.Quantity,
		Remaining: req.Quantity,
		IssuedAt:  req.Now,
		Duration:  req.Duration,
		Status:    orderbook.Open,
	}
	sh.book(req.Item, true).Insert(o)
	sh.track(o.Owner, o.ID)
	s.indexOrder(o.ID, o.Key())

	s.log.Debugw("order_placed",
		"order", o.ID, "account", o.Owner, "location", o.Location, "item", o.Item,
		"side", o.Side, "price", o.Price, "qty", o.Quantity, "expires_at", o.ExpiresAt())
	return o.ID, nil
}

// CancelOrder removes one of acct's live orders and refunds the escrow held
// by its unfilled remainder. Orders that don't exist or belong to someone
// else yield ErrNotFound.
func (s *Service) CancelOrder(acct Account, id OrderID) error {
	if acct == nil {
		return fmt.Errorf("%w: nil account", ErrValidation)
	}
	key, ok := s.locate(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	sh := s.shard(key.Location, false)
	if sh == nil {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()

	book := sh.book(key.Item, false)
	if book == nil {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	o, ok := book.Get(id)
	if !ok || o.Owner != acct.ID() {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	s.refund(acct, o)
	s.retire(sh, book, o, orderbook.Cancelled)

	s.log.Debugw("order_cancelled", "order", o.ID, "account", o.Owner, "refunded_qty", o.Remaining)
	return nil
}

// ExpireOrders removes every order whose TTL has elapsed at now and refunds
// its remaining escrow, exactly as a cancel would. The host calls it from its
// own tick loop.
//
// Owners are resolved through the Directory. An order whose owner cannot be
// resolved is left on its book, so its escrow is never dropped, and is
// reported in the returned error; the next sweep retries it.
func (s *Service) ExpireOrders(now time.Time) ([]OrderID, error) {
	var (
		expired []OrderID
		errs    error
	)
	for _, sh := range s.shardList() {
		ids, err := s.expireShard(sh, now)
		expired = append(expired, ids...)
		errs = multierr.Append(errs, err)
	}

	if len(expired) > 0 {
		s.log.Infow("orders_expired", "count", len(expired), "now", now)
	}
	if errs != nil {
		s.log.Warnw("orders_expiry_incomplete", "failures", len(multierr.Errors(errs)), "err", errs)
	}
	return expired, errs
}

func (s *Service) expireShard(sh *shard, now time.Time) ([]OrderID, error) {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var (
		expired []OrderID
		errs    error
	)
	for _, book := range sh.sortedBooks() {
		// Collect first: the expiry index must not change while it is walked.
		due := slices.Collect(book.Expired(now))
		for _, o := range due {
			owner, ok := s.accounts.Lookup(o.Owner)
			if !ok {
				errs = multierr.Append(errs, fmt.Errorf("%w: owner %s of expired order %d", ErrCounterpartyUnavailable, o.Owner, o.ID))
				continue
			}
			s.refund(owner, o)
			s.retire(sh, book, o, orderbook.Expired)
			expired = append(expired, o.ID)
		}
		if book.Empty() {
			delete(sh.books, book.Key().Item)
		}
	}
	return expired, errs
}

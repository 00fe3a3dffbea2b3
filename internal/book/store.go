// Package book maintains an incrementally updated limit order book.
package book

import (
	"fmt"
	"time"

	"trade_sim/internal/domain"

	"github.com/google/btree"
	"github.com/shopspring/decimal"
)

// degree of the per-side B-trees
const treeDegree = 32

type levelTree = btree.BTreeG[domain.PriceLevel]

// bids descending: Min() is the best bid
func bidLess(a, b domain.PriceLevel) bool { return a.Price.GreaterThan(b.Price) }

// asks ascending: Min() is the best ask
func askLess(a, b domain.PriceLevel) bool { return a.Price.LessThan(b.Price) }

func newSide(side domain.BookSide) *levelTree {
	if side == domain.SideBid {
		return btree.NewG(treeDegree, bidLess)
	}
	return btree.NewG(treeDegree, askLess)
}

// Change describes the level touched by an applied delta.
// Before and After are zero when the level did not exist / was removed.
type Change struct {
	Side   domain.BookSide
	Price  decimal.Decimal
	Before decimal.Decimal
	After  decimal.Decimal
}

// Removed returns the size taken off the level, zero if the level grew.
func (c Change) Removed() decimal.Decimal {
	if c.Before.GreaterThan(c.After) {
		return c.Before.Sub(c.After)
	}
	return decimal.Zero
}

// Store is the mutable order book. It is owned by a single writer;
// concurrent readers must go through View.
type Store struct {
	bids *levelTree
	asks *levelTree

	sequence   uint64
	lastUpdate time.Time
}

// NewStore creates an empty book.
func NewStore() *Store {
	return &Store{
		bids: newSide(domain.SideBid),
		asks: newSide(domain.SideAsk),
	}
}

// Apply applies a snapshot or a delta.
//
// A snapshot replaces both sides and resets the sequence; it is rejected when
// its sequence is below the current one. A delta must carry exactly
// sequence+1. Rejected and crossed updates leave the book untouched.
func (s *Store) Apply(msg domain.FeedMessage) (Change, error) {
	switch msg.Kind {
	case domain.KindSnapshot:
		return Change{}, s.applySnapshot(msg)
	case domain.KindDelta:
		return s.applyDelta(msg)
	default:
		return Change{}, fmt.Errorf("%w: unknown message kind %d", domain.ErrProtocolViolation, msg.Kind)
	}
}

func (s *Store) applySnapshot(msg domain.FeedMessage) error {
	if msg.Sequence < s.sequence {
		return fmt.Errorf("%w: snapshot seq %d below current %d", domain.ErrOutOfOrder, msg.Sequence, s.sequence)
	}

	bids := newSide(domain.SideBid)
	for _, lvl := range msg.Bids {
		if lvl.Size.IsPositive() {
			bids.ReplaceOrInsert(lvl)
		}
	}
	asks := newSide(domain.SideAsk)
	for _, lvl := range msg.Asks {
		if lvl.Size.IsPositive() {
			asks.ReplaceOrInsert(lvl)
		}
	}
	if crossed(bids, asks) {
		return fmt.Errorf("%w: snapshot seq %d", domain.ErrCrossed, msg.Sequence)
	}

	s.bids, s.asks = bids, asks
	s.sequence = msg.Sequence
	s.touch(msg.Received)
	return nil
}

func (s *Store) applyDelta(msg domain.FeedMessage) (Change, error) {
	if msg.Sequence != s.sequence+1 {
		return Change{}, fmt.Errorf("%w: expected %d, got %d", domain.ErrOutOfOrder, s.sequence+1, msg.Sequence)
	}
	if msg.Size.IsNegative() {
		return Change{}, fmt.Errorf("%w: negative size %s", domain.ErrProtocolViolation, msg.Size)
	}

	tree := s.side(msg.Side)
	if tree == nil {
		return Change{}, fmt.Errorf("%w: unknown side %d", domain.ErrProtocolViolation, msg.Side)
	}

	key := domain.PriceLevel{Price: msg.Price}
	prev, existed := tree.Get(key)

	change := Change{Side: msg.Side, Price: msg.Price, After: msg.Size}
	if existed {
		change.Before = prev.Size
	}

	if msg.Size.IsZero() {
		tree.Delete(key)
	} else {
		tree.ReplaceOrInsert(domain.PriceLevel{Price: msg.Price, Size: msg.Size})
	}

	if crossed(s.bids, s.asks) {
		// roll back the single level we touched
		if existed {
			tree.ReplaceOrInsert(prev)
		} else {
			tree.Delete(key)
		}
		return Change{}, fmt.Errorf("%w: delta seq %d %s %s", domain.ErrCrossed, msg.Sequence, msg.Side, msg.Price)
	}

	s.sequence = msg.Sequence
	s.touch(msg.Received)
	return change, nil
}

func (s *Store) touch(received time.Time) {
	if received.IsZero() {
		received = time.Now()
	}
	s.lastUpdate = received
}

func crossed(bids, asks *levelTree) bool {
	bb, okB := bids.Min()
	ba, okA := asks.Min()
	return okB && okA && bb.Price.GreaterThanOrEqual(ba.Price)
}

func (s *Store) side(side domain.BookSide) *levelTree {
	switch side {
	case domain.SideBid:
		return s.bids
	case domain.SideAsk:
		return s.asks
	}
	return nil
}

// BestBid returns the highest bid level.
func (s *Store) BestBid() (domain.PriceLevel, bool) {
	return s.bids.Min()
}

// BestAsk returns the lowest ask level.
func (s *Store) BestAsk() (domain.PriceLevel, bool) {
	return s.asks.Min()
}

// DepthAt returns up to n best levels of a side in priority order.
func (s *Store) DepthAt(side domain.BookSide, n int) []domain.PriceLevel {
	return collect(s.side(side), n)
}

// Sequence returns the last applied sequence.
func (s *Store) Sequence() uint64 { return s.sequence }

// LastUpdate returns the time of the last successful apply.
func (s *Store) LastUpdate() time.Time { return s.lastUpdate }

// Len returns the number of levels on a side.
func (s *Store) Len(side domain.BookSide) int {
	if t := s.side(side); t != nil {
		return t.Len()
	}
	return 0
}

// Reset empties the book and its sequence.
func (s *Store) Reset() {
	s.bids = newSide(domain.SideBid)
	s.asks = newSide(domain.SideAsk)
	s.sequence = 0
	s.lastUpdate = time.Time{}
}

// View returns an immutable copy-on-write view of the current book.
// Only the writer may call View; the returned view is safe for concurrent reads.
func (s *Store) View() *View {
	return &View{
		bids:       s.bids.Clone(),
		asks:       s.asks.Clone(),
		Sequence:   s.sequence,
		LastUpdate: s.lastUpdate,
	}
}

func collect(t *levelTree, n int) []domain.PriceLevel {
	if t == nil || n <= 0 {
		return nil
	}
	if n > t.Len() {
		n = t.Len()
	}
	out := make([]domain.PriceLevel, 0, n)
	t.Ascend(func(lvl domain.PriceLevel) bool {
		if len(out) >= n {
			return false
		}
		out = append(out, lvl)
		return true
	})
	return out
}

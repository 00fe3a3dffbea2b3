package book

import (
	"time"

	"trade_sim/internal/domain"

	"github.com/shopspring/decimal"
)

// View is a read-only point-in-time order book. Views are never mutated
// after creation and may be shared between goroutines.
type View struct {
	bids *levelTree
	asks *levelTree

	Sequence   uint64
	LastUpdate time.Time
}

// NewView builds a view directly from level lists, mostly for tests and replays.
// Zero-size levels are skipped.
func NewView(seq uint64, bids, asks []domain.PriceLevel) *View {
	v := &View{bids: newSide(domain.SideBid), asks: newSide(domain.SideAsk), Sequence: seq, LastUpdate: time.Now()}
	for _, l := range bids {
		if l.Size.IsPositive() {
			v.bids.ReplaceOrInsert(l)
		}
	}
	for _, l := range asks {
		if l.Size.IsPositive() {
			v.asks.ReplaceOrInsert(l)
		}
	}
	return v
}

func (v *View) side(side domain.BookSide) *levelTree {
	switch side {
	case domain.SideBid:
		return v.bids
	case domain.SideAsk:
		return v.asks
	}
	return nil
}

// BestBid returns the highest bid level.
func (v *View) BestBid() (domain.PriceLevel, bool) { return v.bids.Min() }

// BestAsk returns the lowest ask level.
func (v *View) BestAsk() (domain.PriceLevel, bool) { return v.asks.Min() }

// Best returns the best level of a side.
func (v *View) Best(side domain.BookSide) (domain.PriceLevel, bool) {
	if t := v.side(side); t != nil {
		return t.Min()
	}
	return domain.PriceLevel{}, false
}

// Mid returns the mid price; false when either side is empty.
func (v *View) Mid() (decimal.Decimal, bool) {
	bb, okB := v.bids.Min()
	ba, okA := v.asks.Min()
	if !okB || !okA {
		return decimal.Zero, false
	}
	return bb.Price.Add(ba.Price).Div(decimal.NewFromInt(2)), true
}

// Spread returns best ask - best bid; false when either side is empty.
func (v *View) Spread() (decimal.Decimal, bool) {
	bb, okB := v.bids.Min()
	ba, okA := v.asks.Min()
	if !okB || !okA {
		return decimal.Zero, false
	}
	return ba.Price.Sub(bb.Price), true
}

// DepthAt returns up to n best levels of a side.
func (v *View) DepthAt(side domain.BookSide, n int) []domain.PriceLevel {
	return collect(v.side(side), n)
}

// Walk visits levels of a side in priority order until fn returns false.
func (v *View) Walk(side domain.BookSide, fn func(domain.PriceLevel) bool) {
	if t := v.side(side); t != nil {
		t.Ascend(fn)
	}
}

// Len returns the number of levels on a side.
func (v *View) Len(side domain.BookSide) int {
	if t := v.side(side); t != nil {
		return t.Len()
	}
	return 0
}

// TotalSize sums the resting size of a side.
func (v *View) TotalSize(side domain.BookSide) decimal.Decimal {
	total := decimal.Zero
	v.Walk(side, func(l domain.PriceLevel) bool {
		total = total.Add(l.Size)
		return true
	})
	return total
}

// RemovedBetween sums the size that disappeared from each price level going
// from prev to next. It serves as a traded-volume proxy for full-book feeds.
func RemovedBetween(prev, next *View) decimal.Decimal {
	total := decimal.Zero
	if prev == nil || next == nil {
		return total
	}
	for _, side := range []domain.BookSide{domain.SideBid, domain.SideAsk} {
		nt := next.side(side)
		prev.Walk(side, func(l domain.PriceLevel) bool {
			after := decimal.Zero
			if cur, ok := nt.Get(domain.PriceLevel{Price: l.Price}); ok {
				after = cur.Size
			}
			if l.Size.GreaterThan(after) {
				total = total.Add(l.Size.Sub(after))
			}
			return true
		})
	}
	return total
}

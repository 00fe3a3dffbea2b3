package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookSide identifies one side of the order book.
type BookSide int

const (
	SideBid BookSide = iota + 1
	SideAsk
)

// String returns the string representation of BookSide
func (s BookSide) String() string {
	switch s {
	case SideBid:
		return "BID"
	case SideAsk:
		return "ASK"
	default:
		return "UNKNOWN"
	}
}

// PriceLevel is an aggregate size resting at a single price.
// A level with zero size is never stored in a book.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// Notional returns price * size.
func (l PriceLevel) Notional() decimal.Decimal {
	return l.Price.Mul(l.Size)
}

// MessageKind discriminates FeedMessage variants.
type MessageKind int

const (
	KindSnapshot MessageKind = iota + 1
	KindDelta
)

// String returns the string representation of MessageKind
func (k MessageKind) String() string {
	switch k {
	case KindSnapshot:
		return "SNAPSHOT"
	case KindDelta:
		return "DELTA"
	default:
		return "UNKNOWN"
	}
}

// FeedMessage is a normalized order book update.
//
// Snapshot: Bids/Asks carry the full book, Side/Price/Size are unused.
// Delta: Side/Price/Size carry a single level change; Size zero removes the level.
type FeedMessage struct {
	Kind     MessageKind
	Sequence uint64

	// Snapshot payload
	Bids []PriceLevel
	Asks []PriceLevel

	// Delta payload
	Side  BookSide
	Price decimal.Decimal
	Size  decimal.Decimal

	Received time.Time
}

// NewSnapshot builds a snapshot message.
func NewSnapshot(seq uint64, bids, asks []PriceLevel) FeedMessage {
	return FeedMessage{Kind: KindSnapshot, Sequence: seq, Bids: bids, Asks: asks, Received: time.Now()}
}

// NewDelta builds a single-level delta message.
func NewDelta(seq uint64, side BookSide, price, size decimal.Decimal) FeedMessage {
	return FeedMessage{Kind: KindDelta, Sequence: seq, Side: side, Price: price, Size: size, Received: time.Now()}
}

// IsSnapshot reports whether the message replaces the whole book.
func (m FeedMessage) IsSnapshot() bool {
	return m.Kind == KindSnapshot
}

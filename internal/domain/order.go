package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of a hypothetical order.
type OrderSide int

const (
	Buy OrderSide = iota + 1
	Sell
)

// String returns the string representation of OrderSide
func (s OrderSide) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// ExecutionSide returns the book side an order of this direction consumes.
func (s OrderSide) ExecutionSide() BookSide {
	if s == Sell {
		return SideBid
	}
	return SideAsk
}

// ParseOrderSide accepts "buy"/"sell" in any case.
func ParseOrderSide(s string) (OrderSide, error) {
	switch s {
	case "BUY", "buy", "Buy":
		return Buy, nil
	case "SELL", "sell", "Sell":
		return Sell, nil
	}
	return 0, fmt.Errorf("unknown order side %q", s)
}

// Urgency selects how aggressively the order would be worked,
// which in turn selects the maker/taker fee mix.
type Urgency int

const (
	Conservative Urgency = iota + 1
	Neutral
	Aggressive
)

// String returns the string representation of Urgency
func (u Urgency) String() string {
	switch u {
	case Conservative:
		return "CONSERVATIVE"
	case Neutral:
		return "NEUTRAL"
	case Aggressive:
		return "AGGRESSIVE"
	default:
		return "UNKNOWN"
	}
}

// ParseUrgency accepts the lower or upper case urgency name.
func ParseUrgency(s string) (Urgency, error) {
	switch s {
	case "conservative", "CONSERVATIVE", "maker":
		return Conservative, nil
	case "neutral", "NEUTRAL", "":
		return Neutral, nil
	case "aggressive", "AGGRESSIVE", "taker":
		return Aggressive, nil
	}
	return 0, fmt.Errorf("unknown urgency %q", s)
}

// OrderSpec describes the hypothetical order whose cost is estimated.
// It is replaced wholesale on every submission and never mutated afterwards.
type OrderSpec struct {
	Side     OrderSide
	Quantity decimal.Decimal // base asset units
	Urgency  Urgency

	// QuoteQuantity, when set and Quantity is zero, sizes the order in quote
	// currency. It is converted to base units at the mid price of the book
	// the estimate runs against.
	QuoteQuantity decimal.Decimal

	Symbol string
	// Volatility overrides the configured volatility for impact models that use it.
	Volatility decimal.Decimal
	// FeeTier overrides the configured exchange fee tier (1 = base tier).
	FeeTier int
}

var (
	errNoQuantity = errors.New("order quantity must be positive")
	errBadSide    = errors.New("order side must be BUY or SELL")
	errBadUrgency = errors.New("order urgency is invalid")
)

// Validate checks that the order can be estimated.
func (o OrderSpec) Validate() error {
	if o.Side != Buy && o.Side != Sell {
		return errBadSide
	}
	if o.Urgency < Conservative || o.Urgency > Aggressive {
		return errBadUrgency
	}
	if !o.Quantity.IsPositive() && !o.QuoteQuantity.IsPositive() {
		return errNoQuantity
	}
	if o.Quantity.IsNegative() || o.QuoteQuantity.IsNegative() {
		return errNoQuantity
	}
	return nil
}

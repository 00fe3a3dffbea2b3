package cost

import (
	"fmt"
	"math"
	"slices"

	"trade_sim/internal/domain"

	"github.com/shopspring/decimal"
)

// SlippageModel names how the expected slippage is derived from a book walk.
type SlippageModel string

const (
	// SlippageLinear compares the plain VWAP of the walk with the reference price.
	SlippageLinear SlippageModel = "linear"
	// SlippageExponential weights each consumed level by exp(-alpha*depth)
	// before averaging, so deep levels count less.
	SlippageExponential SlippageModel = "exponential"
	// SlippageQuantile reports a high quantile of recent samples, each the
	// larger of the linear and exponential values.
	SlippageQuantile SlippageModel = "quantile"
)

// ParseSlippageModel validates a configured model name.
func ParseSlippageModel(s string) (SlippageModel, error) {
	switch m := SlippageModel(s); m {
	case SlippageLinear, SlippageExponential, SlippageQuantile:
		return m, nil
	case "":
		return SlippageLinear, nil
	}
	return "", fmt.Errorf("unknown slippage model %q", s)
}

// SlippageParams configures the slippage term.
type SlippageParams struct {
	Model SlippageModel
	Alpha float64 // depth decay for the exponential model

	Quantile   float64 // 0..1, default 0.9
	MinSamples int     // history needed before the quantile is used, default 10
}

func (p SlippageParams) quantile() float64 {
	if p.Quantile <= 0 || p.Quantile > 1 {
		return 0.9
	}
	return p.Quantile
}

func (p SlippageParams) minSamples() int {
	if p.MinSamples <= 0 {
		return 10
	}
	return p.MinSamples
}

// fill is the part of one level taken by a walk.
type fill struct {
	level domain.PriceLevel
	depth int
}

// relative returns the signed slippage of avg against ref; positive is adverse.
func relative(avg, ref decimal.Decimal, side domain.OrderSide) decimal.Decimal {
	s := avg.Sub(ref).Div(ref)
	if side == domain.Sell {
		return s.Neg()
	}
	return s
}

// exponentialAverage is the fill price with level weights exp(-alpha*depth).
func exponentialAverage(fills []fill, alpha float64) decimal.Decimal {
	num, den := decimal.Zero, decimal.Zero
	for _, f := range fills {
		w := f.level.Size.Mul(decimal.NewFromFloat(math.Exp(-alpha * float64(f.depth))))
		num = num.Add(f.level.Price.Mul(w))
		den = den.Add(w)
	}
	if den.IsZero() {
		return decimal.Zero
	}
	return num.Div(den)
}

// slippage evaluates the configured model for one walk. history is only used
// by the quantile model and may be nil, in which case the current sample is
// returned.
func (p SlippageParams) slippage(fills []fill, vwap, ref decimal.Decimal, side domain.OrderSide, history *SlippageWindow) decimal.Decimal {
	linear := relative(vwap, ref, side)
	switch p.Model {
	case SlippageExponential:
		return relative(exponentialAverage(fills, p.Alpha), ref, side)
	case SlippageQuantile:
		sample := decimal.Max(linear, relative(exponentialAverage(fills, p.Alpha), ref, side))
		if history == nil {
			return sample
		}
		history.Add(sample)
		if history.Len() < p.minSamples() {
			return sample
		}
		return history.Quantile(p.quantile())
	default:
		return linear
	}
}

// SlippageWindow keeps the last N slippage samples for the quantile model.
// Not safe for concurrent use; the session writer owns it.
type SlippageWindow struct {
	samples []decimal.Decimal
	head    int
	count   int
}

// NewSlippageWindow creates a window holding up to size samples.
func NewSlippageWindow(size int) *SlippageWindow {
	if size <= 0 {
		size = 1
	}
	return &SlippageWindow{samples: make([]decimal.Decimal, size)}
}

// Add records a sample, evicting the oldest when full.
func (w *SlippageWindow) Add(v decimal.Decimal) {
	w.samples[w.head] = v
	w.head = (w.head + 1) % len(w.samples)
	if w.count < len(w.samples) {
		w.count++
	}
}

// Len returns the number of samples held.
func (w *SlippageWindow) Len() int { return w.count }

// Quantile returns the q-quantile of the held samples, interpolating
// linearly between neighbours. Zero when empty.
func (w *SlippageWindow) Quantile(q float64) decimal.Decimal {
	if w.count == 0 {
		return decimal.Zero
	}
	// samples fill from index 0, so the first count slots are always live
	sorted := slices.Clone(w.samples[:w.count])
	slices.SortFunc(sorted, func(a, b decimal.Decimal) int { return a.Cmp(b) })

	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := decimal.NewFromFloat(pos - float64(lo))
	return sorted[lo].Add(sorted[hi].Sub(sorted[lo]).Mul(frac))
}

// Reset drops all samples.
func (w *SlippageWindow) Reset() {
	clear(w.samples)
	w.head, w.count = 0, 0
}

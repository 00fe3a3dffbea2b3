package cost

import (
	"context"
	"fmt"
	"time"

	"trade_sim/internal/book"
	"trade_sim/internal/domain"

	"github.com/shopspring/decimal"
)

var (
	one     = decimal.NewFromInt(1)
	bpsUnit = decimal.NewFromInt(10000)
)

// Params configures an Engine.
type Params struct {
	Fees     FeeModel
	Impact   ImpactParams
	Slippage SlippageParams

	// RealizedVolatility prefers Inputs.Volatility over Impact.Volatility
	// once the caller has enough price history.
	RealizedVolatility bool
}

// Inputs carries the market history an estimate depends on beyond the book.
// The session writer owns the windows behind these values.
type Inputs struct {
	// Volume is the traded-volume proxy; not positive marks the estimate Degraded.
	Volume decimal.Decimal
	// Volatility is the realized volatility, 0 when unknown.
	Volatility float64
	// Slippage feeds the quantile model; nil reports the current sample.
	Slippage *SlippageWindow
}

// Engine computes pre-trade cost estimates against immutable book views.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	params Params
	now    func() time.Time
}

// NewEngine creates an engine with the given parameters.
func NewEngine(p Params) *Engine {
	return &Engine{params: p, now: time.Now}
}

// WithClock replaces the timestamp source for ComputedAt.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Params returns the engine configuration.
func (e *Engine) Params() Params { return e.params }

// Estimate walks the book for the order and returns its expected cost.
// volume is the traded-volume proxy; when it is not positive the impact term
// is zero and the estimate is marked Degraded.
func (e *Engine) Estimate(ctx context.Context, view *book.View, order domain.OrderSpec, volume decimal.Decimal) (domain.CostEstimate, error) {
	return e.EstimateWith(ctx, view, order, Inputs{Volume: volume})
}

// EstimateWith is Estimate with the full market history. It adds a sample to
// in.Slippage when the quantile model is configured.
func (e *Engine) EstimateWith(ctx context.Context, view *book.View, order domain.OrderSpec, in Inputs) (domain.CostEstimate, error) {
	if err := order.Validate(); err != nil {
		return domain.CostEstimate{}, err
	}
	if view == nil {
		return domain.CostEstimate{}, domain.ErrEmptyBook
	}

	side := order.Side.ExecutionSide()
	ref, ok := view.Best(side)
	if !ok {
		return domain.CostEstimate{}, fmt.Errorf("%w: no %s levels", domain.ErrInsufficientLiquidity, side)
	}

	qty := order.Quantity
	if !qty.IsPositive() {
		mid, ok := view.Mid()
		if !ok {
			return domain.CostEstimate{}, fmt.Errorf("%w: quote quantity needs a two-sided book", domain.ErrEmptyBook)
		}
		qty = order.QuoteQuantity.Div(mid)
	}

	filled, err := walk(ctx, view, side, qty)
	if err != nil {
		return domain.CostEstimate{}, err
	}
	vwap := filled.cost.Div(qty)

	slippage := e.params.Slippage.slippage(filled.fills, vwap, ref.Price, order.Side, in.Slippage)
	notional := qty.Mul(vwap)

	sigma := e.volatility(order, in)
	degraded := !in.Volume.IsPositive()
	impact := decimal.Zero
	if !degraded {
		qf, _ := qty.Float64()
		vf, _ := in.Volume.Float64()
		impact = decimal.NewFromFloat(e.params.Impact.Impact(qf, vf, sigma).Total())
	}

	fm := e.params.Fees
	rate := fm.Rate(order.Urgency, notional, order.FeeTier)
	fee := notional.Mul(rate)

	slippageCost := slippage.Mul(ref.Price).Mul(qty)
	impactCost := impact.Mul(notional)
	net := slippageCost.Add(impactCost).Add(fee)

	return domain.CostEstimate{
		ExpectedSlippage: slippage,
		MarketImpact:     impact,
		Fee:              fee,
		SlippageCost:     slippageCost,
		ImpactCost:       impactCost,
		NetCost:          net,
		NetCostBps:       net.Div(notional).Mul(bpsUnit),
		MakerTakerRatio:  fm.MakerShare(order.Urgency),
		FeeRate:          rate,
		Volatility:       decimal.NewFromFloat(sigma),
		FillPrice:        vwap,
		ReferencePrice:   ref.Price,
		Quantity:         qty,
		Notional:         notional,
		LevelsConsumed:   filled.levels,
		Degraded:         degraded,
		Side:             order.Side,
		Urgency:          order.Urgency,
		BookSequence:     view.Sequence,
		ComputedAt:       e.now(),
	}, nil
}

// volatility resolves sigma: the order override, then realized, then configured.
func (e *Engine) volatility(order domain.OrderSpec, in Inputs) float64 {
	if order.Volatility.IsPositive() {
		v, _ := order.Volatility.Float64()
		return v
	}
	if e.params.RealizedVolatility && in.Volatility > 0 {
		return in.Volatility
	}
	return e.params.Impact.Volatility
}

type fillResult struct {
	cost   decimal.Decimal
	levels int
	fills  []fill
}

// walk consumes levels from the best price outward until qty is filled.
func walk(ctx context.Context, view *book.View, side domain.BookSide, qty decimal.Decimal) (fillResult, error) {
	res := fillResult{cost: decimal.Zero}
	remaining := qty
	var err error

	view.Walk(side, func(lvl domain.PriceLevel) bool {
		if err = ctx.Err(); err != nil {
			return false
		}
		taken := domain.PriceLevel{Price: lvl.Price, Size: decimal.Min(remaining, lvl.Size)}
		res.cost = res.cost.Add(taken.Notional())
		res.fills = append(res.fills, fill{level: taken, depth: res.levels})
		res.levels++
		remaining = remaining.Sub(taken.Size)
		return remaining.IsPositive()
	})
	if err != nil {
		return fillResult{}, err
	}
	if remaining.IsPositive() {
		return fillResult{}, fmt.Errorf("%w: %s unfilled of %s on %s side",
			domain.ErrInsufficientLiquidity, remaining, qty, side)
	}
	return res, nil
}

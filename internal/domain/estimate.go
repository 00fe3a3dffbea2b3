package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CostEstimate is the predicted execution cost of an OrderSpec against one book state.
// It is always rebuilt from scratch; never patch an existing estimate.
type CostEstimate struct {
	// Relative terms (fraction of the reference price / notional)
	ExpectedSlippage decimal.Decimal `json:"expected_slippage"`
	MarketImpact     decimal.Decimal `json:"market_impact"`

	// Quote currency terms
	Fee          decimal.Decimal `json:"fee"`
	SlippageCost decimal.Decimal `json:"slippage_cost"`
	ImpactCost   decimal.Decimal `json:"impact_cost"`
	// NetCost is SlippageCost + ImpactCost + Fee, in quote currency.
	// NetCostBps is the same total relative to Notional.
	NetCost    decimal.Decimal `json:"net_cost"`
	NetCostBps decimal.Decimal `json:"net_cost_bps"`

	// MakerTakerRatio is the expected maker share of the fill, 0..1.
	MakerTakerRatio decimal.Decimal `json:"maker_taker_ratio"`
	FeeRate         decimal.Decimal `json:"fee_rate"`
	// Volatility is the annualized sigma the impact model was given.
	Volatility decimal.Decimal `json:"volatility"`

	FillPrice      decimal.Decimal `json:"fill_price"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
	Quantity       decimal.Decimal `json:"quantity"`
	Notional       decimal.Decimal `json:"notional"`
	LevelsConsumed int             `json:"levels_consumed"`

	// Degraded is set when no volume history was available and the impact
	// term fell back to the slippage-only estimate.
	Degraded bool `json:"degraded"`

	Side         OrderSide `json:"side"`
	Urgency      Urgency   `json:"urgency"`
	BookSequence uint64    `json:"book_sequence"`
	ComputedAt   time.Time `json:"computed_at"`
}

package cost

import (
	"fmt"
	"sort"
	"strings"

	"trade_sim/internal/domain"

	"github.com/shopspring/decimal"
)

// VolumeDiscount lowers both fee rates once the order notional reaches MinNotional.
type VolumeDiscount struct {
	MinNotional decimal.Decimal
	Multiplier  decimal.Decimal
}

// FeeSchedule is an exchange's base maker/taker rates plus notional discounts.
type FeeSchedule struct {
	Exchange  string
	Maker     decimal.Decimal
	Taker     decimal.Decimal
	Discounts []VolumeDiscount
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Published base schedules. Discount multipliers are relative to the base maker rate.
var schedules = map[string]FeeSchedule{
	"OKX": {
		Exchange: "OKX",
		Maker:    d("0.0008"),
		Taker:    d("0.0010"),
		Discounts: []VolumeDiscount{
			{MinNotional: d("10000000"), Multiplier: d("0.75")},
			{MinNotional: d("1000000"), Multiplier: d("0.875")},
			{MinNotional: d("100000"), Multiplier: d("0.9375")},
		},
	},
	"BINANCE": {
		Exchange: "BINANCE",
		Maker:    d("0.0002"),
		Taker:    d("0.0004"),
		Discounts: []VolumeDiscount{
			{MinNotional: d("150000000"), Multiplier: d("0.5")},
			{MinNotional: d("50000000"), Multiplier: d("0.6")},
			{MinNotional: d("5000000"), Multiplier: d("0.8")},
		},
	},
}

// LookupSchedule returns the published schedule for an exchange (case-insensitive).
func LookupSchedule(exchange string) (FeeSchedule, error) {
	s, ok := schedules[strings.ToUpper(strings.TrimSpace(exchange))]
	if !ok {
		return FeeSchedule{}, fmt.Errorf("unsupported exchange %q", exchange)
	}
	return s, nil
}

// tierStep is the discount per fee tier above the base tier, capped at three steps.
var tierStep = d("0.1")

// FeeModel turns an urgency and notional into an effective fee rate.
type FeeModel struct {
	Schedule FeeSchedule
	Tier     int
	// NeutralMakerShare is the maker fraction assumed for Neutral urgency.
	NeutralMakerShare decimal.Decimal
}

// MakerShare returns the expected maker fraction of a fill for the urgency.
func (m FeeModel) MakerShare(u domain.Urgency) decimal.Decimal {
	switch u {
	case domain.Conservative:
		return one
	case domain.Aggressive:
		return decimal.Zero
	default:
		return m.NeutralMakerShare
	}
}

// Rate returns the blended fee rate for an order of the given notional.
// tier overrides the model tier when positive.
func (m FeeModel) Rate(u domain.Urgency, notional decimal.Decimal, tier int) decimal.Decimal {
	share := m.MakerShare(u)
	rate := m.Schedule.Maker.Mul(share).Add(m.Schedule.Taker.Mul(one.Sub(share)))
	return rate.Mul(m.discount(notional)).Mul(m.tierMultiplier(tier))
}

func (m FeeModel) discount(notional decimal.Decimal) decimal.Decimal {
	discounts := make([]VolumeDiscount, len(m.Schedule.Discounts))
	copy(discounts, m.Schedule.Discounts)
	sort.Slice(discounts, func(i, j int) bool {
		return discounts[i].MinNotional.GreaterThan(discounts[j].MinNotional)
	})
	for _, vd := range discounts {
		if notional.GreaterThanOrEqual(vd.MinNotional) {
			return vd.Multiplier
		}
	}
	return one
}

func (m FeeModel) tierMultiplier(tier int) decimal.Decimal {
	if tier <= 0 {
		tier = m.Tier
	}
	steps := tier - 1
	if steps < 0 {
		steps = 0
	}
	if steps > 3 {
		steps = 3
	}
	return one.Sub(tierStep.Mul(decimal.NewFromInt(int64(steps))))
}

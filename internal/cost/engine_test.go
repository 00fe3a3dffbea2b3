package cost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"trade_sim/internal/book"
	"trade_sim/internal/domain"

	"github.com/shopspring/decimal"
)

func lvl(price, size string) domain.PriceLevel {
	return domain.PriceLevel{Price: decimal.RequireFromString(price), Size: decimal.RequireFromString(size)}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testEngine(t *testing.T) *Engine {
	t.Helper()
	okx, err := LookupSchedule("okx")
	if err != nil {
		t.Fatalf("LookupSchedule: %v", err)
	}
	return NewEngine(Params{
		Fees: FeeModel{Schedule: okx, Tier: 1, NeutralMakerShare: dec("0.5")},
		Impact: ImpactParams{
			Model:       ImpactSqrt,
			Coefficient: 0.1,
		},
	})
}

func sampleView() *book.View {
	return book.NewView(1,
		[]domain.PriceLevel{lvl("100", "5"), lvl("99", "5")},
		[]domain.PriceLevel{lvl("101", "5"), lvl("102", "5")},
	)
}

func TestEngine_BuyWalksAsks(t *testing.T) {
	e := testEngine(t)
	est, err := e.Estimate(context.Background(), sampleView(), domain.OrderSpec{
		Side: domain.Buy, Quantity: dec("7"), Urgency: domain.Aggressive,
	}, decimal.Zero)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}

	if got := est.FillPrice.Round(4); !got.Equal(dec("101.2857")) {
		t.Errorf("expected VWAP 101.2857, got %s", est.FillPrice)
	}
	if !est.ReferencePrice.Equal(dec("101")) {
		t.Errorf("expected reference 101, got %s", est.ReferencePrice)
	}
	if got := est.ExpectedSlippage.Round(6); !got.Equal(dec("0.002829")) {
		t.Errorf("expected slippage 0.002829, got %s", est.ExpectedSlippage)
	}
	if est.LevelsConsumed != 2 {
		t.Errorf("expected 2 levels consumed, got %d", est.LevelsConsumed)
	}
	if !est.FeeRate.Equal(dec("0.001")) {
		t.Errorf("expected taker rate 0.001, got %s", est.FeeRate)
	}
	if got := est.Fee.Round(6); !got.Equal(dec("0.709")) {
		t.Errorf("expected fee 0.709, got %s", est.Fee)
	}
	if !est.MakerTakerRatio.IsZero() {
		t.Errorf("aggressive order should be all taker, got %s", est.MakerTakerRatio)
	}
	if est.BookSequence != 1 {
		t.Errorf("expected book sequence 1, got %d", est.BookSequence)
	}
}

func TestEngine_SellWalksBids(t *testing.T) {
	e := testEngine(t)
	est, err := e.Estimate(context.Background(), sampleView(), domain.OrderSpec{
		Side: domain.Sell, Quantity: dec("7"), Urgency: domain.Aggressive,
	}, decimal.Zero)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if !est.ReferencePrice.Equal(dec("100")) {
		t.Errorf("expected reference 100, got %s", est.ReferencePrice)
	}
	if !est.ExpectedSlippage.IsPositive() {
		t.Errorf("sell slippage should be positive (adverse), got %s", est.ExpectedSlippage)
	}
	if got := est.ExpectedSlippage.Round(6); !got.Equal(dec("0.002857")) {
		t.Errorf("expected slippage 0.002857, got %s", est.ExpectedSlippage)
	}
}

func TestEngine_InsufficientLiquidity(t *testing.T) {
	e := testEngine(t)
	_, err := e.Estimate(context.Background(), sampleView(), domain.OrderSpec{
		Side: domain.Buy, Quantity: dec("11"), Urgency: domain.Neutral,
	}, decimal.Zero)
	if !errors.Is(err, domain.ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}

	empty := book.NewView(0, []domain.PriceLevel{lvl("100", "1")}, nil)
	_, err = e.Estimate(context.Background(), empty, domain.OrderSpec{
		Side: domain.Buy, Quantity: dec("1"), Urgency: domain.Neutral,
	}, decimal.Zero)
	if !errors.Is(err, domain.ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity for empty ask side, got %v", err)
	}
}

func TestEngine_DegradedWithoutVolume(t *testing.T) {
	e := testEngine(t)
	est, err := e.Estimate(context.Background(), sampleView(), domain.OrderSpec{
		Side: domain.Buy, Quantity: dec("7"), Urgency: domain.Neutral,
	}, decimal.Zero)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if !est.Degraded {
		t.Error("expected degraded estimate without volume history")
	}
	if !est.MarketImpact.IsZero() || !est.ImpactCost.IsZero() {
		t.Errorf("expected zero impact, got %s / %s", est.MarketImpact, est.ImpactCost)
	}
	if want := est.SlippageCost.Add(est.Fee); !est.NetCost.Equal(want) {
		t.Errorf("net cost %s != slippage + fee %s", est.NetCost, want)
	}
}

func TestEngine_NetCostIncludesImpact(t *testing.T) {
	e := testEngine(t)
	est, err := e.Estimate(context.Background(), sampleView(), domain.OrderSpec{
		Side: domain.Buy, Quantity: dec("7"), Urgency: domain.Neutral,
	}, dec("700"))
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if est.Degraded {
		t.Error("estimate with volume should not be degraded")
	}
	// 0.1 * sqrt(7/700)
	if got := est.MarketImpact.Round(6); !got.Equal(dec("0.01")) {
		t.Errorf("expected impact 0.01, got %s", est.MarketImpact)
	}
	want := est.SlippageCost.Add(est.ImpactCost).Add(est.Fee)
	if !est.NetCost.Equal(want) {
		t.Errorf("net cost %s != components %s", est.NetCost, want)
	}
	// quote currency: 709 paid vs 707 at the touch, 1% of 709, 0.09% of 709
	if got := est.SlippageCost.Round(6); !got.Equal(dec("2")) {
		t.Errorf("expected slippage cost 2, got %s", est.SlippageCost)
	}
	if got := est.NetCost.Round(4); !got.Equal(dec("9.7281")) {
		t.Errorf("expected net cost 9.7281 quote, got %s", est.NetCost)
	}
	if got := est.NetCostBps.Round(2); !got.Equal(dec("137.21")) {
		t.Errorf("expected 137.21 bps, got %s", est.NetCostBps)
	}
	if !est.FeeRate.Equal(dec("0.0009")) {
		t.Errorf("neutral fee rate should blend to 0.0009, got %s", est.FeeRate)
	}
}

func TestEngine_QuoteQuantityUsesMid(t *testing.T) {
	e := testEngine(t)
	est, err := e.Estimate(context.Background(), sampleView(), domain.OrderSpec{
		Side: domain.Buy, QuoteQuantity: dec("502.5"), Urgency: domain.Conservative,
	}, decimal.Zero)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if !est.Quantity.Equal(dec("5")) {
		t.Errorf("expected 5 base units at mid 100.5, got %s", est.Quantity)
	}
	if !est.ExpectedSlippage.IsZero() {
		t.Errorf("single-level fill should have zero slippage, got %s", est.ExpectedSlippage)
	}
	if !est.MakerTakerRatio.Equal(dec("1")) {
		t.Errorf("conservative order should be all maker, got %s", est.MakerTakerRatio)
	}
}

func TestEngine_Deterministic(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	e := testEngine(t).WithClock(func() time.Time { return fixed })
	view := sampleView()
	spec := domain.OrderSpec{Side: domain.Buy, Quantity: dec("7.5"), Urgency: domain.Neutral}

	a, err := e.Estimate(context.Background(), view, spec, dec("123.45"))
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	b, err := e.Estimate(context.Background(), view, spec, dec("123.45"))
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}

	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	if !bytes.Equal(ja, jb) {
		t.Errorf("estimates differ:\n%s\n%s", ja, jb)
	}
}

func TestEngine_Cancelled(t *testing.T) {
	e := testEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Estimate(ctx, sampleView(), domain.OrderSpec{
		Side: domain.Buy, Quantity: dec("1"), Urgency: domain.Neutral,
	}, decimal.Zero)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestEngine_InvalidOrder(t *testing.T) {
	e := testEngine(t)
	_, err := e.Estimate(context.Background(), sampleView(), domain.OrderSpec{
		Side: domain.Buy, Urgency: domain.Neutral,
	}, decimal.Zero)
	if err == nil {
		t.Fatal("expected validation error for zero quantity")
	}
}

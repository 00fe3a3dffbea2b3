package cost

import (
	"context"
	"math"
	"testing"

	"trade_sim/internal/domain"
)

func TestVolatilityWindow(t *testing.T) {
	w := NewVolatilityWindow(3)
	if _, ok := w.Realized(); ok {
		t.Fatal("empty window should not report volatility")
	}
	w.Add(100)
	if _, ok := w.Realized(); ok {
		t.Fatal("one price is not enough")
	}

	w.Add(110)
	w.Add(100)
	got, ok := w.Realized()
	if !ok {
		t.Fatal("expected volatility with three prices")
	}
	// returns +-ln(1.1), mean zero
	if want := math.Log(1.1) * math.Sqrt(252); math.Abs(got-want) > 1e-9 {
		t.Errorf("expected %f, got %f", want, got)
	}

	w.Add(0)
	w.Add(-5)
	if w.Len() != 3 {
		t.Errorf("non-positive prices must be ignored, len %d", w.Len())
	}

	// evicts 100 and 110; flat prices have no volatility
	w.Add(100)
	w.Add(100)
	if got, _ := w.Realized(); got != 0 {
		t.Errorf("expected zero volatility for flat prices, got %f", got)
	}

	w.Reset()
	if w.Len() != 0 {
		t.Errorf("reset should empty the window, got %d", w.Len())
	}
}

func TestEngine_VolatilitySource(t *testing.T) {
	params := testEngine(t).Params()
	params.Impact = ImpactParams{
		Model:        ImpactAlmgrenChriss,
		Eta:          0.1,
		Gamma:        0.1,
		RiskAversion: 1e-6,
		Volatility:   0.02,
	}
	spec := domain.OrderSpec{Side: domain.Buy, Quantity: dec("7"), Urgency: domain.Neutral}
	in := Inputs{Volume: dec("700"), Volatility: 0.5}

	tests := []struct {
		name     string
		realized bool
		override string
		want     string
	}{
		{"configured when realized is off", false, "", "0.02"},
		{"realized when enabled", true, "", "0.5"},
		{"order override wins", true, "0.3", "0.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := params
			p.RealizedVolatility = tt.realized
			order := spec
			if tt.override != "" {
				order.Volatility = dec(tt.override)
			}
			est, err := NewEngine(p).EstimateWith(context.Background(), sampleView(), order, in)
			if err != nil {
				t.Fatalf("Estimate failed: %v", err)
			}
			if !est.Volatility.Equal(dec(tt.want)) {
				t.Errorf("expected sigma %s, got %s", tt.want, est.Volatility)
			}
		})
	}

	t.Run("configured when no history", func(t *testing.T) {
		p := params
		p.RealizedVolatility = true
		est, err := NewEngine(p).EstimateWith(context.Background(), sampleView(), spec, Inputs{Volume: dec("700")})
		if err != nil {
			t.Fatalf("Estimate failed: %v", err)
		}
		if !est.Volatility.Equal(dec("0.02")) {
			t.Errorf("expected fallback sigma 0.02, got %s", est.Volatility)
		}
	})
}

package cost

import (
	"math"
	"testing"
)

func TestImpact_Models(t *testing.T) {
	const eps = 1e-12

	sq := ImpactParams{Model: ImpactSqrt, Coefficient: 0.1}
	if got := sq.Impact(4, 100, 0).Total(); math.Abs(got-0.02) > eps {
		t.Errorf("sqrt: expected 0.02, got %v", got)
	}

	lin := ImpactParams{Model: ImpactLinear, Coefficient: 0.1}
	if got := lin.Impact(4, 100, 0).Total(); math.Abs(got-0.004) > eps {
		t.Errorf("linear: expected 0.004, got %v", got)
	}

	ac := ImpactParams{Model: ImpactAlmgrenChriss, Eta: 0.1, Gamma: 0.01, RiskAversion: 1e-6, Volatility: 0.02}
	b := ac.Impact(7, 100, 0)
	if math.Abs(b.Permanent-0.1*0.02*0.07) > eps {
		t.Errorf("almgren-chriss permanent: got %v", b.Permanent)
	}
	if b.Horizon <= 0 || b.Temporary <= 0 {
		t.Errorf("almgren-chriss should have positive horizon and temporary term, got %+v", b)
	}
	if b.Total() <= b.Permanent {
		t.Errorf("total %v should exceed permanent %v", b.Total(), b.Permanent)
	}

	// higher volatility override raises the permanent term
	if hi := ac.Impact(7, 100, 0.04); hi.Permanent <= b.Permanent {
		t.Errorf("volatility override ignored: %v <= %v", hi.Permanent, b.Permanent)
	}
}

func TestImpact_ZeroInputs(t *testing.T) {
	p := ImpactParams{Model: ImpactSqrt, Coefficient: 0.1}
	if got := p.Impact(0, 100, 0).Total(); got != 0 {
		t.Errorf("zero quantity: expected 0, got %v", got)
	}
	if got := p.Impact(1, 0, 0).Total(); got != 0 {
		t.Errorf("zero volume: expected 0, got %v", got)
	}
}

func TestParseImpactModel(t *testing.T) {
	for _, s := range []string{"sqrt", "linear", "almgren_chriss", ""} {
		if _, err := ParseImpactModel(s); err != nil {
			t.Errorf("ParseImpactModel(%q): %v", s, err)
		}
	}
	if _, err := ParseImpactModel("cubic"); err == nil {
		t.Error("expected error for unknown model")
	}
}

package cost

import (
	"fmt"
	"math"
)

// ImpactModel names the functional form of the market impact term.
type ImpactModel string

const (
	// ImpactSqrt is the square-root law: coefficient * sqrt(q / V).
	ImpactSqrt ImpactModel = "sqrt"
	// ImpactLinear is coefficient * q / V.
	ImpactLinear ImpactModel = "linear"
	// ImpactAlmgrenChriss is permanent eta*sigma*x plus temporary gamma*sigma*x/T
	// executed over the optimal horizon T.
	ImpactAlmgrenChriss ImpactModel = "almgren_chriss"
)

// ParseImpactModel validates a configured model name.
func ParseImpactModel(s string) (ImpactModel, error) {
	switch m := ImpactModel(s); m {
	case ImpactSqrt, ImpactLinear, ImpactAlmgrenChriss:
		return m, nil
	case "":
		return ImpactSqrt, nil
	}
	return "", fmt.Errorf("unknown impact model %q", s)
}

// ImpactParams configures the impact term.
type ImpactParams struct {
	Model       ImpactModel
	Coefficient float64

	// Almgren-Chriss
	Eta          float64 // permanent impact coefficient
	Gamma        float64 // temporary impact coefficient
	RiskAversion float64
	Volatility   float64
}

// ImpactBreakdown splits the impact for the Almgren-Chriss model.
// For the other models Permanent holds the whole term.
type ImpactBreakdown struct {
	Permanent float64
	Temporary float64
	Horizon   float64
}

// Total returns permanent + temporary.
func (b ImpactBreakdown) Total() float64 { return b.Permanent + b.Temporary }

// Impact returns the fractional price impact of trading quantity against a
// traded-volume proxy. volatility overrides the configured one when positive.
func (p ImpactParams) Impact(quantity, volume, volatility float64) ImpactBreakdown {
	if quantity <= 0 || volume <= 0 {
		return ImpactBreakdown{}
	}
	x := quantity / volume

	switch p.Model {
	case ImpactLinear:
		return ImpactBreakdown{Permanent: p.Coefficient * x}
	case ImpactAlmgrenChriss:
		sigma := p.Volatility
		if volatility > 0 {
			sigma = volatility
		}
		return p.almgrenChriss(x, sigma)
	default:
		return ImpactBreakdown{Permanent: p.Coefficient * math.Sqrt(x)}
	}
}

func (p ImpactParams) almgrenChriss(x, sigma float64) ImpactBreakdown {
	if sigma <= 0 || p.Eta <= 0 || p.RiskAversion <= 0 {
		return ImpactBreakdown{Permanent: p.Eta * sigma * x}
	}
	permanent := p.Eta * sigma * x

	// T = (3*gamma*x^2 / (2*eta*sigma^2*lambda))^(1/3)
	horizon := math.Cbrt(3 * p.Gamma * x * x / (2 * p.Eta * sigma * sigma * p.RiskAversion))
	var temporary float64
	if horizon > 0 {
		temporary = p.Gamma * sigma * x / horizon
	}
	return ImpactBreakdown{Permanent: permanent, Temporary: temporary, Horizon: horizon}
}

package cost

import "math"

// tradingPeriods annualizes the per-update standard deviation.
const tradingPeriods = 252

// VolatilityWindow estimates realized volatility from the last N mid prices
// as the annualized standard deviation of log returns.
// Not safe for concurrent use; the session writer owns it.
type VolatilityWindow struct {
	prices []float64
	head   int
	count  int
}

// NewVolatilityWindow creates a window holding up to size prices.
func NewVolatilityWindow(size int) *VolatilityWindow {
	if size < 2 {
		size = 2
	}
	return &VolatilityWindow{prices: make([]float64, size)}
}

// Add records a price. Non-positive prices are ignored.
func (w *VolatilityWindow) Add(price float64) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return
	}
	w.prices[w.head] = price
	w.head = (w.head + 1) % len(w.prices)
	if w.count < len(w.prices) {
		w.count++
	}
}

// Len returns the number of prices held.
func (w *VolatilityWindow) Len() int { return w.count }

// Realized returns the annualized volatility; false with fewer than two prices.
func (w *VolatilityWindow) Realized() (float64, bool) {
	if w.count < 2 {
		return 0, false
	}

	// oldest first
	start := 0
	if w.count == len(w.prices) {
		start = w.head
	}
	returns := make([]float64, 0, w.count-1)
	prev := w.prices[start]
	for i := 1; i < w.count; i++ {
		p := w.prices[(start+i)%len(w.prices)]
		returns = append(returns, math.Log(p/prev))
		prev = p
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var ss float64
	for _, r := range returns {
		ss += (r - mean) * (r - mean)
	}
	return math.Sqrt(ss/float64(len(returns))) * math.Sqrt(tradingPeriods), true
}

// Reset drops all prices.
func (w *VolatilityWindow) Reset() {
	clear(w.prices)
	w.head, w.count = 0, 0
}

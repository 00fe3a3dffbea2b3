package cost

import "github.com/shopspring/decimal"

// VolumeWindow keeps a rolling sum of the last N observed traded sizes.
// Not safe for concurrent use; the session writer owns it.
type VolumeWindow struct {
	samples []decimal.Decimal
	head    int // next write position
	count   int
	sum     decimal.Decimal
}

// NewVolumeWindow creates a window holding up to size samples.
func NewVolumeWindow(size int) *VolumeWindow {
	if size <= 0 {
		size = 1
	}
	return &VolumeWindow{
		samples: make([]decimal.Decimal, size),
		sum:     decimal.Zero,
	}
}

// Add records a traded size. Non-positive sizes are ignored.
func (w *VolumeWindow) Add(size decimal.Decimal) {
	if !size.IsPositive() {
		return
	}
	if w.count == len(w.samples) {
		// head points at the oldest sample when full
		w.sum = w.sum.Sub(w.samples[w.head])
	} else {
		w.count++
	}
	w.samples[w.head] = size
	w.sum = w.sum.Add(size)
	w.head = (w.head + 1) % len(w.samples)
}

// Sum returns the total size in the window.
func (w *VolumeWindow) Sum() decimal.Decimal { return w.sum }

// Len returns the number of samples held.
func (w *VolumeWindow) Len() int { return w.count }

// Reset drops all samples.
func (w *VolumeWindow) Reset() {
	for i := range w.samples {
		w.samples[i] = decimal.Zero
	}
	w.head, w.count = 0, 0
	w.sum = decimal.Zero
}

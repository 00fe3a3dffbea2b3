package infra

import (
	"time"
)

const (
	// Standard backoff constants
	baseDelay = 1 * time.Second
	maxDelay  = 60 * time.Second
)

// Backoff computes exponential reconnect delays. The zero value uses the
// standard 1s..60s bounds.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns Base * 2^retryCount, capped at Max.
// If retryCount is negative, it returns Base.
func (b Backoff) Delay(retryCount int) time.Duration {
	base, ceiling := b.Base, b.Max
	if base <= 0 {
		base = baseDelay
	}
	if ceiling <= 0 {
		ceiling = maxDelay
	}
	if ceiling < base {
		ceiling = base
	}

	if retryCount < 0 {
		return base
	}
	// 2^30 seconds is already far above any sane ceiling
	if retryCount > 30 {
		return ceiling
	}

	backoff := base * time.Duration(1<<retryCount)
	if backoff > ceiling || backoff <= 0 {
		return ceiling
	}
	return backoff
}

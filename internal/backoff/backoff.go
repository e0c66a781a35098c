// Package backoff computes capped exponential delays, used both for the
// client poll schedule and for broker connection retries at startup.
package backoff

import (
	"math"
	"time"
)

// Strategy returns the delay to wait after attempt n (zero-based).
type Strategy interface {
	Delay(n int) time.Duration
}

const (
	DefaultBase   = 500 * time.Millisecond
	DefaultFactor = 1.5
	DefaultCap    = 5 * time.Second
)

// Exponential grows the delay by Factor each attempt.
// Delay(n) = min(Base * Factor^n, Cap), rounded to the nearest millisecond.
type Exponential struct {
	Base   time.Duration
	Factor float64
	Cap    time.Duration
}

// NewExponential creates an exponential strategy. A factor below 1 is
// treated as 1 (constant delay).
func NewExponential(base time.Duration, factor float64, maxDelay time.Duration) *Exponential {
	if factor < 1 {
		factor = 1
	}
	return &Exponential{Base: base, Factor: factor, Cap: maxDelay}
}

// Default returns the poll schedule 500ms * 1.5^n capped at 5s.
func Default() *Exponential {
	return NewExponential(DefaultBase, DefaultFactor, DefaultCap)
}

// Delay returns the delay after attempt n.
func (e *Exponential) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := float64(e.Base) * math.Pow(e.Factor, float64(n))
	if e.Cap > 0 && d >= float64(e.Cap) {
		return e.Cap
	}
	ms := math.Round(d / float64(time.Millisecond))
	return time.Duration(ms) * time.Millisecond
}

// Schedule returns the first n delays of s.
func Schedule(s Strategy, n int) []time.Duration {
	out := make([]time.Duration, 0, n)
	for i := range n {
		out = append(out, s.Delay(i))
	}
	return out
}

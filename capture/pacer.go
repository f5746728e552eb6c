// Package capture paces frame capture from an external video source and
// watches for delivery gaps and stalls, driving the fallback-resume
// keyframe policy and the capture restart/backoff policy. Grounded on the
// teacher's single-owner timer/cadence handling in stream/stream.go's
// writer loop (a command loop that periodically re-evaluates its own
// clock rather than blocking on a single external timer).
package capture

import "time"

// Pacer decides when the capture source should emit a frame given a
// target cadence. Not safe for concurrent use; it is driven by one
// capture-delivery callback at a time.
type Pacer struct {
	targetInterval time.Duration
	lastEmit       time.Time
	hasEmitted     bool
	now            func() time.Time
}

// NewPacer creates a Pacer for the given target frame interval. now is
// injectable for tests; production callers pass nil to use time.Now.
func NewPacer(targetInterval time.Duration, now func() time.Time) *Pacer {
	if now == nil {
		now = time.Now
	}
	return &Pacer{targetInterval: targetInterval, now: now}
}

// pacerEmitFactor is the 0.95x tolerance spec.md applies to the target
// interval so that minor scheduler jitter doesn't perpetually defer
// emission by one tick.
const pacerEmitFactor = 0.95

// ShouldEmitNow reports whether a frame should be emitted now. The first
// call always emits.
func (p *Pacer) ShouldEmitNow() bool {
	now := p.now()
	if !p.hasEmitted {
		p.hasEmitted = true
		p.lastEmit = now
		return true
	}
	threshold := time.Duration(float64(p.targetInterval) * pacerEmitFactor)
	if now.Sub(p.lastEmit) >= threshold {
		p.lastEmit = now
		return true
	}
	return false
}

// SetTargetInterval updates the cadence without resetting emission state.
func (p *Pacer) SetTargetInterval(d time.Duration) {
	p.targetInterval = d
}

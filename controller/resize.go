// Package controller implements the client-side stream controller:
// feeding reassembled packets into the decoder, the drawable-resize state
// machine, and the recovery taxonomy (keyframe/backpressure/freeze/
// adaptive-fallback). Grounded on client2/connection.go's debounced
// reconnect/backoff timers, generalized from connection retry cooldowns
// to the spec's resize and recovery cooldown windows.
package controller

import "time"

// ResizeDebounce is how long drawable_size_changed waits for further
// resize events before computing and emitting a ResizeEvent.
const ResizeDebounce = 200 * time.Millisecond

// ResizeFallbackTimeout returns the controller to idle if the host never
// confirms a pending resize.
const ResizeFallbackTimeout = 2 * time.Second

// ResizeConfirmTail is the brief settle period after confirm_resize
// before transitioning confirmed -> idle.
const ResizeConfirmTail = 50 * time.Millisecond

// MaxEncodedWidth and MaxEncodedHeight bound the resolved stream
// dimensions unless the uncapped override is set.
const (
	MaxEncodedWidth  = 5120
	MaxEncodedHeight = 2880
)

// ResizeState enumerates the resize negotiation state machine's states.
type ResizeState int

const (
	ResizeIdle ResizeState = iota
	ResizeAwaiting
	ResizeConfirmed
)

// Size is a pixel dimension pair.
type Size struct {
	W, H int
}

// ResizeEvent is emitted upward when a debounced drawable change differs
// meaningfully from the last negotiated size.
type ResizeEvent struct {
	Size  Size
	Scale float64
}

// ResizeMachine tracks one stream's client-side resize negotiation.
type ResizeMachine struct {
	state         ResizeState
	lastSent      Size
	lastScale     float64
	pending       Size
	pendingScreen Size
	pendingScale  float64
	haveFirst     bool
	debounceAt    time.Time
	awaitingAt    time.Time
	confirmedAt   time.Time
	now           func() time.Time

	emit func(ResizeEvent)
}

// NewResizeMachine creates a ResizeMachine. emit is called (synchronously,
// from DrawableSizeChanged or Tick) whenever a debounced resize should be
// sent upward.
func NewResizeMachine(now func() time.Time, emit func(ResizeEvent)) *ResizeMachine {
	if now == nil {
		now = time.Now
	}
	return &ResizeMachine{now: now, emit: emit}
}

// DrawableSizeChanged records a new drawable pixel size request, the
// screen it's rendered on, and the window's relative scale factor (e.g.
// HiDPI backing-scale). The first call seeds state without emitting;
// subsequent calls (re)start the debounce window.
func (m *ResizeMachine) DrawableSizeChanged(pixelSize Size, screen Size, scale float64) {
	if !m.haveFirst {
		m.haveFirst = true
		m.state = ResizeAwaiting
		m.pending = pixelSize
		m.pendingScreen = screen
		m.pendingScale = scale
		m.awaitingAt = m.now()
		m.debounceAt = m.now()
		return
	}
	m.state = ResizeAwaiting
	m.pending = pixelSize
	m.pendingScreen = screen
	m.pendingScale = scale
	m.awaitingAt = m.now()
	m.debounceAt = m.now()
}

// Tick drives debounce expiry and the 2-second awaiting fallback. Call it
// periodically (e.g. on every capture tick or a dedicated short timer).
func (m *ResizeMachine) Tick() {
	now := m.now()
	switch m.state {
	case ResizeAwaiting:
		if now.Sub(m.debounceAt) >= ResizeDebounce {
			m.resolveAndEmit(now)
		}
		if m.state == ResizeAwaiting && now.Sub(m.awaitingAt) >= ResizeFallbackTimeout {
			m.state = ResizeIdle
		}
	case ResizeConfirmed:
		if now.Sub(m.confirmedAt) >= ResizeConfirmTail {
			m.state = ResizeIdle
		}
	}
}

func (m *ResizeMachine) resolveAndEmit(now time.Time) {
	scale := clampScale(m.pendingScale)
	resolved := AlignEven(ResolveStreamScale(m.pending, scale, false))

	aspectDelta := aspectDifference(m.lastSent, resolved)
	scaleDelta := scale - m.lastScale
	if scaleDelta < 0 {
		scaleDelta = -scaleDelta
	}
	pixelDelta := resolved != m.lastSent

	if !m.haveEmittedOnce() || aspectDelta > 0.01 || scaleDelta > 0.01 || pixelDelta {
		m.lastSent = resolved
		m.lastScale = scale
		if m.emit != nil {
			m.emit(ResizeEvent{Size: resolved, Scale: scale})
		}
	}
	// Debounce window consumed; remain awaiting host confirmation.
	m.debounceAt = now
}

func (m *ResizeMachine) haveEmittedOnce() bool {
	return m.lastSent != (Size{})
}

// ConfirmResize transitions awaiting -> confirmed given the host's
// negotiated minimum size.
func (m *ResizeMachine) ConfirmResize(minSize Size) {
	m.state = ResizeConfirmed
	m.confirmedAt = m.now()
}

// State reports the current resize state, for tests and diagnostics.
func (m *ResizeMachine) State() ResizeState { return m.state }

func clampScale(r float64) float64 {
	if r < 0.1 {
		return 0.1
	}
	if r > 1.0 {
		return 1.0
	}
	return r
}

// ResolveStreamScale computes the resolved scale and output size per
// spec.md §4.9: min(r, maxW/B.w, maxH/B.h) unless uncapped.
func ResolveStreamScale(base Size, r float64, uncapped bool) Size {
	r = clampScale(r)
	if !uncapped {
		if base.W > 0 {
			if capW := float64(MaxEncodedWidth) / float64(base.W); capW < r {
				r = capW
			}
		}
		if base.H > 0 {
			if capH := float64(MaxEncodedHeight) / float64(base.H); capH < r {
				r = capH
			}
		}
	}
	return Size{
		W: int(float64(base.W) * r),
		H: int(float64(base.H) * r),
	}
}

// AlignEven rounds both dimensions down to the nearest even value, with a
// floor of 2.
func AlignEven(s Size) Size {
	w := s.W &^ 1
	h := s.H &^ 1
	if w < 2 {
		w = 2
	}
	if h < 2 {
		h = 2
	}
	return Size{W: w, H: h}
}

func aspectDifference(a, b Size) float64 {
	if a.H == 0 || b.H == 0 {
		return 1
	}
	aa := float64(a.W) / float64(a.H)
	ba := float64(b.W) / float64(b.H)
	d := aa - ba
	if d < 0 {
		d = -d
	}
	return d
}

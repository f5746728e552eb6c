// Package reassembler gathers wire fragments back into complete frames,
// enforcing dimension-token and epoch gating so that a decoder never sees
// frames straddling a resolution change or a send-state reset. Grounded on
// the teacher's single-owner, non-concurrent stream state
// (stream/stream.go's Stream: one mutex-guarded struct, no fragment
// windowing across goroutines).
package reassembler

import (
	"sort"
	"time"

	"github.com/mirageproto/mirage/wire"
)

// FragmentGCAge is how long an incomplete frame's fragments are kept
// before being garbage-collected as lost.
const FragmentGCAge = 1 * time.Second

// Frame is a fully reassembled frame payload, ready for the decoder.
type Frame struct {
	FrameNumber    uint32
	DimensionToken uint16
	Epoch          uint16
	Keyframe       bool
	ContentRect    wire.Rect
	TimestampNs    uint64
	Payload        []byte
}

// pendingFrame mirrors spec.md's PendingFrame: sparse fragment slots
// gathered under one frameNumber, bound to a single token+epoch+byteCount.
type pendingFrame struct {
	frameNumber    uint32
	dimensionToken uint16
	epoch          uint16
	frameByteCount uint32
	keyframe       bool
	contentRect    wire.Rect
	timestampNs    uint64
	fragmentCount  uint16
	fragments      map[uint16][]byte
	receivedCount  uint16
	createdAt      time.Time
}

// Reassembler is single-owner per stream; it must never be driven
// concurrently from more than one goroutine.
type Reassembler struct {
	hasExpectedToken bool
	expectedToken    uint16

	inKeyframeOnlyMode   bool
	awaitingKeyframeSince time.Time
	hasAwaiting           bool

	lastEpoch    uint16
	haveLastEpoch bool

	pending map[uint32]*pendingFrame

	now func() time.Time
}

// New creates an empty Reassembler. now is injectable for deterministic
// tests of the 1-second fragment GC window; production callers pass nil to
// use time.Now.
func New(now func() time.Time) *Reassembler {
	if now == nil {
		now = time.Now
	}
	return &Reassembler{
		pending: make(map[uint32]*pendingFrame),
		now:     now,
	}
}

// Ingest processes one fragment. It returns a completed Frame when the
// fragment closes out a frame, or nil if the fragment was stored, dropped,
// or superseded.
func (r *Reassembler) Ingest(h *wire.Header, payload []byte) *Frame {
	r.gcStale()

	if r.hasExpectedToken && h.DimensionToken != r.expectedToken {
		// Invariant 3: dimension gating. Silently drop.
		return nil
	}

	if !r.haveLastEpoch || h.Epoch > r.lastEpoch {
		if r.haveLastEpoch && h.Epoch > r.lastEpoch {
			// Invariant 4: epoch monotonicity. Drop all pending frames with
			// epoch <= previous before accepting anything from the new epoch.
			r.pending = make(map[uint32]*pendingFrame)
			r.enterKeyframeOnlyModeLocked()
		}
		r.lastEpoch = h.Epoch
		r.haveLastEpoch = true
	} else if h.Epoch < r.lastEpoch {
		// stale_epoch: drop, no counter escalation per spec.md §7.
		return nil
	}

	isKeyframe := h.Flags.Has(wire.FlagKeyframe)
	if r.inKeyframeOnlyMode && !isKeyframe {
		return nil
	}

	pf, ok := r.pending[h.FrameNumber]
	if !ok {
		pf = &pendingFrame{
			frameNumber:    h.FrameNumber,
			dimensionToken: h.DimensionToken,
			epoch:          h.Epoch,
			frameByteCount: h.FrameByteCount,
			keyframe:       isKeyframe,
			contentRect:    h.ContentRect,
			timestampNs:    h.TimestampNs,
			fragmentCount:  h.FragmentCount,
			fragments:      make(map[uint16][]byte, h.FragmentCount),
			createdAt:      r.now(),
		}
		r.pending[h.FrameNumber] = pf
	} else if pf.fragmentCount != h.FragmentCount {
		// Fragment count disagrees with what we already hold for this
		// frame number: reallocate fresh, the peer must have restarted it.
		pf = &pendingFrame{
			frameNumber:    h.FrameNumber,
			dimensionToken: h.DimensionToken,
			epoch:          h.Epoch,
			frameByteCount: h.FrameByteCount,
			keyframe:       isKeyframe,
			contentRect:    h.ContentRect,
			timestampNs:    h.TimestampNs,
			fragmentCount:  h.FragmentCount,
			fragments:      make(map[uint16][]byte, h.FragmentCount),
			createdAt:      r.now(),
		}
		r.pending[h.FrameNumber] = pf
	}

	if _, seen := pf.fragments[h.FragmentIndex]; !seen {
		buf := make([]byte, len(payload))
		copy(buf, payload)
		pf.fragments[h.FragmentIndex] = buf
		pf.receivedCount++
	}

	if pf.receivedCount < pf.fragmentCount {
		return nil
	}

	delete(r.pending, h.FrameNumber)
	frame := assemble(pf)

	if isKeyframe {
		r.exitKeyframeOnlyMode()
	}
	return frame
}

// Invariant 5: fragment closure. Concatenate in strictly increasing
// fragmentIndex order and truncate to frameByteCount.
func assemble(pf *pendingFrame) *Frame {
	indices := make([]uint16, 0, len(pf.fragments))
	for idx := range pf.fragments {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	out := make([]byte, 0, pf.frameByteCount)
	for _, idx := range indices {
		out = append(out, pf.fragments[idx]...)
	}
	if uint32(len(out)) > pf.frameByteCount {
		out = out[:pf.frameByteCount]
	}
	return &Frame{
		FrameNumber:    pf.frameNumber,
		DimensionToken: pf.dimensionToken,
		Epoch:          pf.epoch,
		Keyframe:       pf.keyframe,
		ContentRect:    pf.contentRect,
		TimestampNs:    pf.timestampNs,
		Payload:        out,
	}
}

// EnterKeyframeOnlyMode clears pending frames and starts the
// awaiting-keyframe clock.
func (r *Reassembler) EnterKeyframeOnlyMode() {
	r.pending = make(map[uint32]*pendingFrame)
	r.enterKeyframeOnlyModeLocked()
}

func (r *Reassembler) enterKeyframeOnlyModeLocked() {
	r.inKeyframeOnlyMode = true
	r.awaitingKeyframeSince = r.now()
	r.hasAwaiting = true
}

func (r *Reassembler) exitKeyframeOnlyMode() {
	r.inKeyframeOnlyMode = false
	r.hasAwaiting = false
}

// InKeyframeOnlyMode reports whether the reassembler is currently
// discarding non-keyframe fragments.
func (r *Reassembler) InKeyframeOnlyMode() bool {
	return r.inKeyframeOnlyMode
}

// AwaitingKeyframeDuration returns the duration since entering
// keyframe-only mode, or false if not currently awaiting one.
func (r *Reassembler) AwaitingKeyframeDuration(now time.Time) (time.Duration, bool) {
	if !r.hasAwaiting {
		return 0, false
	}
	return now.Sub(r.awaitingKeyframeSince), true
}

// UpdateExpectedDimensionToken sets the gate and purges any pending frames
// whose token no longer matches.
func (r *Reassembler) UpdateExpectedDimensionToken(t uint16) {
	r.hasExpectedToken = true
	r.expectedToken = t
	for num, pf := range r.pending {
		if pf.dimensionToken != t {
			delete(r.pending, num)
		}
	}
}

// ExpectedDimensionToken returns the current gate value, if any.
func (r *Reassembler) ExpectedDimensionToken() (uint16, bool) {
	return r.expectedToken, r.hasExpectedToken
}

// gcStale drops fragments of frames that have been incomplete for longer
// than FragmentGCAge. A lost keyframe keeps the reassembler in (or puts it
// into) keyframe-only mode. The reassembler sends no signal of its own for
// this; the loss is visible only through InKeyframeOnlyMode and
// AwaitingKeyframeDuration.
func (r *Reassembler) gcStale() {
	now := r.now()
	for num, pf := range r.pending {
		if now.Sub(pf.createdAt) <= FragmentGCAge {
			continue
		}
		delete(r.pending, num)
		if pf.keyframe {
			r.enterKeyframeOnlyModeLocked()
		}
	}
}

// PendingCount reports how many frames currently have in-flight fragments.
// Exposed for tests and diagnostics only.
func (r *Reassembler) PendingCount() int {
	return len(r.pending)
}

package controller

import (
	"context"
	"sync"
	"time"

	"github.com/mirageproto/mirage/decoder"
	"github.com/mirageproto/mirage/internal/worker"
	"github.com/mirageproto/mirage/presentation"
	"github.com/mirageproto/mirage/reassembler"
	"github.com/mirageproto/mirage/wire"
)

// HostNotifier is how the controller talks back to the host side: a
// keyframe request over the control stream, or (after freeze escalation)
// a request that the host tear down and reinitialize the send state.
type HostNotifier interface {
	RequestKeyframe()
	ResetSession(reason string)
}

// FreezeTimeout is how long the presentation queue may sit non-empty
// without a successful Dequeue before Tick treats it as a freeze, per
// spec.md §4.8.
const FreezeTimeout = 2 * time.Second

// decodeChanDepth is the fixed buffer between Ingest and the single
// decode consumer. The decoder's own submission queue beneath it is
// unbounded; this hop only smooths bursts of back-to-back completions
// arriving off the network, it is not where backpressure lives.
const decodeChanDepth = 64

// decodeSink adapts decoder.Session to the Pipeline's DecodeSink
// interface, translating a reassembled frame into the hardware decoder's
// submission shape.
type decodeSink struct {
	sess *decoder.Session
}

func (d decodeSink) Submit(payload []byte, presentationTimeNs int64, isKeyframe bool) error {
	return d.sess.Submit(decoder.Frame{
		Bytes:              payload,
		PresentationTimeNs: presentationTimeNs,
		IsKeyframe:         isKeyframe,
	})
}

// Controller is the client-side per-stream composition root: it owns the
// reassembler, the decoder session, the presentation queue, the resize
// negotiation state machine, and the recovery accountant, wiring them
// together the way spec.md §4.8 describes feed_packet: a fragment is
// forwarded into the reassembler, and a completed frame is pushed onto
// the decode channel for the pipeline's single consumer to submit, in
// order, to the decoder.
type Controller struct {
	worker.Worker

	mu sync.Mutex

	hw       decoder.HardwareDecoder
	notifier HostNotifier
	now      func() time.Time

	reasm      *reassembler.Reassembler
	decoderSess *decoder.Session
	presentQ   *presentation.Queue
	resize     *ResizeMachine
	accountant *Accountant

	frameCh  chan reassembler.Frame
	pipeline *Pipeline

	lastProgressAt time.Time
	haveProgress   bool

	pendingResize    ResizeEvent
	havePendingResize bool
}

// NewController wires a fresh Controller around hw (the decoder's
// hardware collaborator) and notifier (the host-facing recovery
// channel). Call Create to actually start the decode/resize/recovery
// machinery for a stream's initial dimensions.
func NewController(hw decoder.HardwareDecoder, notifier HostNotifier, now func() time.Time) *Controller {
	if now == nil {
		now = time.Now
	}
	c := &Controller{
		hw:         hw,
		notifier:   notifier,
		now:        now,
		reasm:      reassembler.New(now),
		presentQ:   presentation.New(),
		accountant: NewAccountant(now),
		frameCh:    make(chan reassembler.Frame, decodeChanDepth),
	}
	c.resize = NewResizeMachine(now, c.onResizeEvent)
	return c
}

// Create establishes the decoder session at width/height/rate and starts
// the pipeline consumer and signal-handling goroutines. ctx bounds the
// decoder's own internal decode loop. initialDimensionToken must match the
// token the host side's stream is currently tagging fragments with (a
// freshly created streamhost.Stream starts at 1, not 0).
func (c *Controller) Create(ctx context.Context, width, height, rate int, initialDimensionToken uint16) error {
	c.mu.Lock()
	c.decoderSess = decoder.NewSession(c.hw, c.now)
	c.pipeline = NewPipeline(c.frameCh, decodeSink{sess: c.decoderSess})
	c.reasm.UpdateExpectedDimensionToken(initialDimensionToken)
	c.lastProgressAt = c.now()
	c.haveProgress = true
	sess := c.decoderSess
	pipeline := c.pipeline
	c.mu.Unlock()

	if err := sess.Create(ctx, width, height, rate); err != nil {
		return err
	}

	c.Go(func() { pipeline.Run() })
	c.Go(func() { c.watchSignals(sess) })
	return nil
}

// FeedPacket is the client controller's single entry point for incoming
// fragments: forward into the reassembler, and on frame completion,
// enqueue it for the decode pipeline. It never blocks past Halt.
func (c *Controller) FeedPacket(header *wire.Header, payload []byte) error {
	c.mu.Lock()
	frame := c.reasm.Ingest(header, payload)
	c.mu.Unlock()
	if frame == nil {
		return nil
	}
	select {
	case c.frameCh <- *frame:
		return nil
	case <-c.HaltCh():
		return nil
	}
}

// UpdateExpectedDimensionToken re-gates the reassembler after a host-side
// resize negotiation completes with a new token.
func (c *Controller) UpdateExpectedDimensionToken(token uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reasm.UpdateExpectedDimensionToken(token)
}

// DrawableSizeChanged forwards a platform resize callback into the resize
// negotiation state machine.
func (c *Controller) DrawableSizeChanged(pixelSize, screen Size, scale float64) {
	c.resize.DrawableSizeChanged(pixelSize, screen, scale)
}

func (c *Controller) onResizeEvent(e ResizeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingResize = e
	c.havePendingResize = true
}

// TakePendingResize returns the most recently resolved resize event, if
// one hasn't yet been drained, clearing it. The control-plane glue is
// expected to poll this (or be notified some other way) and send the
// corresponding ResolutionChange/StreamScaleChange request to the host;
// the controller itself stays free of a direct control-package
// dependency.
func (c *Controller) TakePendingResize() (ResizeEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.havePendingResize {
		return ResizeEvent{}, false
	}
	c.havePendingResize = false
	return c.pendingResize, true
}

// OnFrameDecoded is invoked by the hardware decoder collaborator once a
// submitted frame has produced a displayable pixel buffer. It enqueues
// the buffer on the presentation queue, feeding any emergency-trim drops
// to the accountant so sustained overload can trip adaptive fallback.
func (c *Controller) OnFrameDecoded(handle any, contentRect [4]float32, decodeTimeNs int64) {
	dropped := c.presentQ.Enqueue(presentation.Entry{
		Handle:      handle,
		ContentRect: contentRect,
		DecodeTime:  decodeTimeNs,
	})
	if dropped > 0 {
		c.accountant.RecordQueueDrop(dropped)
		if c.accountant.CheckAdaptiveFallback() && c.accountant.RequestKeyframe() {
			c.notifier.RequestKeyframe()
		}
	}
}

// PresentNext pops the oldest ready pixel buffer for the renderer to draw,
// marking presentation progress for freeze detection.
func (c *Controller) PresentNext() (presentation.Entry, bool) {
	e, ok := c.presentQ.Dequeue()
	if ok {
		c.mu.Lock()
		c.lastProgressAt = c.now()
		c.haveProgress = true
		c.mu.Unlock()
	}
	return e, ok
}

// Tick drives the resize debounce/fallback timers and freeze detection.
// Call it periodically (e.g. once per display refresh).
func (c *Controller) Tick() {
	c.resize.Tick()

	c.mu.Lock()
	pending := c.presentQ.Depth() > 0
	stalled := c.haveProgress && c.now().Sub(c.lastProgressAt) > FreezeTimeout
	c.mu.Unlock()

	if !pending || !stalled {
		return
	}
	switch c.accountant.OnFreeze() {
	case ActionRequestKeyframe:
		// OnFreeze has already recorded the recovery request; only the
		// keyframe dispatch debounce is applied here.
		a := c.accountant
		now := a.now()
		if !a.haveKeyframe || now.Sub(a.lastKeyframeAt) >= KeyframeDebounce {
			a.haveKeyframe = true
			a.lastKeyframeAt = now
			c.notifier.RequestKeyframe()
		}
	case ActionFullSessionReset:
		c.notifier.ResetSession("freeze escalation")
	}
}

// watchSignals reacts to decoder out-of-band conditions: a transient
// error-rate threshold crossing or a prolonged keyframe-only stall both
// map to a keyframe request (debounced by the accountant); a decoder
// dimension mismatch is recorded for the adaptive-fallback window.
func (c *Controller) watchSignals(sess *decoder.Session) {
	for {
		select {
		case sig, ok := <-sess.Signals():
			if !ok {
				return
			}
			switch sig {
			case decoder.SignalErrorThreshold:
				c.mu.Lock()
				c.reasm.EnterKeyframeOnlyMode()
				c.mu.Unlock()
				c.accountant.RecordDecodeThresholdEvent()
				if c.accountant.RequestKeyframe() {
					c.notifier.RequestKeyframe()
				}
			case decoder.SignalInputBlocked:
				if c.accountant.RequestKeyframe() {
					c.notifier.RequestKeyframe()
				}
			case decoder.SignalDimensionChange:
				c.accountant.RecordDecodeThresholdEvent()
			}
		case <-c.HaltCh():
			return
		}
	}
}

// Accountant exposes the underlying recovery accountant, for callers (and
// tests) that need to observe or directly drive recovery decisions.
func (c *Controller) Accountant() *Accountant { return c.accountant }

// PresentationDepth reports the presentation queue's current depth.
func (c *Controller) PresentationDepth() int { return c.presentQ.Depth() }

// InKeyframeOnlyMode reports whether the reassembler is currently
// discarding non-keyframe fragments.
func (c *Controller) InKeyframeOnlyMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reasm.InKeyframeOnlyMode()
}

// Close halts the pipeline and signal-watcher goroutines and tears down
// the decoder session. Like streamhost.Stream.Stop, this assumes the
// single owner driving FeedPacket has already stopped calling it —
// Close does not itself synchronize against a concurrent FeedPacket.
func (c *Controller) Close() error {
	c.Halt()
	close(c.frameCh)
	c.Wait()
	c.mu.Lock()
	sess := c.decoderSess
	c.mu.Unlock()
	if sess == nil {
		return nil
	}
	return sess.Close()
}

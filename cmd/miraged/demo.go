// Demo collaborators for miraged: a software stand-in for the platform
// capture/encoder/decoder hardware, and a loopback transmitter that hands
// outbound datagrams straight to a local controller.Controller instead of
// a real transport.Conn. These exist so the binary actually drives a
// stream end-to-end without platform hardware or a second process, the
// same role the teacher's in-memory client/server harness plays for its
// own demos.
package main

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mirageproto/mirage/controller"
	"github.com/mirageproto/mirage/decoder"
	"github.com/mirageproto/mirage/encoder"
	"github.com/mirageproto/mirage/wire"
)

// demoEncoderHW stands in for a platform hardware encoder: it produces a
// fixed-size payload and reports completion asynchronously on a goroutine,
// the way a real GPU completion callback would arrive off the calling
// goroutine rather than inline from EncodeFrame.
type demoEncoderHW struct {
	cfg     encoder.Config
	onFrame func(encoder.EncodedFrame)
}

func (h *demoEncoderHW) Create(cfg encoder.Config) error { h.cfg = cfg; return nil }

func (h *demoEncoderHW) UpdateDimensions(w, ht int) error {
	h.cfg.Width, h.cfg.Height = w, ht
	return nil
}

func (h *demoEncoderHW) UpdateFrameRate(fps int) error { h.cfg.FrameRate = fps; return nil }

func (h *demoEncoderHW) UpdateBitrateOnly(bps int) error { h.cfg.BitrateBps = bps; return nil }

func (h *demoEncoderHW) Reset(cfg encoder.Config) error { h.cfg = cfg; return nil }

func (h *demoEncoderHW) EncodeFrame(frame encoder.RawFrame, forceKeyframe bool) error {
	payload := make([]byte, 4096)
	width, height := h.cfg.Width, h.cfg.Height
	// A real hardware encoder reports completion asynchronously off a GPU
	// callback; EncodeFrame itself only enqueues. Submitting on a goroutine
	// here is what lets onFrame call back into encoder.Session (which holds
	// its own mutex across this very call) without self-deadlocking.
	go h.onFrame(encoder.EncodedFrame{
		Bytes:              payload,
		IsKeyframe:         forceKeyframe,
		PresentationTimeNs: frame.PresentationTimeNs,
		ContentRect:        [4]float32{0, 0, float32(width), float32(height)},
	})
	return nil
}

func (h *demoEncoderHW) Close() error { return nil }

// demoCapture paces synthetic raw frames into encSess at frameRate, the way
// a platform screen-capture API would deliver real ones.
type demoCapture struct {
	encSess *encoder.Session
	cancel  context.CancelFunc
}

func (c *demoCapture) Start(width, height, frameRate int) error {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	if frameRate <= 0 {
		frameRate = 60
	}
	interval := time.Second / time.Duration(frameRate)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				_, _, err := c.encSess.Encode(encoder.RawFrame{PresentationTimeNs: t.UnixNano()})
				if err != nil && err != encoder.ErrInFlightLimitReached {
					return
				}
			}
		}
	}()
	return nil
}

func (c *demoCapture) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// demoDecoderHW stands in for a platform hardware decoder: it "decodes"
// synchronously and reports completion straight back to the controller.
type demoDecoderHW struct {
	ctrl *controller.Controller
}

func (h *demoDecoderHW) Create(width, height int) error { return nil }

func (h *demoDecoderHW) Submit(frame decoder.Frame) error {
	h.ctrl.OnFrameDecoded(frame.Bytes, frame.ContentRect, frame.PresentationTimeNs)
	return nil
}

func (h *demoDecoderHW) Close() error { return nil }

// loopbackTransmitter hands every outbound datagram straight to a local
// Controller.FeedPacket, parsing the wire header the way transport.Conn's
// datagram receive loop would after a real network hop.
type loopbackTransmitter struct {
	ctrl *controller.Controller
}

func (t *loopbackTransmitter) SendDatagram(b []byte) error {
	h, err := wire.Deserialize(b)
	if err != nil {
		return err
	}
	payload := append([]byte(nil), b[wire.HeaderSize:]...)
	return t.ctrl.FeedPacket(h, payload)
}

// demoNotifier is the controller's HostNotifier in the loopback demo: a
// keyframe request forces one on the live encoder session, and a full
// session reset drives the host stream's epoch-bumping reset path.
type demoNotifier struct {
	logger  *log.Logger
	encSess *encoder.Session
	stream  streamResetter
}

// streamResetter narrows streamhost.Stream to the one call demoNotifier
// needs, avoiding an import cycle concern between cmd/miraged and
// streamhost while keeping the notifier's dependency explicit.
type streamResetter interface {
	ResetSendState(reason string) error
}

func (n *demoNotifier) RequestKeyframe() {
	n.logger.Info("host: keyframe requested by client")
	n.encSess.ForceKeyframe(false)
}

func (n *demoNotifier) ResetSession(reason string) {
	n.logger.Warn("host: full session reset requested", "reason", reason)
	if err := n.stream.ResetSendState(reason); err != nil {
		n.logger.Error("host: reset send state failed", "err", err)
	}
}

// frameCounter hands out monotonically increasing frame numbers for
// demoEncoderHW's onFrame callback.
type frameCounter struct{ n uint32 }

func (c *frameCounter) next() uint32 { return atomic.AddUint32(&c.n, 1) }

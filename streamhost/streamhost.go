// Package streamhost composes the host side of one active stream: the
// capture source, encoder session, and packet sender, plus the dimension/
// resolution/scale reconfiguration operations that bump the sender's
// generation and the reassembler-facing dimension token. Grounded on
// client2/connection.go's dial/reconfigure/halt lifecycle, generalized
// from a single client connection to one host-owned media stream.
package streamhost

import (
	"sync"

	"github.com/mirageproto/mirage/controller"
	"github.com/mirageproto/mirage/encoder"
	"github.com/mirageproto/mirage/sender"
)

// Config is the stream's starting configuration.
type Config struct {
	BaseSize    controller.Size
	StreamScale float64
	Uncapped    bool
	FrameRate   int
	BitrateBps  int
	KeyFrameInterval int
}

// CaptureSource is the external platform collaborator producing raw
// frames; it is opaque to this package beyond start/stop per spec.md §9's
// design note treating it as an abstract contract.
type CaptureSource interface {
	Start(width, height, frameRate int) error
	Stop() error
}

// Stream owns one active host-side stream's lifecycle.
type Stream struct {
	mu sync.Mutex

	streamID uint16
	capture  CaptureSource
	encSess  *encoder.Session
	snd      *sender.Sender

	dimensionToken uint16
	epoch          uint16
	isResizing     bool

	registered bool
	cfg        Config
}

// NewStream creates a Stream for streamID, wiring the given collaborators.
func NewStream(streamID uint16, capture CaptureSource, encSess *encoder.Session, snd *sender.Sender) *Stream {
	return &Stream{streamID: streamID, capture: capture, encSess: encSess, snd: snd, dimensionToken: 1, epoch: 1}
}

// AllowEncodingAfterRegistration records that the client has completed UDP
// registration on the data channel; Registered reports it. Stream does not
// itself hold back encoding before this call: capture started by Start
// delivers frames to the encoder regardless of the flag.
func (s *Stream) AllowEncodingAfterRegistration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registered = true
}

// Registered reports whether AllowEncodingAfterRegistration has been called.
func (s *Stream) Registered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registered
}

// Start creates the encoder session at the base capture size scaled by
// streamScale and starts capture. It does not wait for
// AllowEncodingAfterRegistration.
func (s *Stream) Start(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg

	resolved := controller.AlignEven(controller.ResolveStreamScale(cfg.BaseSize, cfg.StreamScale, cfg.Uncapped))
	if err := s.encSess.Create(encoder.Config{
		Width: resolved.W, Height: resolved.H,
		FrameRate: cfg.FrameRate, BitrateBps: cfg.BitrateBps,
		KeyFrameInterval: cfg.KeyFrameInterval,
		PixelFormat:      encoder.PixelFormatNV12,
		ColorSpace:       encoder.ColorSpaceSRGB,
	}); err != nil {
		return err
	}
	return s.capture.Start(resolved.W, resolved.H, cfg.FrameRate)
}

// DimensionToken returns the current dimension token fragments must carry.
func (s *Stream) DimensionToken() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dimensionToken
}

// Epoch returns the current epoch fragments must carry.
func (s *Stream) Epoch() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// IsResizing reports whether a reconfiguration is currently in flight.
func (s *Stream) IsResizing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isResizing
}

// reconfigure is the shared body of update_dimensions / update_resolution
// / update_stream_scale: all three bump dimensionToken and the sender
// generation, force a keyframe, and reconfigure capture+encoder at a
// newly resolved size. Epoch is untouched here — it identifies a
// send-state reset (capture restart, session reinit), not an ordinary
// resize; see ResetSendState.
func (s *Stream) reconfigure(newBase controller.Size, newScale float64, frameRate int) error {
	s.mu.Lock()
	s.isResizing = true
	s.dimensionToken++
	s.cfg.BaseSize = newBase
	if newScale > 0 {
		s.cfg.StreamScale = newScale
	}
	if frameRate > 0 {
		s.cfg.FrameRate = frameRate
	}
	cfg := s.cfg
	s.mu.Unlock()

	s.snd.BumpGeneration("reconfigure")

	resolved := controller.AlignEven(controller.ResolveStreamScale(cfg.BaseSize, cfg.StreamScale, cfg.Uncapped))
	if err := s.capture.Stop(); err != nil {
		return err
	}
	if err := s.encSess.UpdateConfig(encoder.Config{
		Width: resolved.W, Height: resolved.H,
		FrameRate: cfg.FrameRate, BitrateBps: cfg.BitrateBps,
		KeyFrameInterval: cfg.KeyFrameInterval,
		PixelFormat:      encoder.PixelFormatNV12,
		ColorSpace:       encoder.ColorSpaceSRGB,
	}); err != nil {
		return err
	}
	s.encSess.ForceKeyframe(true)
	if err := s.capture.Start(resolved.W, resolved.H, cfg.FrameRate); err != nil {
		return err
	}

	s.mu.Lock()
	s.isResizing = false
	s.mu.Unlock()
	return nil
}

// UpdateDimensions handles a drawable pixel-size change from the client.
func (s *Stream) UpdateDimensions(width, height int) error {
	return s.reconfigure(controller.Size{W: width, H: height}, 0, 0)
}

// UpdateResolution handles an explicit resolution change request.
func (s *Stream) UpdateResolution(width, height int) error {
	return s.reconfigure(controller.Size{W: width, H: height}, 0, 0)
}

// UpdateStreamScale handles an explicit stream-scale change request,
// keeping the base capture size unchanged.
func (s *Stream) UpdateStreamScale(scale float64) error {
	s.mu.Lock()
	base := s.cfg.BaseSize
	s.mu.Unlock()
	return s.reconfigure(base, scale, 0)
}

// ResetSendState bumps the epoch, restarts capture, and forces a
// reset-style keyframe (the encoder session is not torn down; its
// configuration is reapplied unchanged), for the two conditions spec.md §3 assigns epoch to: a capture
// restart after escalation, or a full session reinit (the controller's
// freeze-escalation recovery path). Unlike reconfigure, the base capture
// size is left unchanged; only the send-state identity advances, forcing
// the client to discard everything it has buffered for this stream.
func (s *Stream) ResetSendState(reason string) error {
	s.mu.Lock()
	s.isResizing = true
	s.epoch++
	s.dimensionToken++
	cfg := s.cfg
	s.mu.Unlock()

	s.snd.BumpGeneration(reason)

	resolved := controller.AlignEven(controller.ResolveStreamScale(cfg.BaseSize, cfg.StreamScale, cfg.Uncapped))
	if err := s.capture.Stop(); err != nil {
		return err
	}
	if err := s.encSess.UpdateConfig(encoder.Config{
		Width: resolved.W, Height: resolved.H,
		FrameRate: cfg.FrameRate, BitrateBps: cfg.BitrateBps,
		KeyFrameInterval: cfg.KeyFrameInterval,
		PixelFormat:      encoder.PixelFormatNV12,
		ColorSpace:       encoder.ColorSpaceSRGB,
	}); err != nil {
		return err
	}
	s.encSess.ForceKeyframe(true)
	if err := s.capture.Start(resolved.W, resolved.H, cfg.FrameRate); err != nil {
		return err
	}

	s.mu.Lock()
	s.isResizing = false
	s.mu.Unlock()
	return nil
}

// Stop drains the sender, stops capture, and closes the encoder session.
func (s *Stream) Stop() error {
	if err := s.capture.Stop(); err != nil {
		return err
	}
	if err := s.snd.Flush(); err != nil {
		return err
	}
	return s.encSess.Close()
}

// Package encoder manages a hardware encoder session's lifecycle
// (create/update/reset), admission control on in-flight frames, and
// keyframe scheduling. The actual hardware codec is an external
// collaborator reached through the HardwareEncoder interface; this package
// owns only the bookkeeping spec.md assigns to the "encoder session".
package encoder

import (
	"errors"
	"sync"
)

// PixelFormat enumerates the supported encoder input pixel formats.
type PixelFormat int

const (
	PixelFormatP010 PixelFormat = iota
	PixelFormatBGR10A2
	PixelFormatBGRA8
	PixelFormatNV12
)

// ColorSpace enumerates the supported encoder color spaces.
type ColorSpace int

const (
	ColorSpaceSRGB ColorSpace = iota
	ColorSpaceDisplayP3
)

// Config is the encoder configuration surface.
type Config struct {
	Width, Height   int
	FrameRate       int
	BitrateBps      int
	KeyFrameInterval int
	PixelFormat     PixelFormat
	ColorSpace      ColorSpace
}

// ErrInFlightLimitReached is returned by Encode when admission control
// rejects a new frame because too many are already outstanding.
var ErrInFlightLimitReached = errors.New("encoder: in-flight limit reached")

// ErrNotCreated is returned by operations that require a live session.
var ErrNotCreated = errors.New("encoder: session not created")

// HardwareEncoder is the external hardware codec collaborator. Platform
// SDKs implement this; core logic never depends on a concrete codec.
type HardwareEncoder interface {
	Create(cfg Config) error
	UpdateDimensions(width, height int) error
	UpdateFrameRate(fps int) error
	UpdateBitrateOnly(bps int) error
	Reset(cfg Config) error
	// EncodeFrame submits one raw frame for encoding, forcing a keyframe
	// when requested, and returns once accepted by the hardware queue (not
	// once fully encoded — completion arrives asynchronously and is
	// reported to Session.OnFrameComplete).
	EncodeFrame(frame RawFrame, forceKeyframe bool) error
	Close() error
}

// RawFrame is one captured, not-yet-encoded frame handed to the hardware
// encoder.
type RawFrame struct {
	PresentationTimeNs int64
	Handle             any
}

// EncodedFrame is the hardware encoder's completed output.
type EncodedFrame struct {
	Bytes              []byte
	IsKeyframe         bool
	PresentationTimeNs int64
	ContentRect        [4]float32
}

// inFlightLimitForRate returns the bounded in-flight admission budget for a
// target frame rate, per spec.md §4.4.
func inFlightLimitForRate(targetRate int) int {
	switch {
	case targetRate >= 120:
		return 3
	case targetRate >= 60:
		return 2
	default:
		return 1
	}
}

// forceKeyframeRequest carries the optional "requires reset" flag spec.md
// attaches to force_keyframe.
type forceKeyframeRequest struct {
	pending      bool
	requiresReset bool
}

// Session manages one hardware encoder session's lifecycle and bounded
// in-flight admission. Not safe for concurrent use except via the
// exported methods, which take an internal mutex for the bookkeeping that
// the capture-delivery callback and the encoder-output callback both touch.
type Session struct {
	mu sync.Mutex

	hw HardwareEncoder

	cfg     Config
	created bool

	inFlight     int
	framesEncoded uint64

	forceKF forceKeyframeRequest
}

// NewSession creates a Session wrapping hw.
func NewSession(hw HardwareEncoder) *Session {
	return &Session{hw: hw}
}

// Create establishes the hardware session at the given configuration.
func (s *Session) Create(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.hw.Create(cfg); err != nil {
		return err
	}
	s.cfg = cfg
	s.created = true
	s.framesEncoded = 0
	return nil
}

// updateKind classifies what UpdateConfig needs to do, per spec.md §4.4.
type updateKind int

const (
	updateNone updateKind = iota
	updateBitrateOnly
	updateDimensions
	updateFrameRate
	updateFullReset
)

func classifyUpdate(old, new Config) updateKind {
	if old.PixelFormat != new.PixelFormat || old.ColorSpace != new.ColorSpace {
		return updateFullReset
	}
	dimsChanged := old.Width != new.Width || old.Height != new.Height
	rateChanged := old.FrameRate != new.FrameRate
	bitrateChanged := old.BitrateBps != new.BitrateBps
	kfiChanged := old.KeyFrameInterval != new.KeyFrameInterval

	switch {
	case !dimsChanged && !rateChanged && !bitrateChanged && !kfiChanged:
		return updateNone
	case bitrateChanged && !dimsChanged && !rateChanged && !kfiChanged:
		return updateBitrateOnly
	case dimsChanged:
		return updateDimensions
	case rateChanged:
		return updateFrameRate
	default:
		return updateBitrateOnly
	}
}

// UpdateConfig reconfigures the session, choosing the cheapest operation
// that satisfies the requested change: no-op, in-place bitrate update,
// dimension/frame-rate update, or full teardown+reconfigure.
func (s *Session) UpdateConfig(newCfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.created {
		return ErrNotCreated
	}
	kind := classifyUpdate(s.cfg, newCfg)
	switch kind {
	case updateNone:
		return nil
	case updateBitrateOnly:
		if err := s.hw.UpdateBitrateOnly(newCfg.BitrateBps); err != nil {
			return err
		}
	case updateDimensions:
		if err := s.hw.UpdateDimensions(newCfg.Width, newCfg.Height); err != nil {
			return err
		}
		if newCfg.FrameRate != s.cfg.FrameRate {
			if err := s.hw.UpdateFrameRate(newCfg.FrameRate); err != nil {
				return err
			}
		}
		if newCfg.BitrateBps != s.cfg.BitrateBps {
			if err := s.hw.UpdateBitrateOnly(newCfg.BitrateBps); err != nil {
				return err
			}
		}
	case updateFrameRate:
		if err := s.hw.UpdateFrameRate(newCfg.FrameRate); err != nil {
			return err
		}
		if newCfg.BitrateBps != s.cfg.BitrateBps {
			if err := s.hw.UpdateBitrateOnly(newCfg.BitrateBps); err != nil {
				return err
			}
		}
	case updateFullReset:
		if err := s.hw.Reset(newCfg); err != nil {
			return err
		}
	}
	s.cfg = newCfg
	return nil
}

// ForceKeyframe arranges for the next encoded frame to be an IDR.
// requiresReset additionally signals that the caller's epoch must be
// bumped (a send-state reset, not just a cheap keyframe request).
func (s *Session) ForceKeyframe(requiresReset bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forceKF = forceKeyframeRequest{pending: true, requiresReset: requiresReset}
}

// Encode submits frame for encoding if admission control allows it.
// ErrEncoderBusy-equivalent rejection (ErrInFlightLimitReached) means the
// caller must drop the frame at the capture pacer without growing any
// queue, per spec.md's encoder_busy error kind.
func (s *Session) Encode(frame RawFrame) (forcedKeyframe, requiresReset bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.created {
		return false, false, ErrNotCreated
	}

	limit := inFlightLimitForRate(s.cfg.FrameRate)
	if s.inFlight >= limit {
		return false, false, ErrInFlightLimitReached
	}

	mustKeyframe := s.forceKF.pending
	reset := s.forceKF.requiresReset
	s.forceKF = forceKeyframeRequest{}

	if !mustKeyframe && s.cfg.KeyFrameInterval > 0 && s.framesEncoded%uint64(s.cfg.KeyFrameInterval) == 0 {
		mustKeyframe = true
	}

	if err := s.hw.EncodeFrame(frame, mustKeyframe); err != nil {
		return false, false, err
	}
	s.inFlight++
	s.framesEncoded++
	return mustKeyframe, reset, nil
}

// OnFrameComplete must be called by the hardware output callback once a
// previously submitted frame finishes, returning its in-flight slot.
func (s *Session) OnFrameComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight > 0 {
		s.inFlight--
	}
}

// InFlight reports the current number of outstanding encoded frames.
func (s *Session) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Close tears down the hardware session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.created {
		return nil
	}
	s.created = false
	return s.hw.Close()
}

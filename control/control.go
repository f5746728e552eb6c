// Package control defines the CBOR-encoded control-plane message types
// exchanged over the transport's reliable stream: StreamStarted,
// KeyframeRequest, StreamStopped, StreamMetrics, ContentBoundsUpdate, and
// the client-initiated ResolutionChange/StreamScaleChange/
// RefreshRateChange requests. Grounded on server/cborplugin/client.go,
// which defines a closed set of CBOR messages tagged via a TagSet so each
// one round-trips with an explicit, self-describing tag rather than an
// out-of-band discriminant; generalized here from its mixnet-envelope
// message set to this spec's stream-control set.
package control

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// TagSet binds each control message type to an IANA-unassigned CBOR tag
// number (the 1401-18299 "Unassigned" range), the same range and pattern
// the teacher's plugin client uses for its Request/Response/Parameters
// set.
var TagSet = cbor.NewTagSet()

func init() {
	add := func(v any, tag uint64) {
		if err := TagSet.Add(
			cbor.TagOptions{EncTag: cbor.EncTagRequired, DecTag: cbor.DecTagRequired},
			reflect.TypeOf(v), tag); err != nil {
			panic(fmt.Sprintf("control: register tag %d: %v", tag, err))
		}
	}
	add(StreamStarted{}, 1501)
	add(KeyframeRequest{}, 1502)
	add(StreamStopped{}, 1503)
	add(StreamMetrics{}, 1504)
	add(ContentBoundsUpdate{}, 1505)
	add(ResolutionChange{}, 1506)
	add(StreamScaleChange{}, 1507)
	add(RefreshRateChange{}, 1508)
}

var encMode, decMode = mustModes()

func mustModes() (cbor.EncMode, cbor.DecMode) {
	em, err := cbor.EncOptions{}.EncModeWithTags(TagSet)
	if err != nil {
		panic(fmt.Sprintf("control: build encode mode: %v", err))
	}
	dm, err := cbor.DecOptions{}.DecModeWithTags(TagSet)
	if err != nil {
		panic(fmt.Sprintf("control: build decode mode: %v", err))
	}
	return em, dm
}

// StreamStarted is emitted by the host context and consumed by the client
// controller to seed the reassembler's expected dimension token.
type StreamStarted struct {
	StreamID       uint16
	Width, Height  int
	FrameRate      int
	Codec          string
	MinWidth       int    `cbor:",omitempty"`
	MinHeight      int    `cbor:",omitempty"`
	DimensionToken uint16 `cbor:",omitempty"`
}

// KeyframeRequest is sent client -> host.
type KeyframeRequest struct {
	StreamID uint16
}

// StreamStopped reports a stream's termination and why.
type StreamStopped struct {
	StreamID uint16
	Reason   string
}

// StreamMetrics is sent host -> client periodically.
type StreamMetrics struct {
	StreamID        uint16
	EncodedFPS      float64
	IdleEncodedFPS  float64
	DroppedFrames   uint64
	ActiveQuality   string
	TargetFrameRate int
}

// ContentBoundsUpdate reports the on-screen content rectangle for a
// stream, independent of its encoded pixel dimensions.
type ContentBoundsUpdate struct {
	StreamID   uint16
	X, Y, W, H float32
}

// ResolutionChange, StreamScaleChange, RefreshRateChange are client ->
// host reconfiguration requests.
type ResolutionChange struct {
	StreamID      uint16
	Width, Height int
}

type StreamScaleChange struct {
	StreamID uint16
	Scale    float64
}

type RefreshRateChange struct {
	StreamID  uint16
	FrameRate int
}

// Encode tags and serializes one of the message structs above via the
// package's TagSet-aware encode mode, so the wire bytes carry their own
// type tag instead of relying on a separate discriminant field.
func Encode(v any) ([]byte, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("control: marshal %T: %w", v, err)
	}
	return b, nil
}

// Decode reads one tagged message and returns it as the concrete type
// registered in TagSet for its tag (e.g. StreamStarted, KeyframeRequest).
// Callers type-switch on the result.
func Decode(b []byte) (any, error) {
	var v any
	if err := decMode.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("control: unmarshal: %w", err)
	}
	return v, nil
}
